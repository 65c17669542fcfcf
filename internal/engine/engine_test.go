package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"overlayd/internal/command"
	"overlayd/internal/event"
	kit "overlayd/internal/transport"
	logx "overlayd/pkg/logx"
)

func env(listener, payload string) kit.Envelope {
	return kit.Envelope{Listener: listener, Event: json.RawMessage(payload)}
}

// newTestEngine builds an engine on a settable clock so window behavior is
// deterministic.
func newTestEngine(t *testing.T, opts Options) (*Engine, *clock) {
	t.Helper()
	c := newClock()
	e := New(opts, logx.Nop(), nil)
	e.fps.now = c.now
	e.gifts.now = c.now
	e.echo.now = c.now
	return e, c
}

func TestNormalizeUnknownListener(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	if ev := e.Normalize(env("mystery", `{}`)); ev != nil {
		t.Fatalf("unknown listener produced %+v", ev)
	}
}

func TestNormalizeBadPayload(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	if ev := e.Normalize(env("message", `{not json`)); ev != nil {
		t.Fatalf("malformed payload produced %+v", ev)
	}
}

func TestNormalizeChatTwitch(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("message", `{
		"data": {
			"nick": "alice",
			"displayName": "Alice",
			"userId": "u1",
			"msgId": "m1",
			"text": "hello chat",
			"badges": [{"type": "moderator", "version": "1"}, {"type": "subscriber", "version": "3"}]
		}
	}`))
	if ev == nil {
		t.Fatal("chat message dropped")
	}
	if ev.Kind != event.KindMessage {
		t.Fatalf("Kind = %q", ev.Kind)
	}
	if ev.Provider != event.ProviderTwitch {
		t.Fatalf("Provider = %q", ev.Provider)
	}
	if ev.Role != event.RoleModerator {
		t.Fatalf("Role = %q, want moderator (precedence over subscriber)", ev.Role)
	}
	if ev.User.Username != "alice" || ev.User.DisplayName != "Alice" || ev.User.ProviderID != "u1" {
		t.Fatalf("User = %+v", ev.User)
	}
	if ev.Message != "hello chat" {
		t.Fatalf("Message = %q", ev.Message)
	}
	if ev.ID != "m1" || ev.ActivityID != "m1" {
		t.Fatalf("ID/ActivityID = %q/%q, want msgId", ev.ID, ev.ActivityID)
	}
	if ev.Command != nil {
		t.Fatalf("plain chat parsed as command: %+v", ev.Command)
	}
	if n, ok := ev.Meta["message_no"].(uint64); !ok || n != 1 {
		t.Fatalf("message_no = %v", ev.Meta["message_no"])
	}
}

func TestNormalizeChatYouTube(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("message", `{
		"data": {
			"msgId": "y1",
			"authorDetails": {"displayName": "Studio", "channelId": "ch1", "isChatOwner": true},
			"snippet": {"displayMessage": "welcome"}
		}
	}`))
	if ev == nil {
		t.Fatal("youtube chat dropped")
	}
	if ev.Provider != event.ProviderYouTube {
		t.Fatalf("Provider = %q", ev.Provider)
	}
	if ev.Role != event.RoleBroadcaster {
		t.Fatalf("Role = %q, want broadcaster", ev.Role)
	}
	if ev.Message != "welcome" {
		t.Fatalf("Message = %q", ev.Message)
	}
	if ev.User.DisplayName != "Studio" || ev.User.ProviderID != "ch1" {
		t.Fatalf("User = %+v", ev.User)
	}
}

func TestNormalizeChatFirstTimeTag(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("message", `{
		"data": {"nick": "newbie", "msgId": "m2", "text": "hi", "tags": {"first-msg": "1"}}
	}`))
	if ev == nil {
		t.Fatal("chat dropped")
	}
	if ev.Role != event.RoleFirst {
		t.Fatalf("Role = %q, want first", ev.Role)
	}
	if v, _ := ev.Meta["first_message"].(bool); !v {
		t.Fatal("first_message meta missing")
	}
}

func TestNormalizeChatIgnoredUser(t *testing.T) {
	e, _ := newTestEngine(t, Options{IgnoredUsers: []string{"StreamElements"}})
	ev := e.Normalize(env("message", `{
		"data": {"nick": "streamelements", "msgId": "m3", "text": "points!"}
	}`))
	if ev != nil {
		t.Fatalf("ignored user produced %+v", ev)
	}
}

func TestNormalizeChatBotRole(t *testing.T) {
	e, _ := newTestEngine(t, Options{BotNames: []string{"nightbot"}})
	ev := e.Normalize(env("message", `{
		"data": {"nick": "Nightbot", "msgId": "m4", "text": "keep it friendly"}
	}`))
	if ev == nil {
		t.Fatal("bot chat dropped")
	}
	if ev.Role != event.RoleBot {
		t.Fatalf("Role = %q, want bot", ev.Role)
	}
}

func TestNormalizeChatCommand(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	e.SetResolver(command.NewResolver([]command.Category{
		{Name: "mod_tools", Commands: []string{"ban"}, Roles: []string{"moderator"}},
	}))

	ev := e.Normalize(env("message", `{
		"data": {"nick": "viewer1", "msgId": "m5", "text": "!ban troll"}
	}`))
	if ev == nil {
		t.Fatal("command chat dropped")
	}
	if ev.Command == nil || ev.Command.Name != "ban" || len(ev.Command.Args) != 1 || ev.Command.Args[0] != "troll" {
		t.Fatalf("Command = %+v", ev.Command)
	}
	if ev.Meta["command_category"] != "mod_tools" {
		t.Fatalf("command_category = %v", ev.Meta["command_category"])
	}
	if perms, _ := ev.Meta["has_perms"].(bool); perms {
		t.Fatal("viewer granted mod command")
	}

	ev = e.Normalize(env("message", `{
		"data": {"nick": "mod1", "msgId": "m6", "text": "!ban troll", "badges": [{"type": "moderator"}]}
	}`))
	if ev == nil {
		t.Fatal("mod command dropped")
	}
	if perms, _ := ev.Meta["has_perms"].(bool); !perms {
		t.Fatal("moderator denied mod command")
	}
}

func TestNormalizeChatHideCommands(t *testing.T) {
	e, _ := newTestEngine(t, Options{HideCommands: true})
	if ev := e.Normalize(env("message", `{"data": {"nick": "a", "msgId": "m7", "text": "!lurk"}}`)); ev != nil {
		t.Fatalf("hidden command produced %+v", ev)
	}
	if ev := e.Normalize(env("message", `{"data": {"nick": "a", "msgId": "m8", "text": "just chatting"}}`)); ev == nil {
		t.Fatal("plain chat dropped under hide-commands")
	}
}

func TestNormalizeChatHideCommandsPrefixOnly(t *testing.T) {
	// Anything that starts with the prefix is hidden, parseable or not.
	e, _ := newTestEngine(t, Options{HideCommands: true})
	for i, text := range []string{"! give 5", "!!", "!", "  !lurk"} {
		payload := fmt.Sprintf(`{"data": {"nick": "a", "msgId": "p%d", "text": %q}}`, i, text)
		if ev := e.Normalize(env("message", payload)); ev != nil {
			t.Fatalf("text %q produced %+v under hide-commands", text, ev)
		}
	}

	// Without hide-commands the unparseable prefix text is plain chat.
	e2, _ := newTestEngine(t, Options{})
	ev := e2.Normalize(env("message", `{"data": {"nick": "a", "msgId": "p9", "text": "! give 5"}}`))
	if ev == nil {
		t.Fatal("prefix-with-whitespace chat dropped")
	}
	if ev.Command != nil {
		t.Fatalf("prefix-with-whitespace parsed as command: %+v", ev.Command)
	}
}

func TestNormalizeDedup(t *testing.T) {
	e, c := newTestEngine(t, Options{DedupeWindow: time.Second})
	payload := `{"name": "bob", "amount": 100}`

	if ev := e.Normalize(env("cheer-latest", payload)); ev == nil {
		t.Fatal("first cheer dropped")
	}
	if ev := e.Normalize(env("cheer-latest", payload)); ev != nil {
		t.Fatalf("duplicate inside window produced %+v", ev)
	}
	c.advance(1100 * time.Millisecond)
	if ev := e.Normalize(env("cheer-latest", payload)); ev == nil {
		t.Fatal("repeat after window lapsed was dropped")
	}
}

func TestNormalizeDedupDistinguishesAmounts(t *testing.T) {
	e, _ := newTestEngine(t, Options{DedupeWindow: time.Second})
	if ev := e.Normalize(env("cheer-latest", `{"name": "bob", "amount": 100}`)); ev == nil {
		t.Fatal("first cheer dropped")
	}
	if ev := e.Normalize(env("cheer-latest", `{"name": "bob", "amount": 200}`)); ev == nil {
		t.Fatal("different amount treated as duplicate")
	}
}

func TestNormalizePreferEvent(t *testing.T) {
	e, _ := newTestEngine(t, Options{PreferEvent: true, DedupeWindow: time.Second})

	rich := e.Normalize(env("event", `{"type": "tip", "name": "bob", "amount": 10}`))
	if rich == nil {
		t.Fatal("rich tip dropped")
	}
	if rich.Origin != event.OriginEvent {
		t.Fatalf("Origin = %q", rich.Origin)
	}
	if ev := e.Normalize(env("tip-latest", `{"name": "bob", "amount": 10}`)); ev != nil {
		t.Fatalf("condensed twin produced %+v", ev)
	}
}

func TestNormalizePreferEventDisabled(t *testing.T) {
	e, _ := newTestEngine(t, Options{DedupeWindow: time.Second})
	if ev := e.Normalize(env("event", `{"type": "tip", "name": "bob", "amount": 10}`)); ev == nil {
		t.Fatal("rich tip dropped")
	}
	if ev := e.Normalize(env("tip-latest", `{"name": "bob", "amount": 10}`)); ev == nil {
		t.Fatal("condensed copy dropped without prefer-event")
	}
}

func TestNormalizeSubCommunity(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("subscriber-latest", `{"bulkGifted": true, "amount": 5, "sender": "alice", "name": "alice"}`))
	if ev == nil {
		t.Fatal("community batch dropped")
	}
	if ev.Kind != event.KindSubCommunity {
		t.Fatalf("Kind = %q, want sub-community", ev.Kind)
	}
	if ev.User.Username != "alice" || ev.User.Sender != "alice" {
		t.Fatalf("community batch not keyed to sender: %+v", ev.User)
	}
	if ev.AmountValue() != 5 {
		t.Fatalf("Amount = %v, want 5", ev.AmountValue())
	}

	// The trailing singles from the same sender stay quiet...
	if got := e.Normalize(env("subscriber-latest", `{"gifted": true, "sender": "alice", "name": "lucky1"}`)); got != nil {
		t.Fatalf("trailing single produced %+v", got)
	}
	// ...but an unrelated gifter still lands.
	gift := e.Normalize(env("subscriber-latest", `{"gifted": true, "sender": "bob", "name": "lucky2"}`))
	if gift == nil {
		t.Fatal("unrelated gift dropped")
	}
	if gift.Kind != event.KindSubGift || gift.AmountValue() != 1 {
		t.Fatalf("gift = kind %q amount %v", gift.Kind, gift.AmountValue())
	}
	if gift.User.Username != "lucky2" || gift.User.Sender != "bob" {
		t.Fatalf("gift user = %+v", gift.User)
	}
}

func TestNormalizeSubCommunityDuplicateDoesNotExtendWindow(t *testing.T) {
	e, c := newTestEngine(t, Options{
		DedupeWindow:      time.Second,
		CommunitySuppress: 10 * time.Second,
	})
	batch := `{"bulkGifted": true, "amount": 5, "sender": "alice", "name": "alice"}`

	if ev := e.Normalize(env("subscriber-latest", batch)); ev == nil {
		t.Fatal("community batch dropped")
	}
	// A duplicate batch inside the dedupe window is discarded and must not
	// re-arm the sender's suppression window.
	c.advance(500 * time.Millisecond)
	if ev := e.Normalize(env("subscriber-latest", batch)); ev != nil {
		t.Fatalf("duplicate batch produced %+v", ev)
	}

	// Just past the original window the trailing single lands again.
	c.advance(9700 * time.Millisecond)
	gift := e.Normalize(env("subscriber-latest", `{"gifted": true, "sender": "alice", "name": "lucky3"}`))
	if gift == nil {
		t.Fatal("gift after original window lapsed was still suppressed")
	}
	if gift.Kind != event.KindSubGift {
		t.Fatalf("Kind = %q, want sub-gift", gift.Kind)
	}
}

func TestNormalizeSubCommunityHeuristic(t *testing.T) {
	// No explicit bulk flag, but count > 1 with a sender and no gift flag.
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("subscriber-latest", `{"amount": 3, "sender": "carol", "name": "carol"}`))
	if ev == nil {
		t.Fatal("heuristic community batch dropped")
	}
	if ev.Kind != event.KindSubCommunity {
		t.Fatalf("Kind = %q, want sub-community", ev.Kind)
	}
}

func TestNormalizeSubResubAndNew(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	re := e.Normalize(env("subscriber-latest", `{"name": "dana", "amount": 14}`))
	if re == nil || re.Kind != event.KindSubRe {
		t.Fatalf("resub = %+v, want sub-re", re)
	}

	fresh := e.Normalize(env("subscriber-latest", `{"name": "erin"}`))
	if fresh == nil || fresh.Kind != event.KindSubNew {
		t.Fatalf("new sub = %+v, want sub-new", fresh)
	}
	if fresh.AmountValue() != 1 {
		t.Fatalf("new sub amount = %v, want 1", fresh.AmountValue())
	}
}

func TestNormalizeSelfGiftIsNotGift(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("subscriber-latest", `{"gifted": true, "sender": "Frank", "name": "frank"}`))
	if ev == nil {
		t.Fatal("self-gift dropped")
	}
	if ev.Kind != event.KindSubNew {
		t.Fatalf("Kind = %q, want sub-new for self-gift", ev.Kind)
	}
}

func TestNormalizeSponsor(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("sponsor-latest", `{"name": "gabe"}`))
	if ev == nil {
		t.Fatal("sponsor dropped")
	}
	if ev.Kind != event.KindSubNew {
		t.Fatalf("Kind = %q", ev.Kind)
	}
	if v, _ := ev.Meta["sponsor"].(bool); !v {
		t.Fatal("sponsor meta missing")
	}
}

func TestNormalizeSuperchat(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("superchat-latest", `{"name": "hana", "amount": 4.99, "message": "nice run"}`))
	if ev == nil {
		t.Fatal("superchat dropped")
	}
	if ev.Kind != event.KindTip {
		t.Fatalf("Kind = %q, want tip", ev.Kind)
	}
	if ev.Provider != event.ProviderYouTube {
		t.Fatalf("Provider = %q, want youtube", ev.Provider)
	}
	if v, _ := ev.Meta["superchat"].(bool); !v {
		t.Fatal("superchat meta missing")
	}
}

func TestNormalizeCheerFilter(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	e.SetCheerFilter(func(msg string) (string, error) {
		return "cleaned", nil
	})
	ev := e.Normalize(env("cheer-latest", `{"name": "ivy", "amount": 50, "message": "Cheer50 hype"}`))
	if ev == nil {
		t.Fatal("cheer dropped")
	}
	if ev.Message != "cleaned" {
		t.Fatalf("Message = %q, want filtered text", ev.Message)
	}
}

func TestNormalizeRedemptionEcho(t *testing.T) {
	e, c := newTestEngine(t, Options{EchoWindow: 1500 * time.Millisecond})

	red := e.Normalize(env("event", `{
		"type": "channelPointsRedemption",
		"data": {"username": "carol", "message": "hi mom", "redemption": "tts", "quantity": 500}
	}`))
	if red == nil {
		t.Fatal("redemption dropped")
	}
	if red.Kind != event.KindPoints {
		t.Fatalf("Kind = %q", red.Kind)
	}
	if red.Meta["redemption"] != "tts" {
		t.Fatalf("redemption meta = %v", red.Meta["redemption"])
	}
	if red.AmountValue() != 500 {
		t.Fatalf("Amount = %v", red.AmountValue())
	}

	// The mirrored chat line inside the window is an echo.
	if ev := e.Normalize(env("message", `{"data": {"nick": "carol", "msgId": "m9", "text": "hi mom"}}`)); ev != nil {
		t.Fatalf("echo chat produced %+v", ev)
	}
	// A different line from the same user still lands.
	if ev := e.Normalize(env("message", `{"data": {"nick": "carol", "msgId": "m10", "text": "unrelated"}}`)); ev == nil {
		t.Fatal("unrelated chat dropped")
	}

	c.advance(2 * time.Second)
	e.echo.Record("carol", "hi mom")
	c.advance(3 * time.Second)
	if ev := e.Normalize(env("message", `{"data": {"nick": "carol", "msgId": "m11", "text": "hi mom"}}`)); ev == nil {
		t.Fatal("chat dropped outside the echo window")
	}
}

func TestNormalizeDeleteMessage(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("delete-message", `{"msgId": "m42"}`))
	if ev == nil || ev.Kind != event.KindDeleteMessage {
		t.Fatalf("delete-message = %+v", ev)
	}
	if ev.ActivityID != "m42" {
		t.Fatalf("ActivityID = %q", ev.ActivityID)
	}
	if missing := e.Normalize(env("delete-message", `{}`)); missing != nil {
		t.Fatalf("delete without msgId produced %+v", missing)
	}
}

func TestNormalizeDeleteMessages(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ev := e.Normalize(env("delete-messages", `{"userId": "u99"}`))
	if ev == nil || ev.Kind != event.KindDeleteMessages {
		t.Fatalf("delete-messages = %+v", ev)
	}
	if ev.User.ProviderID != "u99" {
		t.Fatalf("User = %+v", ev.User)
	}
}

func TestNormalizeButtonBypassesDedup(t *testing.T) {
	e, _ := newTestEngine(t, Options{DedupeWindow: time.Minute})
	payload := `{"field": "testMessage", "value": "go"}`
	for i := 0; i < 3; i++ {
		ev := e.Normalize(env("widget-button", payload))
		if ev == nil {
			t.Fatalf("button press %d dropped", i)
		}
		if ev.Kind != event.KindButton || ev.Origin != event.OriginSystem {
			t.Fatalf("button = kind %q origin %q", ev.Kind, ev.Origin)
		}
		if ev.Meta["field"] != "testMessage" {
			t.Fatalf("field meta = %v", ev.Meta["field"])
		}
	}
}

func TestNormalizeIgnoredAlertUser(t *testing.T) {
	e, _ := newTestEngine(t, Options{IgnoredUsers: []string{"spammer"}})
	if ev := e.Normalize(env("tip-latest", `{"name": "Spammer", "amount": 1}`)); ev != nil {
		t.Fatalf("ignored tipper produced %+v", ev)
	}
}

func TestApplyKeepsLiveWindows(t *testing.T) {
	e, _ := newTestEngine(t, Options{DedupeWindow: time.Minute})
	if ev := e.Normalize(env("cheer-latest", `{"name": "bob", "amount": 100}`)); ev == nil {
		t.Fatal("first cheer dropped")
	}
	e.Apply(Options{DedupeWindow: time.Minute, CommandPrefix: "~"})
	if ev := e.Normalize(env("cheer-latest", `{"name": "bob", "amount": 100}`)); ev != nil {
		t.Fatal("window lost across Apply")
	}
}

func TestSanitizeAmount(t *testing.T) {
	if got := sanitizeAmount(nil); got != nil {
		t.Fatalf("sanitize(nil) = %v", got)
	}
	if got := sanitizeAmount(float64Ptr(math.NaN())); got != nil {
		t.Fatalf("sanitize(NaN) = %v", got)
	}
	if got := sanitizeAmount(float64Ptr(math.Inf(1))); got != nil {
		t.Fatalf("sanitize(+Inf) = %v", got)
	}
	if got := sanitizeAmount(float64Ptr(math.Inf(-1))); got != nil {
		t.Fatalf("sanitize(-Inf) = %v", got)
	}
	if got := sanitizeAmount(float64Ptr(12.5)); got == nil || *got != 12.5 {
		t.Fatalf("sanitize(12.5) = %v", got)
	}
}
