// Package engine turns raw widget envelopes into canonical events.
//
// Normalize is total: malformed or unwanted input yields nil, never an
// error. All suppression decisions (dedup windows, community-gift trailing
// notifications, redemption chat echo, cross-surface duplicates) happen
// here, before anything downstream runs.
package engine

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"overlayd/internal/command"
	"overlayd/internal/event"
	"overlayd/internal/eventbus"
	kit "overlayd/internal/transport"
	logx "overlayd/pkg/logx"
)

// Options control normalization behavior. Zero values fall back to defaults.
type Options struct {
	Provider      event.Provider
	CommandPrefix string
	HideCommands  bool
	IgnoredUsers  []string
	BotNames      []string

	DedupeWindow      time.Duration // default 1500ms
	CommunitySuppress time.Duration // default 15s
	EchoWindow        time.Duration // default 1500ms

	PreferEvent     bool
	DedupMaxEntries int // default 2000
}

func (o Options) withDefaults() Options {
	if o.Provider == "" {
		o.Provider = event.ProviderTwitch
	}
	if o.CommandPrefix == "" {
		o.CommandPrefix = "!"
	}
	if o.DedupeWindow <= 0 {
		o.DedupeWindow = 1500 * time.Millisecond
	}
	if o.CommunitySuppress <= 0 {
		o.CommunitySuppress = 15 * time.Second
	}
	if o.EchoWindow <= 0 {
		o.EchoWindow = 1500 * time.Millisecond
	}
	if o.DedupMaxEntries <= 0 {
		o.DedupMaxEntries = 2000
	}
	return o
}

// CheerFilter optionally rewrites cheer message text (e.g. stripping cheermote
// noise). A failing filter falls back to the unfiltered message.
type CheerFilter func(msg string) (string, error)

type handlerFunc func(env kit.Envelope) *event.CanonicalEvent

type Engine struct {
	log logx.Logger
	bus eventbus.Bus

	mu       sync.RWMutex
	opts     Options
	ignored  map[string]struct{}
	bots     map[string]struct{}
	resolver *command.Resolver

	fps   *Fingerprints
	gifts *GiftSuppressor
	echo  *EchoGuard

	cheerFilter CheerFilter

	handlers      map[string]handlerFunc
	totalMessages atomic.Uint64
}

func New(opts Options, log logx.Logger, bus eventbus.Bus) *Engine {
	opts = opts.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		log:   log,
		bus:   bus,
		fps:   NewFingerprints(opts.DedupMaxEntries, log),
		gifts: NewGiftSuppressor(),
		echo:  NewEchoGuard(opts.EchoWindow),
	}
	e.applyLocked(opts)
	e.registerHandlers()
	return e
}

// Apply updates normalization options at runtime. Live suppression windows
// are kept; only knobs change.
func (e *Engine) Apply(opts Options) {
	e.mu.Lock()
	e.applyLocked(opts.withDefaults())
	e.mu.Unlock()
}

func (e *Engine) applyLocked(opts Options) {
	e.opts = opts
	e.ignored = foldSet(opts.IgnoredUsers)
	e.bots = foldSet(opts.BotNames)
}

// SetResolver installs the permission resolver consulted for chat commands.
func (e *Engine) SetResolver(r *command.Resolver) {
	e.mu.Lock()
	e.resolver = r
	e.mu.Unlock()
}

// SetCheerFilter installs the optional cheer message filter.
func (e *Engine) SetCheerFilter(f CheerFilter) {
	e.mu.Lock()
	e.cheerFilter = f
	e.mu.Unlock()
}

// Fingerprints exposes the dedup store (for persistence wiring).
func (e *Engine) Fingerprints() *Fingerprints { return e.fps }

// TotalMessages reports how many chat messages were accepted since start.
func (e *Engine) TotalMessages() uint64 { return e.totalMessages.Load() }

func (e *Engine) options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

func foldSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, v := range list {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			m[v] = struct{}{}
		}
	}
	return m
}

func (e *Engine) registerHandlers() {
	e.handlers = map[string]handlerFunc{
		"message":           e.handleMessage,
		"event":             e.handleEvent,
		"follower-latest":   e.alertHandler(event.KindFollow, event.OriginLatest),
		"subscriber-latest": e.subHandler(event.OriginLatest, false),
		"sponsor-latest":    e.subHandler(event.OriginLatest, true),
		"cheer-latest":      e.cheerHandler(event.OriginLatest),
		"tip-latest":        e.alertHandler(event.KindTip, event.OriginLatest),
		"superchat-latest":  e.superchatHandler(event.OriginLatest),
		"raid-latest":       e.alertHandler(event.KindRaid, event.OriginLatest),
		"delete-message":    e.handleDeleteMessage,
		"delete-messages":   e.handleDeleteMessages,
		"widget-button":     e.handleButton,
	}
}

// Normalize maps one raw envelope to at most one canonical event.
// A nil return means the input was unknown, malformed, or suppressed.
func (e *Engine) Normalize(env kit.Envelope) *event.CanonicalEvent {
	h := e.handlers[env.Listener]
	if h == nil {
		e.log.Debug("unknown listener", logx.String("listener", env.Listener))
		return nil
	}
	ev := h(env)
	if ev == nil {
		return nil
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ev.Listener = env.Listener
	ev.Raw = env.Event

	// UI controls are commands, not activity; they never dedupe.
	if ev.Kind == event.KindButton {
		e.publish(eventbus.TypeEventNormalized, ev)
		return ev
	}

	opts := e.options()

	// Cross-surface preference: if the rich "event" twin already landed,
	// drop the condensed "latest" copy.
	if opts.PreferEvent && ev.Origin == event.OriginLatest {
		if e.fps.Seen(ev.FingerprintAs(event.OriginEvent)) {
			e.log.Debug("cross-surface duplicate dropped",
				logx.String("kind", string(ev.Kind)), logx.String("user", ev.User.Username))
			e.publish(eventbus.TypeEventSuppressed, ev)
			return nil
		}
	}

	key := ev.Fingerprint()
	if e.fps.Seen(key) {
		e.log.Debug("duplicate event dropped",
			logx.String("kind", string(ev.Kind)), logx.String("user", ev.User.Username))
		e.publish(eventbus.TypeEventDeduped, ev)
		return nil
	}
	e.fps.Mark(key, opts.DedupeWindow)
	if opts.PreferEvent && ev.Origin == event.OriginEvent {
		// Pre-mark the condensed twin so it is recognized as seen.
		e.fps.Mark(ev.FingerprintAs(event.OriginLatest), opts.DedupeWindow)
	}

	// The sender window arms only when the batch itself is emitted; a
	// duplicate batch inside the dedupe window must not extend it.
	if ev.Kind == event.KindSubCommunity {
		e.gifts.Suppress(ev.User.Sender, opts.CommunitySuppress)
	}

	e.publish(eventbus.TypeEventNormalized, ev)
	return ev
}

func (e *Engine) publish(typ string, ev *event.CanonicalEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: busEvent{
		ID:   ev.ID,
		Kind: string(ev.Kind),
		User: ev.User.Username,
	}})
}

// busEvent is the small snapshot published on the bus (never the live event).
type busEvent struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	User string `json:"user"`
}

// ---- chat ----

func (e *Engine) handleMessage(env kit.Envelope) *event.CanonicalEvent {
	var p chatPayload
	if err := json.Unmarshal(env.Event, &p); err != nil {
		e.log.Debug("bad chat payload", logx.Err(err))
		return nil
	}

	opts := e.options()
	provider := detectProvider(&p, opts.Provider)

	var (
		user event.UserRef
		role event.Role
		meta map[string]any
	)
	switch provider {
	case event.ProviderYouTube:
		user, role, meta = youtubeChat(&p)
	default:
		user, role, meta = twitchChat(&p)
	}

	if e.isIgnored(user) {
		return nil
	}
	if e.isBot(user) {
		role = event.RoleBot
	}

	text := p.Data.message()

	// A redemption's chat echo repeats the redeemed text; drop it.
	if e.echo.IsEcho(user.Username, text) {
		e.log.Debug("redemption echo dropped", logx.String("user", user.Username))
		return nil
	}

	// Hide-commands keys on the raw prefix, not on parseability: "! give",
	// "!!" and a bare "!" are operator noise too.
	if opts.HideCommands && strings.HasPrefix(strings.TrimSpace(text), opts.CommandPrefix) {
		return nil
	}

	cmd := command.Parse(text, opts.CommandPrefix)
	if cmd != nil {
		e.mu.RLock()
		resolver := e.resolver
		e.mu.RUnlock()
		if resolver != nil {
			v := resolver.Resolve(cmd.Name, role)
			meta["command_category"] = v.Category
			meta["has_perms"] = v.HasPerms
		}
	}

	n := e.totalMessages.Add(1)
	meta["message_no"] = n

	return &event.CanonicalEvent{
		ID:         p.Data.MsgID,
		Kind:       event.KindMessage,
		Provider:   provider,
		Origin:     event.OriginOther,
		Message:    text,
		ActivityID: p.Data.MsgID,
		User:       user,
		Role:       role,
		Command:    cmd,
		Meta:       meta,
	}
}

func (e *Engine) isIgnored(u event.UserRef) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.ignored[strings.ToLower(u.Username)]; ok {
		return true
	}
	if u.DisplayName != "" {
		if _, ok := e.ignored[strings.ToLower(u.DisplayName)]; ok {
			return true
		}
	}
	return false
}

func (e *Engine) isBot(u event.UserRef) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.bots[strings.ToLower(u.Username)]
	return ok
}

// ---- alerts ----

// handleEvent dispatches the combined realtime alert surface by payload type.
func (e *Engine) handleEvent(env kit.Envelope) *event.CanonicalEvent {
	var p alertPayload
	if err := json.Unmarshal(env.Event, &p); err != nil {
		e.log.Debug("bad alert payload", logx.Err(err))
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "follower", "follow":
		return e.buildAlert(event.KindFollow, event.OriginEvent, &p, nil)
	case "subscriber", "sub":
		return e.buildSub(event.OriginEvent, &p, false)
	case "sponsor":
		return e.buildSub(event.OriginEvent, &p, true)
	case "cheer":
		return e.buildCheer(event.OriginEvent, &p)
	case "tip", "donation":
		return e.buildAlert(event.KindTip, event.OriginEvent, &p, nil)
	case "superchat":
		return e.buildSuperchat(event.OriginEvent, &p)
	case "raid", "host":
		return e.buildAlert(event.KindRaid, event.OriginEvent, &p, nil)
	case "channelpointsredemption", "redemption":
		return e.buildPoints(event.OriginEvent, &p)
	default:
		e.log.Debug("unknown alert type", logx.String("type", p.Type))
		return nil
	}
}

func (e *Engine) alertHandler(kind event.Kind, origin event.Origin) handlerFunc {
	return func(env kit.Envelope) *event.CanonicalEvent {
		var p alertPayload
		if err := json.Unmarshal(env.Event, &p); err != nil {
			e.log.Debug("bad alert payload", logx.Err(err))
			return nil
		}
		return e.buildAlert(kind, origin, &p, nil)
	}
}

func (e *Engine) subHandler(origin event.Origin, sponsor bool) handlerFunc {
	return func(env kit.Envelope) *event.CanonicalEvent {
		var p alertPayload
		if err := json.Unmarshal(env.Event, &p); err != nil {
			e.log.Debug("bad alert payload", logx.Err(err))
			return nil
		}
		return e.buildSub(origin, &p, sponsor)
	}
}

func (e *Engine) cheerHandler(origin event.Origin) handlerFunc {
	return func(env kit.Envelope) *event.CanonicalEvent {
		var p alertPayload
		if err := json.Unmarshal(env.Event, &p); err != nil {
			e.log.Debug("bad alert payload", logx.Err(err))
			return nil
		}
		return e.buildCheer(origin, &p)
	}
}

func (e *Engine) superchatHandler(origin event.Origin) handlerFunc {
	return func(env kit.Envelope) *event.CanonicalEvent {
		var p alertPayload
		if err := json.Unmarshal(env.Event, &p); err != nil {
			e.log.Debug("bad alert payload", logx.Err(err))
			return nil
		}
		return e.buildSuperchat(origin, &p)
	}
}

func (e *Engine) buildAlert(kind event.Kind, origin event.Origin, p *alertPayload, meta map[string]any) *event.CanonicalEvent {
	user := event.UserRef{
		Username:    p.user(),
		DisplayName: p.display(),
		ProviderID:  p.providerID(),
	}
	if e.isIgnored(user) {
		return nil
	}
	ev := &event.CanonicalEvent{
		Kind:          kind,
		Provider:      e.options().Provider,
		Origin:        origin,
		Amount:        sanitizeAmount(p.amount()),
		Message:       p.text(),
		ActivityID:    p.activityID(),
		ActivityGroup: p.ActivityGroup,
		User:          user,
		Meta:          meta,
	}
	if p.IsTest {
		if ev.Meta == nil {
			ev.Meta = map[string]any{}
		}
		ev.Meta["is_test"] = true
	}
	return ev
}

// buildSub applies the subscription decision table:
//
//  1. community batch (bulk/community flag, or count > 1 with a sender and
//     no per-recipient gift flag) -> sub-community keyed to the sender
//  2. single gift from someone else -> sub-gift (amount 1), dropped while
//     the sender's community window is live
//  3. otherwise months > 1 -> sub-re, else sub-new
func (e *Engine) buildSub(origin event.Origin, p *alertPayload, sponsor bool) *event.CanonicalEvent {
	amount := 0.0
	if a := p.amount(); a != nil {
		amount = *a
	}
	sender := p.sender()
	recipient := p.user()

	var meta map[string]any
	if sponsor {
		meta = map[string]any{"sponsor": true}
	}

	community := p.communityGift() || (amount > 1 && sender != "" && !p.gifted())
	switch {
	case community:
		ev := e.buildAlert(event.KindSubCommunity, origin, p, meta)
		if ev == nil {
			return nil
		}
		// A community batch is the sender's event; recipients follow as
		// suppressed singles.
		ev.User.Username = sender
		ev.User.DisplayName = sender
		ev.User.Sender = sender
		ev.Amount = float64Ptr(amount)
		return ev

	case p.gifted() && !strings.EqualFold(sender, recipient):
		if e.gifts.IsSuppressed(sender) {
			e.log.Debug("community gift single dropped", logx.String("sender", sender))
			e.publishSuppressed(event.KindSubGift, recipient)
			return nil
		}
		ev := e.buildAlert(event.KindSubGift, origin, p, meta)
		if ev == nil {
			return nil
		}
		ev.User.Sender = sender
		ev.Amount = float64Ptr(1)
		return ev

	case amount > 1:
		return e.buildAlert(event.KindSubRe, origin, p, meta)
	default:
		ev := e.buildAlert(event.KindSubNew, origin, p, meta)
		if ev == nil {
			return nil
		}
		if ev.Amount == nil {
			ev.Amount = float64Ptr(1)
		}
		return ev
	}
}

func (e *Engine) publishSuppressed(kind event.Kind, user string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeEventSuppressed, Data: busEvent{
		Kind: string(kind),
		User: user,
	}})
}

func (e *Engine) buildCheer(origin event.Origin, p *alertPayload) *event.CanonicalEvent {
	ev := e.buildAlert(event.KindCheer, origin, p, nil)
	if ev == nil {
		return nil
	}
	e.mu.RLock()
	filter := e.cheerFilter
	e.mu.RUnlock()
	if filter != nil && ev.Message != "" {
		if cleaned, err := filter(ev.Message); err == nil {
			ev.Message = cleaned
		} else {
			e.log.Debug("cheer filter failed; keeping raw message", logx.Err(err))
		}
	}
	return ev
}

func (e *Engine) buildSuperchat(origin event.Origin, p *alertPayload) *event.CanonicalEvent {
	ev := e.buildAlert(event.KindTip, origin, p, map[string]any{"superchat": true})
	if ev == nil {
		return nil
	}
	ev.Provider = event.ProviderYouTube
	return ev
}

func (e *Engine) buildPoints(origin event.Origin, p *alertPayload) *event.CanonicalEvent {
	meta := map[string]any{}
	if r := p.redemption(); r != "" {
		meta["redemption"] = r
	}
	ev := e.buildAlert(event.KindPoints, origin, p, meta)
	if ev == nil {
		return nil
	}
	// The widget mirrors the redeemed text into chat; remember it so the
	// echo can be dropped.
	e.echo.Record(ev.User.Username, ev.Message)
	return ev
}

// ---- moderation / controls ----

func (e *Engine) handleDeleteMessage(env kit.Envelope) *event.CanonicalEvent {
	var p deletePayload
	if err := json.Unmarshal(env.Event, &p); err != nil || p.MsgID == "" {
		return nil
	}
	return &event.CanonicalEvent{
		Kind:       event.KindDeleteMessage,
		Provider:   e.options().Provider,
		Origin:     event.OriginOther,
		ActivityID: p.MsgID,
		Meta:       map[string]any{"msg_id": p.MsgID},
	}
}

func (e *Engine) handleDeleteMessages(env kit.Envelope) *event.CanonicalEvent {
	var p deletePayload
	if err := json.Unmarshal(env.Event, &p); err != nil || p.UserID == "" {
		return nil
	}
	return &event.CanonicalEvent{
		Kind:     event.KindDeleteMessages,
		Provider: e.options().Provider,
		Origin:   event.OriginOther,
		User:     event.UserRef{ProviderID: p.UserID},
		Meta:     map[string]any{"user_id": p.UserID},
	}
}

func (e *Engine) handleButton(env kit.Envelope) *event.CanonicalEvent {
	var p buttonPayload
	if err := json.Unmarshal(env.Event, &p); err != nil || p.Field == "" {
		return nil
	}
	return &event.CanonicalEvent{
		Kind:   event.KindButton,
		Origin: event.OriginSystem,
		Meta:   map[string]any{"field": p.Field, "value": p.Value},
	}
}

// sanitizeAmount drops non-finite values so Amount is nil or finite.
func sanitizeAmount(a *float64) *float64 {
	if a == nil {
		return nil
	}
	v := *a
	if v != v || v > 1e308 || v < -1e308 {
		return nil
	}
	return float64Ptr(v)
}

func float64Ptr(v float64) *float64 { return &v }
