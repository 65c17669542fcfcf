package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kit "overlayd/internal/transport"
	logx "overlayd/pkg/logx"
)

func startDemo(t *testing.T, cfg Config) (*Demo, chan kit.Envelope) {
	t.Helper()
	out := make(chan kit.Envelope, 32)
	d := New(cfg, logx.Nop())
	if err := d.Start(context.Background(), out); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d, out
}

func recv(t *testing.T, out chan kit.Envelope) kit.Envelope {
	t.Helper()
	select {
	case env := <-out:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope emitted")
		return kit.Envelope{}
	}
}

type demoChat struct {
	Service string `json:"service"`
	Data    struct {
		Nick   string `json:"nick"`
		MsgID  string `json:"msgId"`
		Text   string `json:"text"`
		Badges []struct {
			Type string `json:"type"`
		} `json:"badges"`
		AuthorDetails *struct {
			DisplayName string `json:"displayName"`
		} `json:"authorDetails"`
	} `json:"data"`
}

func decodeChat(t *testing.T, env kit.Envelope) demoChat {
	t.Helper()
	if env.Listener != "message" {
		t.Fatalf("Listener = %q, want message", env.Listener)
	}
	var p demoChat
	if err := json.Unmarshal(env.Event, &p); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	return p
}

func TestHandleButtonTestMessage(t *testing.T) {
	d, out := startDemo(t, Config{})
	d.HandleButton("testMessage", "")

	p := decodeChat(t, recv(t, out))
	if p.Service != "twitch" {
		t.Fatalf("service = %q", p.Service)
	}
	if p.Data.Nick == "" || p.Data.Text == "" || p.Data.MsgID == "" {
		t.Fatalf("incomplete chat payload: %+v", p.Data)
	}
	if len(p.Data.Badges) != 0 {
		t.Fatalf("plain test message carries badges: %+v", p.Data.Badges)
	}
}

func TestHandleButtonRoleBadges(t *testing.T) {
	cases := []struct {
		field string
		badge string
	}{
		{"testBroadcaster", "broadcaster"},
		{"testModerator", "moderator"},
		{"testVip", "vip"},
		{"testSubscriber", "subscriber"},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			d, out := startDemo(t, Config{})
			d.HandleButton(tc.field, "")
			p := decodeChat(t, recv(t, out))
			if len(p.Data.Badges) != 1 || p.Data.Badges[0].Type != tc.badge {
				t.Fatalf("badges = %+v, want %q", p.Data.Badges, tc.badge)
			}
		})
	}
}

func TestHandleButtonYoutube(t *testing.T) {
	d, out := startDemo(t, Config{})
	d.HandleButton("testYoutubeMessage", "")
	p := decodeChat(t, recv(t, out))
	if p.Service != "youtube" {
		t.Fatalf("service = %q", p.Service)
	}
	if p.Data.AuthorDetails == nil || p.Data.AuthorDetails.DisplayName == "" {
		t.Fatalf("youtube payload without authorDetails: %+v", p.Data)
	}
}

func TestHandleButtonUnknownField(t *testing.T) {
	d, out := startDemo(t, Config{})
	d.HandleButton("mystery", "x")
	select {
	case env := <-out:
		t.Fatalf("unknown control emitted %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDemoMessagesBatch(t *testing.T) {
	d, out := startDemo(t, Config{})
	d.DemoMessages(3, time.Millisecond)

	for i := 0; i < 3; i++ {
		decodeChat(t, recv(t, out))
	}
	select {
	case env := <-out:
		t.Fatalf("extra envelope %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDemoMessagesBeforeStart(t *testing.T) {
	d := New(Config{}, logx.Nop())
	// Must be a no-op, not a panic.
	d.DemoMessages(1, time.Millisecond)
}

func TestStartRejectsBadCron(t *testing.T) {
	d := New(Config{Enabled: true, DemoCron: "not a cron spec"}, logx.Nop())
	out := make(chan kit.Envelope, 1)
	if err := d.Start(context.Background(), out); err == nil {
		t.Fatal("bad cron spec accepted")
	}
}
