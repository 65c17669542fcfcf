package alert

import (
	"testing"

	"overlayd/internal/event"
	"overlayd/internal/trigger"
	logx "overlayd/pkg/logx"
)

func fptr(v float64) *float64 { return &v }

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		name string
		ev   *event.CanonicalEvent
		want string
	}{
		{"nil", nil, ""},
		{"follow", &event.CanonicalEvent{Kind: event.KindFollow}, "follow"},
		{"sub new", &event.CanonicalEvent{Kind: event.KindSubNew}, "sub"},
		{"resub", &event.CanonicalEvent{Kind: event.KindSubRe}, "sub"},
		{"gift", &event.CanonicalEvent{Kind: event.KindSubGift}, "gifted_sub"},
		{"community", &event.CanonicalEvent{Kind: event.KindSubCommunity}, "gift_subs"},
		{"cheer", &event.CanonicalEvent{Kind: event.KindCheer}, "cheer"},
		{"tip", &event.CanonicalEvent{Kind: event.KindTip}, "tip"},
		{
			"superchat",
			&event.CanonicalEvent{Kind: event.KindTip, Meta: map[string]any{"superchat": true}},
			"superchat",
		},
		{"raid", &event.CanonicalEvent{Kind: event.KindRaid}, "raid"},
		{"points", &event.CanonicalEvent{Kind: event.KindPoints}, "points"},
		{"chat never alerts", &event.CanonicalEvent{Kind: event.KindMessage}, ""},
		{"button never alerts", &event.CanonicalEvent{Kind: event.KindButton}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategoryOf(tc.ev); got != tc.want {
				t.Fatalf("CategoryOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		name     string
		template string
		user     string
		amount   string
		want     string
	}{
		{"both placeholders", "$User cheered $Amount bits!", "alice", "100", "alice cheered 100 bits!"},
		{"first occurrence only", "$User and $User", "bob", "", "bob and $User"},
		{"amount first occurrence only", "$Amount + $Amount", "", "5", "5 + $Amount"},
		{"no placeholders", "hello!", "x", "1", "hello!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Format(tc.template, tc.user, tc.amount); got != tc.want {
				t.Fatalf("Format = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{100, "100"},
		{4.99, "4.99"},
		{0, "0"},
		{12.5, "12.5"},
	}
	for _, tc := range cases {
		if got := FormatAmount(tc.in); got != tc.want {
			t.Fatalf("FormatAmount(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuilderBuild(t *testing.T) {
	b := NewBuilder(Config{
		Enabled:  map[string]bool{"raid": false},
		Messages: map[string]string{"cheer": "$Amount bits from $User"},
	}, logx.Nop())

	ev := &event.CanonicalEvent{
		Kind:   event.KindCheer,
		Amount: fptr(250),
		User:   event.UserRef{Username: "alice", DisplayName: "Alice"},
	}
	match := &trigger.Match{Category: "cheer", Mode: trigger.ModeMinimum, Value: 100}

	a := b.Build(ev, match)
	if a == nil {
		t.Fatal("cheer alert not built")
	}
	if a.Category != "cheer" {
		t.Fatalf("Category = %q", a.Category)
	}
	if a.Text != "250 bits from Alice" {
		t.Fatalf("Text = %q", a.Text)
	}
	if a.ID == "" {
		t.Fatal("alert has no id")
	}
	if a.Trigger != match {
		t.Fatal("trigger match not attached")
	}

	if got := b.Build(&event.CanonicalEvent{Kind: event.KindRaid, User: event.UserRef{Username: "x"}}, nil); got != nil {
		t.Fatalf("disabled category built %+v", got)
	}
	if got := b.Build(&event.CanonicalEvent{Kind: event.KindMessage}, nil); got != nil {
		t.Fatalf("non-alerting kind built %+v", got)
	}
}

func TestBuilderApplyDuringBuild(t *testing.T) {
	b := NewBuilder(Config{}, logx.Nop())
	ev := &event.CanonicalEvent{
		Kind: event.KindFollow,
		User: event.UserRef{Username: "carol"},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			b.Apply(Config{Messages: map[string]string{"follow": "hi $User"}})
			b.Apply(Config{})
		}
	}()
	for i := 0; i < 500; i++ {
		a := b.Build(ev, nil)
		if a == nil {
			t.Fatal("follow alert not built")
		}
		if a.Text != "carol followed!" && a.Text != "hi carol" {
			t.Fatalf("Text = %q", a.Text)
		}
	}
	<-done
}

func TestBuilderDefaultTemplate(t *testing.T) {
	b := NewBuilder(Config{}, logx.Nop())
	a := b.Build(&event.CanonicalEvent{
		Kind: event.KindFollow,
		User: event.UserRef{Username: "carol"},
	}, nil)
	if a == nil {
		t.Fatal("follow alert not built")
	}
	if a.Text != "carol followed!" {
		t.Fatalf("Text = %q, want default template applied", a.Text)
	}
}
