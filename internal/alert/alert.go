// Package alert turns canonical events into displayable alert text.
// Rendering (DOM, OBS, TTS) is external; this package only decides whether a
// category is enabled and what its line says.
package alert

import (
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"overlayd/internal/event"
	"overlayd/internal/trigger"
	logx "overlayd/pkg/logx"
)

// CategoryOf maps an event kind to its alert category, "" when the kind
// never alerts.
func CategoryOf(ev *event.CanonicalEvent) string {
	if ev == nil {
		return ""
	}
	switch ev.Kind {
	case event.KindFollow:
		return "follow"
	case event.KindSubNew, event.KindSubRe:
		return "sub"
	case event.KindSubGift:
		return "gifted_sub"
	case event.KindSubCommunity:
		return "gift_subs"
	case event.KindCheer:
		return "cheer"
	case event.KindTip:
		if b, _ := ev.Meta["superchat"].(bool); b {
			return "superchat"
		}
		return "tip"
	case event.KindRaid:
		return "raid"
	case event.KindPoints:
		return "points"
	default:
		return ""
	}
}

var defaultMessages = map[string]string{
	"follow":     "$User followed!",
	"sub":        "$User subscribed! ($Amount months)",
	"gifted_sub": "$User received a gifted sub!",
	"gift_subs":  "$User gifted $Amount subs!",
	"cheer":      "$User cheered $Amount bits!",
	"tip":        "$User tipped $Amount!",
	"superchat":  "$User sent a $Amount superchat!",
	"raid":       "$User raided with $Amount viewers!",
	"points":     "$User redeemed $Amount points!",
}

// Format substitutes the first $User and the first $Amount occurrence.
func Format(template, user, amount string) string {
	out := strings.Replace(template, "$User", user, 1)
	out = strings.Replace(out, "$Amount", amount, 1)
	return out
}

// FormatAmount renders an amount the way templates expect: trimmed float.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type Config struct {
	// Enabled gates categories; a category absent from the map is enabled.
	Enabled map[string]bool
	// Messages overrides per-category templates.
	Messages map[string]string
}

// Alert is one formatted, deliverable alert.
type Alert struct {
	ID       string                `json:"id"`
	Category string                `json:"category"`
	Text     string                `json:"text"`
	Event    *event.CanonicalEvent `json:"event"`
	Trigger  *trigger.Match        `json:"trigger,omitempty"`
}

// Sink consumes built alerts (overlay socket, test recorder, ...).
type Sink interface {
	Deliver(alert Alert) error
}

// Builder applies category gates and templates. Apply may race with Build
// on config reload, so the config is read under a lock.
type Builder struct {
	mu  sync.RWMutex
	cfg Config
	log logx.Logger
}

func NewBuilder(cfg Config, log logx.Logger) *Builder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Builder{cfg: cfg, log: log}
}

func (b *Builder) Apply(cfg Config) {
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

// Build formats an alert for ev, or returns nil when the event's category
// does not alert or is disabled.
func (b *Builder) Build(ev *event.CanonicalEvent, match *trigger.Match) *Alert {
	cat := CategoryOf(ev)
	if cat == "" {
		return nil
	}
	b.mu.RLock()
	cfg := b.cfg
	b.mu.RUnlock()
	if enabled, ok := cfg.Enabled[cat]; ok && !enabled {
		b.log.Debug("alert category disabled", logx.String("category", cat))
		return nil
	}
	tpl, ok := cfg.Messages[cat]
	if !ok || strings.TrimSpace(tpl) == "" {
		tpl = defaultMessages[cat]
	}
	text := Format(tpl, ev.User.Name(), FormatAmount(ev.AmountValue()))
	return &Alert{
		ID:       uuid.NewString(),
		Category: cat,
		Text:     text,
		Event:    ev,
		Trigger:  match,
	}
}
