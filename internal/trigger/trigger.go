// Package trigger matches event amounts against configured alert levels.
package trigger

import (
	"overlayd/internal/event"
)

// Mode says which kind of level matched.
type Mode string

const (
	ModeExact   Mode = "exact"
	ModeMinimum Mode = "minimum"
)

// Levels holds the configured amounts for one category.
type Levels struct {
	Exact   []float64
	Minimum []float64
}

// Match is a resolved trigger: the category it fired under, how it matched,
// and the configured level value that won.
type Match struct {
	Category string
	Mode     Mode
	Value    float64
}

// Table maps categories to their levels.
type Table map[string]Levels

// Category maps an event kind to its trigger category, "" when the kind
// never triggers. All subscription kinds share the "sub" category.
func Category(kind event.Kind) string {
	switch kind {
	case event.KindCheer:
		return "cheer"
	case event.KindTip:
		return "tip"
	case event.KindFollow:
		return "follow"
	case event.KindRaid:
		return "raid"
	case event.KindSubNew, event.KindSubRe, event.KindSubGift, event.KindSubCommunity:
		return "sub"
	default:
		return ""
	}
}

// Resolve finds the trigger for ev, or nil when the kind has no category,
// the category has no levels, or no level covers the amount.
//
// Exact levels win outright. Otherwise the highest minimum <= amount wins.
func (t Table) Resolve(ev *event.CanonicalEvent) *Match {
	if ev == nil {
		return nil
	}
	cat := Category(ev.Kind)
	if cat == "" {
		return nil
	}
	levels, ok := t[cat]
	if !ok {
		return nil
	}
	amount := ev.AmountValue()

	for _, v := range levels.Exact {
		if v == amount {
			return &Match{Category: cat, Mode: ModeExact, Value: v}
		}
	}

	best := 0.0
	found := false
	for _, v := range levels.Minimum {
		if v <= amount && (!found || v > best) {
			best = v
			found = true
		}
	}
	if !found {
		return nil
	}
	return &Match{Category: cat, Mode: ModeMinimum, Value: best}
}

// Better reports whether a outranks b: higher value wins; on a tie an exact
// match beats a minimum match. A nil match never wins.
func Better(a, b *Match) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	if a.Value != b.Value {
		return a.Value > b.Value
	}
	return a.Mode == ModeExact && b.Mode != ModeExact
}
