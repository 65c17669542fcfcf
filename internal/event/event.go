// Package event defines the canonical stream event model.
//
// Every upstream notification (chat, alert, UI control) is normalized into a
// CanonicalEvent before anything downstream sees it. Events are immutable
// once emitted; downstream consumers must not mutate them.
package event

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a canonical event.
type Kind string

const (
	KindMessage        Kind = "message"
	KindFollow         Kind = "follow"
	KindSubNew         Kind = "sub-new"
	KindSubRe          Kind = "sub-re"
	KindSubGift        Kind = "sub-gift"
	KindSubCommunity   Kind = "sub-community"
	KindCheer          Kind = "cheer"
	KindTip            Kind = "tip"
	KindRaid           Kind = "raid"
	KindPoints         Kind = "points"
	KindButton         Kind = "button"
	KindDeleteMessage  Kind = "delete-message"
	KindDeleteMessages Kind = "delete-messages"
)

// Origin records which upstream surface produced the event.
type Origin string

const (
	// OriginEvent is the rich realtime alert surface.
	OriginEvent Origin = "event"
	// OriginLatest is the condensed "latest activity" surface that often
	// duplicates OriginEvent payloads.
	OriginLatest Origin = "latest"
	// OriginSystem marks synthetic traffic (UI buttons, demo feed).
	OriginSystem Origin = "system"
	OriginOther  Origin = "other"
)

// Provider identifies the upstream chat platform.
type Provider string

const (
	ProviderTwitch  Provider = "twitch"
	ProviderYouTube Provider = "youtube"
)

// Role is the single resolved chat role of a user, highest-precedence wins.
type Role string

const (
	RoleBot         Role = "bot"
	RoleBroadcaster Role = "broadcaster"
	RoleLeadMod     Role = "lead_moderator"
	RoleModerator   Role = "moderator"
	RoleVIP         Role = "vip"
	RoleArtist      Role = "artist"
	RoleSubscriber  Role = "subscriber"
	RolePrime       Role = "prime"
	RoleFirst       Role = "first"
	RoleViewer      Role = "viewer"
)

// UserRef identifies the user an event is attributed to. For gift-style
// events Sender carries the giver while Username/DisplayName carry the
// recipient (or the giver again for community gifts).
type UserRef struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	ProviderID  string `json:"provider_id,omitempty"`
	Sender      string `json:"sender,omitempty"`
}

// Name returns the best display handle available.
func (u UserRef) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Command is a parsed chat command attached to a message event.
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// CanonicalEvent is the single normalized shape all downstream consumers see.
//
// Amount is nil when the event carries no numeric payload; when set it is
// always finite.
type CanonicalEvent struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Provider Provider `json:"provider"`
	Listener string   `json:"listener"`
	Origin   Origin   `json:"origin"`

	At     time.Time `json:"at"`
	Amount *float64  `json:"amount,omitempty"`

	Message       string `json:"message,omitempty"`
	ActivityID    string `json:"activity_id,omitempty"`
	ActivityGroup string `json:"activity_group,omitempty"`

	User UserRef `json:"user"`
	Role Role    `json:"role,omitempty"`

	Command *Command       `json:"command,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// AmountValue returns the amount or 0 when unset.
func (e *CanonicalEvent) AmountValue() float64 {
	if e == nil || e.Amount == nil {
		return 0
	}
	return *e.Amount
}

// MetaString returns a string meta field, tolerating absence.
func (e *CanonicalEvent) MetaString(key string) string {
	if e == nil || e.Meta == nil {
		return ""
	}
	s, _ := e.Meta[key].(string)
	return s
}

// Fingerprint builds the dedup identity of an event from normalized fields
// only. Events whose fingerprints collide inside the dedupe window are
// duplicates by definition.
func (e *CanonicalEvent) Fingerprint() string {
	if e == nil {
		return ""
	}
	amt := ""
	if e.Amount != nil {
		amt = strconv.FormatFloat(*e.Amount, 'f', -1, 64)
	}
	parts := []string{
		string(e.Kind),
		amt,
		strings.ToLower(e.User.Username),
		strings.ToLower(e.User.Sender),
		e.ActivityGroup,
		e.ActivityID,
		string(e.Origin),
		e.MetaString("redemption"),
	}
	return strings.Join(parts, "|")
}

// FingerprintAs is Fingerprint with the origin swapped; it is used to probe
// for the cross-surface twin of an event.
func (e *CanonicalEvent) FingerprintAs(origin Origin) string {
	if e == nil {
		return ""
	}
	cp := *e
	cp.Origin = origin
	return cp.Fingerprint()
}
