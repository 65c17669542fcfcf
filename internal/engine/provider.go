package engine

import (
	"strings"

	"overlayd/internal/event"
)

// detectProvider resolves which platform a chat payload came from.
// Explicit service markers win; otherwise the structure decides
// (authorDetails only exists on YouTube payloads, IRC badge tags only on
// Twitch ones); otherwise fall back to the configured primary provider.
func detectProvider(p *chatPayload, primary event.Provider) event.Provider {
	switch strings.ToLower(strings.TrimSpace(p.Service)) {
	case "twitch":
		return event.ProviderTwitch
	case "youtube":
		return event.ProviderYouTube
	}
	if p.Data.AuthorDetails != nil {
		return event.ProviderYouTube
	}
	if len(p.Data.Badges) > 0 || p.Data.Tags["badges"] != "" {
		return event.ProviderTwitch
	}
	if primary != "" {
		return primary
	}
	return event.ProviderTwitch
}

// twitchRolePrecedence orders badge-derived roles, strongest first.
var twitchRolePrecedence = []event.Role{
	event.RoleBroadcaster,
	event.RoleLeadMod,
	event.RoleModerator,
	event.RoleVIP,
	event.RoleArtist,
	event.RoleSubscriber,
	event.RolePrime,
}

var twitchBadgeRoles = map[string]event.Role{
	"broadcaster":    event.RoleBroadcaster,
	"lead_moderator": event.RoleLeadMod,
	"moderator":      event.RoleModerator,
	"vip":            event.RoleVIP,
	"artist-badge":   event.RoleArtist,
	"artist":         event.RoleArtist,
	"subscriber":     event.RoleSubscriber,
	"founder":        event.RoleSubscriber,
	"premium":        event.RolePrime,
}

// twitchChat maps a Twitch chat payload to a provisional event (pure).
func twitchChat(p *chatPayload) (event.UserRef, event.Role, map[string]any) {
	d := &p.Data

	user := event.UserRef{
		Username:    d.Nick,
		DisplayName: d.DisplayName,
		ProviderID:  d.UserID,
	}

	present := map[event.Role]bool{}
	for _, b := range d.Badges {
		if r, ok := twitchBadgeRoles[strings.ToLower(b.Type)]; ok {
			present[r] = true
		}
	}
	// IRC tag fallback: "badges" is "type/version,type/version,...".
	if raw := d.Tags["badges"]; raw != "" {
		for _, part := range strings.Split(raw, ",") {
			name := part
			if i := strings.IndexByte(part, '/'); i >= 0 {
				name = part[:i]
			}
			if r, ok := twitchBadgeRoles[strings.ToLower(strings.TrimSpace(name))]; ok {
				present[r] = true
			}
		}
	}

	role := event.RoleViewer
	for _, r := range twitchRolePrecedence {
		if present[r] {
			role = r
			break
		}
	}
	if role == event.RoleViewer && d.Tags["first-msg"] == "1" {
		role = event.RoleFirst
	}

	meta := map[string]any{}
	if d.IsAction {
		meta["is_action"] = true
	}
	if d.Tags["msg-id"] == "highlighted-message" {
		meta["is_highlight"] = true
	}
	if d.Tags["first-msg"] == "1" {
		meta["first_message"] = true
	}
	return user, role, meta
}

// youtubeChat maps a YouTube chat payload to a provisional event (pure).
func youtubeChat(p *chatPayload) (event.UserRef, event.Role, map[string]any) {
	d := &p.Data
	a := d.AuthorDetails

	user := event.UserRef{
		Username:    d.Nick,
		DisplayName: d.DisplayName,
		ProviderID:  d.UserID,
	}
	role := event.RoleViewer
	if a != nil {
		if user.DisplayName == "" {
			user.DisplayName = a.DisplayName
		}
		if user.Username == "" {
			user.Username = a.DisplayName
		}
		if user.ProviderID == "" {
			user.ProviderID = a.ChannelID
		}
		switch {
		case a.IsChatOwner:
			role = event.RoleBroadcaster
		case a.IsChatModerator:
			role = event.RoleModerator
		case a.IsChatSponsor:
			role = event.RoleSubscriber
		}
	}

	meta := map[string]any{}
	if d.IsAction {
		meta["is_action"] = true
	}
	return user, role, meta
}
