package engine

import "strings"

// Wire shapes of the upstream widget payloads. Alert-style listeners and the
// combined "event" listener share one loose shape with a nested data object;
// fields are looked up direct-first, then in data.

type alertPayload struct {
	Type string `json:"type,omitempty"`

	Name        string `json:"name,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	Amount  *float64 `json:"amount,omitempty"`
	Count   *float64 `json:"count,omitempty"`
	Message string   `json:"message,omitempty"`

	Gifted          bool   `json:"gifted,omitempty"`
	BulkGifted      bool   `json:"bulkGifted,omitempty"`
	IsCommunityGift bool   `json:"isCommunityGift,omitempty"`
	Sender          string `json:"sender,omitempty"`

	IsTest bool `json:"isTest,omitempty"`

	ID            string `json:"_id,omitempty"`
	ActivityID    string `json:"activityId,omitempty"`
	ActivityGroup string `json:"activityGroup,omitempty"`

	Data *alertData `json:"data,omitempty"`
}

type alertData struct {
	Username    string   `json:"username,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	ProviderID  string   `json:"providerId,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
	Quantity    *float64 `json:"quantity,omitempty"`
	Message     string   `json:"message,omitempty"`
	Redemption  string   `json:"redemption,omitempty"`
	Sender      string   `json:"sender,omitempty"`

	Gifted          bool `json:"gifted,omitempty"`
	BulkGifted      bool `json:"bulkGifted,omitempty"`
	IsCommunityGift bool `json:"isCommunityGift,omitempty"`
}

func (p *alertPayload) amount() *float64 {
	if p.Amount != nil {
		return p.Amount
	}
	if p.Data != nil {
		if p.Data.Amount != nil {
			return p.Data.Amount
		}
		if p.Data.Quantity != nil {
			return p.Data.Quantity
		}
	}
	if p.Count != nil {
		return p.Count
	}
	return nil
}

func (p *alertPayload) user() string {
	for _, s := range []string{p.Name, p.Username, p.DisplayName} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	if p.Data != nil {
		for _, s := range []string{p.Data.Username, p.Data.DisplayName} {
			if strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func (p *alertPayload) display() string {
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	if p.Data != nil && strings.TrimSpace(p.Data.DisplayName) != "" {
		return p.Data.DisplayName
	}
	return p.user()
}

func (p *alertPayload) providerID() string {
	if p.Data != nil {
		return p.Data.ProviderID
	}
	return ""
}

func (p *alertPayload) text() string {
	if strings.TrimSpace(p.Message) != "" {
		return p.Message
	}
	if p.Data != nil {
		return p.Data.Message
	}
	return ""
}

func (p *alertPayload) sender() string {
	if strings.TrimSpace(p.Sender) != "" {
		return p.Sender
	}
	if p.Data != nil {
		return p.Data.Sender
	}
	return ""
}

func (p *alertPayload) gifted() bool {
	if p.Gifted {
		return true
	}
	return p.Data != nil && p.Data.Gifted
}

func (p *alertPayload) communityGift() bool {
	if p.BulkGifted || p.IsCommunityGift {
		return true
	}
	return p.Data != nil && (p.Data.BulkGifted || p.Data.IsCommunityGift)
}

func (p *alertPayload) redemption() string {
	if p.Data != nil {
		return p.Data.Redemption
	}
	return ""
}

func (p *alertPayload) activityID() string {
	if strings.TrimSpace(p.ActivityID) != "" {
		return p.ActivityID
	}
	return p.ID
}

// chatPayload is the shape of "message" listener payloads.
type chatPayload struct {
	Service      string   `json:"service,omitempty"`
	RenderedText string   `json:"renderedText,omitempty"`
	Data         chatData `json:"data"`
}

type chatData struct {
	Nick        string `json:"nick,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	UserID      string `json:"userId,omitempty"`
	MsgID       string `json:"msgId,omitempty"`
	Text        string `json:"text,omitempty"`
	IsAction    bool   `json:"isAction,omitempty"`

	// Twitch family.
	Badges []chatBadge       `json:"badges,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`

	// YouTube family.
	AuthorDetails *authorDetails `json:"authorDetails,omitempty"`
	Snippet       *chatSnippet   `json:"snippet,omitempty"`
}

type chatBadge struct {
	Type    string `json:"type,omitempty"`
	Version string `json:"version,omitempty"`
}

type authorDetails struct {
	DisplayName     string `json:"displayName,omitempty"`
	ChannelID       string `json:"channelId,omitempty"`
	IsChatOwner     bool   `json:"isChatOwner,omitempty"`
	IsChatModerator bool   `json:"isChatModerator,omitempty"`
	IsChatSponsor   bool   `json:"isChatSponsor,omitempty"`
}

type chatSnippet struct {
	DisplayMessage string `json:"displayMessage,omitempty"`
}

func (d *chatData) message() string {
	if strings.TrimSpace(d.Text) != "" {
		return d.Text
	}
	if d.Snippet != nil {
		return d.Snippet.DisplayMessage
	}
	return ""
}

// deletePayload covers delete-message (by message id) and delete-messages
// (all messages of one user).
type deletePayload struct {
	MsgID  string `json:"msgId,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// buttonPayload is a UI control press forwarded by the widget host.
type buttonPayload struct {
	Field    string `json:"field,omitempty"`
	Value    string `json:"value,omitempty"`
	Listener string `json:"listener,omitempty"`
}
