package domain

import "slices"

// User is a subscriber. Channels lists the personal channels the user wants
// notifications on; the broadcast account subscribes to ChannelSocial.
type User struct {
	ID             string        `json:"id"`
	Email          string        `json:"email,omitempty"`
	Phone          string        `json:"phone,omitempty"`
	TelegramChatID int64         `json:"telegram_chat_id,omitempty"`
	Tier           Tier          `json:"tier"`
	Channels       []ChannelKind `json:"channels"`
}

// Subscribes reports whether the user receives notifications on ch.
func (u *User) Subscribes(ch ChannelKind) bool {
	return slices.Contains(u.Channels, ch)
}

// Stats is the aggregate snapshot served to operators.
type Stats struct {
	Jobs         JobStats `json:"jobs"`
	ActiveItems  int      `json:"active_items"`
	Destinations int      `json:"destinations"`
	Disabled     int      `json:"disabled_destinations"`
}
