package types

import "time"

// AccountEventType names a change to a user account.
type AccountEventType string

const (
	EventUserRegistered        AccountEventType = "user.registered"
	EventUserLoggedIn          AccountEventType = "user.logged_in"
	EventUserLoggedOut         AccountEventType = "user.logged_out"
	EventUserPasswordChanged   AccountEventType = "user.password_changed"
	EventUserAccountUpdated    AccountEventType = "user.account_updated"
	EventUserAvatarUpdated     AccountEventType = "user.avatar_updated"
	EventUserCoverImageUpdated AccountEventType = "user.cover_image_updated"
)

// AccountEvent is published to the message broker after an account change
// has been persisted.
type AccountEvent struct {
	Type       AccountEventType  `json:"type"`
	UserID     string            `json:"userId"`
	Username   string            `json:"username"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
