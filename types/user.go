package types

import "time"

// User represents an account in the system.
// It contains identity, profile media, and session metadata.
type User struct {
	// ID is the durable identifier of the user. Postgres stores a UUID,
	// MongoDB an ObjectID in hex form.
	ID string `json:"_id" db:"id"`

	// Username is the unique login name, always stored lowercase.
	Username string `json:"username" db:"username"`

	// Email is the unique email address, always stored lowercase.
	Email string `json:"email" db:"email"`

	// FullName is the user's display name.
	FullName string `json:"fullName" db:"full_name"`

	// Avatar is the public URL of the avatar image. Never empty once the
	// record exists.
	Avatar string `json:"avatar" db:"avatar"`

	// CoverImage is the public URL of the optional cover image.
	CoverImage string `json:"coverImage" db:"cover_image"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// RefreshToken is the single refresh token currently valid for the user,
	// empty when the user has no session. Never exposed in API responses.
	RefreshToken string `json:"-" db:"refresh_token"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Public returns a copy of the user with credential fields cleared.
func (u User) Public() User {
	u.PasswordHash = ""
	u.RefreshToken = ""
	return u
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
