package types

import "time"

// PlaceholderAvatarURL is assigned to every account until an image is uploaded.
const PlaceholderAvatarURL = "https://cdn.pixabay.com/photo/2015/10/05/22/37/blank-profile-picture-973460_640.png"

// User represents a learner account.
// It carries identity, credentials, avatar reference, and password-reset state.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display name.
	Name string `json:"name" db:"name"`

	// Email is the normalized login address. It is unique across all users
	// and never changes after signup.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt digest of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Avatar references the user's profile picture in the asset store.
	Avatar Avatar `json:"avatar"`

	// ResetTokenHash is the SHA-256 digest of an outstanding reset token.
	// It is nil whenever ResetTokenExpiry is nil.
	ResetTokenHash *string `json:"-" db:"reset_token_hash"`

	// ResetTokenExpiry is the instant after which the reset token is rejected.
	ResetTokenExpiry *time.Time `json:"-" db:"reset_token_expiry"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent change to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Avatar is the pair needed to serve and later release a profile picture.
type Avatar struct {
	// AssetID is the asset store handle used for deletion and replacement.
	AssetID string `json:"public_id" db:"avatar_asset_id"`

	// URL is the publicly servable address of the image.
	URL string `json:"secure_url" db:"avatar_url"`
}

// ProfileUpdate lists the profile columns to change. Nil fields are left as stored.
type ProfileUpdate struct {
	Name   *string
	Avatar *Avatar
}

// PlaceholderAvatar returns the default avatar for a new account.
// The asset id is the email, which never names a stored object.
func PlaceholderAvatar(email string) Avatar {
	return Avatar{AssetID: email, URL: PlaceholderAvatarURL}
}

// SetResetToken records an outstanding reset token.
func (u *User) SetResetToken(hash string, expiry time.Time) {
	u.ResetTokenHash = &hash
	u.ResetTokenExpiry = &expiry
}

// ClearResetToken drops any outstanding reset token.
func (u *User) ClearResetToken() {
	u.ResetTokenHash = nil
	u.ResetTokenExpiry = nil
}
