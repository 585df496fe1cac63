// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is the identity record owned by the credential store. Users are
// never physically deleted; IsDeleted marks a soft delete.
type User struct {
	ID       string
	UserName string
	Email    string

	EmailConfirmed  bool
	EmailVerifiedAt *time.Time

	// PasswordHash is an argon2id PHC string; nil until the first-time set.
	PasswordHash *string

	IsActive  bool
	IsDeleted bool
	DeletedAt *time.Time

	TwoFactorEnabled bool
	// AuthenticatorKey is the sealed TOTP secret.
	AuthenticatorKey *string
	AuthenticatorURI *string
	// AuthenticatorLastStep is the newest TOTP time step accepted for this
	// user. Codes at or below it are replays.
	AuthenticatorLastStep int64
	// RecoveryCodes is a JSON array of hex SHA-256 digests.
	RecoveryCodes      *string
	TwoFactorEnabledAt *time.Time

	LockoutEnd        *time.Time
	AccessFailedCount int

	FirstName           *string
	LastName            *string
	DateOfBirth         *time.Time
	PhoneNumber         *string
	IsAccountConfigured bool

	Roles []string

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// HasPassword reports whether a password has been attached.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// CanSignIn reports whether the account is allowed to authenticate at all.
func (u *User) CanSignIn() bool {
	return u.IsActive && !u.IsDeleted
}

// IsLockedOut reports whether a lockout is still in force at now.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// Profile holds the user-editable profile fields.
type Profile struct {
	FirstName           *string
	LastName            *string
	DateOfBirth         *time.Time
	PhoneNumber         *string
	IsAccountConfigured bool
}
