package models

import "time"

// RefreshToken is one step of a session's rotation lineage. Rows are never
// deleted; once revoked they are never reactivated.
type RefreshToken struct {
	ID        int64
	UserID    string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsRevoked bool
	RevokedAt *time.Time
}

// IsExpired reports whether the token is past its absolute expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// IsActive reports whether the token may still be presented.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked && !t.IsExpired(now)
}
