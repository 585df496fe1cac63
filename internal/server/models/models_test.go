package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_Flags(t *testing.T) {
	now := time.Now()
	empty := ""
	hash := "$argon2id$..."
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	assert.False(t, (&User{}).HasPassword())
	assert.False(t, (&User{PasswordHash: &empty}).HasPassword())
	assert.True(t, (&User{PasswordHash: &hash}).HasPassword())

	assert.True(t, (&User{IsActive: true}).CanSignIn())
	assert.False(t, (&User{IsActive: true, IsDeleted: true}).CanSignIn())
	assert.False(t, (&User{}).CanSignIn())

	assert.True(t, (&User{LockoutEnd: &future}).IsLockedOut(now))
	assert.False(t, (&User{LockoutEnd: &past}).IsLockedOut(now))
	assert.False(t, (&User{}).IsLockedOut(now))
}

func TestRefreshToken_Activity(t *testing.T) {
	now := time.Now()

	active := &RefreshToken{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, active.IsActive(now))

	expired := &RefreshToken{ExpiresAt: now}
	assert.True(t, expired.IsExpired(now))
	assert.False(t, expired.IsActive(now))

	revoked := &RefreshToken{ExpiresAt: now.Add(time.Hour), IsRevoked: true}
	assert.False(t, revoked.IsActive(now))
}
