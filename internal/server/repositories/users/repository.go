// Package users declares the persistence contract for user identity records
// and provides its PostgreSQL implementation.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository stores users. Lookups return common.ErrNotFound for absent
// rows; updates return it when no row matched the ID.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	SetPasswordHash(ctx context.Context, id string, hash string, at time.Time) error
	ConfirmEmail(ctx context.Context, id string, at time.Time) error
	UpdateProfile(ctx context.Context, id string, p models.Profile, at time.Time) error

	// IncrementAccessFailed bumps the failed-access counter and returns the
	// new value.
	IncrementAccessFailed(ctx context.Context, id string) (int, error)
	// SetLockout sets lockout_end (nil clears it) and zeroes the counter.
	SetLockout(ctx context.Context, id string, until *time.Time) error
	ResetAccessFailed(ctx context.Context, id string) error

	// SaveAuthenticatorSetup stores a pending secret without enabling 2FA.
	SaveAuthenticatorSetup(ctx context.Context, id string, sealedKey string, uri string, at time.Time) error
	// EnableTwoFactor turns 2FA on and records step as the last accepted
	// TOTP step. It applies only while the stored key still equals sealedKey
	// and step is newer than the last accepted one; otherwise it returns
	// common.ErrNotFound.
	EnableTwoFactor(ctx context.Context, id string, sealedKey string, step int64, recoveryCodes string, at time.Time) error
	// ClaimTOTPStep advances the last accepted TOTP step to step. It reports
	// false when step is not newer, meaning the code was already used.
	ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error)
	DisableTwoFactor(ctx context.Context, id string, at time.Time) error
	// ReplaceRecoveryCodes swaps the stored recovery code digests only if
	// they still equal expected (NULL matches ""); otherwise it returns
	// common.ErrNotFound.
	ReplaceRecoveryCodes(ctx context.Context, id string, expected string, next string, at time.Time) error
}
