// Package common defines shared constants and sentinel errors used across
// the authentication and account engines. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Credential errors. Callers must not be able to tell them apart from
	// ErrNotFound at the public boundary.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidCode        = errors.New("invalid two-factor verification code")
	ErrLocked             = errors.New("user is locked out")
	ErrUnauthenticated    = errors.New("unauthenticated")

	// Token lifecycle errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrTokenExpired        = errors.New("token expired")
	ErrReuseDetected       = errors.New("refresh token reuse detected, all sessions revoked")

	// Account errors.
	ErrTwoFactorNotEnabled    = errors.New("two-factor authentication is not enabled")
	ErrTwoFactorNotConfigured = errors.New("authenticator is not configured")
	ErrPasswordAlreadySet     = errors.New("password already set, use change password flow")
	ErrValidation             = errors.New("validation error")

	// ErrUnexpected hides storage, signing and configuration failures.
	ErrUnexpected = errors.New("unexpected error")
)
