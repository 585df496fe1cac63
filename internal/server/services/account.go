package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/security"
	"github.com/go-playground/validator/v10"
)

const (
	EmailConfirmationTTL = 24 * time.Hour
	PasswordResetTTL     = time.Hour
)

type RegisterInput struct {
	Email           string `validate:"required,email,max=256"`
	UserName        string `validate:"required,min=3,max=64,printascii,excludesall=@"`
	CallbackBaseURL string `validate:"required,url"`
}

type ProfileInput struct {
	FirstName             *string    `validate:"omitempty,max=100"`
	LastName              *string    `validate:"omitempty,max=100"`
	DateOfBirth           *time.Time `validate:"omitempty"`
	PhoneNumber           *string    `validate:"omitempty,e164"`
	MarkAccountConfigured bool
}

type passwordInput struct {
	Password string `validate:"required,strongpassword"`
}

type callbackInput struct {
	CallbackBaseURL string `validate:"required,url"`
}

// Account is the caller's own view of their user record.
type Account struct {
	UserID              string
	UserName            string
	Email               string
	FirstName           *string
	LastName            *string
	DateOfBirth         *time.Time
	PhoneNumber         *string
	EmailConfirmed      bool
	PasswordCreated     bool
	TwoFactorEnabled    bool
	IsAccountConfigured bool
	Roles               []string
}

type AuthenticatorSetup struct {
	Key          string
	ProvisionURI string
}

type AccountService struct {
	Deps
	validate *validator.Validate
}

func NewAccountService(d Deps) *AccountService {
	d.normalize()
	return &AccountService{Deps: d, validate: newValidator()}
}

func (s *AccountService) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

// Register creates an active, unconfirmed user without a password and mails
// the confirmation link. The user ID is returned even if the email could not
// be sent, so the caller can offer a resend.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (string, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.UserName = strings.TrimSpace(in.UserName)
	if err := s.check(in); err != nil {
		return "", err
	}

	users := s.Repos.Users(s.DB.Conn())
	if _, err := users.GetByEmail(ctx, in.Email); err == nil {
		s.Logger.Warn(ctx, "registration with existing email")
		return "", fmt.Errorf("%w: email is already registered", common.ErrAlreadyExists)
	} else if !errors.Is(err, common.ErrNotFound) {
		return "", fail(ctx, s.Logger, "register", err)
	}

	user, err := users.Create(ctx, &models.User{
		UserName:  in.UserName,
		Email:     in.Email,
		IsActive:  true,
		CreatedAt: s.Now(),
	})
	if err != nil {
		return "", fail(ctx, s.Logger, "register", err)
	}
	s.Logger.Info(ctx, "user registered", "user_id", user.ID)

	if err := s.sendConfirmation(ctx, user, in.CallbackBaseURL); err != nil {
		return user.ID, fail(ctx, s.Logger, "send confirmation email", err, "user_id", user.ID)
	}
	return user.ID, nil
}

// SendEmailConfirmation mails a fresh confirmation link to the user. It is
// a no-op for confirmed addresses.
func (s *AccountService) SendEmailConfirmation(ctx context.Context, userID, callbackBaseURL string) error {
	if err := s.check(callbackInput{CallbackBaseURL: callbackBaseURL}); err != nil {
		return err
	}

	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return fail(ctx, s.Logger, "send confirmation email", err, "user_id", userID)
	}
	if user.EmailConfirmed {
		return nil
	}
	if err := s.sendConfirmation(ctx, user, callbackBaseURL); err != nil {
		return fail(ctx, s.Logger, "send confirmation email", err, "user_id", userID)
	}
	return nil
}

// ResendConfirmationEmail behaves identically for unknown, confirmed and
// unconfirmed addresses from the caller's point of view.
func (s *AccountService) ResendConfirmationEmail(ctx context.Context, email, callbackBaseURL string) error {
	if err := s.check(callbackInput{CallbackBaseURL: callbackBaseURL}); err != nil {
		return err
	}

	user, err := s.Repos.Users(s.DB.Conn()).GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return fail(ctx, s.Logger, "resend confirmation email", err)
	}
	if user.EmailConfirmed || !user.CanSignIn() {
		return nil
	}
	if err := s.sendConfirmation(ctx, user, callbackBaseURL); err != nil {
		return fail(ctx, s.Logger, "resend confirmation email", err, "user_id", user.ID)
	}
	return nil
}

func (s *AccountService) sendConfirmation(ctx context.Context, user *models.User, base string) error {
	token, err := s.Codec.MintPurposeToken(user.ID, auth.PurposeEmailConfirmation, user.Email, EmailConfirmationTTL)
	if err != nil {
		return err
	}

	link, err := callbackURL(base, "account/confirm-email", user.ID, token)
	if err != nil {
		return err
	}

	err = s.Mailer.Send(ctx, mailer.Message{
		To:      user.Email,
		Subject: "Confirm your email",
		HTML:    fmt.Sprintf(`Please confirm your account by <a href="%s">clicking here</a>.`, link),
	})
	if err != nil {
		return err
	}
	s.Logger.Info(ctx, "email confirmation sent", "user_id", user.ID)
	return nil
}

func (s *AccountService) ConfirmEmail(ctx context.Context, userID, token string) error {
	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return fail(ctx, s.Logger, "confirm email", err, "user_id", userID)
	}

	subject, err := s.Codec.VerifyPurposeToken(token, auth.PurposeEmailConfirmation, user.Email)
	if err != nil {
		s.Logger.Warn(ctx, "email confirmation token rejected", "user_id", userID, "error", err)
		return err
	}
	if subject != user.ID {
		return common.ErrInvalidToken
	}
	if user.EmailConfirmed {
		return nil
	}

	if err := s.Repos.Users(s.DB.Conn()).ConfirmEmail(ctx, user.ID, s.Now()); err != nil {
		return fail(ctx, s.Logger, "confirm email", err, "user_id", userID)
	}
	s.Logger.Info(ctx, "email confirmed", "user_id", userID)
	return nil
}

// SetPasswordFirstTime attaches the first password of an account. Existing
// passwords are changed through ChangePassword or ResetPassword instead.
func (s *AccountService) SetPasswordFirstTime(ctx context.Context, userID, password string) error {
	if err := s.check(passwordInput{Password: password}); err != nil {
		return err
	}

	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return fail(ctx, s.Logger, "set password", err, "user_id", userID)
	}
	if user.HasPassword() {
		return common.ErrPasswordAlreadySet
	}

	hash, err := s.Identity.HashPassword(password)
	if err != nil {
		return fail(ctx, s.Logger, "hash password", err, "user_id", userID)
	}
	if err := s.Repos.Users(s.DB.Conn()).SetPasswordHash(ctx, user.ID, hash, s.Now()); err != nil {
		return fail(ctx, s.Logger, "set password", err, "user_id", userID)
	}
	s.Logger.Info(ctx, "password created", "user_id", userID)
	return nil
}

// ChangePassword replaces the password after checking the current one and
// signs the user out everywhere.
func (s *AccountService) ChangePassword(ctx context.Context, userID, current, next string) error {
	if err := s.check(passwordInput{Password: next}); err != nil {
		return err
	}

	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return fail(ctx, s.Logger, "change password", err, "user_id", userID)
	}

	ok, err := s.Identity.CheckPassword(ctx, user, current)
	if err != nil {
		return fail(ctx, s.Logger, "change password", err, "user_id", userID)
	}
	if !ok {
		return common.ErrInvalidCredentials
	}

	if err := s.replacePassword(ctx, user, next, false); err != nil {
		return fail(ctx, s.Logger, "change password", err, "user_id", userID)
	}
	s.Logger.Info(ctx, "password changed", "user_id", userID)
	return nil
}

// ForgotPassword mails a reset link. Unknown addresses get the same silent
// success as known ones.
func (s *AccountService) ForgotPassword(ctx context.Context, email, callbackBaseURL string) error {
	if err := s.check(callbackInput{CallbackBaseURL: callbackBaseURL}); err != nil {
		return err
	}

	user, err := s.Repos.Users(s.DB.Conn()).GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return fail(ctx, s.Logger, "forgot password", err)
	}
	if !user.CanSignIn() {
		return nil
	}

	token, err := s.Codec.MintPurposeToken(user.ID, auth.PurposePasswordReset, passwordStamp(user), PasswordResetTTL)
	if err != nil {
		return fail(ctx, s.Logger, "forgot password", err, "user_id", user.ID)
	}
	link, err := callbackURL(callbackBaseURL, "account/reset-password", user.ID, token)
	if err != nil {
		return fail(ctx, s.Logger, "forgot password", err, "user_id", user.ID)
	}

	err = s.Mailer.Send(ctx, mailer.Message{
		To:      user.Email,
		Subject: "Reset password",
		HTML:    fmt.Sprintf(`Please reset your password by <a href="%s">clicking here</a>.`, link),
	})
	if err != nil {
		return fail(ctx, s.Logger, "send reset email", err, "user_id", user.ID)
	}
	s.Logger.Info(ctx, "password reset email sent", "user_id", user.ID)
	return nil
}

// ResetPassword sets a new password from an emailed reset token, clears any
// lockout and revokes all sessions. The token dies with the old password.
func (s *AccountService) ResetPassword(ctx context.Context, userID, token, next string) error {
	if err := s.check(passwordInput{Password: next}); err != nil {
		return err
	}

	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return fail(ctx, s.Logger, "reset password", err, "user_id", userID)
	}

	subject, err := s.Codec.VerifyPurposeToken(token, auth.PurposePasswordReset, passwordStamp(user))
	if err != nil {
		s.Logger.Warn(ctx, "password reset token rejected", "user_id", userID, "error", err)
		return err
	}
	if subject != user.ID {
		return common.ErrInvalidToken
	}

	if err := s.replacePassword(ctx, user, next, true); err != nil {
		return fail(ctx, s.Logger, "reset password", err, "user_id", userID)
	}
	s.Logger.Info(ctx, "password reset", "user_id", userID)
	return nil
}

func (s *AccountService) replacePassword(ctx context.Context, user *models.User, password string, unlock bool) error {
	hash, err := s.Identity.HashPassword(password)
	if err != nil {
		return err
	}

	now := s.Now()
	return s.DB.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.Repos.Users(tx)
		if err := users.SetPasswordHash(ctx, user.ID, hash, now); err != nil {
			return err
		}
		if unlock {
			if err := users.SetLockout(ctx, user.ID, nil); err != nil {
				return err
			}
		}
		_, err := s.Repos.RefreshTokens(tx).RevokeAllForUser(ctx, user.ID, now)
		return err
	})
}

func (s *AccountService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*Account, error) {
	in.FirstName = trimmed(in.FirstName)
	in.LastName = trimmed(in.LastName)
	in.PhoneNumber = trimmed(in.PhoneNumber)
	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.DateOfBirth != nil && in.DateOfBirth.After(s.Now()) {
		return nil, fmt.Errorf("%w: DateOfBirth must be in the past", common.ErrValidation)
	}

	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return nil, fail(ctx, s.Logger, "update profile", err, "user_id", userID)
	}

	// once configured, an account stays configured
	err = s.Repos.Users(s.DB.Conn()).UpdateProfile(ctx, user.ID, models.Profile{
		FirstName:           in.FirstName,
		LastName:            in.LastName,
		DateOfBirth:         in.DateOfBirth,
		PhoneNumber:         in.PhoneNumber,
		IsAccountConfigured: user.IsAccountConfigured || in.MarkAccountConfigured,
	}, s.Now())
	if err != nil {
		return nil, fail(ctx, s.Logger, "update profile", err, "user_id", userID)
	}
	return s.GetAccount(ctx, userID)
}

func (s *AccountService) GetAccount(ctx context.Context, userID string) (*Account, error) {
	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return nil, fail(ctx, s.Logger, "get account", err, "user_id", userID)
	}

	return &Account{
		UserID:              user.ID,
		UserName:            user.UserName,
		Email:               user.Email,
		FirstName:           user.FirstName,
		LastName:            user.LastName,
		DateOfBirth:         user.DateOfBirth,
		PhoneNumber:         user.PhoneNumber,
		EmailConfirmed:      user.EmailConfirmed,
		PasswordCreated:     user.HasPassword(),
		TwoFactorEnabled:    user.TwoFactorEnabled,
		IsAccountConfigured: user.IsAccountConfigured,
		Roles:               user.Roles,
	}, nil
}

// GenerateAuthenticatorSetup creates a new TOTP secret and stores it sealed,
// replacing any earlier pending setup. Two-factor stays off until
// EnableAuthenticator confirms a code.
func (s *AccountService) GenerateAuthenticatorSetup(ctx context.Context, userID string) (*AuthenticatorSetup, error) {
	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return nil, fail(ctx, s.Logger, "generate authenticator setup", err, "user_id", userID)
	}

	secret, err := s.TOTP.GenerateSecret()
	if err != nil {
		return nil, fail(ctx, s.Logger, "generate totp secret", err, "user_id", userID)
	}

	account := user.Email
	if account == "" {
		account = user.UserName
	}
	uri := s.TOTP.ProvisionURI(secret, account)

	sealed, err := s.Sealer.Seal(secret)
	if err != nil {
		return nil, fail(ctx, s.Logger, "seal totp secret", err, "user_id", userID)
	}
	if err := s.Repos.Users(s.DB.Conn()).SaveAuthenticatorSetup(ctx, user.ID, sealed, uri, s.Now()); err != nil {
		return nil, fail(ctx, s.Logger, "save authenticator setup", err, "user_id", userID)
	}

	return &AuthenticatorSetup{Key: secret, ProvisionURI: uri}, nil
}

// EnableAuthenticator turns two-factor on once the user proves possession of
// the pending secret. The returned recovery codes are never shown again.
func (s *AccountService) EnableAuthenticator(ctx context.Context, userID, code string) ([]string, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: code is required", common.ErrValidation)
	}

	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return nil, fail(ctx, s.Logger, "enable authenticator", err, "user_id", userID)
	}
	if user.AuthenticatorKey == nil {
		return nil, common.ErrTwoFactorNotConfigured
	}

	secret, err := s.Sealer.Open(*user.AuthenticatorKey)
	if err != nil {
		return nil, fail(ctx, s.Logger, "open authenticator key", err, "user_id", userID)
	}

	now := s.Now()
	ok, counter, err := s.TOTP.VerifyCode(secret, code, now)
	if err != nil {
		return nil, fail(ctx, s.Logger, "verify totp", err, "user_id", userID)
	}
	if !ok {
		return nil, common.ErrInvalidCode
	}

	fresh, err := s.Guard.Claim(ctx, user.ID, counter, s.replayTTL())
	if err != nil {
		return nil, fail(ctx, s.Logger, "claim totp counter", err, "user_id", userID)
	}
	if !fresh {
		return nil, common.ErrInvalidCode
	}

	codes, stored, err := security.GenerateRecoveryCodes(s.RecoveryCodeCount)
	if err != nil {
		return nil, fail(ctx, s.Logger, "generate recovery codes", err, "user_id", userID)
	}
	// applies only to the key the code was checked against, and burns the
	// step so the same code cannot also complete a login
	err = s.Repos.Users(s.DB.Conn()).EnableTwoFactor(ctx, user.ID, *user.AuthenticatorKey, counter, stored, now)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrInvalidCode
	}
	if err != nil {
		return nil, fail(ctx, s.Logger, "enable two-factor", err, "user_id", userID)
	}

	s.Logger.Info(ctx, "two-factor enabled", "user_id", userID)
	return codes, nil
}

// DisableAuthenticator clears every two-factor field. Calling it on a user
// without two-factor succeeds.
func (s *AccountService) DisableAuthenticator(ctx context.Context, userID string) error {
	if err := s.Repos.Users(s.DB.Conn()).DisableTwoFactor(ctx, userID, s.Now()); err != nil {
		return fail(ctx, s.Logger, "disable authenticator", err, "user_id", userID)
	}
	s.Logger.Info(ctx, "two-factor disabled", "user_id", userID)
	return nil
}

// RegenerateRecoveryCodes replaces all recovery codes of a two-factor user.
func (s *AccountService) RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return nil, fail(ctx, s.Logger, "regenerate recovery codes", err, "user_id", userID)
	}
	if !user.TwoFactorEnabled {
		return nil, common.ErrTwoFactorNotEnabled
	}

	codes, stored, err := security.GenerateRecoveryCodes(s.RecoveryCodeCount)
	if err != nil {
		return nil, fail(ctx, s.Logger, "generate recovery codes", err, "user_id", userID)
	}

	old := ""
	if user.RecoveryCodes != nil {
		old = *user.RecoveryCodes
	}
	err = s.Repos.Users(s.DB.Conn()).ReplaceRecoveryCodes(ctx, user.ID, old, stored, s.Now())
	if err != nil {
		return nil, fail(ctx, s.Logger, "store recovery codes", err, "user_id", userID)
	}
	return codes, nil
}

// passwordStamp binds reset tokens to the current password hash.
func passwordStamp(u *models.User) string {
	if u.PasswordHash == nil {
		return "no-password"
	}
	return *u.PasswordHash
}

func callbackURL(base, path, userID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + path)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
