package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/replay"
	"github.com/dmitrijs2005/authkeeper/internal/server/security"
)

// Session is the outcome of a successful sign-in step. When
// RequiresTwoFactor is set the token fields are empty.
type Session struct {
	UserID                string
	AccessToken           string
	ExpiresIn             int64
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	RequiresTwoFactor     bool
	Persistent            bool
	RememberMachine       bool
}

// AccountState is what a sign-in screen needs before asking for a password.
// For unknown identifiers every field is zero.
type AccountState struct {
	UserID            string
	EmailConfirmed    bool
	PasswordCreated   bool
	RequiresTwoFactor bool
}

var errLostRotation = errors.New("refresh token rotated concurrently")

type AuthService struct {
	Deps
}

func NewAuthService(d Deps) *AuthService {
	d.normalize()
	return &AuthService{Deps: d}
}

func (s *AuthService) CheckAccountState(ctx context.Context, identifier string) (*AccountState, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", common.ErrValidation)
	}

	user, err := s.Identity.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return &AccountState{}, nil
		}
		return nil, fail(ctx, s.Logger, "check account state", err)
	}

	return &AccountState{
		UserID:            user.ID,
		EmailConfirmed:    user.EmailConfirmed,
		PasswordCreated:   user.HasPassword(),
		RequiresTwoFactor: user.TwoFactorEnabled,
	}, nil
}

func (s *AuthService) Login(ctx context.Context, identifier, password string, rememberMe bool) (*Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, fmt.Errorf("%w: identifier and password are required", common.ErrValidation)
	}

	user, err := s.Identity.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			_, _ = s.Identity.CheckPassword(ctx, nil, password)
			s.Logger.Info(ctx, "login for unknown identifier")
			return nil, common.ErrInvalidCredentials
		}
		return nil, fail(ctx, s.Logger, "login", err)
	}

	log := s.Logger.With("user_id", user.ID)
	switch {
	case user.IsDeleted:
		log.Warn(ctx, "login for deleted user")
		return nil, common.ErrInvalidCredentials
	case !user.IsActive:
		log.Warn(ctx, "login for inactive user")
		return nil, common.ErrInvalidCredentials
	}

	now := s.Now()
	if s.Identity.IsLockedOut(user, now) {
		log.Info(ctx, "login while locked out")
		return nil, common.ErrLocked
	}

	ok, err := s.Identity.CheckPassword(ctx, user, password)
	if err != nil {
		return nil, fail(ctx, log, "login", err)
	}
	if !ok {
		locked, err := s.Identity.RecordFailedAccess(ctx, user, now)
		if err != nil {
			return nil, fail(ctx, log, "record failed access", err)
		}
		if locked {
			log.Warn(ctx, "user locked out", "until", user.LockoutEnd)
			return nil, common.ErrLocked
		}
		return nil, common.ErrInvalidCredentials
	}

	if err := s.Identity.ResetFailedAccess(ctx, user); err != nil {
		return nil, fail(ctx, log, "reset failed access", err)
	}

	if user.TwoFactorEnabled {
		return &Session{UserID: user.ID, RequiresTwoFactor: true, Persistent: rememberMe}, nil
	}

	sess, err := s.issueSession(ctx, user, nil)
	if err != nil {
		return nil, fail(ctx, log, "issue session", err)
	}
	sess.Persistent = rememberMe
	log.Info(ctx, "user logged in")
	return sess, nil
}

// loadTwoFactorUser runs the checks shared by both second-factor paths.
func (s *AuthService) loadTwoFactorUser(ctx context.Context, userID, code string) (*models.User, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: user id and code are required", common.ErrValidation)
	}

	user, err := s.Identity.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.CanSignIn() {
		return nil, common.ErrInvalidCredentials
	}
	if s.Identity.IsLockedOut(user, s.Now()) {
		return nil, common.ErrLocked
	}
	if !user.TwoFactorEnabled {
		return nil, common.ErrTwoFactorNotEnabled
	}

	if err := s.Limiter.Check(ctx, userID); err != nil {
		if errors.Is(err, replay.ErrRateLimited) {
			return nil, common.ErrLocked
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) VerifyTwoFactor(ctx context.Context, userID, code string, rememberMachine bool) (*Session, error) {
	user, err := s.loadTwoFactorUser(ctx, userID, code)
	if err != nil {
		return nil, fail(ctx, s.Logger, "verify two-factor", err, "user_id", userID)
	}
	log := s.Logger.With("user_id", user.ID)

	if user.AuthenticatorKey == nil {
		return nil, common.ErrTwoFactorNotConfigured
	}
	secret, err := s.Sealer.Open(*user.AuthenticatorKey)
	if err != nil {
		return nil, fail(ctx, log, "open authenticator key", err)
	}

	ok, counter, err := s.TOTP.VerifyCode(secret, code, s.Now())
	if err != nil {
		return nil, fail(ctx, log, "verify totp", err)
	}
	if !ok {
		s.recordTwoFactorFailure(ctx, user.ID)
		return nil, common.ErrInvalidCode
	}

	fresh, err := s.Guard.Claim(ctx, user.ID, counter, s.replayTTL())
	if err != nil {
		return nil, fail(ctx, log, "claim totp counter", err)
	}
	if !fresh {
		log.Warn(ctx, "totp code replayed", "counter", counter)
		return nil, common.ErrInvalidCode
	}

	// the step is also recorded on the user row, so a replay is caught
	// without Redis and a session is only issued by the claim that wins
	sess, err := s.issueSession(ctx, user, func(ctx context.Context, tx dbx.DBTX) error {
		won, err := s.Repos.Users(tx).ClaimTOTPStep(ctx, user.ID, counter)
		if err != nil {
			return err
		}
		if !won {
			log.Warn(ctx, "totp code replayed", "counter", counter)
			return common.ErrInvalidCode
		}
		return nil
	})
	if err != nil {
		return nil, fail(ctx, log, "issue session", err)
	}
	if err := s.Limiter.Reset(ctx, user.ID); err != nil {
		log.Warn(ctx, "reset two-factor limiter", "error", err)
	}
	sess.RememberMachine = rememberMachine
	log.Info(ctx, "two-factor verified")
	return sess, nil
}

// VerifyRecoveryCode completes a pending two-factor sign-in with one of the
// user's recovery codes. Each code works once.
func (s *AuthService) VerifyRecoveryCode(ctx context.Context, userID, code string, rememberMachine bool) (*Session, error) {
	user, err := s.loadTwoFactorUser(ctx, userID, code)
	if err != nil {
		return nil, fail(ctx, s.Logger, "verify recovery code", err, "user_id", userID)
	}
	log := s.Logger.With("user_id", user.ID)

	if user.RecoveryCodes == nil {
		s.recordTwoFactorFailure(ctx, user.ID)
		return nil, common.ErrInvalidCode
	}
	stored := *user.RecoveryCodes

	ok, rest, err := security.RedeemRecoveryCode(stored, code)
	if err != nil {
		return nil, fail(ctx, log, "redeem recovery code", err)
	}
	if !ok {
		s.recordTwoFactorFailure(ctx, user.ID)
		return nil, common.ErrInvalidCode
	}

	now := s.Now()
	sess, err := s.issueSession(ctx, user, func(ctx context.Context, tx dbx.DBTX) error {
		err := s.Repos.Users(tx).ReplaceRecoveryCodes(ctx, user.ID, stored, rest, now)
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrInvalidCode
		}
		return err
	})
	if err != nil {
		return nil, fail(ctx, log, "issue session", err)
	}
	sess.RememberMachine = rememberMachine
	log.Info(ctx, "recovery code redeemed")
	return sess, nil
}

func (s *AuthService) recordTwoFactorFailure(ctx context.Context, userID string) {
	if err := s.Limiter.RecordFailure(ctx, userID); err != nil {
		s.Logger.Warn(ctx, "record two-factor failure", "user_id", userID, "error", err)
	}
}

// RefreshToken rotates the presented refresh token. Presenting a token that
// was already rotated, or losing a concurrent rotation, counts as reuse and
// revokes every session of the user.
func (s *AuthService) RefreshToken(ctx context.Context, userID, presented string) (*Session, error) {
	if userID == "" || presented == "" {
		return nil, common.ErrInvalidRefreshToken
	}
	log := s.Logger.With("user_id", userID)

	stored, err := s.Repos.RefreshTokens(s.DB.Conn()).FindByUserAndToken(ctx, userID, presented)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidRefreshToken
		}
		return nil, fail(ctx, log, "find refresh token", err)
	}

	if stored.IsRevoked {
		return nil, s.reuseDetected(ctx, userID)
	}

	now := s.Now()
	if stored.IsExpired(now) {
		return nil, common.ErrTokenExpired
	}

	var sess *Session
	err = s.DB.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		won, err := s.Repos.RefreshTokens(tx).Revoke(ctx, stored.ID, now)
		if err != nil {
			return err
		}
		if !won {
			return errLostRotation
		}

		user, err := s.Repos.Users(tx).GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrInvalidRefreshToken
			}
			return err
		}
		if !user.CanSignIn() {
			return common.ErrInvalidCredentials
		}

		sess, err = s.mint(ctx, tx, user, now)
		return err
	})
	if errors.Is(err, errLostRotation) {
		return nil, s.reuseDetected(ctx, userID)
	}
	if err != nil {
		return nil, fail(ctx, log, "rotate refresh token", err)
	}
	return sess, nil
}

func (s *AuthService) reuseDetected(ctx context.Context, userID string) error {
	s.Logger.Warn(ctx, "refresh token reuse detected", "user_id", userID)
	if _, err := s.RevokeAllSessions(ctx, userID); err != nil {
		return err
	}
	return common.ErrReuseDetected
}

// Logout revokes the presented refresh token if it is still active. Unknown,
// expired and already revoked tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}

	now := s.Now()
	tokens := s.Repos.RefreshTokens(s.DB.Conn())
	stored, err := tokens.FindActive(ctx, presented, now)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return fail(ctx, s.Logger, "logout", err)
	}

	if _, err := tokens.Revoke(ctx, stored.ID, now); err != nil {
		return fail(ctx, s.Logger, "logout", err, "user_id", stored.UserID)
	}
	s.Logger.Info(ctx, "user logged out", "user_id", stored.UserID)
	return nil
}

// RevokeAllSessions revokes every active refresh token of the user and
// returns how many were revoked.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", common.ErrValidation)
	}

	n, err := s.Repos.RefreshTokens(s.DB.Conn()).RevokeAllForUser(ctx, userID, s.Now())
	if err != nil {
		return 0, fail(ctx, s.Logger, "revoke sessions", err, "user_id", userID)
	}
	if n > 0 {
		s.Logger.Info(ctx, "revoked refresh tokens", "user_id", userID, "count", n)
	}
	return n, nil
}

// DecodeToken reads the claims of a signed token without enforcing expiry.
func (s *AuthService) DecodeToken(token string) (*auth.Claims, error) {
	return s.Codec.DecodeToken(token)
}

// issueSession mints tokens for user and persists the refresh token. extra,
// when set, runs in the same transaction.
func (s *AuthService) issueSession(ctx context.Context, user *models.User, extra func(ctx context.Context, tx dbx.DBTX) error) (*Session, error) {
	now := s.Now()

	var sess *Session
	err := s.DB.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if extra != nil {
			if err := extra(ctx, tx); err != nil {
				return err
			}
		}
		var err error
		sess, err = s.mint(ctx, tx, user, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *AuthService) mint(ctx context.Context, tx dbx.DBTX, user *models.User, now time.Time) (*Session, error) {
	access, expiresIn, err := s.Codec.MintAccessToken(auth.Subject{
		ID:       user.ID,
		UserName: user.UserName,
		Email:    user.Email,
		Roles:    user.Roles,
	})
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	refresh, expiresAt, err := s.Codec.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	_, err = s.Repos.RefreshTokens(tx).Create(ctx, &models.RefreshToken{
		UserID:    user.ID,
		Token:     refresh,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		// a token collision is not something the caller can act on
		return nil, fmt.Errorf("store refresh token: %v", err)
	}

	return &Session{
		UserID:                user.ID,
		AccessToken:           access,
		ExpiresIn:             expiresIn,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: expiresAt,
	}, nil
}
