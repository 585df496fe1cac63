// Package identity is the credential store: user lookup, password checks and
// the failed-access lockout policy.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/security"
)

type LockoutPolicy struct {
	// Threshold is the number of consecutive failures that triggers a
	// lockout. Zero disables lockout.
	Threshold int
	Duration  time.Duration
}

type Store struct {
	db      dbx.TxRunner
	repos   repomanager.RepositoryManager
	hasher  *security.Hasher
	lockout LockoutPolicy

	dummyOnce sync.Once
	dummyHash string
}

func NewStore(db dbx.TxRunner, repos repomanager.RepositoryManager, hasher *security.Hasher, lockout LockoutPolicy) *Store {
	return &Store{db: db, repos: repos, hasher: hasher, lockout: lockout}
}

// FindByIdentifier resolves a username first and falls back to email.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	users := s.repos.Users(s.db.Conn())

	u, err := users.GetByUserName(ctx, identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	return users.GetByEmail(ctx, identifier)
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.repos.Users(s.db.Conn()).GetByID(ctx, id)
}

// HashPassword hashes a new password for storage.
func (s *Store) HashPassword(password string) (string, error) {
	return s.hasher.Hash(password)
}

// CheckPassword verifies password against the user's hash. A nil user or a
// user without a password never matches, but still pays for one hash so the
// response time does not reveal which case occurred.
func (s *Store) CheckPassword(ctx context.Context, user *models.User, password string) (bool, error) {
	if user == nil || !user.HasPassword() {
		s.dummyOnce.Do(func() {
			s.dummyHash, _ = s.hasher.Hash("authkeeper-dummy-password")
		})
		if s.dummyHash != "" {
			_, _ = s.hasher.Verify(password, s.dummyHash)
		}
		return false, nil
	}

	ok, err := s.hasher.Verify(password, *user.PasswordHash)
	if err != nil {
		return false, fmt.Errorf("verify password for %s: %w", user.ID, err)
	}
	return ok, nil
}

func (s *Store) IsLockedOut(user *models.User, now time.Time) bool {
	return user.IsLockedOut(now)
}

// RecordFailedAccess counts a failed password check. When the count reaches
// the threshold the account is locked until now+Duration and the counter
// starts over. It reports whether this failure caused a lockout.
func (s *Store) RecordFailedAccess(ctx context.Context, user *models.User, now time.Time) (bool, error) {
	if s.lockout.Threshold <= 0 {
		return false, nil
	}

	var locked bool
	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repos.Users(tx)

		n, err := users.IncrementAccessFailed(ctx, user.ID)
		if err != nil {
			return err
		}
		user.AccessFailedCount = n
		if n < s.lockout.Threshold {
			return nil
		}

		until := now.Add(s.lockout.Duration)
		if err := users.SetLockout(ctx, user.ID, &until); err != nil {
			return err
		}
		user.LockoutEnd = &until
		user.AccessFailedCount = 0
		locked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return locked, nil
}

// ResetFailedAccess zeroes the counter after a successful password check.
func (s *Store) ResetFailedAccess(ctx context.Context, user *models.User) error {
	if user.AccessFailedCount == 0 {
		return nil
	}
	if err := s.repos.Users(s.db.Conn()).ResetAccessFailed(ctx, user.ID); err != nil {
		return err
	}
	user.AccessFailedCount = 0
	return nil
}

// Unlock clears an active lockout and the failure counter.
func (s *Store) Unlock(ctx context.Context, userID string) error {
	return s.repos.Users(s.db.Conn()).SetLockout(ctx, userID, nil)
}
