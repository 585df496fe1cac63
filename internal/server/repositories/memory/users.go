package memory

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/google/uuid"
)

type UserRepository struct {
	s  *Store
	tx bool
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	defer r.s.lock(r.tx)()

	for _, u := range r.s.st.users {
		if u.UserName == user.UserName || strings.EqualFold(u.Email, user.Email) {
			return nil, common.ErrAlreadyExists
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	row := *user
	row.Roles = append([]string(nil), user.Roles...)
	r.s.st.users[user.ID] = row
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *UserRepository) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.UserName == userName })
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *UserRepository) find(match func(*models.User) bool) (*models.User, error) {
	defer r.s.lock(r.tx)()

	for _, u := range r.s.st.users {
		if match(&u) {
			out := u
			out.Roles = append([]string(nil), u.Roles...)
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *UserRepository) update(id string, fn func(u *models.User)) error {
	defer r.s.lock(r.tx)()

	u, ok := r.s.st.users[id]
	if !ok {
		return common.ErrNotFound
	}
	fn(&u)
	r.s.st.users[id] = u
	return nil
}

func (r *UserRepository) SetPasswordHash(ctx context.Context, id string, hash string, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.PasswordHash = &hash
		u.UpdatedAt = &at
	})
}

func (r *UserRepository) ConfirmEmail(ctx context.Context, id string, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.EmailConfirmed = true
		u.EmailVerifiedAt = &at
		u.UpdatedAt = &at
	})
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, p models.Profile, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.FirstName = p.FirstName
		u.LastName = p.LastName
		u.DateOfBirth = p.DateOfBirth
		u.PhoneNumber = p.PhoneNumber
		u.IsAccountConfigured = p.IsAccountConfigured
		u.UpdatedAt = &at
	})
}

func (r *UserRepository) IncrementAccessFailed(ctx context.Context, id string) (int, error) {
	var n int
	err := r.update(id, func(u *models.User) {
		u.AccessFailedCount++
		n = u.AccessFailedCount
	})
	return n, err
}

func (r *UserRepository) SetLockout(ctx context.Context, id string, until *time.Time) error {
	return r.update(id, func(u *models.User) {
		u.LockoutEnd = until
		u.AccessFailedCount = 0
	})
}

func (r *UserRepository) ResetAccessFailed(ctx context.Context, id string) error {
	return r.update(id, func(u *models.User) {
		u.AccessFailedCount = 0
	})
}

func (r *UserRepository) SaveAuthenticatorSetup(ctx context.Context, id string, sealedKey string, uri string, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.AuthenticatorKey = &sealedKey
		u.AuthenticatorURI = &uri
		u.UpdatedAt = &at
	})
}

func (r *UserRepository) EnableTwoFactor(ctx context.Context, id string, sealedKey string, step int64, recoveryCodes string, at time.Time) error {
	defer r.s.lock(r.tx)()

	u, ok := r.s.st.users[id]
	if !ok || u.AuthenticatorKey == nil || *u.AuthenticatorKey != sealedKey || u.AuthenticatorLastStep >= step {
		return common.ErrNotFound
	}
	u.TwoFactorEnabled = true
	u.TwoFactorEnabledAt = &at
	u.RecoveryCodes = &recoveryCodes
	u.AuthenticatorLastStep = step
	u.UpdatedAt = &at
	r.s.st.users[id] = u
	return nil
}

func (r *UserRepository) ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	defer r.s.lock(r.tx)()

	u, ok := r.s.st.users[id]
	if !ok || u.AuthenticatorLastStep >= step {
		return false, nil
	}
	u.AuthenticatorLastStep = step
	r.s.st.users[id] = u
	return true, nil
}

func (r *UserRepository) DisableTwoFactor(ctx context.Context, id string, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.TwoFactorEnabled = false
		u.AuthenticatorKey = nil
		u.AuthenticatorURI = nil
		u.RecoveryCodes = nil
		u.TwoFactorEnabledAt = nil
		u.UpdatedAt = &at
	})
}

func (r *UserRepository) ReplaceRecoveryCodes(ctx context.Context, id string, expected string, next string, at time.Time) error {
	defer r.s.lock(r.tx)()

	u, ok := r.s.st.users[id]
	if !ok {
		return common.ErrNotFound
	}
	current := ""
	if u.RecoveryCodes != nil {
		current = *u.RecoveryCodes
	}
	if current != expected {
		return common.ErrNotFound
	}
	u.RecoveryCodes = &next
	u.UpdatedAt = &at
	r.s.st.users[id] = u
	return nil
}
