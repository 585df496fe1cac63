package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type RefreshTokenRepository struct {
	s  *Store
	tx bool
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *models.RefreshToken) (*models.RefreshToken, error) {
	defer r.s.lock(r.tx)()

	for _, existing := range r.s.st.tokens {
		if existing.Token == t.Token {
			return nil, common.ErrAlreadyExists
		}
	}
	r.s.st.nextID++
	t.ID = r.s.st.nextID
	t.IsRevoked = false
	t.RevokedAt = nil
	r.s.st.tokens[t.ID] = *t
	return t, nil
}

func (r *RefreshTokenRepository) FindByUserAndToken(ctx context.Context, userID string, token string) (*models.RefreshToken, error) {
	return r.find(func(t *models.RefreshToken) bool { return t.UserID == userID && t.Token == token })
}

func (r *RefreshTokenRepository) FindActive(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	return r.find(func(t *models.RefreshToken) bool { return t.Token == token && t.IsActive(now) })
}

func (r *RefreshTokenRepository) find(match func(*models.RefreshToken) bool) (*models.RefreshToken, error) {
	defer r.s.lock(r.tx)()

	for _, t := range r.s.st.tokens {
		if match(&t) {
			out := t
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, id int64, at time.Time) (bool, error) {
	defer r.s.lock(r.tx)()

	t, ok := r.s.st.tokens[id]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	t.RevokedAt = &at
	r.s.st.tokens[id] = t
	return true, nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	defer r.s.lock(r.tx)()

	var n int64
	for id, t := range r.s.st.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			t.RevokedAt = &at
			r.s.st.tokens[id] = t
			n++
		}
	}
	return n, nil
}
