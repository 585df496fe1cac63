// Package refreshtokens persists the rotation lineage of refresh tokens.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type Repository interface {
	// Create inserts a new active token. A token string that already exists
	// yields common.ErrAlreadyExists.
	Create(ctx context.Context, t *models.RefreshToken) (*models.RefreshToken, error)
	// FindByUserAndToken returns the row regardless of its state.
	FindByUserAndToken(ctx context.Context, userID string, token string) (*models.RefreshToken, error)
	// FindActive returns the token only if it is unrevoked and unexpired at now.
	FindActive(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error)
	// Revoke flips an active row to revoked. It reports false if the row was
	// already revoked, which makes it safe as a compare-and-swap.
	Revoke(ctx context.Context, id int64, at time.Time) (bool, error)
	// RevokeAllForUser revokes every active token of the user and returns the
	// number of rows changed.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}
