package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

const selectColumns = `id, user_id, token, created_at, expires_at, is_revoked, revoked_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.RefreshToken) (*models.RefreshToken, error) {
	query :=
		`INSERT INTO refresh_tokens (user_id, token, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`

	err := r.db.QueryRowContext(ctx, query, t.UserID, t.Token, t.CreatedAt, t.ExpiresAt).Scan(&t.ID)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	t.IsRevoked = false
	t.RevokedAt = nil
	return t, nil
}

func (r *PostgresRepository) FindByUserAndToken(ctx context.Context, userID string, token string) (*models.RefreshToken, error) {
	query := `SELECT ` + selectColumns + ` FROM refresh_tokens WHERE user_id = $1 AND token = $2`
	return r.getOne(ctx, query, userID, token)
}

func (r *PostgresRepository) FindActive(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	query := `SELECT ` + selectColumns + ` FROM refresh_tokens
		WHERE token = $1 AND is_revoked = FALSE AND expires_at > $2`
	return r.getOne(ctx, query, token, now)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.RefreshToken, error) {
	var (
		t         models.RefreshToken
		revokedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.IsRevoked, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if revokedAt.Valid {
		ts := revokedAt.Time
		t.RevokedAt = &ts
	}
	return &t, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id int64, at time.Time) (bool, error) {
	query :=
		`UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2
		 WHERE id = $1 AND is_revoked = FALSE`

	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	query :=
		`UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2
		 WHERE user_id = $1 AND is_revoked = FALSE`

	res, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
