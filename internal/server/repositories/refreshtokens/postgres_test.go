package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenColumns = []string{"id", "user_id", "token", "created_at", "expires_at", "is_revoked", "revoked_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := created.Add(30 * 24 * time.Hour)

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+refresh_tokens\s*\(user_id,\s*token,\s*created_at,\s*expires_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*RETURNING\s+id\s*$`).
		WithArgs("u-1", "tok", created, expires).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	got, err := repo.Create(context.Background(), &models.RefreshToken{UserID: "u-1", Token: "tok", CreatedAt: created, ExpiresAt: expires})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.False(t, got.IsRevoked)
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+refresh_tokens`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), &models.RefreshToken{UserID: "u-1", Token: "tok"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestFindByUserAndToken_Revoked(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	revoked := created.Add(time.Hour)

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*user_id,\s*token.*FROM\s+refresh_tokens\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+token\s*=\s*\$2\s*$`).
		WithArgs("u-1", "tok").
		WillReturnRows(sqlmock.NewRows(tokenColumns).AddRow(int64(1), "u-1", "tok", created, created.Add(time.Hour*720), true, revoked))

	got, err := repo.FindByUserAndToken(context.Background(), "u-1", "tok")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)
	require.NotNil(t, got.RevokedAt)
	assert.Equal(t, revoked, *got.RevokedAt)
}

func TestFindActive(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+refresh_tokens\s+WHERE\s+token\s*=\s*\$1\s+AND\s+is_revoked\s*=\s*FALSE\s+AND\s+expires_at\s*>\s*\$2\s*$`).
		WithArgs("tok", now).
		WillReturnRows(sqlmock.NewRows(tokenColumns).AddRow(int64(3), "u-1", "tok", now, now.Add(time.Hour), false, nil))

	got, err := repo.FindActive(context.Background(), "tok", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.Nil(t, got.RevokedAt)
}

func TestFindActive_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT`).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActive(context.Background(), "tok", time.Now())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRevoke(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	q := `(?s)^UPDATE\s+refresh_tokens\s+SET\s+is_revoked\s*=\s*TRUE,\s*revoked_at\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$1\s+AND\s+is_revoked\s*=\s*FALSE\s*$`
	mock.ExpectExec(q).WithArgs(int64(5), at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(int64(5), at).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Revoke(context.Background(), 5, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Revoke(context.Background(), 5, at)
	require.NoError(t, err)
	assert.False(t, ok, "second revoke must lose the swap")
}

func TestRevoke_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+refresh_tokens`).WillReturnError(errors.New("db down"))

	_, err := repo.Revoke(context.Background(), 1, time.Now())
	require.Error(t, err)
}

func TestRevokeAllForUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`(?s)^UPDATE\s+refresh_tokens\s+SET\s+is_revoked\s*=\s*TRUE,\s*revoked_at\s*=\s*\$2\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+is_revoked\s*=\s*FALSE\s*$`).
		WithArgs("u-1", at).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeAllForUser(context.Background(), "u-1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
