package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/google/uuid"
)

const selectColumns = `id, username, email, email_confirmed, email_verified_at, password_hash,
		is_active, is_deleted, deleted_at, two_factor_enabled, authenticator_key, authenticator_uri,
		recovery_codes, two_factor_enabled_at, authenticator_last_step, lockout_end, access_failed_count,
		first_name, last_name, date_of_birth, phone_number, is_account_configured,
		array_to_string(roles, ','), created_at, updated_at`

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO users (id, username, email, is_active, roles)
		 VALUES ($1, $2, $3, $4, string_to_array($5, ','))
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.UserName, user.Email, user.IsActive, strings.Join(user.Roles, ",")).Scan(&user.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM users WHERE username = $1`, userName)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) SetPasswordHash(ctx context.Context, id string, hash string, at time.Time) error {
	return r.update(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, at)
}

func (r *PostgresRepository) ConfirmEmail(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx,
		`UPDATE users SET email_confirmed = TRUE, email_verified_at = $2, updated_at = $2 WHERE id = $1`,
		id, at)
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id string, p models.Profile, at time.Time) error {
	return r.update(ctx,
		`UPDATE users SET first_name = $2, last_name = $3, date_of_birth = $4, phone_number = $5,
		 is_account_configured = $6, updated_at = $7 WHERE id = $1`,
		id, nullString(p.FirstName), nullString(p.LastName), nullTime(p.DateOfBirth),
		nullString(p.PhoneNumber), p.IsAccountConfigured, at)
}

func (r *PostgresRepository) IncrementAccessFailed(ctx context.Context, id string) (int, error) {
	query :=
		`UPDATE users SET access_failed_count = access_failed_count + 1
		 WHERE id = $1
		 RETURNING access_failed_count`

	var count int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) SetLockout(ctx context.Context, id string, until *time.Time) error {
	return r.update(ctx,
		`UPDATE users SET lockout_end = $2, access_failed_count = 0 WHERE id = $1`,
		id, nullTime(until))
}

func (r *PostgresRepository) ResetAccessFailed(ctx context.Context, id string) error {
	return r.update(ctx,
		`UPDATE users SET access_failed_count = 0 WHERE id = $1`,
		id)
}

func (r *PostgresRepository) SaveAuthenticatorSetup(ctx context.Context, id string, sealedKey string, uri string, at time.Time) error {
	return r.update(ctx,
		`UPDATE users SET authenticator_key = $2, authenticator_uri = $3, updated_at = $4 WHERE id = $1`,
		id, sealedKey, uri, at)
}

func (r *PostgresRepository) EnableTwoFactor(ctx context.Context, id string, sealedKey string, step int64, recoveryCodes string, at time.Time) error {
	return r.update(ctx,
		`UPDATE users SET two_factor_enabled = TRUE, two_factor_enabled_at = $4, recovery_codes = $5,
		 authenticator_last_step = $3, updated_at = $4
		 WHERE id = $1 AND authenticator_key = $2 AND authenticator_last_step < $3`,
		id, sealedKey, step, at, recoveryCodes)
}

func (r *PostgresRepository) ClaimTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	err := r.update(ctx,
		`UPDATE users SET authenticator_last_step = $2 WHERE id = $1 AND authenticator_last_step < $2`,
		id, step)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PostgresRepository) DisableTwoFactor(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx,
		`UPDATE users SET two_factor_enabled = FALSE, authenticator_key = NULL, authenticator_uri = NULL,
		 recovery_codes = NULL, two_factor_enabled_at = NULL, updated_at = $2 WHERE id = $1`,
		id, at)
}

func (r *PostgresRepository) ReplaceRecoveryCodes(ctx context.Context, id string, expected string, next string, at time.Time) error {
	return r.update(ctx,
		`UPDATE users SET recovery_codes = $3, updated_at = $4 WHERE id = $1 AND COALESCE(recovery_codes, '') = $2`,
		id, expected, next, at)
}

func (r *PostgresRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		u                                                 models.User
		emailVerifiedAt, deletedAt, tfaEnabledAt, lockout sql.NullTime
		dob, updatedAt                                    sql.NullTime
		passwordHash, authKey, authURI, recovery          sql.NullString
		firstName, lastName, phone                        sql.NullString
		roles                                             string
	)

	err := row.Scan(&u.ID, &u.UserName, &u.Email, &u.EmailConfirmed, &emailVerifiedAt, &passwordHash,
		&u.IsActive, &u.IsDeleted, &deletedAt, &u.TwoFactorEnabled, &authKey, &authURI,
		&recovery, &tfaEnabledAt, &u.AuthenticatorLastStep, &lockout, &u.AccessFailedCount,
		&firstName, &lastName, &dob, &phone, &u.IsAccountConfigured,
		&roles, &u.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	u.EmailVerifiedAt = timePtr(emailVerifiedAt)
	u.DeletedAt = timePtr(deletedAt)
	u.TwoFactorEnabledAt = timePtr(tfaEnabledAt)
	u.LockoutEnd = timePtr(lockout)
	u.DateOfBirth = timePtr(dob)
	u.UpdatedAt = timePtr(updatedAt)
	u.PasswordHash = stringPtr(passwordHash)
	u.AuthenticatorKey = stringPtr(authKey)
	u.AuthenticatorURI = stringPtr(authURI)
	u.RecoveryCodes = stringPtr(recovery)
	u.FirstName = stringPtr(firstName)
	u.LastName = stringPtr(lastName)
	u.PhoneNumber = stringPtr(phone)
	if roles != "" {
		u.Roles = strings.Split(roles, ",")
	}
	return &u, nil
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
