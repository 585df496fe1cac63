// Package server wires configuration, storage, the token codec and the
// engines into one App. Transport layers and the operator CLI build on it.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/identity"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/replay"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/memory"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/security"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/redis/go-redis/v9"
)

// MemoryDSN selects the in-memory store instead of PostgreSQL.
const MemoryDSN = "memory"

type App struct {
	Config   *config.Config
	Logger   logging.Logger
	Identity *identity.Store
	Auth     *services.AuthService
	Account  *services.AccountService

	db      *sql.DB
	repos   repomanager.RepositoryManager
	closers []io.Closer
}

type options struct {
	mailer    mailer.Sender
	logOutput io.Writer
}

type Option func(*options)

// WithMailer replaces the default log-only mail sender.
func WithMailer(m mailer.Sender) Option {
	return func(o *options) { o.mailer = m }
}

// WithLogOutput redirects logs, which otherwise go to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

func NewApp(c *config.Config, opts ...Option) (*App, error) {
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.NewLogger(c.LogLevel, c.LogFormat, o.logOutput)

	app := &App{Config: c, Logger: logger}

	var runner dbx.TxRunner
	if c.DatabaseDSN == MemoryDSN {
		store := memory.NewStore()
		runner, app.repos = store, store
		logger.Warn(context.Background(), "using in-memory store, data is not persisted")
	} else {
		db, err := sql.Open("pgx", c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.db = db
		app.closers = append(app.closers, db)
		runner = dbx.NewSQLRunner(db, nil)
		app.repos = repomanager.NewPostgresRepositoryManager()
	}

	codec, err := auth.NewCodec(auth.Options{
		SigningKey:    []byte(c.SigningKey),
		SigningMethod: c.SigningMethod,
		Issuer:        c.Issuer,
		Audience:      c.Audience,
		AccessTTL:     c.AccessTokenTTL(),
		RefreshTTL:    c.RefreshTokenTTL(),
	})
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("token codec: %w", err)
	}

	sealer, err := cryptox.NewSealer([]byte(c.SecretsKey))
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("secrets key: %w", err)
	}

	hasher := security.NewHasher(security.Argon2Params{
		Memory:      c.Argon2Memory,
		Iterations:  c.Argon2Iterations,
		Parallelism: c.Argon2Parallelism,
	})
	app.Identity = identity.NewStore(runner, app.repos, hasher, identity.LockoutPolicy{
		Threshold: c.LockoutThreshold,
		Duration:  c.LockoutDuration,
	})

	deps := services.Deps{
		DB:       runner,
		Repos:    app.repos,
		Identity: app.Identity,
		Codec:    codec,
		TOTP: security.NewTOTP(security.TOTPConfig{
			Issuer: c.TOTPIssuer,
			Digits: c.TOTPDigits,
			Period: c.TOTPPeriod,
			Skew:   c.TOTPSkew,
		}),
		Sealer:            sealer,
		Guard:             replay.Nop{},
		Limiter:           replay.Nop{},
		Mailer:            mailer.NewLogSender(logger),
		Logger:            logger,
		RecoveryCodeCount: c.RecoveryCodeCount,
	}

	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		app.closers = append(app.closers, rdb)
		deps.Guard = replay.NewRedisGuard(rdb)
		deps.Limiter = replay.NewRedisLimiter(rdb, replay.LimiterConfig{})
	} else {
		logger.Warn(context.Background(), "redis is not configured, two-factor rate limiting disabled")
	}

	if o.mailer != nil {
		deps.Mailer = o.mailer
	}

	app.Auth = services.NewAuthService(deps)
	app.Account = services.NewAccountService(deps)
	return app, nil
}

// Migrate applies the schema. It is a no-op for the in-memory store.
func (app *App) Migrate(ctx context.Context) error {
	if err := app.repos.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	app.Logger.Info(ctx, "migrations applied")
	return nil
}

// Close releases the database pool and the Redis client.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}
