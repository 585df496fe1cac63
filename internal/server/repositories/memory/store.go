// Package memory provides in-process implementations of the repositories,
// used by tests and by the server's "memory" database mode.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

type state struct {
	users  map[string]models.User
	tokens map[int64]models.RefreshToken
	nextID int64
}

func (s *state) clone() *state {
	c := &state{
		users:  make(map[string]models.User, len(s.users)),
		tokens: make(map[int64]models.RefreshToken, len(s.tokens)),
		nextID: s.nextID,
	}
	for k, v := range s.users {
		v.Roles = append([]string(nil), v.Roles...)
		c.users[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	return c
}

// Store holds all rows. WithTx serializes whole transactions on txMu and
// restores a snapshot when fn fails. Calls made outside a transaction also
// take txMu, so they wait for an open transaction instead of interleaving
// with it and being lost on rollback.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
}

func NewStore() *Store {
	return &Store{st: &state{
		users:  map[string]models.User{},
		tokens: map[int64]models.RefreshToken{},
	}}
}

var errNoSQL = errors.New("memory store does not execute sql")

// txHandle marks repositories obtained inside WithTx.
type txHandle struct{}

func (txHandle) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (txHandle) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (txHandle) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func inTx(db dbx.DBTX) bool {
	_, ok := db.(txHandle)
	return ok
}

// lock takes mu, and txMu too unless the caller already runs inside WithTx.
func (s *Store) lock(tx bool) func() {
	if !tx {
		s.txMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if !tx {
			s.txMu.Unlock()
		}
	}
}

// Conn returns nil: repositories built from it run outside any transaction.
func (s *Store) Conn() dbx.DBTX {
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	defer func() {
		p := recover()
		if err == nil && p == nil {
			err = ctx.Err()
		}
		if err != nil || p != nil {
			s.mu.Lock()
			s.st = snapshot
			s.mu.Unlock()
		}
		if p != nil {
			panic(p)
		}
	}()

	return fn(ctx, txHandle{})
}

func (s *Store) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (s *Store) Users(db dbx.DBTX) users.Repository {
	return &UserRepository{s: s, tx: inTx(db)}
}

func (s *Store) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return &RefreshTokenRepository{s: s, tx: inTx(db)}
}
