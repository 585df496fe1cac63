package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

var errDiskFull = errors.New("disk full")

// faultyRepos wraps the fixture's repositories so a test can break or
// intercept single calls.
type faultyRepos struct {
	repomanager.RepositoryManager

	failTokenCreate atomic.Bool
	// beforeEnable runs right before EnableTwoFactor reaches the store.
	beforeEnable func(ctx context.Context, id string)
}

// install is passed to newFixture.
func (r *faultyRepos) install(d *Deps) {
	r.RepositoryManager = d.Repos
	d.Repos = r
}

func (r *faultyRepos) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return &faultyTokens{Repository: r.RepositoryManager.RefreshTokens(db), fail: &r.failTokenCreate}
}

func (r *faultyRepos) Users(db dbx.DBTX) users.Repository {
	return &faultyUsers{Repository: r.RepositoryManager.Users(db), beforeEnable: r.beforeEnable}
}

type faultyTokens struct {
	refreshtokens.Repository
	fail *atomic.Bool
}

func (t *faultyTokens) Create(ctx context.Context, tok *models.RefreshToken) (*models.RefreshToken, error) {
	if t.fail.Load() {
		return nil, errDiskFull
	}
	return t.Repository.Create(ctx, tok)
}

type faultyUsers struct {
	users.Repository
	beforeEnable func(ctx context.Context, id string)
}

func (u *faultyUsers) EnableTwoFactor(ctx context.Context, id string, sealedKey string, step int64, recoveryCodes string, at time.Time) error {
	if u.beforeEnable != nil {
		u.beforeEnable(ctx, id)
	}
	return u.Repository.EnableTwoFactor(ctx, id, sealedKey, step, recoveryCodes, at)
}

// spentGuard reports every TOTP step as already consumed.
type spentGuard struct{}

func (spentGuard) Claim(context.Context, string, int64, time.Duration) (bool, error) {
	return false, nil
}
