// Package services contains the authentication and account engines. Every
// operation returns a typed result and a sentinel error from
// internal/common; unexpected failures are logged here and surface as
// common.ErrUnexpected.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/identity"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/replay"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/security"
)

// Deps are the collaborators shared by both engines.
type Deps struct {
	DB       dbx.TxRunner
	Repos    repomanager.RepositoryManager
	Identity *identity.Store
	Codec    *auth.Codec
	TOTP     *security.TOTP
	Sealer   *cryptox.Sealer
	Guard    replay.Guard
	Limiter  replay.Limiter
	Mailer   mailer.Sender
	Logger   logging.Logger
	Now      func() time.Time

	RecoveryCodeCount int
}

func (d *Deps) normalize() {
	if d.Guard == nil {
		d.Guard = replay.Nop{}
	}
	if d.Limiter == nil {
		d.Limiter = replay.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logging.Nop{}
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.RecoveryCodeCount <= 0 {
		d.RecoveryCodeCount = 10
	}
}

// replayTTL covers every step the skew window can still accept.
func (d *Deps) replayTTL() time.Duration {
	return time.Duration(2*d.TOTP.Skew()+2) * d.TOTP.Period()
}

// expected reports whether err is one of the sentinels callers branch on.
func expected(err error) bool {
	return common.KindOf(err) != common.KindUnexpected
}

// fail passes known sentinels through and hides everything else behind
// ErrUnexpected after logging it.
func fail(ctx context.Context, log logging.Logger, op string, err error, args ...any) error {
	if expected(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Warn(ctx, op+" aborted", append(args, "error", err)...)
		return err
	}
	log.Error(ctx, op+" failed", append(args, "error", err)...)
	return common.ErrUnexpected
}
