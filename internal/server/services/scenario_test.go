package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAccountLifecycle walks one user from registration through a
// two-factor sign-in and a contested refresh.
func TestAccountLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.account.Register(ctx, RegisterInput{Email: "alice@example.com", UserName: "alice", CallbackBaseURL: callbackBase})
	require.NoError(t, err)

	st, err := f.auth.CheckAccountState(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, AccountState{UserID: id}, *st)

	_, userID, token := f.linkToken(t, "alice@example.com")
	require.NoError(t, f.account.ConfirmEmail(ctx, userID, token))
	require.NoError(t, f.account.SetPasswordFirstTime(ctx, id, testPassword))

	st, err = f.auth.CheckAccountState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, AccountState{UserID: id, EmailConfirmed: true, PasswordCreated: true}, *st)

	sess, err := f.auth.Login(ctx, "alice", testPassword, true)
	require.NoError(t, err)
	require.False(t, sess.RequiresTwoFactor)

	secret, _ := f.enable2FA(t, id)
	require.NoError(t, f.auth.Logout(ctx, sess.RefreshToken))

	pending, err := f.auth.Login(ctx, "alice@example.com", testPassword, true)
	require.NoError(t, err)
	require.True(t, pending.RequiresTwoFactor)
	assert.Empty(t, pending.RefreshToken)

	sess, err = f.auth.VerifyTwoFactor(ctx, pending.UserID, f.code(t, secret), false)
	require.NoError(t, err)

	claims, err := f.deps.Codec.VerifyAccessToken(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)

	f.clock.Advance(2 * time.Hour)
	_, err = f.deps.Codec.VerifyAccessToken(sess.AccessToken)
	require.ErrorIs(t, err, common.ErrTokenExpired)

	// the refresh endpoint reads the subject from the stale access token
	stale, err := f.auth.DecodeToken(sess.AccessToken)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		results [2]error
		winners [2]*Session
	)
	start := make(chan struct{})
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			winners[i], results[i] = f.auth.RefreshToken(ctx, stale.Subject, sess.RefreshToken)
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, reused int
	var next *Session
	for i, err := range results {
		switch {
		case err == nil:
			ok++
			next = winners[i]
		case assert.ErrorIs(t, err, common.ErrReuseDetected):
			reused++
		}
	}
	require.Equal(t, 1, ok, "exactly one rotation wins")
	require.Equal(t, 1, reused)

	// reuse revoked the winner's fresh token as well
	_, err = f.auth.RefreshToken(ctx, id, next.RefreshToken)
	assert.ErrorIs(t, err, common.ErrReuseDetected)

	_, err = f.auth.RefreshToken(ctx, id, sess.RefreshToken)
	assert.ErrorIs(t, err, common.ErrReuseDetected, "original token stays burned")

	n, err := f.auth.RevokeAllSessions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
