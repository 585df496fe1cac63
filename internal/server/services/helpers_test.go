package services

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/identity"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/memory"
	"github.com/dmitrijs2005/authkeeper/internal/server/security"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "Passw0rd!"
	callbackBase = "https://app.example.com/"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	mem     *memory.Store
	clock   *testClock
	outbox  *mailer.Outbox
	totp    *security.TOTP
	deps    Deps
	auth    *AuthService
	account *AccountService
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()

	mem := memory.NewStore()
	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	outbox := &mailer.Outbox{}
	totp := security.NewTOTP(security.TOTPConfig{Issuer: "AHIS", Digits: 6, Period: 30, Skew: 1})

	codec, err := auth.NewCodec(auth.Options{
		SigningKey: []byte("test-signing-key"),
		Issuer:     "authkeeper",
		Audience:   "authkeeper-clients",
		AccessTTL:  time.Hour,
		RefreshTTL: 30 * 24 * time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)

	sealer, err := cryptox.NewSealer([]byte("test-secrets-key"))
	require.NoError(t, err)

	hasher := security.NewHasher(security.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1})

	deps := Deps{
		DB:       mem,
		Repos:    mem,
		Identity: identity.NewStore(mem, mem, hasher, identity.LockoutPolicy{Threshold: 3, Duration: 5 * time.Minute}),
		Codec:    codec,
		TOTP:     totp,
		Sealer:   sealer,
		Mailer:   outbox,
		Logger:   logging.Nop{},
		Now:      clock.Now,
	}
	for _, o := range opts {
		o(&deps)
	}

	return &fixture{
		mem:     mem,
		clock:   clock,
		outbox:  outbox,
		totp:    totp,
		deps:    deps,
		auth:    NewAuthService(deps),
		account: NewAccountService(deps),
	}
}

// register creates a user and, when password is non-empty, sets it.
func (f *fixture) register(t *testing.T, name, email, password string) string {
	t.Helper()
	ctx := context.Background()

	id, err := f.account.Register(ctx, RegisterInput{Email: email, UserName: name, CallbackBaseURL: callbackBase})
	require.NoError(t, err)
	if password != "" {
		require.NoError(t, f.account.SetPasswordFirstTime(ctx, id, password))
	}
	return id
}

// enable2FA turns on two-factor and returns the plaintext secret and
// recovery codes. The clock moves one step so the enabling code is not
// reused by the caller.
func (f *fixture) enable2FA(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := f.account.GenerateAuthenticatorSetup(ctx, userID)
	require.NoError(t, err)

	code, err := f.totp.CodeAt(setup.Key, f.clock.Now())
	require.NoError(t, err)

	codes, err := f.account.EnableAuthenticator(ctx, userID, code)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	return setup.Key, codes
}

func (f *fixture) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := f.totp.CodeAt(secret, f.clock.Now())
	require.NoError(t, err)
	return c
}

var hrefRe = regexp.MustCompile(`href="([^"]+)"`)

// linkToken extracts userId and token from the last email sent to addr.
func (f *fixture) linkToken(t *testing.T, addr string) (string, string, string) {
	t.Helper()
	msg, ok := f.outbox.Last(addr)
	require.True(t, ok, "no email sent to %s", addr)

	m := hrefRe.FindStringSubmatch(msg.HTML)
	require.Len(t, m, 2)
	u, err := url.Parse(m[1])
	require.NoError(t, err)
	return u.Path, u.Query().Get("userId"), u.Query().Get("token")
}

// badCode returns a six-digit code that no step in the skew window accepts.
func (f *fixture) badCode(t *testing.T, secret string) string {
	t.Helper()
	now := f.clock.Now()
	taken := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		taken[f.codeAt(t, secret, now.Add(d))] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !taken[c] {
			return c
		}
	}
	t.Fatal("no free code")
	return ""
}

func (f *fixture) codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	c, err := f.totp.CodeAt(secret, at)
	require.NoError(t, err)
	return c
}
