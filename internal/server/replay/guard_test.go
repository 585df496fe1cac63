package replay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Guard   = (*RedisGuard)(nil)
	_ Guard   = Nop{}
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = Nop{}
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisGuard_ClaimOnce(t *testing.T) {
	mr, client := newRedis(t)
	g := NewRedisGuard(client)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "u-1", 100, 90*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "u-1", 100, 90*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "same counter is a replay")

	ok, err = g.Claim(ctx, "u-2", 100, 90*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "counters are per user")

	assert.True(t, mr.Exists("totp:used:u-1:100"))
	mr.FastForward(91 * time.Second)
	assert.False(t, mr.Exists("totp:used:u-1:100"))
}

func TestRedisGuard_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	g := NewRedisGuard(client)
	mr.Close()

	_, err = g.Claim(context.Background(), "u-1", 1, time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisLimiter(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLimiter(client, LimiterConfig{MaxAttempts: 3, Cooldown: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "u-1"))
	for i := 0; i < 3; i++ {
		require.NoError(t, l.RecordFailure(ctx, "u-1"))
	}
	assert.ErrorIs(t, l.Check(ctx, "u-1"), ErrRateLimited)
	assert.NoError(t, l.Check(ctx, "u-2"))

	mr.FastForward(61 * time.Second)
	assert.NoError(t, l.Check(ctx, "u-1"), "cooldown expired")

	require.NoError(t, l.RecordFailure(ctx, "u-1"))
	require.NoError(t, l.Reset(ctx, "u-1"))
	assert.False(t, mr.Exists("totp:att:u-1"))
}

func TestRedisLimiter_Defaults(t *testing.T) {
	_, client := newRedis(t)
	l := NewRedisLimiter(client, LimiterConfig{})
	assert.Equal(t, int64(5), l.maxAttempts)
	assert.Equal(t, time.Minute, l.cooldown)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	ok, err := Nop{}.Claim(ctx, "u", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, Nop{}.Check(ctx, "u"))
	assert.NoError(t, Nop{}.RecordFailure(ctx, "u"))
	assert.NoError(t, Nop{}.Reset(ctx, "u"))
}
