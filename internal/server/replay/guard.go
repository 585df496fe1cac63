// Package replay keeps short-lived two-factor state in Redis: which TOTP
// steps a user has already consumed, and how many bad codes they sent.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited = errors.New("two-factor attempts rate limited")
	ErrUnavailable = errors.New("replay store unavailable")
)

// Guard remembers consumed TOTP counters.
type Guard interface {
	// Claim marks counter as used by userID. It returns false when the
	// counter was claimed before.
	Claim(ctx context.Context, userID string, counter int64, ttl time.Duration) (bool, error)
}

// Limiter counts failed two-factor attempts per user.
type Limiter interface {
	Check(ctx context.Context, userID string) error
	RecordFailure(ctx context.Context, userID string) error
	Reset(ctx context.Context, userID string) error
}

type RedisGuard struct {
	redis redis.UniversalClient
}

func NewRedisGuard(client redis.UniversalClient) *RedisGuard {
	return &RedisGuard{redis: client}
}

func (g *RedisGuard) key(userID string, counter int64) string {
	return "totp:used:" + userID + ":" + strconv.FormatInt(counter, 10)
}

func (g *RedisGuard) Claim(ctx context.Context, userID string, counter int64, ttl time.Duration) (bool, error) {
	ok, err := g.redis.SetNX(ctx, g.key(userID, counter), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

const (
	defaultMaxAttempts = 5
	defaultCooldown    = time.Minute
)

type LimiterConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

type RedisLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	cooldown    time.Duration
}

// NewRedisLimiter falls back to 5 attempts per minute for zero fields.
func NewRedisLimiter(client redis.UniversalClient, cfg LimiterConfig) *RedisLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultCooldown
	}
	return &RedisLimiter{redis: client, maxAttempts: int64(max), cooldown: cd}
}

func (l *RedisLimiter) key(userID string) string {
	return "totp:att:" + userID
}

func (l *RedisLimiter) Check(ctx context.Context, userID string) error {
	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, userID string) error {
	count, err := l.redis.Incr(ctx, l.key(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(userID), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
