package maps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript admits one request if the window has room. It returns
// 0 when admitted, otherwise the milliseconds until the oldest entry expires.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local now = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000))
		return 0
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest >= 2 then
		local wait = math.ceil((tonumber(oldest[2]) + window - now) / 1000)
		if wait < 1 then
			wait = 1
		end
		return wait
	end
	return 1
`)

// RedisRateLimiter implements a sliding-window limiter shared by every
// picker instance that points at the same Redis.
type RedisRateLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	limit     int
	window    time.Duration
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	KeyPrefix string
	Limit     int           // requests per window
	Window    time.Duration // window size
}

// DefaultRateLimiterConfig returns default rate limiter config.
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		KeyPrefix: "picker:ratelimit:",
		Limit:     50,
		Window:    time.Second,
	}
}

// NewRedisRateLimiter creates a new Redis-based rate limiter.
func NewRedisRateLimiter(client redis.UniversalClient, config *RateLimiterConfig) *RedisRateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	if config.Limit <= 0 {
		config.Limit = DefaultRateLimiterConfig().Limit
	}
	if config.Window <= 0 {
		config.Window = time.Second
	}

	return &RedisRateLimiter{
		client:    client,
		keyPrefix: config.KeyPrefix,
		limit:     config.Limit,
		window:    config.Window,
	}
}

// Allow reports whether a request fits in the window right now, and takes
// the slot if it does.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	wait, err := r.take(ctx, key)
	return err == nil && wait == 0
}

// Wait blocks until the request is admitted or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	for {
		wait, err := r.take(ctx, key)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *RedisRateLimiter) take(ctx context.Context, key string) (time.Duration, error) {
	now := time.Now().UnixMicro()
	waitMs, err := slidingWindowScript.Run(ctx, r.client, []string{r.keyPrefix + key},
		r.limit,
		now,
		r.window.Microseconds(),
		uuid.NewString(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("rate limiter error: %w", err)
	}
	return time.Duration(waitMs) * time.Millisecond, nil
}

// NoopRateLimiter is a rate limiter that allows everything.
// Use for testing or when rate limiting is disabled.
type NoopRateLimiter struct{}

// NewNoopRateLimiter creates a new noop rate limiter.
func NewNoopRateLimiter() *NoopRateLimiter {
	return &NoopRateLimiter{}
}

// Allow always returns true.
func (r *NoopRateLimiter) Allow(ctx context.Context, key string) bool {
	return true
}

// Wait always returns immediately.
func (r *NoopRateLimiter) Wait(ctx context.Context, key string) error {
	return nil
}
