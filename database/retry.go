package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/redis/go-redis/v9"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries).
	MaxRetries int
	// InitialDelay is the initial delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64
	// Jitter is the maximum random jitter to add (as a percentage of delay, 0-1).
	Jitter float64
	// Clock drives the backoff sleeps. Nil means the real clock.
	Clock clock.Clock
}

// DefaultRetryConfig returns production defaults for connecting at startup.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Retry runs fn until it succeeds, fails with a permanent error, runs out of
// attempts or ctx is done.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	clk := config.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}

		timer := clk.NewTimer(calculateDelay(config, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C():
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}

// calculateDelay is initialDelay * multiplier^attempt, capped at MaxDelay,
// with symmetric jitter.
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter > 0 {
		jitterAmount := delay * config.Jitter * rand.Float64()
		if rand.Float64() < 0.5 {
			delay -= jitterAmount
		} else {
			delay += jitterAmount
		}
	}

	return time.Duration(delay)
}

// Redis replies that retrying cannot fix.
var permanentReplies = []string{
	"NOAUTH",
	"WRONGPASS",
	"NOPERM",
	"ERR invalid password",
	"ERR DB index is out of range",
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	for _, reply := range permanentReplies {
		if strings.HasPrefix(msg, reply) {
			return false
		}
	}

	// Unknown errors are treated as transient.
	return true
}
