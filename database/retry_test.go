package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 5 {
		t.Errorf("expected MaxRetries=5, got %d", config.MaxRetries)
	}
	if config.InitialDelay != 200*time.Millisecond {
		t.Errorf("expected InitialDelay=200ms, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 5*time.Second {
		t.Errorf("expected MaxDelay=5s, got %v", config.MaxDelay)
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), quickRetry(3), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), quickRetry(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), quickRetry(3), func() error {
		attempts++
		return errors.New("persistent failure")
	})

	require.Error(t, err)
	assert.Equal(t, "max retries (3) exceeded: persistent failure", err.Error())
	assert.Equal(t, 4, attempts, "initial attempt plus 3 retries")
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := quickRetry(5)
	config.InitialDelay = time.Hour
	config.MaxDelay = time.Hour

	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		cancel()
		return errors.New("temporary failure")
	})

	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), quickRetry(3), func() error {
		attempts++
		return errors.New("WRONGPASS invalid username-password pair")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_BacksOffOnClock(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	config := RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Clock:        clk,
	}

	attempts := make(chan int, 3)
	done := make(chan error, 1)
	n := 0
	go func() {
		done <- Retry(context.Background(), config, func() error {
			n++
			attempts <- n
			return errors.New("connection reset")
		})
	}()

	assert.Equal(t, 1, <-attempts)
	clk.WaitForWatcherAndIncrement(time.Second)
	assert.Equal(t, 2, <-attempts)
	clk.WaitForWatcherAndIncrement(2 * time.Second)
	assert.Equal(t, 3, <-attempts)

	err := <-done
	assert.Contains(t, err.Error(), "max retries (2) exceeded")
}

func TestCalculateDelay(t *testing.T) {
	base := RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
	capped := base
	capped.MaxDelay = 500 * time.Millisecond

	tests := []struct {
		name    string
		config  RetryConfig
		attempt int
		want    time.Duration
	}{
		{"first retry", base, 0, 100 * time.Millisecond},
		{"second retry", base, 1, 200 * time.Millisecond},
		{"third retry", base, 2, 400 * time.Millisecond},
		{"capped at max delay", capped, 10, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateDelay(tt.config, tt.attempt); got != tt.want {
				t.Errorf("calculateDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateDelay_Jitter(t *testing.T) {
	config := RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}

	for i := 0; i < 50; i++ {
		d := calculateDelay(config, 0)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("delay %v outside [80ms, 120ms]", d)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline exceeded", fmt.Errorf("ping: %w", context.DeadlineExceeded), false},
		{"redis nil", redis.Nil, false},
		{"no auth", errors.New("NOAUTH Authentication required."), false},
		{"wrong password", errors.New("WRONGPASS invalid username-password pair"), false},
		{"bad db", errors.New("ERR DB index is out of range"), false},
		{"net error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"unknown error", errors.New("unknown error"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.retryable {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}
