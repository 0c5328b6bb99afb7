package http

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/mycobrun/cobrun-picker/errors"
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	// RequestsPerSecond is the number of requests allowed per second.
	RequestsPerSecond float64
	// BurstSize is the maximum burst size (bucket capacity).
	BurstSize int
	// KeyFunc extracts the rate limit key from the request.
	KeyFunc func(r *http.Request) string
	// ExcludeFunc determines if a request should be excluded from rate limiting.
	ExcludeFunc func(r *http.Request) bool
	// CleanupInterval is how often idle buckets are dropped.
	CleanupInterval time.Duration
	Clock           clock.Clock
}

// DefaultRateLimiterConfig returns defaults sized for drag traffic from a
// handful of map clients behind one address.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		KeyFunc:           IPKeyFunc,
		CleanupInterval:   time.Minute,
	}
}

// IPKeyFunc uses the first X-Forwarded-For hop, then RemoteAddr without
// the port.
func IPKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// TokenBucket implements the token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	clock      clock.Clock
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(c clock.Clock, maxTokens, refillRate float64) *TokenBucket {
	return &TokenBucket{
		clock:      c,
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: c.Now(),
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

// Allow consumes a token if one is available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return b.tokens
}

// RateLimiter limits requests per key with token buckets.
type RateLimiter struct {
	config  RateLimiterConfig
	buckets sync.Map // map[string]*TokenBucket
	done    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a rate limiter. Call Close to stop its cleanup loop.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.KeyFunc == nil {
		config.KeyFunc = IPKeyFunc
	}
	if config.Clock == nil {
		config.Clock = clock.NewClock()
	}

	rl := &RateLimiter{
		config: config,
		done:   make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}

	return rl
}

func (rl *RateLimiter) getBucket(key string) *TokenBucket {
	if bucket, ok := rl.buckets.Load(key); ok {
		return bucket.(*TokenBucket)
	}

	bucket := NewTokenBucket(rl.config.Clock, float64(rl.config.BurstSize), rl.config.RequestsPerSecond)
	actual, _ := rl.buckets.LoadOrStore(key, bucket)
	return actual.(*TokenBucket)
}

// Allow reports whether r may proceed and returns its bucket, which is nil
// for excluded requests.
func (rl *RateLimiter) Allow(r *http.Request) (bool, *TokenBucket) {
	if rl.config.ExcludeFunc != nil && rl.config.ExcludeFunc(r) {
		return true, nil
	}

	bucket := rl.getBucket(rl.config.KeyFunc(r))
	return bucket.Allow(), bucket
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := rl.config.Clock.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C():
			rl.cleanup()
		}
	}
}

// cleanup removes buckets that have refilled, i.e. not recently used.
func (rl *RateLimiter) cleanup() {
	rl.buckets.Range(func(key, value any) bool {
		if value.(*TokenBucket).Tokens() >= float64(rl.config.BurstSize) {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// Close stops the rate limiter.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// Middleware rejects requests over the limit with 429 and RATE_LIMITED.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, bucket := rl.Allow(r)
		if bucket != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.BurstSize))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatFloat(bucket.Tokens(), 'f', 0, 64))
		}

		if !allowed {
			w.Header().Set("Retry-After", "1")
			errors.WriteError(w, errors.RateLimited("Too many requests. Please slow down."), GetRequestID(r.Context()))
			return
		}

		next.ServeHTTP(w, r)
	})
}
