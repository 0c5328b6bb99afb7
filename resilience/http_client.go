package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"code.cloudfoundry.org/clock"
)

// ResilientHTTPClient wraps an HTTP client with circuit breaker protection
// and linear-backoff retries on transport errors and 5xx responses.
type ResilientHTTPClient struct {
	client         *http.Client
	circuitBreaker *CircuitBreaker
	retries        int
	retryDelay     time.Duration
	clock          clock.Clock
}

// ResilientHTTPClientConfig configures a resilient HTTP client.
type ResilientHTTPClientConfig struct {
	// Name for the circuit breaker.
	Name string

	// Timeout for HTTP requests.
	Timeout time.Duration

	// Retries is the number of retry attempts.
	Retries int

	// RetryDelay is multiplied by the attempt number between retries.
	RetryDelay time.Duration

	// CircuitBreaker is used as-is when set, e.g. one taken from a registry.
	CircuitBreaker *CircuitBreaker

	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client

	Clock clock.Clock
}

// DefaultResilientHTTPClientConfig returns sensible defaults.
func DefaultResilientHTTPClientConfig(name string) ResilientHTTPClientConfig {
	return ResilientHTTPClientConfig{
		Name:       name,
		Timeout:    10 * time.Second,
		Retries:    2,
		RetryDelay: 100 * time.Millisecond,
	}
}

// NewResilientHTTPClient creates a new resilient HTTP client.
func NewResilientHTTPClient(config ResilientHTTPClientConfig) *ResilientHTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.NewClock()
	}

	cb := config.CircuitBreaker
	if cb == nil {
		cbConfig := DefaultCircuitBreakerConfig(config.Name)
		cbConfig.Clock = config.Clock
		cb = NewCircuitBreaker(cbConfig)
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &ResilientHTTPClient{
		client:         client,
		circuitBreaker: cb,
		retries:        config.Retries,
		retryDelay:     config.RetryDelay,
		clock:          config.Clock,
	}
}

// Do executes an HTTP request with circuit breaker and retry protection.
// Requests with a body are only retried when GetBody is set.
func (c *ResilientHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				break
			}
			c.clock.Sleep(c.retryDelay * time.Duration(attempt))
		}

		err := c.circuitBreaker.Execute(req.Context(), func(ctx context.Context) error {
			reqClone := req.Clone(ctx)
			if attempt > 0 && req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return err
				}
				reqClone.Body = body
			}

			var reqErr error
			resp, reqErr = c.client.Do(reqClone)
			if reqErr != nil {
				return reqErr
			}

			// 5xx counts against the circuit
			if resp.StatusCode >= 500 {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return fmt.Errorf("server error: status %d", resp.StatusCode)
			}

			return nil
		})

		if err == nil {
			return resp, nil
		}

		lastErr = err

		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

// Post performs an HTTP POST request with headers.
func (c *ResilientHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// CircuitBreaker returns the underlying circuit breaker.
func (c *ResilientHTTPClient) CircuitBreaker() *CircuitBreaker {
	return c.circuitBreaker
}
