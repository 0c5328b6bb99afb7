// Package maps provides a Google Maps Platform adapter for forward geocoding.
// The API key is server-side only; map frontends talk to the picker host.
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/logging"
)

const (
	defaultBaseURL    = "https://maps.googleapis.com/maps/api"
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond

	geocodeRateLimitKey = "maps:geocode"
)

// Geocoding API statuses.
const (
	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
)

// Config holds Google Maps adapter configuration.
type Config struct {
	// APIKey is the server-side API key.
	APIKey string

	// BaseURL is the Maps API root, overridable for tests.
	BaseURL string

	// Timeout for HTTP requests. The picker core enforces none of its own.
	Timeout time.Duration

	// MaxRetries for failed requests
	MaxRetries int

	// RetryDelay between retries, multiplied by the attempt number
	RetryDelay time.Duration

	// Region biases results (ccTLD, e.g. "uk"). Optional.
	Region string

	// Language of formatted addresses in logs. Optional.
	Language string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:     apiKey,
		BaseURL:    defaultBaseURL,
		Timeout:    defaultTimeout,
		MaxRetries: defaultMaxRetries,
		RetryDelay: defaultRetryDelay,
	}
}

// Client is the Google Maps Platform client.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *logging.Logger
	tracer     *Tracer
	limiter    RateLimiter
}

// RateLimiter interface for rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
	Wait(ctx context.Context, key string) error
}

// NewClient creates a new Google Maps client. tracer and limiter may be nil.
func NewClient(config *Config, logger *logging.Logger, tracer *Tracer, limiter RateLimiter) *Client {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  logger,
		tracer:  tracer,
		limiter: limiter,
	}
}

// === Geocode ===

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		PlaceID          string `json:"place_id"`
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves an address to the coordinate of its best match. A lookup
// that matches nothing fails with CodeGeocodeNotFound, everything else with
// CodeGeocodeUnavailable.
func (c *Client) Geocode(ctx context.Context, address string) (geo.Point, error) {
	ctx, span := c.startSpan(ctx, "maps.Geocode")
	defer span.End()

	point, err := c.geocode(ctx, address)
	if err != nil {
		span.RecordError(err)
		return geo.Point{}, err
	}

	span.SetAttributes(GeocodeAttributes(len(address), point.Lat, point.Lng)...)
	return point, nil
}

func (c *Client) geocode(ctx context.Context, address string) (geo.Point, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, geocodeRateLimitKey); err != nil {
			return geo.Point{}, apperrors.GeocodeUnavailable(fmt.Errorf("rate limit exceeded: %w", err))
		}
	}

	params := url.Values{}
	params.Set("address", address)
	params.Set("key", c.config.APIKey)
	if c.config.Region != "" {
		params.Set("region", c.config.Region)
	}
	if c.config.Language != "" {
		params.Set("language", c.config.Language)
	}

	reqURL := fmt.Sprintf("%s/geocode/json?%s", strings.TrimRight(c.config.BaseURL, "/"), params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return geo.Point{}, apperrors.GeocodeUnavailable(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := c.doRequest(httpReq)
	if err != nil {
		return geo.Point{}, apperrors.GeocodeUnavailable(err)
	}
	defer resp.Body.Close()

	var apiResp geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return geo.Point{}, apperrors.GeocodeUnavailable(fmt.Errorf("failed to decode response: %w", err))
	}

	switch apiResp.Status {
	case statusOK:
	case statusZeroResults:
		return geo.Point{}, apperrors.GeocodeNotFound(fmt.Errorf("no results for address"))
	default:
		return geo.Point{}, apperrors.GeocodeUnavailable(
			fmt.Errorf("Google Maps API status %s: %s", apiResp.Status, apiResp.ErrorMessage))
	}

	if len(apiResp.Results) == 0 {
		return geo.Point{}, apperrors.GeocodeNotFound(fmt.Errorf("empty result set"))
	}

	r := apiResp.Results[0]
	point := geo.Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng}
	if !point.IsValid() {
		return geo.Point{}, apperrors.GeocodeNotFound(fmt.Errorf("result %s has invalid location %v", r.PlaceID, point))
	}

	c.logger.DebugContext(ctx, "geocode completed",
		"place_id", r.PlaceID,
		"formatted_address", r.FormattedAddress,
		"lat", point.Lat,
		"lng", point.Lng)

	return point, nil
}

// === Helper Functions ===

// doRequest executes an HTTP request with retries on transport errors, 429
// and 5xx.
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	var lastErr error

	for i := 0; i <= c.config.MaxRetries; i++ {
		if i > 0 {
			if err := sleepContext(req.Context(), c.config.RetryDelay*time.Duration(i)); err != nil {
				return nil, err
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("Google Maps API error: %d - %s", resp.StatusCode, string(body))
			continue
		}

		// Non-retryable error
		return nil, fmt.Errorf("Google Maps API error: %d - %s", resp.StatusCode, string(body))
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// startSpan starts a telemetry span if tracer is configured.
func (c *Client) startSpan(ctx context.Context, name string) (context.Context, *Span) {
	if c.tracer != nil {
		return c.tracer.StartSpan(ctx, name)
	}
	return ctx, &Span{}
}

// GeocodeAttributes returns span attributes for a forward geocode. The
// address itself is not recorded.
func GeocodeAttributes(addressLength int, lat, lng float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("maps.operation", "geocode"),
		attribute.Int("maps.input.length", addressLength),
		attribute.Float64("maps.location.lat", lat),
		attribute.Float64("maps.location.lng", lng),
	}
}
