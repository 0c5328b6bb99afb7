// Package config provides configuration loading with Azure Key Vault integration.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mycobrun/cobrun-picker/confirm"
	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/interaction"
	"github.com/mycobrun/cobrun-picker/radius"
)

// Config holds configuration for the picker service.
type Config struct {
	// Service identification
	ServiceName string
	Environment string
	Version     string

	// HTTP server
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Logging
	LogLevel string

	// Picker engine
	MinRadiusMeters     float64
	MaxRadiusMeters     float64
	DefaultRadiusMeters float64
	DefaultCenterLat    float64
	DefaultCenterLng    float64
	CirclePolygonPoints int
	HandleDebounce      time.Duration
	CopiedWindow        time.Duration
	SessionIdleTimeout  time.Duration
	H3Resolution        int

	// SessionTokenSecret signs per-session bearer tokens. Empty disables
	// session authorization.
	SessionTokenSecret string
	SessionTokenTTL    time.Duration

	// Geocoding
	GoogleMapsAPIKey        string
	GoogleMapsBaseURL       string
	GeocodeTimeout          time.Duration
	GeocodeMaxRetries       int
	GeocodeRateLimit        int // lookups per minute across all hosts
	GeocodeBreakerThreshold int
	GeocodeBreakerTimeout   time.Duration

	// Redis backs the shared geocode rate limiter. Empty host disables it.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	// SignalR pushes frames to connected map clients. Empty disables it.
	SignalRConnectionString string
	SignalRHub              string

	// Service Bus receives confirmed selections. Empty namespace and
	// connection string disable publishing.
	ServiceBusNamespace        string
	ServiceBusConnectionString string
	SelectionTopic             string

	// Telemetry
	OTLPEndpoint    string
	TraceSampleRate float64

	// Azure
	KeyVaultName string
}

// Load loads configuration from environment variables.
// For production, secrets are loaded from Azure Key Vault.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		ServiceName:     serviceName,
		Environment:     getEnv("ENVIRONMENT", "development"),
		Version:         getEnv("VERSION", "0.0.1"),
		Port:            getEnvInt("PORT", 8080),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		RateLimitRPS:    getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 100),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		KeyVaultName:    getEnv("KEY_VAULT_NAME", ""),

		MinRadiusMeters:     getEnvFloat("MIN_RADIUS_METERS", radius.DefaultMinRadiusMeters),
		MaxRadiusMeters:     getEnvFloat("MAX_RADIUS_METERS", radius.DefaultMaxRadiusMeters),
		DefaultRadiusMeters: getEnvFloat("DEFAULT_RADIUS_METERS", radius.DefaultRadiusMeters),
		DefaultCenterLat:    getEnvFloat("DEFAULT_CENTER_LAT", radius.DefaultCenter.Lat),
		DefaultCenterLng:    getEnvFloat("DEFAULT_CENTER_LNG", radius.DefaultCenter.Lng),
		CirclePolygonPoints: getEnvInt("CIRCLE_POLYGON_POINTS", geo.DefaultCirclePoints),
		HandleDebounce:      getEnvDuration("HANDLE_DEBOUNCE", interaction.DefaultHandleDebounce),
		CopiedWindow:        getEnvDuration("COPIED_WINDOW", confirm.DefaultCopiedWindow),
		SessionIdleTimeout:  getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		H3Resolution:        getEnvInt("H3_RESOLUTION", 0),
		SessionTokenTTL:     getEnvDuration("SESSION_TOKEN_TTL", 12*time.Hour),

		GoogleMapsBaseURL:       getEnv("GOOGLE_MAPS_BASE_URL", "https://maps.googleapis.com/maps/api"),
		GeocodeTimeout:          getEnvDuration("GEOCODE_TIMEOUT", 10*time.Second),
		GeocodeMaxRetries:       getEnvInt("GEOCODE_MAX_RETRIES", 3),
		GeocodeRateLimit:        getEnvInt("GEOCODE_RATE_LIMIT", 600),
		GeocodeBreakerThreshold: getEnvInt("GEOCODE_BREAKER_THRESHOLD", 5),
		GeocodeBreakerTimeout:   getEnvDuration("GEOCODE_BREAKER_TIMEOUT", 30*time.Second),

		RedisPort:  getEnvInt("REDIS_PORT", 6380),
		RedisDB:    getEnvInt("REDIS_DB", 0),
		RedisTLS:   getEnvBool("REDIS_TLS", true),
		SignalRHub: getEnv("SIGNALR_HUB", "picker"),

		ServiceBusNamespace: getEnv("SERVICEBUS_NAMESPACE", ""),
		SelectionTopic:      getEnv("SELECTION_TOPIC", "picker-selections"),

		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRate: getEnvFloat("TRACE_SAMPLE_RATE", 0.1),
	}

	cfg.CORSAllowedOrigins = getEnvSlice("CORS_ORIGINS", "")
	if len(cfg.CORSAllowedOrigins) == 0 && cfg.IsDevelopment() {
		cfg.CORSAllowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}

	// Load secrets from Key Vault in production
	if cfg.KeyVaultName != "" && !cfg.IsDevelopment() {
		kv, err := NewKeyVaultClient(cfg.KeyVaultName)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets from Key Vault: %w", err)
		}
		cfg.loadFromKeyVault(context.Background(), kv)
	} else {
		// Load from environment variables in development
		cfg.loadFromEnv()
	}

	if err := cfg.RadiusConfig().Validate(); err != nil {
		return nil, fmt.Errorf("invalid picker configuration: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
func MustLoad(serviceName string) *Config {
	cfg, err := Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func (c *Config) loadFromEnv() {
	c.GoogleMapsAPIKey = getEnv("GOOGLE_MAPS_API_KEY", "")
	c.RedisHost = getEnv("REDIS_HOST", "")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.SignalRConnectionString = getEnv("SIGNALR_CONNECTION_STRING", "")
	c.ServiceBusConnectionString = getEnv("SERVICEBUS_CONNECTION_STRING", "")
	c.SessionTokenSecret = getEnv("SESSION_TOKEN_SECRET", "")
}

type secretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

func (c *Config) loadFromKeyVault(ctx context.Context, kv secretGetter) {
	secrets := map[string]*string{
		"google-maps-api-key":          &c.GoogleMapsAPIKey,
		"redis-password":               &c.RedisPassword,
		"signalr-connection-string":    &c.SignalRConnectionString,
		"session-token-secret":         &c.SessionTokenSecret,
		"servicebus-connection-string": &c.ServiceBusConnectionString,
	}

	for name, ptr := range secrets {
		value, err := kv.GetSecret(ctx, name)
		if err != nil {
			// Optional: the feature behind the secret stays disabled.
			continue
		}
		*ptr = value
	}

	// Non-secret values
	c.RedisHost = getEnv("REDIS_HOST", "")
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DefaultCenter is the configured fallback center.
func (c *Config) DefaultCenter() geo.Point {
	return geo.NewPoint(c.DefaultCenterLat, c.DefaultCenterLng)
}

// RadiusConfig projects the picker settings onto the radius model.
func (c *Config) RadiusConfig() radius.Config {
	return radius.Config{
		MinRadiusMeters:     c.MinRadiusMeters,
		MaxRadiusMeters:     c.MaxRadiusMeters,
		CirclePoints:        c.CirclePolygonPoints,
		DefaultCenter:       c.DefaultCenter(),
		DefaultRadiusMeters: c.DefaultRadiusMeters,
	}
}

// InteractionOptions projects the picker settings onto the controller.
func (c *Config) InteractionOptions() interaction.Options {
	return interaction.Options{
		HandleDebounce: c.HandleDebounce,
		H3Resolution:   c.H3Resolution,
	}
}

// ConfirmOptions projects the picker settings onto the confirmation flow.
func (c *Config) ConfirmOptions() confirm.Options {
	return confirm.Options{
		CopiedWindow: c.CopiedWindow,
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvSlice splits a comma-separated variable, dropping empty elements.
func getEnvSlice(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnv gets an environment variable with a default value.
func GetEnv(key, defaultValue string) string {
	return getEnv(key, defaultValue)
}

// GetEnvInt gets an environment variable as an integer with a default value.
func GetEnvInt(key string, defaultValue int) int {
	return getEnvInt(key, defaultValue)
}

// GetEnvBool gets an environment variable as a boolean with a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	return getEnvBool(key, defaultValue)
}

// GetEnvDuration gets an environment variable as a duration with a default value.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return getEnvDuration(key, defaultValue)
}

// GetEnvFloat gets an environment variable as a float with a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	return getEnvFloat(key, defaultValue)
}

// GetEnvSlice gets a comma-separated environment variable as a slice.
func GetEnvSlice(key, defaultValue string) []string {
	return getEnvSlice(key, defaultValue)
}
