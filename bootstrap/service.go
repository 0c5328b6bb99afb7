// Package bootstrap wires a picker host from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mycobrun/cobrun-picker/auth"
	"github.com/mycobrun/cobrun-picker/config"
	"github.com/mycobrun/cobrun-picker/database"
	"github.com/mycobrun/cobrun-picker/geocode"
	"github.com/mycobrun/cobrun-picker/health"
	pickerhttp "github.com/mycobrun/cobrun-picker/http"
	"github.com/mycobrun/cobrun-picker/logging"
	"github.com/mycobrun/cobrun-picker/maps"
	"github.com/mycobrun/cobrun-picker/messaging"
	"github.com/mycobrun/cobrun-picker/picker"
	"github.com/mycobrun/cobrun-picker/render"
	"github.com/mycobrun/cobrun-picker/resilience"
	"github.com/mycobrun/cobrun-picker/telemetry"
)

const (
	sweepInterval          = time.Minute
	redisCheckTimeout      = 2 * time.Second
	geocodeRateLimitPrefix = "picker:ratelimit:"
)

// Service holds all initialized components of a picker host.
type Service struct {
	Config   *config.Config
	Logger   *logging.Logger
	Tracing  *telemetry.TracingProvider
	Metrics  *telemetry.MetricsProvider
	Breakers *resilience.CircuitBreakerRegistry
	Redis    *redis.Client // nil when REDIS_HOST is unset
	Geocoder geocode.Geocoder
	SignalR  *render.SignalR      // nil when SignalR is not configured
	Events   *messaging.Publisher // nil when Service Bus is not configured
	Registry *picker.Registry
	Health   *health.Checker
	Router   chi.Router

	limiter *pickerhttp.RateLimiter
	clock   clock.Clock
}

// Options overrides collaborators, mostly for tests.
type Options struct {
	Clock clock.Clock

	// Geocoder replaces the Google Maps client. It is still wrapped in the
	// geocode circuit breaker.
	Geocoder geocode.Geocoder

	// Events replaces the Service Bus publisher.
	Events picker.SelectionPublisher

	SpanExporter  sdktrace.SpanExporter
	MetricsReader sdkmetric.Reader
}

// Initialize loads configuration for serviceName and builds the host.
func Initialize(ctx context.Context, serviceName string, opts Options) (*Service, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return New(ctx, cfg, opts)
}

// New builds a host from cfg. On error everything created so far is
// released.
func New(ctx context.Context, cfg *config.Config, opts Options) (svc *Service, err error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	logger := logging.NewLogger(cfg.LogLevel).WithService(cfg.ServiceName)
	logger.InfoContext(ctx, "starting picker host",
		"environment", cfg.Environment,
		"version", cfg.Version,
		"key_vault", valueOrNone(cfg.KeyVaultName))

	s := &Service{
		Config:   cfg,
		Logger:   logger,
		Breakers: resilience.NewCircuitBreakerRegistry(),
		clock:    clk,
	}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	if err := s.initTelemetry(ctx, opts); err != nil {
		return nil, err
	}
	if err := s.initRedis(ctx); err != nil {
		return nil, err
	}
	s.initGeocoder(opts)
	if err := s.initSignalR(); err != nil {
		return nil, err
	}
	events, err := s.initEvents(opts)
	if err != nil {
		return nil, err
	}

	tokens, err := s.sessionTokens()
	if err != nil {
		return nil, err
	}

	pickerMetrics, err := telemetry.NewPickerMetrics(s.Metrics.Meter())
	if err != nil {
		return nil, fmt.Errorf("failed to create picker metrics: %w", err)
	}

	s.Registry = picker.NewRegistry(picker.Config{
		Radius:      cfg.RadiusConfig(),
		Interaction: cfg.InteractionOptions(),
		Confirm:     cfg.ConfirmOptions(),
		IdleTimeout: cfg.SessionIdleTimeout,
		Clock:       clk,
	}, picker.Dependencies{
		Geocoder: s.Geocoder,
		SignalR:  s.SignalR,
		Events:   events,
		Tokens:   tokens,
		Metrics:  pickerMetrics,
		Audit:    logging.NewAuditLogger(cfg.ServiceName, logger),
		Logger:   logger,
	})

	s.initHealth()

	if err := s.initRouter(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initTelemetry(ctx context.Context, opts Options) error {
	cfg := s.Config

	tracing, err := telemetry.NewTracingProvider(ctx, telemetry.TracingConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
		Insecure:       cfg.IsDevelopment(),
		Exporter:       opts.SpanExporter,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.Tracing = tracing

	metrics, err := telemetry.NewMetricsProvider(ctx, telemetry.MetricsConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.IsDevelopment(),
		Reader:         opts.MetricsReader,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	s.Metrics = metrics
	return nil
}

func (s *Service) initRedis(ctx context.Context) error {
	cfg := s.Config
	if cfg.RedisHost == "" {
		s.Logger.InfoContext(ctx, "redis not configured, geocode rate limiting is per process only")
		return nil
	}

	rc := database.DefaultRedisConfig()
	rc.Host = cfg.RedisHost
	rc.Port = cfg.RedisPort
	rc.Password = cfg.RedisPassword
	rc.DB = cfg.RedisDB
	rc.TLSEnabled = cfg.RedisTLS
	rc.Retry.Clock = s.clock

	client, err := database.NewRedisClient(ctx, rc, s.Logger)
	if err != nil {
		return err
	}
	s.Redis = client
	return nil
}

func (s *Service) initGeocoder(opts Options) {
	cfg := s.Config

	next := opts.Geocoder
	if next == nil && cfg.GoogleMapsAPIKey != "" {
		var limiter maps.RateLimiter = maps.NewNoopRateLimiter()
		if s.Redis != nil {
			limiter = maps.NewRedisRateLimiter(s.Redis, &maps.RateLimiterConfig{
				KeyPrefix: geocodeRateLimitPrefix,
				Limit:     cfg.GeocodeRateLimit,
				Window:    time.Minute,
			})
		}

		mapsConfig := maps.DefaultConfig(cfg.GoogleMapsAPIKey)
		mapsConfig.BaseURL = cfg.GoogleMapsBaseURL
		mapsConfig.Timeout = cfg.GeocodeTimeout
		mapsConfig.MaxRetries = cfg.GeocodeMaxRetries

		next = maps.NewClient(mapsConfig, s.Logger, maps.NewTracer(s.Tracing.Tracer()), limiter)
	}
	if next == nil {
		s.Logger.Warn("no geocoder configured, address search is disabled")
		return
	}

	bc := geocode.BreakerConfig(cfg.GeocodeBreakerThreshold, cfg.GeocodeBreakerTimeout)
	bc.Clock = s.clock
	bc.OnStateChange = s.logBreakerChange
	s.Geocoder = geocode.NewBreaker(next, s.Breakers.GetWithConfig(bc))
}

func (s *Service) initSignalR() error {
	cfg := s.Config
	if cfg.SignalRConnectionString == "" {
		return nil
	}

	bc := resilience.DefaultCircuitBreakerConfig("signalr")
	bc.Clock = s.clock
	bc.OnStateChange = s.logBreakerChange

	hc := resilience.DefaultResilientHTTPClientConfig("signalr")
	hc.CircuitBreaker = s.Breakers.GetWithConfig(bc)
	hc.Clock = s.clock

	sr, err := render.NewSignalR(render.SignalRConfig{
		ConnectionString: cfg.SignalRConnectionString,
		HubName:          cfg.SignalRHub,
	}, resilience.NewResilientHTTPClient(hc), s.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize SignalR: %w", err)
	}
	s.SignalR = sr
	return nil
}

func (s *Service) initEvents(opts Options) (picker.SelectionPublisher, error) {
	if opts.Events != nil {
		return opts.Events, nil
	}

	cfg := s.Config
	sb := messaging.ServiceBusConfig{
		Namespace:        cfg.ServiceBusNamespace,
		ConnectionString: cfg.ServiceBusConnectionString,
		Topic:            cfg.SelectionTopic,
	}
	if !sb.Enabled() {
		return nil, nil
	}

	p, err := messaging.NewPublisher(sb)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize selection publisher: %w", err)
	}
	s.Events = p
	s.Logger.Info("publishing selections", "topic", p.Topic())
	return p, nil
}

func (s *Service) sessionTokens() (*auth.JWTManager, error) {
	cfg := s.Config
	if cfg.SessionTokenSecret == "" {
		if !cfg.IsDevelopment() {
			s.Logger.Warn("session tokens disabled, any caller with a session id can drive it")
		}
		return nil, nil
	}

	tc := auth.DefaultJWTConfig(cfg.SessionTokenSecret)
	tc.Issuer = cfg.ServiceName
	tc.Expiry = cfg.SessionTokenTTL
	tc.Clock = s.clock

	tokens, err := auth.NewJWTManager(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session tokens: %w", err)
	}
	return tokens, nil
}

func (s *Service) logBreakerChange(name string, from, to resilience.CircuitState) {
	s.Logger.Warn("circuit breaker state changed",
		"breaker", name,
		"from", from.String(),
		"to", to.String())
}

func (s *Service) initHealth() {
	s.Health = health.NewChecker(s.Config.Version)

	// Open circuits degrade readiness but never fail it.
	for _, m := range s.Breakers.AllMetrics() {
		s.Health.AddCheck(m.Name, health.BreakerCheck(m.Name, s.Breakers.Get(m.Name)), false)
	}
	if s.Redis != nil {
		s.Health.AddCheck("redis", health.RedisCheck(s.Redis, redisCheckTimeout), false)
	}
}

func (s *Service) initRouter() error {
	cfg := s.Config

	httpMetrics, err := telemetry.NewHTTPMetrics(s.Metrics.Meter())
	if err != nil {
		return fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	s.limiter = pickerhttp.NewRateLimiter(pickerhttp.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		ExcludeFunc:       isProbe,
		Clock:             s.clock,
	})

	r := chi.NewRouter()
	r.Use(pickerhttp.RequestID)
	r.Use(pickerhttp.RealIP)
	r.Use(pickerhttp.Recoverer(s.Logger))
	r.Use(pickerhttp.Logger(s.Logger))
	r.Use(pickerhttp.SecurityHeaders)
	r.Use(pickerhttp.CORS(cfg.CORSAllowedOrigins))
	r.Use(telemetry.TracingMiddleware(s.Tracing.Tracer()))
	r.Use(telemetry.MetricsMiddleware(httpMetrics, routePattern))
	r.Use(s.limiter.Middleware)
	if cfg.WriteTimeout > 0 {
		r.Use(pickerhttp.Timeout(cfg.WriteTimeout))
	}

	r.Get("/healthz", s.Health.LivenessHandler())
	r.Get("/readyz", s.Health.ReadinessHandler())
	r.Mount("/v1/pickers", picker.NewHandler(s.Registry).Routes())

	s.Router = r
	return nil
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/healthz" || r.URL.Path == "/readyz"
}

// routePattern keeps session ids out of metric labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// Run serves on the configured port until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.sweep(ctx)
	return s.server().Run(ctx)
}

// Serve is Run on an existing listener.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.sweep(ctx)
	return s.server().Serve(ctx, ln)
}

func (s *Service) server() *pickerhttp.Server {
	cfg := s.Config
	return pickerhttp.NewServer(pickerhttp.ServerConfig{
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, s.Router, s.Logger)
}

// sweep expires idle sessions until ctx is done, so abandoned sessions are
// released without waiting for the next request.
func (s *Service) sweep(ctx context.Context) {
	ticker := s.clock.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if n := s.Registry.Sweep(ctx); n > 0 {
				s.Logger.DebugContext(ctx, "expired idle picker sessions", "count", n)
			}
		}
	}
}

// Close releases every resource. It is safe to call on a partly built
// Service.
func (s *Service) Close(ctx context.Context) error {
	var errs []error

	if s.Registry != nil {
		s.Registry.CloseAll(ctx)
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.Events != nil {
		if err := s.Events.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("service bus: %w", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if s.Tracing != nil {
		if err := s.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	if s.Metrics != nil {
		if err := s.Metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	return errors.Join(errs...)
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none - using env vars)"
	}
	return s
}
