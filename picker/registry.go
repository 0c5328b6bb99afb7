package picker

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/mycobrun/cobrun-picker/auth"
	"github.com/mycobrun/cobrun-picker/confirm"
	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/geocode"
	"github.com/mycobrun/cobrun-picker/interaction"
	"github.com/mycobrun/cobrun-picker/logging"
	"github.com/mycobrun/cobrun-picker/messaging"
	"github.com/mycobrun/cobrun-picker/radius"
	"github.com/mycobrun/cobrun-picker/render"
	"github.com/mycobrun/cobrun-picker/telemetry"
)

// DefaultIdleTimeout is how long an untouched session lives.
const DefaultIdleTimeout = 30 * time.Minute

// Config holds the engine settings shared by every session.
type Config struct {
	Radius      radius.Config
	Interaction interaction.Options
	Confirm     confirm.Options
	IdleTimeout time.Duration
	Clock       clock.Clock
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Radius:      radius.DefaultConfig(),
		Interaction: interaction.DefaultOptions(),
		Confirm:     confirm.DefaultOptions(),
		IdleTimeout: DefaultIdleTimeout,
	}
}

// SelectionPublisher receives every confirmed selection.
type SelectionPublisher interface {
	PublishSelection(ctx context.Context, event messaging.SelectionEvent) error
}

// Dependencies are shared by every session. Only Geocoder is needed for
// address search; the rest are optional. Without Tokens any caller that
// knows a session id may drive it.
type Dependencies struct {
	Geocoder geocode.Geocoder
	SignalR  *render.SignalR
	Events   SelectionPublisher
	Tokens   *auth.JWTManager
	Metrics  *telemetry.PickerMetrics
	Audit    *logging.AuditLogger
	Logger   *logging.Logger
}

// Registry holds live sessions in memory. Idle sessions are swept whenever
// the registry is used.
type Registry struct {
	config Config
	deps   Dependencies

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config, deps Dependencies) *Registry {
	if config.Clock == nil {
		config.Clock = clock.NewClock()
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Audit == nil {
		deps.Audit = logging.NewAuditLogger("picker", deps.Logger)
	}

	return &Registry{
		config:   config,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session.
func (r *Registry) Create(ctx context.Context, opts SessionOptions) (*Session, error) {
	now := r.config.Clock.Now()
	s, err := newSession(uuid.NewString(), now, r.config, r.deps, opts)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	r.mu.Lock()
	expired := r.sweepLocked(now)
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.closeExpired(ctx, expired)
	r.deps.Metrics.SessionOpened(ctx)
	sel := s.Controller.Snapshot()
	r.deps.Audit.LogSession(ctx, logging.AuditEventPickerCreated, s.ID, logging.AuditOutcomeSuccess, map[string]any{
		"lat":           sel.Center.Lat,
		"lng":           sel.Center.Lng,
		"radius_meters": sel.RadiusMeters,
	})
	return s, nil
}

// Get returns a live session and marks it used.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	now := r.config.Clock.Now()

	r.mu.Lock()
	expired := r.sweepLocked(now)
	s, ok := r.sessions[id]
	if ok {
		s.lastAccess = now
	}
	r.mu.Unlock()

	r.closeExpired(ctx, expired)
	if !ok {
		return nil, apperrors.NotFound("picker session")
	}
	return s, nil
}

// Close ends a session.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return apperrors.NotFound("picker session")
	}

	s.Close()
	r.deps.Metrics.SessionClosed(ctx)
	r.deps.Audit.LogSession(ctx, logging.AuditEventPickerClosed, id, logging.AuditOutcomeSuccess, nil)
	return nil
}

// Sweep closes sessions idle for longer than the idle timeout and returns
// how many it closed.
func (r *Registry) Sweep(ctx context.Context) int {
	r.mu.Lock()
	expired := r.sweepLocked(r.config.Clock.Now())
	r.mu.Unlock()

	r.closeExpired(ctx, expired)
	return len(expired)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll ends every session, on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
		r.deps.Metrics.SessionClosed(ctx)
	}
}

func (r *Registry) sweepLocked(now time.Time) []*Session {
	var expired []*Session
	for id, s := range r.sessions {
		if now.Sub(s.lastAccess) > r.config.IdleTimeout {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	return expired
}

func (r *Registry) closeExpired(ctx context.Context, expired []*Session) {
	for _, s := range expired {
		s.Close()
		r.deps.Metrics.SessionClosed(ctx)
		r.deps.Audit.LogSession(ctx, logging.AuditEventPickerExpired, s.ID, logging.AuditOutcomeSuccess, map[string]any{
			"idle_timeout": r.config.IdleTimeout.String(),
		})
	}
}
