// Package picker hosts radius picker sessions for thin map clients over HTTP.
package picker

import (
	"context"
	"fmt"
	"time"

	"github.com/mycobrun/cobrun-picker/confirm"
	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/interaction"
	"github.com/mycobrun/cobrun-picker/logging"
	"github.com/mycobrun/cobrun-picker/radius"
	"github.com/mycobrun/cobrun-picker/render"
	"github.com/mycobrun/cobrun-picker/telemetry"
)

// Render backend names used in metrics.
const (
	backendGeoJSON = "geojson"
	backendSignalR = "signalr"
)

// Session is one user's picker: a selection, its controller, its
// confirmation flow and the latest rendered frame.
type Session struct {
	ID        string
	CreatedAt time.Time

	Controller *interaction.Controller
	Flow       *confirm.Flow
	Notices    *logging.Notifier
	Frames     *render.GeoJSON

	lastAccess time.Time
}

// SessionOptions seed a new session. Zero values keep the configured
// defaults.
type SessionOptions struct {
	Center       *geo.Point
	RadiusMeters *float64
}

func newSession(id string, now time.Time, cfg Config, deps Dependencies, opts SessionOptions) (*Session, error) {
	model, err := radius.NewModel(cfg.Radius)
	if err != nil {
		return nil, err
	}
	if opts.Center != nil {
		if !opts.Center.IsValid() {
			return nil, fmt.Errorf("invalid center %v", *opts.Center)
		}
		model.SetCenter(*opts.Center)
	}
	if opts.RadiusMeters != nil {
		model.SetRadius(*opts.RadiusMeters)
	}

	logger := deps.Logger.WithSession(id)
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		Notices:    logging.NewNotifier(logger),
		Frames:     render.NewGeoJSON(),
		lastAccess: now,
	}

	// The GeoJSON frame tracks every change so reads are never behind;
	// remote backends only see the debounced stream.
	listener := interaction.ListenerFunc(func(v interaction.View) {
		err := s.Frames.Render(context.Background(), render.NewFrame(v))
		deps.Metrics.RecordRender(context.Background(), backendGeoJSON, err)
	})

	var publisher interaction.Publisher
	if deps.SignalR != nil {
		publisher = render.Publisher(instrumented(deps.SignalR.ForSession(id), backendSignalR, deps.Metrics))
	}

	iopts := cfg.Interaction
	if iopts.Clock == nil {
		iopts.Clock = cfg.Clock
	}
	s.Controller = interaction.NewController(model, interaction.Dependencies{
		Geocoder:  deps.Geocoder,
		Notifier:  s.Notices,
		Listener:  listener,
		Publisher: publisher,
		Logger:    logger,
	}, iopts)

	copts := cfg.Confirm
	if copts.Clock == nil {
		copts.Clock = cfg.Clock
	}
	// The client performs the navigation, so handing off never fails here.
	s.Flow = confirm.NewFlow(confirm.HandoffFunc(func(context.Context, string) error { return nil }), logger, copts)

	listener(s.Controller.View())
	return s, nil
}

// Close stops the session's timers and pending renders.
func (s *Session) Close() {
	s.Controller.Close()
	s.Flow.Close()
}

func instrumented(r render.Renderer, backend string, metrics *telemetry.PickerMetrics) render.Renderer {
	return render.RendererFunc(func(ctx context.Context, f render.Frame) error {
		err := r.Render(ctx, f)
		metrics.RecordRender(ctx, backend, err)
		return err
	})
}
