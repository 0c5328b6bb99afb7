package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Geocode outcomes.
const (
	GeocodeOutcomeOK          = "ok"
	GeocodeOutcomeInvalid     = "invalid"
	GeocodeOutcomeNotFound    = "not_found"
	GeocodeOutcomeUnavailable = "unavailable"
	GeocodeOutcomeStale       = "stale"
)

// PickerMetrics records what users do with the picker.
type PickerMetrics struct {
	confirmations  metric.Int64Counter
	confirmedRadii metric.Float64Histogram
	geocodes       metric.Int64Counter
	handleDrags    metric.Int64Counter
	renders        metric.Int64Counter
	sessions       metric.Int64UpDownCounter
	copies         metric.Int64Counter
}

// NewPickerMetrics creates picker metrics.
func NewPickerMetrics(meter metric.Meter) (*PickerMetrics, error) {
	confirmations, err := meter.Int64Counter(
		"picker_confirmations_total",
		metric.WithDescription("Total confirmed selections"),
	)
	if err != nil {
		return nil, err
	}

	confirmedRadii, err := meter.Float64Histogram(
		"picker_confirmed_radius_meters",
		metric.WithDescription("Radius of confirmed selections"),
		metric.WithUnit("m"),
		metric.WithExplicitBucketBoundaries(100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000),
	)
	if err != nil {
		return nil, err
	}

	geocodes, err := meter.Int64Counter(
		"picker_geocode_requests_total",
		metric.WithDescription("Address searches by outcome"),
	)
	if err != nil {
		return nil, err
	}

	handleDrags, err := meter.Int64Counter(
		"picker_handle_drags_total",
		metric.WithDescription("Completed radius handle drags"),
	)
	if err != nil {
		return nil, err
	}

	renders, err := meter.Int64Counter(
		"picker_renders_total",
		metric.WithDescription("Frames pushed to render backends"),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := meter.Int64UpDownCounter(
		"picker_sessions_active",
		metric.WithDescription("Open picker sessions"),
	)
	if err != nil {
		return nil, err
	}

	copies, err := meter.Int64Counter(
		"picker_link_copies_total",
		metric.WithDescription("Fallback link copy attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &PickerMetrics{
		confirmations:  confirmations,
		confirmedRadii: confirmedRadii,
		geocodes:       geocodes,
		handleDrags:    handleDrags,
		renders:        renders,
		sessions:       sessions,
		copies:         copies,
	}, nil
}

// RecordConfirmation records a confirmed selection and whether the
// hand-off was accepted.
func (m *PickerMetrics) RecordConfirmation(ctx context.Context, radiusMeters int, handedOff bool) {
	if m == nil {
		return
	}
	m.confirmations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("handed_off", handedOff)))
	m.confirmedRadii.Record(ctx, float64(radiusMeters))
}

// RecordGeocode records an address search outcome.
func (m *PickerMetrics) RecordGeocode(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.geocodes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordHandleDrag records a completed handle drag.
func (m *PickerMetrics) RecordHandleDrag(ctx context.Context) {
	if m == nil {
		return
	}
	m.handleDrags.Add(ctx, 1)
}

// RecordRender records a frame pushed to backend.
func (m *PickerMetrics) RecordRender(ctx context.Context, backend string, err error) {
	if m == nil {
		return
	}
	m.renders.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.Bool("error", err != nil),
	))
}

// SessionOpened and SessionClosed track open sessions.
func (m *PickerMetrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

func (m *PickerMetrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, -1)
}

// RecordCopy records a fallback copy attempt.
func (m *PickerMetrics) RecordCopy(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.copies.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}
