// Package radius holds the picker selection (a center and a radius) and
// everything derived from it.
package radius

import (
	"fmt"
	"math"

	"github.com/mycobrun/cobrun-picker/geo"
)

const (
	// DefaultMinRadiusMeters is the smallest radius a selection can hold.
	DefaultMinRadiusMeters = 100.0
	// DefaultMaxRadiusMeters is the largest radius a selection can hold.
	DefaultMaxRadiusMeters = 50000.0
	// DefaultRadiusMeters is the radius a new selection starts with.
	DefaultRadiusMeters = 1000.0

	// HandleBearing is the bearing at which the edge handle is drawn (east).
	HandleBearing = 90.0

	// CenterEpsilonMeters is the distance under which SetCenter is a no-op.
	CenterEpsilonMeters = geo.DefaultToleranceMeters
)

// DefaultCenter is central London.
var DefaultCenter = geo.Point{Lat: 51.5072, Lng: -0.1276}

// Config bounds and seeds a Model.
type Config struct {
	MinRadiusMeters     float64
	MaxRadiusMeters     float64
	CirclePoints        int
	DefaultCenter       geo.Point
	DefaultRadiusMeters float64
}

// DefaultConfig returns the picker defaults.
func DefaultConfig() Config {
	return Config{
		MinRadiusMeters:     DefaultMinRadiusMeters,
		MaxRadiusMeters:     DefaultMaxRadiusMeters,
		CirclePoints:        geo.DefaultCirclePoints,
		DefaultCenter:       DefaultCenter,
		DefaultRadiusMeters: DefaultRadiusMeters,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if !(c.MinRadiusMeters > 0) || math.IsInf(c.MinRadiusMeters, 0) {
		return fmt.Errorf("min radius must be a positive number, got %v", c.MinRadiusMeters)
	}
	if !(c.MaxRadiusMeters >= c.MinRadiusMeters) || math.IsInf(c.MaxRadiusMeters, 0) {
		return fmt.Errorf("max radius %v must be finite and >= min radius %v", c.MaxRadiusMeters, c.MinRadiusMeters)
	}
	if c.CirclePoints < 3 {
		return fmt.Errorf("circle points must be at least 3, got %d", c.CirclePoints)
	}
	if !c.DefaultCenter.IsValid() {
		return fmt.Errorf("default center %v is not a valid coordinate", c.DefaultCenter)
	}
	return nil
}

// Clamp maps any value into [MinRadiusMeters, MaxRadiusMeters]. NaN and
// negative values become the minimum, +Inf becomes the maximum.
func (c Config) Clamp(meters float64) float64 {
	if math.IsNaN(meters) || meters < c.MinRadiusMeters {
		return c.MinRadiusMeters
	}
	if meters > c.MaxRadiusMeters {
		return c.MaxRadiusMeters
	}
	return meters
}

// Selection is a center and a radius in meters.
type Selection struct {
	Center       geo.Point `json:"center"`
	RadiusMeters float64   `json:"radius_meters"`
}

// Model owns one Selection. Handle position and polygon are projections of it
// and are recomputed on every read.
//
// A Model is not safe for concurrent use.
type Model struct {
	config    Config
	selection Selection
}

// NewModel creates a model seeded with the configured default center and radius.
func NewModel(config Config) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid radius config: %w", err)
	}

	return &Model{
		config: config,
		selection: Selection{
			Center:       config.DefaultCenter,
			RadiusMeters: config.Clamp(config.DefaultRadiusMeters),
		},
	}, nil
}

// Config returns the model's configuration.
func (m *Model) Config() Config {
	return m.config
}

// SetCenter moves the center and keeps the radius. It reports whether the
// selection changed; a point within CenterEpsilonMeters of the current center
// is ignored.
func (m *Model) SetCenter(p geo.Point) bool {
	if geo.Equal(p, m.selection.Center, CenterEpsilonMeters) {
		return false
	}
	m.selection.Center = p
	return true
}

// SetRadius clamps meters into the configured range and stores it, keeping
// the center. It returns the stored value.
func (m *Model) SetRadius(meters float64) float64 {
	m.selection.RadiusMeters = m.config.Clamp(meters)
	return m.selection.RadiusMeters
}

// SetRadiusFromHandleDrag sets the radius to the distance between the
// center and the dragged handle. Only the distance counts, not the bearing.
func (m *Model) SetRadiusFromHandleDrag(handle geo.Point) float64 {
	return m.SetRadius(geo.Distance(m.selection.Center, handle))
}

// Center returns the current center.
func (m *Model) Center() geo.Point {
	return m.selection.Center
}

// RadiusMeters returns the current radius.
func (m *Model) RadiusMeters() float64 {
	return m.selection.RadiusMeters
}

// HandlePosition is the point on the circle due east of the center.
func (m *Model) HandlePosition() geo.Point {
	return geo.Destination(m.selection.Center, m.selection.RadiusMeters, HandleBearing)
}

// Polygon is the closed ring used to draw the circle.
func (m *Model) Polygon() geo.Ring {
	return geo.CirclePolygon(m.selection.Center, m.selection.RadiusMeters, m.config.CirclePoints)
}

// Snapshot returns a copy of the current selection.
func (m *Model) Snapshot() Selection {
	return m.selection
}
