// Package render turns controller views into map frames and hands them to
// map backends.
package render

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/interaction"
)

// Feature kinds, set as the "kind" property of each feature.
const (
	KindCircle = "circle"
	KindCenter = "center"
	KindHandle = "handle"
)

// Frame is everything a backend draws for one selection.
type Frame struct {
	Center       geo.Point       `json:"center"`
	RadiusMeters float64         `json:"radius_meters"`
	Handle       geo.Point       `json:"handle"`
	Dragging     bool            `json:"dragging"`
	Polygon      geo.Ring        `json:"polygon"`
	Bounds       geo.BoundingBox `json:"bounds"`
	// Cells are the H3 cells covering the circle. Empty when the radius is
	// too large for the resolution.
	Cells []string `json:"cells,omitempty"`
}

// NewFrame builds a frame from a view, computing coverage cells at the
// view's resolution.
func NewFrame(v interaction.View) Frame {
	f := Frame{
		Center:       v.Selection.Center,
		RadiusMeters: v.Selection.RadiusMeters,
		Handle:       v.Handle,
		Dragging:     v.Dragging,
		Polygon:      v.Polygon,
		Bounds:       v.Bounds,
	}
	if v.CoverageResolution != 0 {
		if cells, err := geo.CoverCircle(f.Center, f.RadiusMeters, v.CoverageResolution); err == nil {
			f.Cells = cells
		}
	}
	return f
}

// FeatureCollection renders f as GeoJSON: the circle polygon, the center
// and the handle.
func (f Frame) FeatureCollection() *geojson.FeatureCollection {
	ring := make(orb.Ring, len(f.Polygon))
	for i, p := range f.Polygon {
		ring[i] = toOrb(p)
	}

	circle := geojson.NewFeature(orb.Polygon{ring})
	circle.Properties["kind"] = KindCircle
	circle.Properties["radius_meters"] = f.RadiusMeters
	if len(f.Cells) > 0 {
		circle.Properties["h3_cells"] = f.Cells
	}

	center := geojson.NewFeature(toOrb(f.Center))
	center.Properties["kind"] = KindCenter

	handle := geojson.NewFeature(toOrb(f.Handle))
	handle.Properties["kind"] = KindHandle
	handle.Properties["dragging"] = f.Dragging

	fc := geojson.NewFeatureCollection()
	fc.BBox = geojson.BBox{f.Bounds.MinLng, f.Bounds.MinLat, f.Bounds.MaxLng, f.Bounds.MaxLat}
	fc.Append(circle)
	fc.Append(center)
	fc.Append(handle)
	return fc
}

func toOrb(p geo.Point) orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// Renderer draws frames on one map backend.
type Renderer interface {
	Render(ctx context.Context, f Frame) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, f Frame) error

// Render calls fn.
func (fn RendererFunc) Render(ctx context.Context, f Frame) error { return fn(ctx, f) }

// Publisher adapts a Renderer to the controller's debounced consumer.
func Publisher(r Renderer) interaction.Publisher {
	return publisher{r}
}

type publisher struct{ r Renderer }

func (p publisher) Publish(ctx context.Context, v interaction.View) error {
	return p.r.Render(ctx, NewFrame(v))
}

// Multi fans a frame out to every renderer. All are called; their errors
// are joined.
func Multi(renderers ...Renderer) Renderer {
	return multi(renderers)
}

type multi []Renderer

func (m multi) Render(ctx context.Context, f Frame) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Render(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
