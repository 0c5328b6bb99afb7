package render

import (
	"context"
	"sync"

	"github.com/paulmach/orb/geojson"
)

// GeoJSON keeps the latest frame as a feature collection for polling
// clients.
type GeoJSON struct {
	mu     sync.RWMutex
	frame  *Frame
	fc     *geojson.FeatureCollection
	frames int
}

// NewGeoJSON creates an empty GeoJSON backend.
func NewGeoJSON() *GeoJSON {
	return &GeoJSON{}
}

// Render implements Renderer.
func (g *GeoJSON) Render(_ context.Context, f Frame) error {
	fc := f.FeatureCollection()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.frame = &f
	g.fc = fc
	g.frames++
	return nil
}

// Latest returns the most recently rendered collection.
func (g *GeoJSON) Latest() (*geojson.FeatureCollection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fc, g.fc != nil
}

// LatestFrame returns the most recently rendered frame.
func (g *GeoJSON) LatestFrame() (Frame, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.frame == nil {
		return Frame{}, false
	}
	return *g.frame, true
}

// Frames returns how many frames have been rendered.
func (g *GeoJSON) Frames() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frames
}
