package render

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/interaction"
	"github.com/mycobrun/cobrun-picker/radius"
)

func testView(t *testing.T) interaction.View {
	t.Helper()
	model, err := radius.NewModel(radius.DefaultConfig())
	require.NoError(t, err)
	ctrl := interaction.NewController(model, interaction.Dependencies{}, interaction.Options{})
	t.Cleanup(ctrl.Close)
	return ctrl.View()
}

func TestNewFrame(t *testing.T) {
	v := testView(t)
	f := NewFrame(v)

	assert.Equal(t, v.Selection.Center, f.Center)
	assert.Equal(t, v.Selection.RadiusMeters, f.RadiusMeters)
	assert.Equal(t, v.Handle, f.Handle)
	assert.Len(t, f.Polygon, geo.DefaultCirclePoints+1)
	assert.NotEmpty(t, f.Cells, "coverage cells are computed at the view resolution")
}

func TestNewFrame_NoResolutionNoCells(t *testing.T) {
	v := testView(t)
	v.CoverageResolution = 0
	assert.Empty(t, NewFrame(v).Cells)
}

func TestFrame_FeatureCollection(t *testing.T) {
	f := NewFrame(testView(t))
	fc := f.FeatureCollection()

	require.Len(t, fc.Features, 3)

	circle := fc.Features[0]
	assert.Equal(t, KindCircle, circle.Properties["kind"])
	poly, ok := circle.Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)
	assert.Len(t, poly[0], len(f.Polygon))
	assert.Equal(t, orb.Point{f.Polygon[0].Lng, f.Polygon[0].Lat}, poly[0][0], "GeoJSON order is lng, lat")

	assert.Equal(t, KindCenter, fc.Features[1].Properties["kind"])
	assert.Equal(t, orb.Point{f.Center.Lng, f.Center.Lat}, fc.Features[1].Geometry)
	assert.Equal(t, KindHandle, fc.Features[2].Properties["kind"])

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"FeatureCollection"`)
	assert.Contains(t, string(data), `"bbox"`)
}

func TestGeoJSON(t *testing.T) {
	g := NewGeoJSON()
	_, ok := g.Latest()
	assert.False(t, ok)

	f := NewFrame(testView(t))
	require.NoError(t, g.Render(context.Background(), f))

	fc, ok := g.Latest()
	require.True(t, ok)
	assert.Len(t, fc.Features, 3)

	got, ok := g.LatestFrame()
	require.True(t, ok)
	assert.Equal(t, f.Center, got.Center)
	assert.Equal(t, 1, g.Frames())
}

func TestPublisher(t *testing.T) {
	rec := NewRecorder(nil)
	v := testView(t)

	require.NoError(t, Publisher(rec).Publish(context.Background(), v))

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, v.Selection.RadiusMeters, last.RadiusMeters)
}

func TestMulti(t *testing.T) {
	errA := errors.New("a failed")
	a := NewRecorder(errA)
	b := NewRecorder(nil)

	err := Multi(a, nil, b).Render(context.Background(), Frame{RadiusMeters: 100})
	assert.ErrorIs(t, err, errA)
	assert.Len(t, a.Frames(), 1)
	assert.Len(t, b.Frames(), 1, "a failing renderer does not stop the others")

	assert.NoError(t, Multi().Render(context.Background(), Frame{}))
}
