package interaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/geocode"
	"github.com/mycobrun/cobrun-picker/logging"
	"github.com/mycobrun/cobrun-picker/radius"
)

var (
	london = geo.Point{Lat: 51.5072, Lng: -0.1276}
	paris  = geo.Point{Lat: 48.8566, Lng: 2.3522}
	origin = geo.Point{Lat: 0, Lng: 0}
)

type recordingPublisher struct {
	mu    sync.Mutex
	views []View
}

func (p *recordingPublisher) Publish(_ context.Context, v View) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, v)
	return nil
}

func (p *recordingPublisher) all() []View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]View(nil), p.views...)
}

type fixture struct {
	ctrl      *Controller
	clock     *fakeclock.FakeClock
	publisher *recordingPublisher
	notifier  *logging.Notifier
	changes   *[]View
}

func newFixture(t *testing.T, g geocode.Geocoder) *fixture {
	t.Helper()
	model, err := radius.NewModel(radius.DefaultConfig())
	require.NoError(t, err)

	f := &fixture{
		clock:     fakeclock.NewFakeClock(time.Now()),
		publisher: &recordingPublisher{},
		notifier:  logging.NewNotifier(nil),
		changes:   &[]View{},
	}
	f.ctrl = NewController(model, Dependencies{
		Geocoder:  g,
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Listener:  ListenerFunc(func(v View) { *f.changes = append(*f.changes, v) }),
	}, Options{HandleDebounce: DefaultHandleDebounce, Clock: f.clock})
	t.Cleanup(f.ctrl.Close)
	return f
}

func TestController_Click(t *testing.T) {
	f := newFixture(t, nil)

	assert.True(t, f.ctrl.Click(paris))
	assert.Equal(t, paris, f.ctrl.Snapshot().Center)
	assert.Equal(t, radius.DefaultRadiusMeters, f.ctrl.Snapshot().RadiusMeters)

	assert.False(t, f.ctrl.Click(paris), "clicking the current center is a no-op")
	assert.False(t, f.ctrl.Click(geo.Point{Lat: 100}), "invalid points are ignored")
	assert.Len(t, *f.changes, 1)
}

func TestController_ClickIgnoredWhileDragging(t *testing.T) {
	f := newFixture(t, nil)

	f.ctrl.HandleDragStart()
	assert.False(t, f.ctrl.Click(paris))
	assert.Equal(t, radius.DefaultCenter, f.ctrl.Snapshot().Center)

	f.ctrl.HandleDragEnd(f.ctrl.View().Handle)
	assert.True(t, f.ctrl.Click(paris))
}

func TestController_CenterDragEndKeepsRadius(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.SetRadius(2500)

	assert.True(t, f.ctrl.CenterDragEnd(paris))
	sel := f.ctrl.Snapshot()
	assert.Equal(t, paris, sel.Center)
	assert.Equal(t, 2500.0, sel.RadiusMeters)
}

func TestController_HandleDrag(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.ctrl.CenterDragEnd(origin))

	pointer := geo.Destination(origin, 12345.6, 37)

	f.ctrl.HandleDragStart()
	assert.True(t, f.ctrl.Dragging())
	require.True(t, f.ctrl.HandleDragMove(pointer))

	v := f.ctrl.View()
	assert.InDelta(t, 12345.6, v.Selection.RadiusMeters, 1e-6)
	assert.True(t, v.HandleFollowsPointer)
	assert.Equal(t, pointer, v.Handle, "handle follows the pointer while dragging")

	require.True(t, f.ctrl.HandleDragEnd(pointer))

	v = f.ctrl.View()
	assert.False(t, v.Dragging)
	assert.False(t, v.HandleFollowsPointer)
	assert.InDelta(t, 12345.6, v.Selection.RadiusMeters, 1e-6)
	snapped := geo.Destination(origin, v.Selection.RadiusMeters, radius.HandleBearing)
	assert.True(t, geo.Equal(snapped, v.Handle, 1e-6), "handle snaps to bearing 90 on drag end")
}

func TestController_HandleDragClamps(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.ctrl.CenterDragEnd(origin))

	f.ctrl.HandleDragStart()
	f.ctrl.HandleDragMove(geo.Destination(origin, 10, 90))
	assert.Equal(t, radius.DefaultMinRadiusMeters, f.ctrl.Snapshot().RadiusMeters)

	f.ctrl.HandleDragMove(geo.Destination(origin, 200000, 90))
	assert.Equal(t, radius.DefaultMaxRadiusMeters, f.ctrl.Snapshot().RadiusMeters)
}

func TestController_MovesIgnoredWhileIdle(t *testing.T) {
	f := newFixture(t, nil)

	assert.False(t, f.ctrl.HandleDragMove(paris))
	assert.False(t, f.ctrl.HandleDragEnd(paris))
	assert.Equal(t, radius.DefaultRadiusMeters, f.ctrl.Snapshot().RadiusMeters)
	assert.Empty(t, *f.changes)
}

func TestController_MovesAppliedInOrder(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.ctrl.CenterDragEnd(origin))
	*f.changes = nil

	f.ctrl.HandleDragStart()
	for _, d := range []float64{1000, 3000, 2000} {
		f.ctrl.HandleDragMove(geo.Destination(origin, d, 90))
	}

	assert.InDelta(t, 2000, f.ctrl.Snapshot().RadiusMeters, 1e-6, "last move wins")
	require.Len(t, *f.changes, 4, "listener sees every change")
	assert.InDelta(t, 3000, (*f.changes)[2].Selection.RadiusMeters, 1e-6)
}

func TestController_PublisherIsDebounced(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.ctrl.CenterDragEnd(origin))

	f.ctrl.HandleDragStart()
	for _, d := range []float64{1000, 2000, 3000} {
		f.ctrl.HandleDragMove(geo.Destination(origin, d, 90))
	}
	assert.Empty(t, f.publisher.all(), "nothing is published before the debounce delay")

	f.clock.Increment(DefaultHandleDebounce)
	require.Eventually(t, func() bool { return len(f.publisher.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 3000, f.publisher.all()[0].Selection.RadiusMeters, 1e-6)
}

func TestController_DragEndFlushesPublisher(t *testing.T) {
	f := newFixture(t, nil)

	f.ctrl.HandleDragStart()
	f.ctrl.HandleDragEnd(geo.Destination(radius.DefaultCenter, 4000, 10))

	views := f.publisher.all()
	require.Len(t, views, 1, "drag end publishes immediately")
	assert.False(t, views[0].Dragging)
	assert.InDelta(t, 4000, views[0].Selection.RadiusMeters, 1e-6)
}

func TestController_SetRadius(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, 100.0, f.ctrl.SetRadius(-5))
	assert.Equal(t, 50000.0, f.ctrl.SetRadius(999999))
	assert.Equal(t, 1234.5, f.ctrl.SetRadius(1234.5))
}

func TestController_View(t *testing.T) {
	f := newFixture(t, nil)
	v := f.ctrl.View()

	assert.Equal(t, radius.DefaultCenter, v.Selection.Center)
	assert.Len(t, v.Polygon, geo.DefaultCirclePoints+1)
	assert.True(t, v.Bounds.Contains(v.Selection.Center))
	assert.Equal(t, geo.ResolutionForRadius(radius.DefaultRadiusMeters), v.CoverageResolution)
}

func staticGeocoder(p geo.Point, err error, calls *int) geocode.Geocoder {
	return geocode.GeocoderFunc(func(context.Context, string) (geo.Point, error) {
		*calls++
		return p, err
	})
}

func TestController_SubmitAddress(t *testing.T) {
	var calls int
	f := newFixture(t, staticGeocoder(paris, nil, &calls))

	applied, err := f.ctrl.SubmitAddress(context.Background(), "Paris")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, paris, f.ctrl.Snapshot().Center)
	assert.Equal(t, 1, calls)
}

func TestController_SubmitAddress_TooShort(t *testing.T) {
	var calls int
	f := newFixture(t, staticGeocoder(paris, nil, &calls))
	before := f.ctrl.Snapshot()

	applied, err := f.ctrl.SubmitAddress(context.Background(), "xx")
	assert.False(t, applied)
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, calls, "geocoder must not be called")
	assert.Equal(t, before, f.ctrl.Snapshot())

	notice, ok := f.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidation, notice.Code)
}

func TestController_SubmitAddress_Failures(t *testing.T) {
	tests := []struct {
		name     string
		point    geo.Point
		err      error
		wantCode string
	}{
		{"not found", geo.Point{}, apperrors.GeocodeNotFound(errors.New("zero results")), apperrors.CodeGeocodeNotFound},
		{"unavailable", geo.Point{}, errors.New("dial tcp: refused"), apperrors.CodeGeocodeUnavailable},
		{"missing coordinate", geo.Point{Lat: 999}, nil, apperrors.CodeGeocodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			f := newFixture(t, staticGeocoder(tt.point, tt.err, &calls))
			before := f.ctrl.Snapshot()

			applied, err := f.ctrl.SubmitAddress(context.Background(), "somewhere")
			assert.False(t, applied)
			assert.Equal(t, tt.wantCode, apperrors.Code(err))
			assert.Equal(t, before, f.ctrl.Snapshot(), "selection must be untouched")

			notice, ok := f.notifier.Last()
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, notice.Code)
		})
	}
}

func TestController_SubmitAddress_NoGeocoder(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.ctrl.SubmitAddress(context.Background(), "Paris")
	assert.ErrorIs(t, err, geocode.ErrUnavailable)
}

// blockingGeocoder returns each queued point once release is closed.
type blockingGeocoder struct {
	entered chan string
	release chan struct{}
	result  geo.Point
}

func (b *blockingGeocoder) Geocode(_ context.Context, address string) (geo.Point, error) {
	b.entered <- address
	<-b.release
	return b.result, nil
}

func TestController_SubmitAddress_DroppedAfterManualMove(t *testing.T) {
	g := &blockingGeocoder{entered: make(chan string, 1), release: make(chan struct{}), result: paris}
	f := newFixture(t, g)

	type outcome struct {
		applied bool
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		applied, err := f.ctrl.SubmitAddress(context.Background(), "Paris")
		done <- outcome{applied, err}
	}()

	<-g.entered
	require.True(t, f.ctrl.Click(origin))
	close(g.release)

	res := <-done
	assert.NoError(t, res.err)
	assert.False(t, res.applied, "late result must be discarded")
	assert.Equal(t, origin, f.ctrl.Snapshot().Center)
}

func TestController_SubmitAddress_SupersededByNewerLookup(t *testing.T) {
	slow := &blockingGeocoder{entered: make(chan string, 1), release: make(chan struct{}), result: paris}
	var fastCalls int
	fast := staticGeocoder(london, nil, &fastCalls)

	var mu sync.Mutex
	first := true
	f := newFixture(t, geocode.GeocoderFunc(func(ctx context.Context, address string) (geo.Point, error) {
		mu.Lock()
		isFirst := first
		first = false
		mu.Unlock()
		if isFirst {
			return slow.Geocode(ctx, address)
		}
		return fast.Geocode(ctx, address)
	}))
	require.True(t, f.ctrl.Click(origin))

	done := make(chan bool, 1)
	go func() {
		applied, _ := f.ctrl.SubmitAddress(context.Background(), "Paris")
		done <- applied
	}()
	<-slow.entered

	applied, err := f.ctrl.SubmitAddress(context.Background(), "London")
	require.NoError(t, err)
	assert.True(t, applied)

	close(slow.release)
	assert.False(t, <-done, "older lookup must be discarded")
	assert.Equal(t, london, f.ctrl.Snapshot().Center)
}

func TestController_Recenter(t *testing.T) {
	tests := []struct {
		name    string
		locator Locator
		want    geo.Point
	}{
		{"located", LocatorFunc(func(context.Context) (geo.Point, error) { return paris, nil }), paris},
		{"denied", LocatorFunc(func(context.Context) (geo.Point, error) { return geo.Point{}, ErrLocationUnavailable }), radius.DefaultCenter},
		{"invalid position", LocatorFunc(func(context.Context) (geo.Point, error) { return geo.Point{Lat: -100}, nil }), radius.DefaultCenter},
		{"no locator", nil, radius.DefaultCenter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			require.True(t, f.ctrl.Click(origin))

			got := f.ctrl.Recenter(context.Background(), tt.locator)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, f.ctrl.Snapshot().Center)

			_, ok := f.notifier.Last()
			assert.False(t, ok, "recenter never notifies")
		})
	}
}
