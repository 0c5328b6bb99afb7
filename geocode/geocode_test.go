package geocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/maps"
	"github.com/mycobrun/cobrun-picker/resilience"
)

var _ Geocoder = (*maps.Client)(nil)

var london = geo.Point{Lat: 51.5072, Lng: -0.1276}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"London", "London", false},
		{"  10 Downing St  ", "10 Downing St", false},
		{"abc", "abc", false},
		{"xx", "", true},
		{"   xx   ", "", true},
		{"", "", true},
		{"   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ValidateAddress(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookup_ShortAddressNeverReachesGeocoder(t *testing.T) {
	called := false
	g := GeocoderFunc(func(context.Context, string) (geo.Point, error) {
		called = true
		return london, nil
	})

	_, err := Lookup(context.Background(), g, "xx")
	assert.True(t, apperrors.IsValidation(err))
	assert.False(t, called)
}

func TestLookup_PassesTrimmedAddress(t *testing.T) {
	var got string
	g := GeocoderFunc(func(_ context.Context, address string) (geo.Point, error) {
		got = address
		return london, nil
	})

	p, err := Lookup(context.Background(), g, "  London ")
	require.NoError(t, err)
	assert.Equal(t, london, p)
	assert.Equal(t, "London", got)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		p    geo.Point
		err  error
		want error
	}{
		{"ok", london, nil, nil},
		{"invalid coordinate", geo.Point{Lat: 91}, nil, ErrNotFound},
		{"not found passes through", geo.Point{}, apperrors.GeocodeNotFound(errors.New("x")), ErrNotFound},
		{"unavailable passes through", geo.Point{}, apperrors.GeocodeUnavailable(errors.New("x")), ErrUnavailable},
		{"plain error", geo.Point{}, errors.New("boom"), ErrUnavailable},
		{"context", geo.Point{}, context.DeadlineExceeded, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Classify(tt.p, tt.err)
			if tt.want == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.p, p)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, geo.Point{}, p)
		})
	}
}

func newTestBreaker(next Geocoder) (*Breaker, *fakeclock.FakeClock) {
	fc := fakeclock.NewFakeClock(time.Now())
	cfg := BreakerConfig(2, time.Minute)
	cfg.Clock = fc
	return NewBreaker(next, resilience.NewCircuitBreaker(cfg)), fc
}

func TestBreaker_NotFoundDoesNotTrip(t *testing.T) {
	b, _ := newTestBreaker(GeocoderFunc(func(context.Context, string) (geo.Point, error) {
		return geo.Point{}, apperrors.GeocodeNotFound(errors.New("zero results"))
	}))

	for i := 0; i < 5; i++ {
		_, err := b.Geocode(context.Background(), "nowhere")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestBreaker_OpensOnUnavailable(t *testing.T) {
	calls := 0
	b, fc := newTestBreaker(GeocoderFunc(func(context.Context, string) (geo.Point, error) {
		calls++
		return geo.Point{}, errors.New("connection refused")
	}))

	for i := 0; i < 2; i++ {
		_, err := b.Geocode(context.Background(), "London")
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	require.Equal(t, resilience.StateOpen, b.State())

	_, err := b.Geocode(context.Background(), "London")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open circuit must not call through")

	fc.Increment(time.Minute)
	_, _ = b.Geocode(context.Background(), "London")
	assert.Equal(t, 3, calls, "half-open circuit lets a probe through")
}

func TestBreaker_Success(t *testing.T) {
	b, _ := newTestBreaker(GeocoderFunc(func(context.Context, string) (geo.Point, error) {
		return london, nil
	}))

	p, err := b.Geocode(context.Background(), "London")
	require.NoError(t, err)
	assert.Equal(t, london, p)
}
