package confirm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/radius"
)

func selection(lat, lng, r float64) radius.Selection {
	return radius.Selection{Center: geo.NewPoint(lat, lng), RadiusMeters: r}
}

func TestNewResult_London(t *testing.T) {
	got := NewResult(selection(51.5072, -0.1276, 5000.4))

	assert.Equal(t, Result{
		Latitude:     51.5072,
		Longitude:    -0.1276,
		RadiusMeters: 5000,
		DeepLinkURI:  "myapp://location-picker?lat=51.5072&lng=-0.1276&radius=5000",
	}, got)
}

func TestNewResult_Rounding(t *testing.T) {
	tests := []struct {
		name    string
		sel     radius.Selection
		wantURI string
	}{
		{"six decimals", selection(12.34567891, 98.76543219, 100), "myapp://location-picker?lat=12.345679&lng=98.765432&radius=100"},
		{"radius half rounds up", selection(0, 0, 100.5), "myapp://location-picker?lat=0&lng=0&radius=101"},
		{"radius below half", selection(0, 0, 49999.49), "myapp://location-picker?lat=0&lng=0&radius=49999"},
		{"negative coordinates", selection(-33.8688197, -151.2092954, 2500), "myapp://location-picker?lat=-33.86882&lng=-151.209295&radius=2500"},
		{"negative zero", selection(-0.0000001, -0.0000004, 100), "myapp://location-picker?lat=0&lng=0&radius=100"},
		{"integral coordinates", selection(10, -20, 1000), "myapp://location-picker?lat=10&lng=-20&radius=1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantURI, NewResult(tt.sel).DeepLinkURI)
		})
	}
}

func TestNewResult_Deterministic(t *testing.T) {
	sel := selection(40.712776, -74.005974, 1234.5)
	assert.Equal(t, NewResult(sel), NewResult(sel))
}

func TestParseDeepLink(t *testing.T) {
	r, err := ParseDeepLink("myapp://location-picker?lat=51.5072&lng=-0.1276&radius=5000")
	require.NoError(t, err)
	assert.Equal(t, NewResult(selection(51.5072, -0.1276, 5000)), r)

	sel := r.Selection()
	assert.Equal(t, 5000.0, sel.RadiusMeters)
	assert.Equal(t, geo.NewPoint(51.5072, -0.1276), sel.Center)
}

func TestParseDeepLink_CanonicalisesFieldOrder(t *testing.T) {
	r, err := ParseDeepLink("myapp://location-picker?radius=100&lng=2&lat=1")
	require.NoError(t, err)
	assert.Equal(t, "myapp://location-picker?lat=1&lng=2&radius=100", r.DeepLinkURI)
}

func TestParseDeepLink_Errors(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		wantCode string
	}{
		{"wrong scheme", "https://location-picker?lat=1&lng=2&radius=3", apperrors.CodeBadRequest},
		{"wrong host", "myapp://elsewhere?lat=1&lng=2&radius=3", apperrors.CodeBadRequest},
		{"malformed", "myapp://%zz", apperrors.CodeBadRequest},
		{"missing lat", "myapp://location-picker?lng=2&radius=3", apperrors.CodeValidation},
		{"fractional radius", "myapp://location-picker?lat=1&lng=2&radius=3.5", apperrors.CodeValidation},
		{"out of range", "myapp://location-picker?lat=91&lng=2&radius=3", apperrors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDeepLink(tt.uri)
			assert.Equal(t, tt.wantCode, apperrors.Code(err), "err = %v", err)
		})
	}
}
