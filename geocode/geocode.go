// Package geocode defines the address lookup boundary used by the picker.
// Implementations live elsewhere (see package maps); this package owns the
// contract, input validation and error normalization.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/validation"
)

// MinAddressLength is the shortest trimmed address sent to a Geocoder.
const MinAddressLength = 3

// The two failure kinds a lookup can end in.
var (
	ErrNotFound    = apperrors.ErrGeocodeNotFound
	ErrUnavailable = apperrors.ErrGeocodeUnavailable
)

// Geocoder resolves a free-text address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Point, error)
}

// GeocoderFunc adapts a function to Geocoder.
type GeocoderFunc func(ctx context.Context, address string) (geo.Point, error)

// Geocode calls f.
func (f GeocoderFunc) Geocode(ctx context.Context, address string) (geo.Point, error) {
	return f(ctx, address)
}

// ValidateAddress trims address and checks it is long enough to look up.
func ValidateAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if err := validation.ValidateVar(trimmed, fmt.Sprintf("required,min=%d", MinAddressLength)); err != nil {
		details := validation.ParseValidationErrors(err).Details()
		if details == nil {
			details = map[string]string{"address": err.Error()}
		} else if msg, ok := details["value"]; ok {
			details = map[string]string{"address": msg}
		}
		return "", apperrors.ValidationWithDetails(
			fmt.Sprintf("address must be at least %d characters", MinAddressLength), details)
	}
	return trimmed, nil
}

// Classify normalizes the outcome of a lookup so that every failure is
// either ErrNotFound or ErrUnavailable. A nil error with an out of range
// coordinate counts as not found.
func Classify(p geo.Point, err error) (geo.Point, error) {
	if err == nil {
		if !p.IsValid() {
			return geo.Point{}, apperrors.GeocodeNotFound(fmt.Errorf("invalid coordinate %v", p))
		}
		return p, nil
	}

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
		return geo.Point{}, err
	}
	return geo.Point{}, apperrors.GeocodeUnavailable(err)
}

// Lookup validates address, calls g and classifies the outcome.
func Lookup(ctx context.Context, g Geocoder, address string) (geo.Point, error) {
	trimmed, err := ValidateAddress(address)
	if err != nil {
		return geo.Point{}, err
	}
	return Classify(g.Geocode(ctx, trimmed))
}
