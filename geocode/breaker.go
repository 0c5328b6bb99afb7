package geocode

import (
	"context"
	"errors"
	"time"

	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/resilience"
)

// BreakerName is the registry name of the geocode circuit.
const BreakerName = "geocode"

// BreakerConfig returns a circuit breaker config for geocoding. Only
// unavailability trips the circuit; an address with no match is a normal
// answer.
func BreakerConfig(failureThreshold int, timeout time.Duration) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:             BreakerName,
		FailureThreshold: failureThreshold,
		Timeout:          timeout,
		IsFailure:        countsAsFailure,
	}
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound)
}

// Breaker guards a Geocoder with a circuit breaker.
type Breaker struct {
	next Geocoder
	cb   *resilience.CircuitBreaker
}

// NewBreaker wraps next. cb should be built from BreakerConfig.
func NewBreaker(next Geocoder, cb *resilience.CircuitBreaker) *Breaker {
	return &Breaker{next: next, cb: cb}
}

// Geocode implements Geocoder. An open circuit fails fast with ErrUnavailable.
func (b *Breaker) Geocode(ctx context.Context, address string) (geo.Point, error) {
	var p geo.Point
	err := b.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		p, err = Classify(b.next.Geocode(ctx, address))
		return err
	})
	if err != nil {
		return Classify(geo.Point{}, err)
	}
	return p, nil
}

// State returns the circuit state.
func (b *Breaker) State() resilience.CircuitState {
	return b.cb.State()
}
