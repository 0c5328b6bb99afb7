// Package geo provides spherical geodesy for the radius picker.
package geo

import (
	"math"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by every exact calculation.
	EarthRadiusMeters = 6371000.0

	// DefaultToleranceMeters is the distance under which two points are treated as the same place.
	DefaultToleranceMeters = 0.01
)

// Point represents a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewPoint creates a new Point.
func NewPoint(lat, lng float64) Point {
	return Point{Lat: lat, Lng: lng}
}

// IsValid checks if the point has finite coordinates within range.
func (p Point) IsValid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the great-circle distance between two points in meters
// using the haversine formula.
func Distance(p1, p2 Point) float64 {
	lat1 := degreesToRadians(p1.Lat)
	lat2 := degreesToRadians(p2.Lat)
	deltaLat := degreesToRadians(p2.Lat - p1.Lat)
	deltaLng := degreesToRadians(p2.Lng - p1.Lng)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)

	// Rounding can push a marginally past 1 for antipodal points.
	a = math.Min(math.Max(a, 0), 1)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Equal reports whether two points are within toleranceMeters of each other.
// Longitudes -180 and 180 compare equal.
func Equal(p1, p2 Point, toleranceMeters float64) bool {
	return Distance(p1, p2) <= toleranceMeters
}

// Bearing calculates the initial bearing from p1 to p2.
// Returns bearing in degrees (0-360, where 0 is North).
func Bearing(p1, p2 Point) float64 {
	lat1 := degreesToRadians(p1.Lat)
	lat2 := degreesToRadians(p2.Lat)
	deltaLng := degreesToRadians(p2.Lng - p1.Lng)

	x := math.Sin(deltaLng) * math.Cos(lat2)
	y := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(deltaLng)

	return NormalizeBearing(radiansToDegrees(math.Atan2(x, y)))
}

// Destination returns the point reached by travelling distanceMeters from
// origin along the initial bearing (degrees clockwise from north) on a great
// circle.
//
// A distance that passes over a pole still yields a valid coordinate, it is
// just far from what the caller drew.
func Destination(origin Point, distanceMeters, bearingDegrees float64) Point {
	lat1 := degreesToRadians(origin.Lat)
	lng1 := degreesToRadians(origin.Lng)
	bearingRad := degreesToRadians(NormalizeBearing(bearingDegrees))

	angularDist := distanceMeters / EarthRadiusMeters

	sinLat2 := math.Sin(lat1)*math.Cos(angularDist) +
		math.Cos(lat1)*math.Sin(angularDist)*math.Cos(bearingRad)
	lat2 := math.Asin(math.Min(math.Max(sinLat2, -1), 1))

	lng2 := lng1 + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angularDist)*math.Cos(lat1),
		math.Cos(angularDist)-math.Sin(lat1)*math.Sin(lat2),
	)

	return Point{
		Lat: clampLatitude(radiansToDegrees(lat2)),
		Lng: NormalizeLongitude(radiansToDegrees(lng2)),
	}
}

// NormalizeBearing maps any bearing onto [0, 360).
func NormalizeBearing(bearing float64) float64 {
	b := math.Mod(bearing, 360)
	if b < 0 {
		b += 360
	}
	// -1e-15 becomes 360 after the addition above.
	if b >= 360 {
		b = 0
	}
	return b
}

// NormalizeLongitude wraps a longitude onto [-180, 180).
func NormalizeLongitude(lng float64) float64 {
	l := math.Mod(lng+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}

// BoundingBox is a lat/lng aligned box.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// BoundsAround returns the box spanned by the four cardinal destinations of a
// circle. Near the antimeridian MinLng can be greater than MaxLng; renderers
// that fit a viewport must handle the wrap.
func BoundsAround(center Point, radiusMeters float64) BoundingBox {
	north := Destination(center, radiusMeters, 0)
	east := Destination(center, radiusMeters, 90)
	south := Destination(center, radiusMeters, 180)
	west := Destination(center, radiusMeters, 270)

	return BoundingBox{
		MinLat: south.Lat,
		MaxLat: north.Lat,
		MinLng: west.Lng,
		MaxLng: east.Lng,
	}
}

// Contains checks if a point is within the bounding box.
func (bb BoundingBox) Contains(p Point) bool {
	if p.Lat < bb.MinLat || p.Lat > bb.MaxLat {
		return false
	}
	if bb.MinLng <= bb.MaxLng {
		return p.Lng >= bb.MinLng && p.Lng <= bb.MaxLng
	}
	return p.Lng >= bb.MinLng || p.Lng <= bb.MaxLng
}

// Helper functions

func clampLatitude(lat float64) float64 {
	return math.Min(math.Max(lat, -90), 90)
}

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func radiansToDegrees(radians float64) float64 {
	return radians * 180 / math.Pi
}
