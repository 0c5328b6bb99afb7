package geo

import (
	"math"
)

// DefaultCirclePoints is the number of vertices used to approximate a circle.
const DefaultCirclePoints = 64

// minCosLatitude keeps the longitude scale finite at the poles.
const minCosLatitude = 1e-6

// Ring is a closed sequence of points, first and last identical.
type Ring []Point

// CirclePolygon approximates the circle of radiusMeters around center with
// pointCount vertices at evenly spaced bearings starting north, and closes the
// ring by repeating the first vertex.
//
// Vertices are placed with a local equirectangular offset. This is for
// drawing only; radius values always go through Distance and Destination.
func CirclePolygon(center Point, radiusMeters float64, pointCount int) Ring {
	if pointCount < 3 {
		pointCount = DefaultCirclePoints
	}

	angular := radiusMeters / EarthRadiusMeters
	latRad := degreesToRadians(center.Lat)
	cosLat := math.Max(math.Abs(math.Cos(latRad)), minCosLatitude)

	ring := make(Ring, pointCount+1)
	step := 2 * math.Pi / float64(pointCount)

	for i := 0; i < pointCount; i++ {
		theta := float64(i) * step
		dLat := angular * math.Cos(theta)
		dLng := angular * math.Sin(theta) / cosLat

		ring[i] = Point{
			Lat: clampLatitude(center.Lat + radiansToDegrees(dLat)),
			Lng: NormalizeLongitude(center.Lng + radiansToDegrees(dLng)),
		}
	}
	ring[pointCount] = ring[0]

	return ring
}

// Closed reports whether the ring has at least four points and ends where it starts.
func (r Ring) Closed() bool {
	if len(r) < 4 {
		return false
	}
	return r[0] == r[len(r)-1]
}

// Contains checks if a point is inside the ring using ray casting.
// Rings that straddle the antimeridian are not supported.
func (r Ring) Contains(point Point) bool {
	if len(r) < 3 {
		return false
	}

	inside := false
	n := len(r)

	j := n - 1
	for i := 0; i < n; i++ {
		pi := r[i]
		pj := r[j]

		if ((pi.Lat > point.Lat) != (pj.Lat > point.Lat)) &&
			(point.Lng < (pj.Lng-pi.Lng)*(point.Lat-pi.Lat)/(pj.Lat-pi.Lat)+pi.Lng) {
			inside = !inside
		}
		j = i
	}

	return inside
}

// Perimeter returns the ring length in meters.
func (r Ring) Perimeter() float64 {
	var perimeter float64
	for i := 1; i < len(r); i++ {
		perimeter += Distance(r[i-1], r[i])
	}
	return perimeter
}
