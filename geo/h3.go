package geo

import (
	"fmt"

	"github.com/uber/h3-go/v4"
)

// H3Resolution defines the H3 resolution levels.
// Resolution 7: ~5.16 km² average hexagon area (~1.22 km edge)
// Resolution 8: ~0.74 km² average hexagon area (~0.46 km edge)
// Resolution 9: ~0.11 km² average hexagon area (~0.17 km edge)
type H3Resolution int

const (
	// H3ResolutionCity is for city-level operations (resolution 7)
	H3ResolutionCity H3Resolution = 7
	// H3ResolutionNeighborhood is for neighborhood-level operations (resolution 8)
	H3ResolutionNeighborhood H3Resolution = 8
	// H3ResolutionBlock is for block-level operations (resolution 9)
	H3ResolutionBlock H3Resolution = 9

	// maxCoverageRings bounds the grid disk walked by CoverCircle.
	maxCoverageRings = 60
)

// approximate edge length in meters per resolution.
var h3EdgeMeters = map[H3Resolution]float64{
	5:  8544,
	6:  3229,
	7:  1220,
	8:  461,
	9:  174,
	10: 66,
}

// ResolutionForRadius picks the finest resolution that keeps a circle's cover
// within the ring limit.
func ResolutionForRadius(radiusMeters float64) H3Resolution {
	for res := H3Resolution(10); res > 5; res-- {
		if radiusMeters/h3EdgeMeters[res] < maxCoverageRings/2 {
			return res
		}
	}
	return 5
}

// CoverCircle returns the H3 cells whose centers fall inside the circle,
// always including the cell that holds center.
func CoverCircle(center Point, radiusMeters float64, resolution H3Resolution) ([]string, error) {
	edge, ok := h3EdgeMeters[resolution]
	if !ok {
		return nil, fmt.Errorf("unsupported H3 resolution: %d", resolution)
	}

	kRings := int(radiusMeters/edge) + 1
	if kRings > maxCoverageRings {
		return nil, fmt.Errorf("radius %.0fm too large for H3 resolution %d", radiusMeters, resolution)
	}

	origin := h3.LatLngToCell(h3.LatLng{Lat: center.Lat, Lng: center.Lng}, int(resolution))

	cells := []string{origin.String()}
	for _, cell := range h3.GridDisk(origin, kRings) {
		if cell == origin {
			continue
		}
		ll := h3.CellToLatLng(cell)
		if Distance(center, Point{Lat: ll.Lat, Lng: ll.Lng}) <= radiusMeters {
			cells = append(cells, cell.String())
		}
	}

	return cells, nil
}
