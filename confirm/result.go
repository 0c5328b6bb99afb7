package confirm

import (
	"fmt"
	"math"
	"net/url"
	"strconv"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/radius"
)

// Deep link parts. The receiving app matches on all of them.
const (
	DeepLinkScheme = "myapp"
	DeepLinkHost   = "location-picker"

	coordinateScale = 1e6
)

// Result is a confirmed selection in its exported form.
type Result struct {
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lng"`
	RadiusMeters int     `json:"radius"`
	DeepLinkURI  string  `json:"deep_link"`
}

// NewResult rounds sel to 6 decimal places and whole meters and formats the
// deep link. Halves round away from zero.
func NewResult(sel radius.Selection) Result {
	lat := roundCoordinate(sel.Center.Lat)
	lng := roundCoordinate(sel.Center.Lng)
	r := int(math.Round(sel.RadiusMeters))

	return Result{
		Latitude:     lat,
		Longitude:    lng,
		RadiusMeters: r,
		DeepLinkURI:  FormatDeepLink(lat, lng, r),
	}
}

func roundCoordinate(v float64) float64 {
	rounded := math.Round(v*coordinateScale) / coordinateScale
	if rounded == 0 {
		// Drops the sign of -0 so it never formats as "-0".
		return 0
	}
	return rounded
}

// FormatDeepLink builds myapp://location-picker?lat=..&lng=..&radius=.. with
// the fields in that order. Coordinates use the shortest decimal form.
func FormatDeepLink(lat, lng float64, radiusMeters int) string {
	return DeepLinkScheme + "://" + DeepLinkHost +
		"?lat=" + strconv.FormatFloat(lat, 'f', -1, 64) +
		"&lng=" + strconv.FormatFloat(lng, 'f', -1, 64) +
		"&radius=" + strconv.Itoa(radiusMeters)
}

// ParseDeepLink reads a deep link back into a Result. The returned URI is
// the canonical form of the input.
func ParseDeepLink(uri string) (Result, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.CodeBadRequest, "malformed deep link")
	}
	if u.Scheme != DeepLinkScheme || u.Host != DeepLinkHost {
		return Result{}, apperrors.BadRequest(fmt.Sprintf("not a %s://%s link", DeepLinkScheme, DeepLinkHost))
	}

	q := u.Query()
	details := map[string]string{}

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		details["lat"] = "must be a number"
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		details["lng"] = "must be a number"
	}
	r, err := strconv.Atoi(q.Get("radius"))
	if err != nil {
		details["radius"] = "must be an integer"
	}
	if len(details) == 0 && !geo.NewPoint(lat, lng).IsValid() {
		details["lat"] = "coordinate out of range"
	}
	if len(details) > 0 {
		return Result{}, apperrors.ValidationWithDetails("invalid deep link", details)
	}

	return Result{
		Latitude:     lat,
		Longitude:    lng,
		RadiusMeters: r,
		DeepLinkURI:  FormatDeepLink(lat, lng, r),
	}, nil
}

// Selection converts the result back into a selection.
func (r Result) Selection() radius.Selection {
	return radius.Selection{
		Center:       geo.NewPoint(r.Latitude, r.Longitude),
		RadiusMeters: float64(r.RadiusMeters),
	}
}
