package geo

import (
	"fmt"
	"math"

	"github.com/aloksahay/warhead/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// EarthRadiusMeters is the IUGG mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371008.8

// maxMercatorLat is the latitude limit of EPSG:3857. Positions beyond it are
// clamped when projected, which keeps the projection monotonic.
const maxMercatorLat = 85.05112878

// Points are indexed in EPSG:3857 so the prefilter works in metres near the query.
var toWebMercator = wgs84.EPSG().Transform(4326, 3857)

// Validate checks that lat/lon are finite WGS84 degrees.
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) ||
		lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: lat=%v lon=%v", core.ErrInvalidCoordinate, lat, lon)
	}
	return nil
}

// Haversine returns the great-circle distance between a and b in metres.
func Haversine(a, b core.LatLon) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// WebMercator projects a WGS84 position to EPSG:3857 metres.
func WebMercator(lat, lon float64) (x, y float64) {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	x, y, _ = toWebMercator(lon, lat, 0)
	return x, y
}

// ToPoint converts a position to a 2D geometry point (X=lon, Y=lat, EPSG:4326).
// Non-finite coordinates are rejected.
func ToPoint(p core.LatLon) (geom.Point, error) {
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.Lon, Y: p.Lat},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("%w: %v", core.ErrInvalidCoordinate, err)
	}
	return pt, nil
}

// FromPoint is the inverse of ToPoint. It returns false for an empty point.
func FromPoint(pt geom.Point) (core.LatLon, bool) {
	c, ok := pt.Coordinates()
	if !ok {
		return core.LatLon{}, false
	}
	return core.LatLon{Lat: c.Y, Lon: c.X}, true
}

// lonLatBox is an axis-aligned box in degrees.
type lonLatBox struct {
	minLon, minLat, maxLon, maxLat float64
}

// capBounds returns the boxes covering every point within radius metres of
// center. The result has two boxes when the cap crosses the antimeridian.
func capBounds(center core.LatLon, radius float64) []lonLatBox {
	d := radius / EarthRadiusMeters
	if d >= math.Pi {
		return []lonLatBox{{-180, -90, 180, 90}}
	}

	lat := radians(center.Lat)
	lon := radians(center.Lon)
	minLat := lat - d
	maxLat := lat + d

	if minLat <= -math.Pi/2 || maxLat >= math.Pi/2 {
		// the cap contains a pole: every longitude is reachable
		return []lonLatBox{{
			-180,
			degrees(math.Max(minLat, -math.Pi/2)),
			180,
			degrees(math.Min(maxLat, math.Pi/2)),
		}}
	}

	ratio := math.Sin(d) / math.Cos(lat)
	if ratio >= 1 {
		return []lonLatBox{{-180, degrees(minLat), 180, degrees(maxLat)}}
	}
	dLon := math.Asin(ratio)
	minLon := degrees(lon - dLon)
	maxLon := degrees(lon + dLon)
	minLatDeg := degrees(minLat)
	maxLatDeg := degrees(maxLat)

	switch {
	case minLon < -180:
		return []lonLatBox{
			{minLon + 360, minLatDeg, 180, maxLatDeg},
			{-180, minLatDeg, maxLon, maxLatDeg},
		}
	case maxLon > 180:
		return []lonLatBox{
			{minLon, minLatDeg, 180, maxLatDeg},
			{-180, minLatDeg, maxLon - 360, maxLatDeg},
		}
	}
	return []lonLatBox{{minLon, minLatDeg, maxLon, maxLatDeg}}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
