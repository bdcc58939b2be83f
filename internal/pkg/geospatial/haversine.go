package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point converts a latitude/longitude pair to an orb point (x = lon, y = lat).
func Point(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(Point(lat1, lon1), Point(lat2, lon2))
}

// BoundAround returns the smallest bound containing every point, padded by
// padMeters on each side. ok is false for an empty input.
func BoundAround(points []orb.Point, padMeters float64) (b orb.Bound, ok bool) {
	if len(points) == 0 {
		return orb.Bound{}, false
	}
	b = points[0].Bound()
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	if padMeters > 0 {
		b = geo.BoundPad(b, padMeters)
	}
	return b, true
}
