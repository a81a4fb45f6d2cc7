// Package geo provides the great-circle geometry used by signal scoring:
// haversine distance between points and minimum distance from a point to a
// route polyline.
package geo

import (
	"math"

	"github.com/dtrinh/signalforge/internal/model"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180.0
	lon1 := a.Lon * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	lon2 := b.Lon * math.Pi / 180.0

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// segmentSamples controls how finely each polyline segment is probed when
// searching for the nearest approach. Linear interpolation in lat/lon space
// is an approximation, but at corridor scales (tens of km) the error is well
// under the few-percent tolerance the threshold checks need.
const segmentSamples = 32

// PointToPolylineDistanceKm returns the minimum distance from point to the
// polyline defined by coords, together with the index of the nearest segment.
// A polyline needs at least two points; fewer returns (+Inf, -1).
func PointToPolylineDistanceKm(point model.GeoPoint, coords []model.GeoPoint) (float64, int) {
	if len(coords) < 2 {
		return math.Inf(1), -1
	}

	best := math.Inf(1)
	bestSegment := -1

	for i := 0; i < len(coords)-1; i++ {
		d := pointToSegmentKm(point, coords[i], coords[i+1])
		if d < best {
			best = d
			bestSegment = i
		}
	}

	return best, bestSegment
}

// pointToSegmentKm approximates the minimum distance from p to the segment
// a-b by sampling interpolated points along it.
func pointToSegmentKm(p, a, b model.GeoPoint) float64 {
	best := math.Min(HaversineKm(p, a), HaversineKm(p, b))

	for i := 1; i < segmentSamples; i++ {
		t := float64(i) / float64(segmentSamples)
		sample := model.GeoPoint{
			Lat: a.Lat + (b.Lat-a.Lat)*t,
			Lon: a.Lon + (b.Lon-a.Lon)*t,
		}
		if d := HaversineKm(p, sample); d < best {
			best = d
		}
	}

	return best
}
