package geo

import (
	"math"

	"github.com/patrolkit/engine/pkg/core"
)

// All distances use a spherical-Earth approximation. Coordinates are
// EPSG:4326 degrees throughout; conversion to 3857 happens only in the
// display helpers (shapes.go).

const (
	// EarthRadius is the mean Earth radius in meters.
	EarthRadius = 6_371_000.0

	// MaxLinearSpeed is the unit's reference walking speed at 100% in m/s.
	MaxLinearSpeed = 0.5

	// SweepRowSpacing is the fixed row spacing for zone coverage in meters.
	SweepRowSpacing = 1.0

	// minSpeedPercent keeps traversal-time estimation away from a zero
	// divisor when the operator dials speed to 0.
	minSpeedPercent = 1
)

// Distance returns the great-circle distance in meters between two
// coordinates using the haversine formula.
func Distance(a, b core.LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// RouteLength returns the total length in meters of an open polyline.
// Fewer than 2 vertices yields 0.
func RouteLength(vertices []core.LatLng) float64 {
	var total float64
	for i := 1; i < len(vertices); i++ {
		total += Distance(vertices[i-1], vertices[i])
	}
	return total
}

// PolygonPerimeter returns the perimeter in meters of an implicitly closed
// ring: consecutive pairs plus last back to first. Fewer than 2 vertices
// yields 0.
func PolygonPerimeter(vertices []core.LatLng) float64 {
	if len(vertices) < 2 {
		return 0
	}
	total := RouteLength(vertices)
	total += Distance(vertices[len(vertices)-1], vertices[0])
	return total
}

// PolygonArea returns the area in square meters of an implicitly closed
// simple polygon via a spherical-excess approximation. Self-intersecting
// input yields a deterministic but meaningless value; validation is the
// caller's concern.
func PolygonArea(vertices []core.LatLng) float64 {
	if len(vertices) < 3 {
		return 0
	}
	var sum float64
	for i := range vertices {
		p1 := vertices[i]
		p2 := vertices[(i+1)%len(vertices)]
		lng1 := p1.Lng * math.Pi / 180
		lng2 := p2.Lng * math.Pi / 180
		lat1 := p1.Lat * math.Pi / 180
		lat2 := p2.Lat * math.Pi / 180
		sum += (lng2 - lng1) * (2 + math.Sin(lat1) + math.Sin(lat2))
	}
	return math.Abs(sum * EarthRadius * EarthRadius / 2)
}

// EstimateTraversalTime returns the estimated seconds to traverse a route
// of the given length, or to sweep a zone of the given area, at the given
// speed percentage. For zones the area is converted to an effective sweep
// distance using the fixed row spacing scaled by the pattern coefficient.
func EstimateTraversalTime(distanceOrArea float64, speedPercent int, kind core.RouteKind, pattern core.Pattern) float64 {
	if speedPercent < minSpeedPercent {
		speedPercent = minSpeedPercent
	}
	speed := MaxLinearSpeed * float64(speedPercent) / 100

	distance := distanceOrArea
	if kind == core.KindZone {
		distance = distanceOrArea / SweepRowSpacing * pattern.SweepFactor()
	}
	return distance / speed
}
