package geo

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/patrolkit/engine/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidVertices is returned when a coordinate list cannot form the
// requested geometry.
var ErrInvalidVertices = errors.New("invalid vertices provided")

// ParseVertices parses a JSON array of [lat,lng] pairs, the format routes
// are stored and transmitted in.
func ParseVertices(input string) ([]core.LatLng, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return nil, fmt.Errorf("failed to parse vertex JSON: %w", err)
	}

	vertices := make([]core.LatLng, len(coords))
	for i, c := range coords {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: coordinate %d has insufficient values", ErrInvalidVertices, i)
		}
		vertices[i] = core.LatLng{Lat: c[0], Lng: c[1]}
	}
	return vertices, nil
}

// RouteLineString builds a simplefeatures LineString from an open route.
// Used for the WKT geometry in start-command payloads.
func RouteLineString(vertices []core.LatLng) (geom.LineString, error) {
	if len(vertices) < 2 {
		return geom.LineString{}, fmt.Errorf("%w: route needs at least 2 vertices, got %d", ErrInvalidVertices, len(vertices))
	}
	flat := make([]float64, 0, len(vertices)*2)
	for _, v := range vertices {
		flat = append(flat, v.Lng, v.Lat)
	}
	seq := geom.NewSequence(flat, geom.DimXY)
	return geom.NewLineString(seq), nil
}

// ZonePolygon builds a simplefeatures Polygon from a zone's vertices,
// closing the ring if the input leaves it open.
func ZonePolygon(vertices []core.LatLng) (geom.Polygon, error) {
	if len(vertices) < 3 {
		return geom.Polygon{}, fmt.Errorf("%w: zone needs at least 3 vertices, got %d", ErrInvalidVertices, len(vertices))
	}
	ring := vertices
	if ring[0] != ring[len(ring)-1] {
		ring = append(append([]core.LatLng{}, ring...), ring[0])
	}
	flat := make([]float64, 0, len(ring)*2)
	for _, v := range ring {
		flat = append(flat, v.Lng, v.Lat)
	}
	seq := geom.NewSequence(flat, geom.DimXY)
	ls := geom.NewLineString(seq)
	return geom.NewPolygon([]geom.LineString{ls}), nil
}

// ShapeWKT renders a route or zone geometry as WKT for command payloads.
func ShapeWKT(kind core.RouteKind, vertices []core.LatLng) (string, error) {
	if kind == core.KindZone {
		poly, err := ZonePolygon(vertices)
		if err != nil {
			return "", err
		}
		return poly.AsText(), nil
	}
	ls, err := RouteLineString(vertices)
	if err != nil {
		return "", err
	}
	return ls.AsText(), nil
}

// ToWebMercator projects a 4326 coordinate to 3857 for the map-display
// read model. The presentation layer draws in web mercator; the engine
// stores only 4326.
func ToWebMercator(p core.LatLng) (x, y float64) {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ = f(p.Lng, p.Lat, 0)
	return x, y
}
