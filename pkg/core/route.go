// pkg/core/route.go
package core

import "time"

// RouteKind distinguishes open polylines from closed polygon zones.
type RouteKind string

const (
	KindRoute RouteKind = "polyline" // open path, visited waypoint by waypoint
	KindZone  RouteKind = "polygon"  // closed area, covered by a sweep pattern
)

// Priority orders routes for display and scheduling preference.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank returns a sortable weight, highest priority first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Route is an operator-defined patrol route (open polyline) or zone
// (implicitly closed polygon). Vertices are ordered; a zone's last vertex
// connects back to its first for perimeter and area purposes.
type Route struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Kind        RouteKind `json:"type"`
	Vertices    []LatLng  `json:"coordinates"`
	Color       string    `json:"color"`
	Priority    Priority  `json:"priority"`
	Visible     bool      `json:"visible"`
	CreatedAt   time.Time `json:"created_at"`
}

// MinVertices returns the minimum vertex count for a valid geometry of
// this kind: 2 for an open route, 3 for a zone.
func (k RouteKind) MinVertices() int {
	if k == KindZone {
		return 3
	}
	return 2
}
