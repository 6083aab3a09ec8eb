// pkg/core/event.go
package core

import "time"

// EventKind is the closed set of inbound event types the engine consumes.
// Anything else decodes to EventUnknown, which is logged and ignored.
type EventKind string

const (
	EventTelemetry       EventKind = "telemetry"
	EventDetection       EventKind = "detection"
	EventWaypointReached EventKind = "waypoint_reached"
	EventLapComplete     EventKind = "lap_complete"
	EventUnknown         EventKind = "unknown"
)

// WaypointReached reports progress along the active route.
type WaypointReached struct {
	Index int `json:"index"`
}

// InboundEvent is a tagged variant over the known inbound event kinds.
// Exactly the payload pointer matching Kind is set.
type InboundEvent struct {
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	Telemetry *Telemetry       `json:"telemetry,omitempty"`
	Detection *DetectionEvent  `json:"detection,omitempty"`
	Waypoint  *WaypointReached `json:"waypoint,omitempty"`

	// RawKind preserves the wire tag when Kind is EventUnknown.
	RawKind string `json:"-"`
}
