// Package worker binds the inbound event stream to the mission engine,
// the detection pipeline, and the progress tracker.
package worker

import (
	"time"

	"github.com/patrolkit/engine/pkg/core"
)

// MissionEvents is the slice of the state machine driven by inbound events.
type MissionEvents interface {
	HandleTelemetry(core.Telemetry)
	HandleWaypointReached(index int)
	HandleLapComplete()
}

// DetectionSink consumes classified detection events.
type DetectionSink interface {
	HandleDetection(core.DetectionEvent)
}

// ProgressSink consumes progress updates for the display read model.
type ProgressSink interface {
	HandleWaypointReached(index int)
	HandleTelemetry(core.Telemetry)
}

// TelemetryRecorder is an optional time-series sink. Nil disables it.
type TelemetryRecorder interface {
	RecordTelemetry(t core.Telemetry, at time.Time)
	RecordDetection(ev core.DetectionEvent)
}

// Dependencies holds all dependencies for the worker manager.
type Dependencies struct {
	Mission    MissionEvents
	Detections DetectionSink
	Progress   ProgressSink
	Recorder   TelemetryRecorder
}

// Manager fans inbound events out to the engine subsystems.
type Manager struct {
	deps Dependencies
}

// NewManager creates a new worker manager.
func NewManager(deps Dependencies) *Manager {
	return &Manager{deps: deps}
}
