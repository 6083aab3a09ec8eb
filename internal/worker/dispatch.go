package worker

import (
	"github.com/patrolkit/engine/internal/dispatcher"
	"github.com/patrolkit/engine/pkg/core"
)

// RegisterHandlers registers all event handlers with the dispatcher.
// Telemetry is high volume and buffered; lifecycle events stay sync so
// their ordering against each other is preserved.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// High-volume position/battery stream - buffered
	d.Register(core.EventTelemetry, m.handleTelemetry, dispatcher.Buffered(1000))

	// Detections fan out to alert side effects - buffered, logged
	d.Register(core.EventDetection, m.handleDetection, dispatcher.Buffered(100), dispatcher.Logged())

	// Route progress - sync
	d.Register(core.EventWaypointReached, m.handleWaypointReached, dispatcher.Logged())
	d.Register(core.EventLapComplete, m.handleLapComplete, dispatcher.Logged())
}

func (m *Manager) handleTelemetry(e core.InboundEvent) error {
	if e.Telemetry == nil {
		return nil
	}
	m.deps.Mission.HandleTelemetry(*e.Telemetry)
	m.deps.Progress.HandleTelemetry(*e.Telemetry)
	if m.deps.Recorder != nil {
		m.deps.Recorder.RecordTelemetry(*e.Telemetry, e.Time)
	}
	return nil
}

func (m *Manager) handleDetection(e core.InboundEvent) error {
	if e.Detection == nil {
		return nil
	}
	m.deps.Detections.HandleDetection(*e.Detection)
	if m.deps.Recorder != nil {
		m.deps.Recorder.RecordDetection(*e.Detection)
	}
	return nil
}

func (m *Manager) handleWaypointReached(e core.InboundEvent) error {
	if e.Waypoint == nil {
		return nil
	}
	m.deps.Mission.HandleWaypointReached(e.Waypoint.Index)
	m.deps.Progress.HandleWaypointReached(e.Waypoint.Index)
	return nil
}

func (m *Manager) handleLapComplete(core.InboundEvent) error {
	m.deps.Mission.HandleLapComplete()
	return nil
}
