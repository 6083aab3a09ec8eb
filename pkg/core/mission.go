// pkg/core/mission.go
package core

import "time"

// Status is the patrol mission state.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// Provenance records who started the current mission, so the schedule
// evaluator never stops a mission an operator started by hand.
type Provenance string

const (
	StartedByOperator Provenance = "operator"
	StartedBySchedule Provenance = "schedule"
)

// Mode selects whether the unit loops the route or stops after one pass.
type Mode string

const (
	ModeLoop       Mode = "loop"
	ModeSinglePass Mode = "single"
)

// Pattern is the sweep strategy used to cover a zone.
type Pattern string

const (
	PatternLawnmower Pattern = "lawnmower"
	PatternSpiral    Pattern = "spiral"
	PatternPerimeter Pattern = "perimeter"
	PatternRandom    Pattern = "random"
)

// SweepFactor converts a zone's effective sweep distance by pattern.
func (p Pattern) SweepFactor() float64 {
	switch p {
	case PatternSpiral:
		return 0.9
	case PatternPerimeter:
		return 0.2
	case PatternRandom:
		return 1.2
	default:
		return 1.0
	}
}

// Mission is the active or most recent patrol execution.
type Mission struct {
	Status          Status     `json:"status"`
	ActiveRouteID   string     `json:"active_route,omitempty"`
	Provenance      Provenance `json:"provenance,omitempty"`
	StartedAt       time.Time  `json:"started_at,omitempty"`
	DistanceMeters  float64    `json:"distance_m"`
	LapCount        int        `json:"lap_count"`
	DetectionCount  int        `json:"detection_count"`
	CurrentWaypoint int        `json:"current_waypoint"`
}

// PatrolSettings are the operator-tunable patrol parameters sent with a
// start command and persisted between sessions.
type PatrolSettings struct {
	SpeedPercent         int             `json:"speed"`
	Mode                 Mode            `json:"mode"`
	Pattern              Pattern         `json:"pattern"`
	WaypointPauseSeconds int             `json:"waypoint_pause"`
	DetectionTargets     map[string]bool `json:"detection_targets"`
	SensitivityPercent   int             `json:"detection_sensitivity"`
	AutoReturnHome       bool            `json:"auto_return_home"`
	LowBatteryPercent    float64         `json:"low_battery_percent"`
}

// DefaultPatrolSettings mirrors the unit's factory defaults.
func DefaultPatrolSettings() PatrolSettings {
	return PatrolSettings{
		SpeedPercent:         50,
		Mode:                 ModeLoop,
		Pattern:              PatternLawnmower,
		WaypointPauseSeconds: 2,
		DetectionTargets: map[string]bool{
			"snails":   true,
			"people":   false,
			"animals":  false,
			"vehicles": false,
			"packages": false,
		},
		SensitivityPercent: 70,
		AutoReturnHome:     true,
		LowBatteryPercent:  20,
	}
}
