// pkg/core/command.go
package core

import "time"

// CommandKind identifies an outbound command or alert intent.
type CommandKind string

const (
	CmdStart         CommandKind = "start"
	CmdPause         CommandKind = "pause"
	CmdResume        CommandKind = "resume"
	CmdStop          CommandKind = "stop"
	CmdEmergencyStop CommandKind = "emergency_stop"
	CmdGoHome        CommandKind = "go_home"
	CmdUpdateTargets CommandKind = "update_detection_targets"

	// Alert intents, consumed by presentation adapters rather than the unit.
	CmdSoundAlert      CommandKind = "sound_alert"
	CmdNotify          CommandKind = "notify"
	CmdCaptureArchived CommandKind = "capture_archived"
)

// StartPayload carries everything the unit needs to begin a patrol.
type StartPayload struct {
	RouteID     string         `json:"route_id"`
	Kind        RouteKind      `json:"kind"`
	Vertices    []LatLng       `json:"coordinates"`
	GeometryWKT string         `json:"geometry_wkt,omitempty"`
	Settings    PatrolSettings `json:"settings"`
}

// PausePayload notes why the mission was paused.
type PausePayload struct {
	Reason string `json:"reason,omitempty"`
}

// GoHomePayload carries the return-home target.
type GoHomePayload struct {
	Home LatLng `json:"home"`
}

// TargetsPayload updates the unit's detection target set.
type TargetsPayload struct {
	Targets     map[string]bool `json:"targets"`
	Custom      []CustomTarget  `json:"custom,omitempty"`
	Sensitivity int             `json:"sensitivity"`
}

// NotifyPayload describes a detection for alerting surfaces.
type NotifyPayload struct {
	Target     string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Position   LatLng  `json:"position"`
	ImageRef   string  `json:"image_url,omitempty"`
}

// Command is an idempotent description of an outbound intent. Exactly the
// payload pointer matching Kind is set; the rest are nil.
type Command struct {
	Kind CommandKind `json:"kind"`
	Time time.Time   `json:"time"`

	Start   *StartPayload   `json:"start,omitempty"`
	Pause   *PausePayload   `json:"pause,omitempty"`
	GoHome  *GoHomePayload  `json:"go_home,omitempty"`
	Targets *TargetsPayload `json:"targets,omitempty"`
	Notify  *NotifyPayload  `json:"notify,omitempty"`
}
