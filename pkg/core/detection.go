// pkg/core/detection.go
package core

import "time"

// DetectionEvent is an already-classified sighting reported by the unit's
// vision pipeline. Immutable once recorded.
type DetectionEvent struct {
	ID         string    `json:"id"`
	Target     string    `json:"type"`
	Confidence float64   `json:"confidence"`
	Position   LatLng    `json:"position"`
	Time       time.Time `json:"timestamp"`
	ImageRef   string    `json:"image_url,omitempty"`
}

// TargetSource identifies which detection source a custom target binds to.
type TargetSource string

const (
	SourceBaseline TargetSource = "baseline" // one of the fixed baseline classes
	SourceModel    TargetSource = "model"    // an uploaded model artifact
)

// BaselineTargets are the fixed detection classes shipped with the unit.
var BaselineTargets = []string{"snails", "people", "animals", "vehicles", "packages"}

// CustomTarget is an operator-defined detection target. Exactly one of
// BaselineClass or ModelRef is populated, selected by Source; switching the
// source clears the other binding.
type CustomTarget struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Icon          string       `json:"icon"`
	Enabled       bool         `json:"enabled"`
	Threshold     float64      `json:"threshold"`
	Source        TargetSource `json:"source"`
	BaselineClass string       `json:"baseline_class,omitempty"`
	ModelRef      string       `json:"model_ref,omitempty"`
}

// AlertPolicy controls the side effects fired when a detection is recorded.
// Cooldown suppresses repeated alert side effects per target type; it never
// suppresses recording of the detection itself.
type AlertPolicy struct {
	Sound        bool          `json:"sound"`
	Notification bool          `json:"notification"`
	Email        bool          `json:"email"`
	Photo        bool          `json:"photo"`
	PauseOnMatch bool          `json:"pause_on_detection"`
	PauseFor     time.Duration `json:"pause_seconds"`
	Cooldown     time.Duration `json:"cooldown"`
}

// DefaultAlertPolicy mirrors the unit's factory defaults.
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{
		Sound:        true,
		Notification: true,
		Email:        false,
		Photo:        true,
		PauseOnMatch: true,
		PauseFor:     10 * time.Second,
		Cooldown:     30 * time.Second,
	}
}
