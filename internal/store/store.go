// internal/store/store.go
package store

import "errors"

// ErrKeyNotFound is returned when a key has never been written.
var ErrKeyNotFound = errors.New("key not found")

// Well-known persistence keys. Values are JSON documents.
const (
	KeyRoutes     = "patrol_routes"
	KeySettings   = "patrol_settings"
	KeyAlerts     = "patrol_alerts"
	KeySchedule   = "patrol_schedule"
	KeyTargets    = "patrol_detection_targets"
	KeyHome       = "home_position"
	KeyDetections = "patrol_detections"
)

// Store is the opaque key-value persistence boundary. Values are
// JSON-serializable. A missing or corrupt key must never fail startup;
// callers fall back to documented defaults via Load.
type Store interface {
	Init() error
	Close() error

	Get(key string, out any) error
	Set(key string, value any) error
	Delete(key string) error
}

// Load reads key into a value of type T, returning fallback when the key
// is absent or its stored document no longer decodes.
func Load[T any](s Store, key string, fallback T) T {
	var v T
	if err := s.Get(key, &v); err != nil {
		return fallback
	}
	return v
}
