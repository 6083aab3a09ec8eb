// pkg/core/position.go
package core

// LatLng is a geographic coordinate in EPSG:4326 (degrees).
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Telemetry is a periodic state report from the unit.
type Telemetry struct {
	BatteryPercent float64 `json:"battery_percent"`
	Heading        float64 `json:"heading"`
	Position       LatLng  `json:"position"`
	// CoverageFraction is reported by the unit for zone missions.
	// The engine has no internal coverage model; 0 means not reported.
	CoverageFraction float64 `json:"coverage_fraction,omitempty"`
}
