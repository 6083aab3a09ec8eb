// pkg/core/schedule.go
package core

import "time"

// ScheduleConfig is the weekly auto-patrol window. Weekdays use
// time.Weekday numbering (Sunday = 0).
type ScheduleConfig struct {
	Enabled  bool           `json:"enabled"`
	Days     []time.Weekday `json:"days"`
	Start    string         `json:"start_time"` // "HH:MM"
	End      string         `json:"end_time"`   // "HH:MM"
	Interval time.Duration  `json:"interval"`
}

// DefaultScheduleConfig mirrors the unit's factory defaults: disabled,
// 08:00-18:00 every day, evaluated once a minute.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Enabled: false,
		Days: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
		Start:    "08:00",
		End:      "18:00",
		Interval: time.Minute,
	}
}

// ActiveOn reports whether the schedule covers the given weekday.
func (s ScheduleConfig) ActiveOn(day time.Weekday) bool {
	for _, d := range s.Days {
		if d == day {
			return true
		}
	}
	return false
}
