// Package tracker maintains waypoint progress for the active route
// mission and derives the subsampled index list shown on operator
// displays. Zone missions carry no waypoint model; coverage is whatever
// the unit reports in telemetry.
package tracker

import (
	"sort"
	"sync"

	"github.com/patrolkit/engine/pkg/core"
)

// DisplayCap bounds how many waypoint markers a display shows for one
// route. Longer routes get an evenly spaced subset.
const DisplayCap = 10

// Stage classifies a displayed waypoint relative to the current index.
type Stage string

const (
	StageCompleted Stage = "completed"
	StageCurrent   Stage = "current"
	StagePending   Stage = "pending"
)

// Waypoint is one displayable waypoint marker.
type Waypoint struct {
	Index int   `json:"index"`
	Stage Stage `json:"stage"`
}

// Progress is the tracker's read model.
type Progress struct {
	Current   int        `json:"current"`
	Total     int        `json:"total"`
	Displayed []Waypoint `json:"displayed"`
	// Coverage is the unit-reported fraction for zone missions.
	// Zero when the unit has not reported any.
	Coverage float64 `json:"coverage,omitempty"`
}

// Tracker follows waypoint-reached events for the active mission.
type Tracker struct {
	mu       sync.Mutex
	total    int
	current  int
	kind     core.RouteKind
	coverage float64
	active   bool
}

func New() *Tracker {
	return &Tracker{}
}

// Begin resets the tracker for a new mission.
func (t *Tracker) Begin(kind core.RouteKind, totalWaypoints int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kind = kind
	t.total = totalWaypoints
	t.current = 0
	t.coverage = 0
	t.active = true
}

// End clears the tracker when the mission stops.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.total = 0
	t.current = 0
	t.coverage = 0
}

// HandleWaypointReached records the waypoint index the unit just hit.
// Out-of-range indexes are clamped into the route.
func (t *Tracker) HandleWaypointReached(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.kind != core.KindRoute {
		return
	}
	if index < 0 {
		index = 0
	}
	if t.total > 0 && index >= t.total {
		index = t.total - 1
	}
	t.current = index
}

// HandleTelemetry picks up unit-reported zone coverage.
func (t *Tracker) HandleTelemetry(tele core.Telemetry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.kind != core.KindZone {
		return
	}
	if tele.CoverageFraction > 0 {
		t.coverage = tele.CoverageFraction
	}
}

// Progress returns the current read model. Inactive trackers report an
// empty progress.
func (t *Tracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return Progress{}
	}
	p := Progress{
		Current:  t.current,
		Total:    t.total,
		Coverage: t.coverage,
	}
	if t.kind == core.KindRoute {
		for _, idx := range displayIndices(t.total, t.current) {
			p.Displayed = append(p.Displayed, Waypoint{Index: idx, Stage: stageOf(idx, t.current)})
		}
	}
	return p
}

func stageOf(index, current int) Stage {
	switch {
	case index < current:
		return StageCompleted
	case index == current:
		return StageCurrent
	default:
		return StagePending
	}
}

// displayIndices picks the marker indexes for a route of the given
// length. Routes within the cap show every waypoint; longer ones get an
// evenly spaced subset with the current index spliced in.
func displayIndices(total, current int) []int {
	if total <= 0 {
		return nil
	}
	if total <= DisplayCap {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}

	picked := make(map[int]struct{}, DisplayCap+1)
	step := float64(total-1) / float64(DisplayCap-1)
	for i := 0; i < DisplayCap; i++ {
		picked[int(float64(i)*step+0.5)] = struct{}{}
	}
	picked[current] = struct{}{}

	out := make([]int, 0, len(picked))
	for idx := range picked {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
