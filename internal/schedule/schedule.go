// Package schedule auto-starts and auto-stops patrols on a weekly
// day/time window. It only ever stops missions it started itself; an
// operator-initiated patrol runs past the window end untouched.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrolkit/engine/internal/store"
	"github.com/patrolkit/engine/pkg/core"
)

// Intent is the evaluator's verdict for one tick.
type Intent int

const (
	IntentNone Intent = iota
	IntentStart
	IntentStop
)

// Mission is the slice of the state machine the evaluator drives.
type Mission interface {
	Status() core.Status
	Provenance() core.Provenance
	Start(routeID string, prov core.Provenance) error
	Stop() error
}

// Evaluator ticks the schedule against the mission state machine.
type Evaluator struct {
	mu  sync.Mutex
	cfg core.ScheduleConfig

	mission Mission
	persist store.Store
	log     *slog.Logger
}

// NewEvaluator loads the persisted schedule configuration.
func NewEvaluator(mission Mission, persist store.Store, log *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:     store.Load(persist, store.KeySchedule, core.DefaultScheduleConfig()),
		mission: mission,
		persist: persist,
		log:     log,
	}
}

// Config returns the active schedule configuration.
func (e *Evaluator) Config() core.ScheduleConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Update replaces and persists the schedule configuration.
func (e *Evaluator) Update(cfg core.ScheduleConfig) error {
	if _, err := parseClock(cfg.Start); err != nil {
		return fmt.Errorf("invalid start time: %w", err)
	}
	if _, err := parseClock(cfg.End); err != nil {
		return fmt.Errorf("invalid end time: %w", err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()

	if err := e.persist.Set(store.KeySchedule, cfg); err != nil {
		e.log.Error("Failed to persist schedule", "error", err)
		return err
	}
	return nil
}

// Evaluate decides what, if anything, this tick should do. Pure with
// respect to the clock; the caller applies the intent.
func (e *Evaluator) Evaluate(now time.Time) Intent {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	if !cfg.Enabled {
		return IntentNone
	}

	inWindow := cfg.ActiveOn(now.Weekday()) && withinWindow(cfg, now)
	status := e.mission.Status()

	if inWindow && status == core.StatusStopped {
		return IntentStart
	}
	if !inWindow && status != core.StatusStopped && e.mission.Provenance() == core.StartedBySchedule {
		return IntentStop
	}
	return IntentNone
}

// Tick evaluates and applies one schedule decision.
func (e *Evaluator) Tick(now time.Time) {
	switch e.Evaluate(now) {
	case IntentStart:
		if err := e.mission.Start("", core.StartedBySchedule); err != nil {
			e.log.Warn("Scheduled start failed", "error", err)
		} else {
			e.log.Info("Patrol started by schedule")
		}
	case IntentStop:
		if err := e.mission.Stop(); err != nil {
			e.log.Warn("Scheduled stop failed", "error", err)
		} else {
			e.log.Info("Patrol stopped at window end")
		}
	}
}

// Run ticks at the configured interval until the context ends. Interval
// changes take effect on the next tick.
func (e *Evaluator) Run(ctx context.Context) {
	for {
		e.mu.Lock()
		interval := e.cfg.Interval
		e.mu.Unlock()
		if interval <= 0 {
			interval = time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case now := <-time.After(interval):
			e.Tick(now)
		}
	}
}

// withinWindow reports whether now's time of day is inside [start, end).
// A window with end before start spans midnight.
func withinWindow(cfg core.ScheduleConfig, now time.Time) bool {
	start, err := parseClock(cfg.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(cfg.End)
	if err != nil {
		return false
	}
	minute := now.Hour()*60 + now.Minute()

	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("malformed clock %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("malformed clock %q", s)
	}
	min, err := strconv.Atoi(m)
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("malformed clock %q", s)
	}
	return hour*60 + min, nil
}
