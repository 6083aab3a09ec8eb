// Package engine owns the patrol mission state machine. All transitions
// are serialized through one mutex; side effects leave the engine only as
// commands on the outbound bus, never as direct calls into presentation
// or transport.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/patrolkit/engine/internal/geo"
	"github.com/patrolkit/engine/internal/store"
	"github.com/patrolkit/engine/pkg/core"
)

// RouteProvider resolves route ids for start commands.
type RouteProvider interface {
	Get(id string) (core.Route, bool)
	FirstVisible() (core.Route, bool)
}

// Publisher is the outbound command sink.
type Publisher interface {
	Publish(core.Command)
	PublishUrgent(core.Command)
}

// Dependencies holds the engine's injected collaborators.
type Dependencies struct {
	Routes  RouteProvider
	Out     Publisher
	Persist store.Store
	Log     *slog.Logger
}

// Engine is the mission state machine.
type Engine struct {
	mu sync.Mutex

	mission core.Mission
	// gen increments on every transition; timers use it to recognize
	// that the pause they armed for has been superseded
	gen      uint64
	settings core.PatrolSettings
	custom   []core.CustomTarget
	home     core.LatLng
	hasHome  bool

	// advisory go-home already sent for the current battery sag
	lowBatteryNotified bool
	lastPosition       *core.LatLng

	deps Dependencies
	now  func() time.Time
}

// New creates an engine at Stopped, loading persisted settings and home
// position. Missing or corrupt keys fall back to factory defaults.
func New(deps Dependencies) *Engine {
	e := &Engine{
		mission: core.Mission{Status: core.StatusStopped},
		deps:    deps,
		now:     time.Now,
	}
	e.settings = store.Load(deps.Persist, store.KeySettings, core.DefaultPatrolSettings())
	e.custom = store.Load(deps.Persist, store.KeyTargets, []core.CustomTarget{})

	var home core.LatLng
	if err := deps.Persist.Get(store.KeyHome, &home); err == nil {
		e.home = home
		e.hasHome = true
	}
	return e
}

// Snapshot returns a copy of the current mission state.
func (e *Engine) Snapshot() core.Mission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mission
}

// Settings returns a copy of the current patrol settings.
func (e *Engine) Settings() core.PatrolSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copySettings(e.settings)
}

// Status returns the current mission status.
func (e *Engine) Status() core.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mission.Status
}

// Provenance returns who started the current mission.
func (e *Engine) Provenance() core.Provenance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mission.Provenance
}

// Generation returns the transition counter. It changes on every
// successful transition, so a caller that captured it alongside a
// state can later tell whether that state is still the same one.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// WouldInterrupt reports whether starting the given route would replace
// an active mission on a different route. The override confirmation is
// the caller's policy; the engine only answers the question.
func (e *Engine) WouldInterrupt(routeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mission.Status != core.StatusStopped && e.mission.ActiveRouteID != routeID
}

// Start begins a patrol on the given route, resetting all mission
// counters. An empty id falls back to the first visible route. Valid from
// Stopped, or from Running/Paused when switching to a different route.
func (e *Engine) Start(routeID string, prov core.Provenance) error {
	var route core.Route
	var ok bool
	if routeID == "" {
		route, ok = e.deps.Routes.FirstVisible()
		if !ok {
			return ErrNoRouteSelected
		}
	} else {
		route, ok = e.deps.Routes.Get(routeID)
		if !ok {
			return ErrRouteNotFound
		}
	}

	wkt, err := geo.ShapeWKT(route.Kind, route.Vertices)
	if err != nil {
		e.deps.Log.Warn("Failed to build route WKT", "route", route.ID, "error", err)
	}

	e.mu.Lock()
	if e.mission.Status != core.StatusStopped && e.mission.ActiveRouteID == route.ID {
		e.mu.Unlock()
		return ErrIllegalTransition
	}

	e.mission = core.Mission{
		Status:        core.StatusRunning,
		ActiveRouteID: route.ID,
		Provenance:    prov,
		StartedAt:     e.now(),
	}
	e.gen++
	e.lowBatteryNotified = false
	e.lastPosition = nil
	settings := copySettings(e.settings)
	custom := append([]core.CustomTarget{}, e.custom...)
	// published before releasing e.mu so commands reach the bus in
	// transition order; Publish never blocks
	e.deps.Out.Publish(core.Command{
		Kind: core.CmdStart,
		Time: e.now(),
		Start: &core.StartPayload{
			RouteID:     route.ID,
			Kind:        route.Kind,
			Vertices:    route.Vertices,
			GeometryWKT: wkt,
			Settings:    settings,
		},
	})
	e.mu.Unlock()

	e.deps.Log.Info("Patrol started",
		"route", route.Name,
		"provenance", prov,
		"mode", settings.Mode,
		"custom_targets", len(custom))
	return nil
}

// Pause suspends a running mission. The reason, if any, is carried on the
// pause command for alert surfaces.
func (e *Engine) Pause(reason string) error {
	e.mu.Lock()
	if e.mission.Status != core.StatusRunning {
		e.mu.Unlock()
		return ErrIllegalTransition
	}
	e.mission.Status = core.StatusPaused
	e.gen++
	cmd := core.Command{Kind: core.CmdPause, Time: e.now()}
	if reason != "" {
		cmd.Pause = &core.PausePayload{Reason: reason}
	}
	e.deps.Out.Publish(cmd)
	e.mu.Unlock()

	if reason != "" {
		e.deps.Log.Info("Patrol paused", "reason", reason)
	} else {
		e.deps.Log.Info("Patrol paused")
	}
	return nil
}

// Resume continues a paused mission.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.mission.Status != core.StatusPaused {
		e.mu.Unlock()
		return ErrIllegalTransition
	}
	e.mission.Status = core.StatusRunning
	e.gen++
	e.deps.Out.Publish(core.Command{Kind: core.CmdResume, Time: e.now()})
	e.mu.Unlock()

	e.deps.Log.Info("Patrol resumed")
	return nil
}

// Stop ends the mission and clears the active route. A second stop is an
// ErrIllegalTransition and emits nothing.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.mission.Status == core.StatusStopped {
		e.mu.Unlock()
		return ErrIllegalTransition
	}
	e.clearMissionLocked()
	e.gen++
	e.deps.Out.Publish(core.Command{Kind: core.CmdStop, Time: e.now()})
	e.mu.Unlock()

	e.deps.Log.Info("Patrol stopped")
	return nil
}

// EmergencyStop forces Stopped from any state. It is the designated panic
// path: it never fails, bypasses validation, and jumps any queued intents.
func (e *Engine) EmergencyStop() {
	e.mu.Lock()
	e.clearMissionLocked()
	e.gen++
	e.deps.Out.PublishUrgent(core.Command{Kind: core.CmdEmergencyStop, Time: e.now()})
	e.mu.Unlock()

	e.deps.Log.Warn("Emergency stop")
}

// HandleWaypointReached updates the current waypoint index. No state
// transition; the index is only meaningful for route missions.
func (e *Engine) HandleWaypointReached(index int) {
	e.mu.Lock()
	if e.mission.Status != core.StatusStopped {
		e.mission.CurrentWaypoint = index
	}
	e.mu.Unlock()
}

// HandleLapComplete increments the lap counter. In single-pass mode the
// mission stops, returning home first when auto-return is enabled.
func (e *Engine) HandleLapComplete() {
	e.mu.Lock()
	if e.mission.Status == core.StatusStopped {
		e.mu.Unlock()
		return
	}
	e.mission.LapCount++
	laps := e.mission.LapCount
	single := e.settings.Mode == core.ModeSinglePass
	autoHome := e.settings.AutoReturnHome && e.hasHome
	home := e.home
	e.mu.Unlock()

	e.deps.Log.Debug("Lap complete", "laps", laps)
	if !single {
		return
	}

	if err := e.Stop(); err != nil {
		return
	}
	if autoHome {
		e.deps.Out.Publish(core.Command{
			Kind:   core.CmdGoHome,
			Time:   e.now(),
			GoHome: &core.GoHomePayload{Home: home},
		})
	}
}

// HandleLowBattery emits an advisory go-home when running below the
// configured threshold with auto-return enabled. The mission itself keeps
// running; the unit executes the return independently.
func (e *Engine) HandleLowBattery(percent float64) {
	e.mu.Lock()
	shouldNotify := e.mission.Status == core.StatusRunning &&
		percent <= e.settings.LowBatteryPercent &&
		e.settings.AutoReturnHome &&
		e.hasHome &&
		!e.lowBatteryNotified
	if shouldNotify {
		e.lowBatteryNotified = true
		e.deps.Out.Publish(core.Command{
			Kind:   core.CmdGoHome,
			Time:   e.now(),
			GoHome: &core.GoHomePayload{Home: e.home},
		})
	}
	if percent > e.settings.LowBatteryPercent {
		e.lowBatteryNotified = false
	}
	e.mu.Unlock()

	if shouldNotify {
		e.deps.Log.Warn("Low battery, returning home", "percent", percent)
	}
}

// HandleTelemetry accumulates traveled distance while running and feeds
// the low-battery check.
func (e *Engine) HandleTelemetry(t core.Telemetry) {
	e.mu.Lock()
	if e.mission.Status == core.StatusRunning {
		if e.lastPosition != nil {
			e.mission.DistanceMeters += geo.Distance(*e.lastPosition, t.Position)
		}
		pos := t.Position
		e.lastPosition = &pos
	}
	e.mu.Unlock()

	e.HandleLowBattery(t.BatteryPercent)
}

// NoteDetection bumps the per-mission detection counter. Recording and
// alert policy live in the alerts pipeline.
func (e *Engine) NoteDetection() {
	e.mu.Lock()
	if e.mission.Status != core.StatusStopped {
		e.mission.DetectionCount++
	}
	e.mu.Unlock()
}

// UpdateSettings replaces the patrol settings, persists them, and pushes
// the new detection target set toward the unit.
func (e *Engine) UpdateSettings(s core.PatrolSettings) error {
	e.mu.Lock()
	e.settings = copySettings(s)
	custom := append([]core.CustomTarget{}, e.custom...)
	e.deps.Out.Publish(core.Command{
		Kind: core.CmdUpdateTargets,
		Time: e.now(),
		Targets: &core.TargetsPayload{
			Targets:     s.DetectionTargets,
			Custom:      custom,
			Sensitivity: s.SensitivityPercent,
		},
	})
	e.mu.Unlock()

	if err := e.deps.Persist.Set(store.KeySettings, s); err != nil {
		e.deps.Log.Error("Failed to persist patrol settings", "error", err)
	}
	return nil
}

// UpdateCustomTargets replaces the custom detection target set, persists
// it, and pushes the combined target set toward the unit.
func (e *Engine) UpdateCustomTargets(targets []core.CustomTarget) error {
	e.mu.Lock()
	e.custom = append([]core.CustomTarget{}, targets...)
	settings := copySettings(e.settings)
	e.deps.Out.Publish(core.Command{
		Kind: core.CmdUpdateTargets,
		Time: e.now(),
		Targets: &core.TargetsPayload{
			Targets:     settings.DetectionTargets,
			Custom:      append([]core.CustomTarget{}, targets...),
			Sensitivity: settings.SensitivityPercent,
		},
	})
	e.mu.Unlock()

	if err := e.deps.Persist.Set(store.KeyTargets, targets); err != nil {
		e.deps.Log.Error("Failed to persist custom targets", "error", err)
	}
	return nil
}

// SetHome records and persists the return-home position.
func (e *Engine) SetHome(p core.LatLng) error {
	e.mu.Lock()
	e.home = p
	e.hasHome = true
	e.mu.Unlock()

	if err := e.deps.Persist.Set(store.KeyHome, p); err != nil {
		e.deps.Log.Error("Failed to persist home position", "error", err)
		return err
	}
	return nil
}

// Home returns the configured home position, if any.
func (e *Engine) Home() (core.LatLng, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.home, e.hasHome
}

// clearMissionLocked requires e.mu held.
func (e *Engine) clearMissionLocked() {
	e.mission = core.Mission{Status: core.StatusStopped}
	e.lastPosition = nil
	e.lowBatteryNotified = false
}

func copySettings(s core.PatrolSettings) core.PatrolSettings {
	targets := make(map[string]bool, len(s.DetectionTargets))
	for k, v := range s.DetectionTargets {
		targets[k] = v
	}
	s.DetectionTargets = targets
	return s
}
