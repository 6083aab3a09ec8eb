package engine

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/patrolkit/engine/internal/store"
	"github.com/patrolkit/engine/pkg/core"
)

type fakeRoutes struct {
	routes []core.Route
}

func (f *fakeRoutes) Get(id string) (core.Route, bool) {
	for _, r := range f.routes {
		if r.ID == id {
			return r, true
		}
	}
	return core.Route{}, false
}

func (f *fakeRoutes) FirstVisible() (core.Route, bool) {
	for _, r := range f.routes {
		if r.Visible {
			return r, true
		}
	}
	return core.Route{}, false
}

type fakeBus struct {
	mu     sync.Mutex
	cmds   []core.Command
	urgent []core.Command
}

func (f *fakeBus) Publish(c core.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, c)
}

func (f *fakeBus) PublishUrgent(c core.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urgent = append(f.urgent, c)
}

func (f *fakeBus) last() (core.Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cmds) == 0 {
		return core.Command{}, false
	}
	return f.cmds[len(f.cmds)-1], true
}

func (f *fakeBus) count(kind core.CommandKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.cmds {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func testRoute(id string) core.Route {
	return core.Route{
		ID:      id,
		Name:    "Perimeter " + id,
		Kind:    core.KindRoute,
		Visible: true,
		Vertices: []core.LatLng{
			{Lat: 0, Lng: 0},
			{Lat: 0, Lng: 0.001},
		},
	}
}

func newTestEngine(t *testing.T, routes ...core.Route) (*Engine, *fakeBus) {
	t.Helper()
	bus := &fakeBus{}
	e := New(Dependencies{
		Routes:  &fakeRoutes{routes: routes},
		Out:     bus,
		Persist: store.NewMemory(),
		Log:     slog.New(slog.DiscardHandler),
	})
	return e, bus
}

func TestStart_ResetsCountersAndRuns(t *testing.T) {
	e, bus := newTestEngine(t, testRoute("r1"))

	if err := e.Start("r1", core.StartedByOperator); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m := e.Snapshot()
	if m.Status != core.StatusRunning {
		t.Fatalf("status = %q, want running", m.Status)
	}
	if m.ActiveRouteID != "r1" || m.Provenance != core.StartedByOperator {
		t.Fatalf("mission = %+v", m)
	}
	if m.LapCount != 0 || m.DetectionCount != 0 || m.DistanceMeters != 0 {
		t.Fatalf("counters not reset: %+v", m)
	}

	cmd, ok := bus.last()
	if !ok || cmd.Kind != core.CmdStart {
		t.Fatalf("last command = %+v, want start", cmd)
	}
	if cmd.Start == nil || cmd.Start.RouteID != "r1" {
		t.Fatalf("start payload = %+v", cmd.Start)
	}
	if cmd.Start.GeometryWKT == "" {
		t.Fatal("start payload missing geometry")
	}
}

func TestStart_EmptyIDUsesFirstVisible(t *testing.T) {
	hidden := testRoute("r1")
	hidden.Visible = false
	e, _ := newTestEngine(t, hidden, testRoute("r2"))

	if err := e.Start("", core.StartedBySchedule); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := e.Snapshot().ActiveRouteID; got != "r2" {
		t.Fatalf("active route = %q, want r2", got)
	}
}

func TestStart_NoVisibleRoute(t *testing.T) {
	hidden := testRoute("r1")
	hidden.Visible = false
	e, _ := newTestEngine(t, hidden)

	if err := e.Start("", core.StartedByOperator); err != ErrNoRouteSelected {
		t.Fatalf("err = %v, want ErrNoRouteSelected", err)
	}
}

func TestStart_UnknownRoute(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"))
	if err := e.Start("nope", core.StartedByOperator); err != ErrRouteNotFound {
		t.Fatalf("err = %v, want ErrRouteNotFound", err)
	}
	if e.Status() != core.StatusStopped {
		t.Fatal("failed start must not change state")
	}
}

func TestStart_SameRouteWhileActive(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"))
	if err := e.Start("r1", core.StartedByOperator); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start("r1", core.StartedByOperator); err != ErrIllegalTransition {
		t.Fatalf("restart err = %v, want ErrIllegalTransition", err)
	}
}

func TestStart_SwitchRouteReplacesMission(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"), testRoute("r2"))
	if err := e.Start("r1", core.StartedByOperator); err != nil {
		t.Fatalf("Start r1: %v", err)
	}
	if !e.WouldInterrupt("r2") {
		t.Fatal("WouldInterrupt(r2) = false, want true")
	}
	if e.WouldInterrupt("r1") {
		t.Fatal("WouldInterrupt(r1) = true, want false")
	}
	if err := e.Start("r2", core.StartedByOperator); err != nil {
		t.Fatalf("Start r2: %v", err)
	}
	if got := e.Snapshot().ActiveRouteID; got != "r2" {
		t.Fatalf("active route = %q, want r2", got)
	}
}

func TestPause_OnlyFromRunning(t *testing.T) {
	e, bus := newTestEngine(t, testRoute("r1"))

	if err := e.Pause(""); err != ErrIllegalTransition {
		t.Fatalf("pause from stopped: err = %v", err)
	}

	e.Start("r1", core.StartedByOperator)
	if err := e.Pause("snail detected"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if e.Status() != core.StatusPaused {
		t.Fatal("status != paused")
	}
	cmd, _ := bus.last()
	if cmd.Kind != core.CmdPause || cmd.Pause == nil || cmd.Pause.Reason != "snail detected" {
		t.Fatalf("pause command = %+v", cmd)
	}

	if err := e.Pause(""); err != ErrIllegalTransition {
		t.Fatalf("pause from paused: err = %v", err)
	}
}

func TestResume_OnlyFromPaused(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"))

	if err := e.Resume(); err != ErrIllegalTransition {
		t.Fatalf("resume from stopped: err = %v", err)
	}
	e.Start("r1", core.StartedByOperator)
	if err := e.Resume(); err != ErrIllegalTransition {
		t.Fatalf("resume from running: err = %v", err)
	}
	e.Pause("")
	if err := e.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if e.Status() != core.StatusRunning {
		t.Fatal("status != running after resume")
	}
}

func TestStop_SecondStopFailsWithoutReEmit(t *testing.T) {
	e, bus := newTestEngine(t, testRoute("r1"))
	e.Start("r1", core.StartedByOperator)

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	m := e.Snapshot()
	if m.Status != core.StatusStopped || m.ActiveRouteID != "" {
		t.Fatalf("mission after stop = %+v", m)
	}

	if err := e.Stop(); err != ErrIllegalTransition {
		t.Fatalf("second stop: err = %v", err)
	}
	if n := bus.count(core.CmdStop); n != 1 {
		t.Fatalf("stop commands emitted = %d, want 1", n)
	}
}

func TestGeneration_ChangesOnEveryTransition(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"))

	g0 := e.Generation()
	e.Start("r1", core.StartedByOperator)
	g1 := e.Generation()
	if g1 == g0 {
		t.Fatal("generation unchanged by start")
	}
	e.Pause("")
	g2 := e.Generation()
	if g2 == g1 {
		t.Fatal("generation unchanged by pause")
	}
	e.Resume()
	e.Pause("")
	if e.Generation() == g2 {
		t.Fatal("re-entering paused must not reuse the old generation")
	}

	// failed transitions leave it alone
	before := e.Generation()
	if err := e.Pause(""); err != ErrIllegalTransition {
		t.Fatalf("pause from paused: err = %v", err)
	}
	if e.Generation() != before {
		t.Fatal("failed transition must not change generation")
	}
}

func TestCommands_MatchTransitionOrderUnderContention(t *testing.T) {
	e, bus := newTestEngine(t, testRoute("r1"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.Start("r1", core.StartedByOperator)
			e.Stop()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.Pause("")
			e.Resume()
		}
	}()
	wg.Wait()

	// replaying the emitted stream against the transition rules proves
	// commands reached the bus in the order the transitions committed
	bus.mu.Lock()
	cmds := append([]core.Command{}, bus.cmds...)
	bus.mu.Unlock()

	state := core.StatusStopped
	for i, cmd := range cmds {
		switch cmd.Kind {
		case core.CmdStart:
			if state != core.StatusStopped {
				t.Fatalf("cmd %d: start emitted from %q", i, state)
			}
			state = core.StatusRunning
		case core.CmdPause:
			if state != core.StatusRunning {
				t.Fatalf("cmd %d: pause emitted from %q", i, state)
			}
			state = core.StatusPaused
		case core.CmdResume:
			if state != core.StatusPaused {
				t.Fatalf("cmd %d: resume emitted from %q", i, state)
			}
			state = core.StatusRunning
		case core.CmdStop:
			if state == core.StatusStopped {
				t.Fatalf("cmd %d: stop emitted while stopped", i)
			}
			state = core.StatusStopped
		}
	}
}

func TestEmergencyStop_AlwaysSucceeds(t *testing.T) {
	e, bus := newTestEngine(t, testRoute("r1"))

	for _, setup := range []func(){
		func() {},
		func() { e.Start("r1", core.StartedByOperator) },
		func() { e.Start("r1", core.StartedByOperator); e.Pause("") },
	} {
		setup()
		e.EmergencyStop()
		m := e.Snapshot()
		if m.Status != core.StatusStopped || m.ActiveRouteID != "" {
			t.Fatalf("mission after emergency stop = %+v", m)
		}
	}

	bus.mu.Lock()
	urgent := len(bus.urgent)
	bus.mu.Unlock()
	if urgent != 3 {
		t.Fatalf("urgent commands = %d, want 3", urgent)
	}
}

func TestLapComplete_SinglePassStopsAndGoesHome(t *testing.T) {
	e, bus := newTestEngine(t, testRoute("r1"))
	e.SetHome(core.LatLng{Lat: 1, Lng: 2})

	s := e.Settings()
	s.Mode = core.ModeSinglePass
	e.UpdateSettings(s)

	e.Start("r1", core.StartedByOperator)
	e.HandleLapComplete()

	if e.Status() != core.StatusStopped {
		t.Fatal("single-pass lap completion must stop the mission")
	}
	cmd, _ := bus.last()
	if cmd.Kind != core.CmdGoHome || cmd.GoHome == nil || cmd.GoHome.Home.Lat != 1 {
		t.Fatalf("last command = %+v, want go_home", cmd)
	}
}

func TestLapComplete_LoopKeepsRunning(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"))
	e.Start("r1", core.StartedByOperator)

	e.HandleLapComplete()
	e.HandleLapComplete()

	m := e.Snapshot()
	if m.Status != core.StatusRunning || m.LapCount != 2 {
		t.Fatalf("mission = %+v, want running with 2 laps", m)
	}
}

func TestLowBattery_AdvisoryGoHomeOnce(t *testing.T) {
	e, bus := newTestEngine(t, testRoute("r1"))
	e.SetHome(core.LatLng{Lat: 1, Lng: 2})
	e.Start("r1", core.StartedByOperator)

	e.HandleLowBattery(15)
	e.HandleLowBattery(14)

	if n := bus.count(core.CmdGoHome); n != 1 {
		t.Fatalf("go_home commands = %d, want 1", n)
	}
	if e.Status() != core.StatusRunning {
		t.Fatal("low battery must not stop the mission")
	}

	// recovery above threshold re-arms the advisory
	e.HandleLowBattery(50)
	e.HandleLowBattery(10)
	if n := bus.count(core.CmdGoHome); n != 2 {
		t.Fatalf("go_home commands = %d, want 2", n)
	}
}

func TestTelemetry_AccumulatesDistanceWhileRunning(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"))
	e.Start("r1", core.StartedByOperator)

	e.HandleTelemetry(core.Telemetry{BatteryPercent: 90, Position: core.LatLng{Lat: 0, Lng: 0}})
	e.HandleTelemetry(core.Telemetry{BatteryPercent: 90, Position: core.LatLng{Lat: 0, Lng: 0.001}})

	d := e.Snapshot().DistanceMeters
	if d < 100 || d > 125 {
		t.Fatalf("distance = %.1f m, want ~111 m", d)
	}

	e.Pause("")
	e.HandleTelemetry(core.Telemetry{BatteryPercent: 90, Position: core.LatLng{Lat: 0, Lng: 0.002}})
	if e.Snapshot().DistanceMeters != d {
		t.Fatal("distance must not accumulate while paused")
	}
}

func TestUpdateSettings_PersistsAndEmitsTargets(t *testing.T) {
	persist := store.NewMemory()
	bus := &fakeBus{}
	e := New(Dependencies{
		Routes:  &fakeRoutes{},
		Out:     bus,
		Persist: persist,
		Log:     slog.New(slog.DiscardHandler),
	})

	s := e.Settings()
	s.SpeedPercent = 80
	s.DetectionTargets["people"] = true
	if err := e.UpdateSettings(s); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	cmd, _ := bus.last()
	if cmd.Kind != core.CmdUpdateTargets || cmd.Targets == nil {
		t.Fatalf("last command = %+v", cmd)
	}
	if !cmd.Targets.Targets["people"] {
		t.Fatal("updated targets not on the wire")
	}

	var saved core.PatrolSettings
	if err := persist.Get(store.KeySettings, &saved); err != nil {
		t.Fatalf("persisted settings missing: %v", err)
	}
	if saved.SpeedPercent != 80 {
		t.Fatalf("persisted speed = %d, want 80", saved.SpeedPercent)
	}

	// reload from the same store
	e2 := New(Dependencies{
		Routes:  &fakeRoutes{},
		Out:     &fakeBus{},
		Persist: persist,
		Log:     slog.New(slog.DiscardHandler),
	})
	if e2.Settings().SpeedPercent != 80 {
		t.Fatal("settings not reloaded on construction")
	}
}

func TestSettings_ReturnsCopy(t *testing.T) {
	e, _ := newTestEngine(t)
	s := e.Settings()
	s.DetectionTargets["people"] = true
	if e.Settings().DetectionTargets["people"] {
		t.Fatal("Settings must return an independent copy")
	}
}

func TestNoteDetection_CountsOnlyWhileActive(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"))

	e.NoteDetection()
	if e.Snapshot().DetectionCount != 0 {
		t.Fatal("detections must not count while stopped")
	}

	e.Start("r1", core.StartedByOperator)
	e.NoteDetection()
	e.Pause("")
	e.NoteDetection()
	if got := e.Snapshot().DetectionCount; got != 2 {
		t.Fatalf("detection count = %d, want 2", got)
	}
}

func TestWaypointReached_UpdatesIndex(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"))
	e.Start("r1", core.StartedByOperator)
	e.HandleWaypointReached(3)
	if got := e.Snapshot().CurrentWaypoint; got != 3 {
		t.Fatalf("current waypoint = %d, want 3", got)
	}
}

func TestHome_PersistedAcrossConstruction(t *testing.T) {
	persist := store.NewMemory()
	mk := func() *Engine {
		return New(Dependencies{
			Routes:  &fakeRoutes{},
			Out:     &fakeBus{},
			Persist: persist,
			Log:     slog.New(slog.DiscardHandler),
		})
	}

	e := mk()
	if _, ok := e.Home(); ok {
		t.Fatal("fresh store should have no home position")
	}
	if err := e.SetHome(core.LatLng{Lat: 51.5, Lng: -0.1}); err != nil {
		t.Fatalf("SetHome: %v", err)
	}

	home, ok := mk().Home()
	if !ok || home.Lat != 51.5 {
		t.Fatalf("home = %+v ok=%v", home, ok)
	}
}

func TestStartClock_UsesInjectedNow(t *testing.T) {
	e, _ := newTestEngine(t, testRoute("r1"))
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	e.Start("r1", core.StartedBySchedule)
	if got := e.Snapshot().StartedAt; !got.Equal(fixed) {
		t.Fatalf("started at %v, want %v", got, fixed)
	}
}
