// Package routes owns the canonical set of patrol routes and zones.
// Consumers get copy-on-read snapshots; derived metrics (length, area,
// estimated traversal time) are computed on demand via the geo package
// rather than cached.
package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/patrolkit/engine/internal/geo"
	"github.com/patrolkit/engine/internal/store"
	"github.com/patrolkit/engine/pkg/core"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ErrNotFound is returned for operations on unknown route ids.
var ErrNotFound = errors.New("route not found")

// ErrInvalidGeometry is returned when a definition has too few vertices
// for its kind. Nothing is stored.
var ErrInvalidGeometry = errors.New("invalid geometry")

// SortKey selects the ordering of List results.
type SortKey string

const (
	SortByName     SortKey = "name"
	SortByCreated  SortKey = "created"
	SortBySize     SortKey = "size"
	SortByPriority SortKey = "priority"
)

const defaultColor = "#4fc3f7"

// Store owns the route list. All mutations persist the full list under
// the routes key after applying.
type Store struct {
	mu     sync.RWMutex
	routes []core.Route

	// repeated selection of the same sort key flips direction
	lastSort SortKey
	lastAsc  bool

	persist store.Store
	log     *slog.Logger
	now     func() time.Time
}

// NewStore creates a route store backed by the given persistence store,
// loading any previously saved routes.
func NewStore(persist store.Store, log *slog.Logger) *Store {
	s := &Store{
		persist: persist,
		log:     log,
		now:     time.Now,
	}
	s.routes = store.Load(persist, store.KeyRoutes, []core.Route{})
	return s
}

// Len returns the number of routes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.routes)
}

// Get returns a copy of the route with the given id.
func (s *Store) Get(id string) (core.Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.routes {
		if r.ID == id {
			return copyRoute(r), true
		}
	}
	return core.Route{}, false
}

// Create validates and stores a new route, assigning id and creation
// timestamp. The stored route is returned.
func (s *Store) Create(def core.Route) (core.Route, error) {
	if def.Kind == "" {
		def.Kind = core.KindRoute
	}
	if len(def.Vertices) < def.Kind.MinVertices() {
		return core.Route{}, fmt.Errorf("%w: %s needs at least %d vertices, got %d",
			ErrInvalidGeometry, def.Kind, def.Kind.MinVertices(), len(def.Vertices))
	}

	def.ID = uuid.NewString()
	def.CreatedAt = s.now()
	def.Visible = true
	if def.Name == "" {
		def.Name = "New Route"
	}
	if def.Color == "" {
		def.Color = defaultColor
	}
	if def.Priority == "" {
		def.Priority = core.PriorityNormal
	}

	s.mu.Lock()
	s.routes = append(s.routes, copyRoute(def))
	s.saveLocked()
	s.mu.Unlock()

	return def, nil
}

// Update is a partial merge of route fields. Nil fields are left alone.
type Update struct {
	Name        *string
	Description *string
	Color       *string
	Priority    *core.Priority
	Vertices    []core.LatLng
}

// Update merges fields into the route with the given id. Replacing the
// vertex list re-validates the geometry.
func (s *Store) Update(id string, upd Update) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	r := &s.routes[idx]
	if upd.Vertices != nil && len(upd.Vertices) < r.Kind.MinVertices() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s needs at least %d vertices, got %d",
			ErrInvalidGeometry, r.Kind, r.Kind.MinVertices(), len(upd.Vertices))
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.Color != nil {
		r.Color = *upd.Color
	}
	if upd.Priority != nil {
		r.Priority = *upd.Priority
	}
	if upd.Vertices != nil {
		r.Vertices = append([]core.LatLng{}, upd.Vertices...)
	}
	s.saveLocked()
	s.mu.Unlock()

	return nil
}

// Delete removes the route with the given id. Callers holding the id as
// an active or selected reference react on their own.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.routes = append(s.routes[:idx], s.routes[idx+1:]...)
	s.saveLocked()
	s.mu.Unlock()

	return nil
}

// Duplicate deep-copies a route under a new id, visible by default.
func (s *Store) Duplicate(id string) (core.Route, error) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return core.Route{}, ErrNotFound
	}
	dup := copyRoute(s.routes[idx])
	dup.ID = uuid.NewString()
	dup.Name += " (copy)"
	dup.Visible = true
	dup.CreatedAt = s.now()
	s.routes = append(s.routes, dup)
	s.saveLocked()
	s.mu.Unlock()

	return copyRoute(dup), nil
}

// SetVisible toggles display visibility.
func (s *Store) SetVisible(id string, visible bool) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.routes[idx].Visible = visible
	s.saveLocked()
	s.mu.Unlock()

	return nil
}

// Reorder rearranges the list to match the given id order. Ids absent
// from the order keep their relative position after the ordered ones.
func (s *Store) Reorder(order []string) error {
	s.mu.Lock()
	byID := make(map[string]int, len(s.routes))
	for i, r := range s.routes {
		byID[r.ID] = i
	}
	for _, id := range order {
		if _, ok := byID[id]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	seen := make(map[string]bool, len(order))
	reordered := make([]core.Route, 0, len(s.routes))
	for _, id := range order {
		reordered = append(reordered, s.routes[byID[id]])
		seen[id] = true
	}
	for _, r := range s.routes {
		if !seen[r.ID] {
			reordered = append(reordered, r)
		}
	}
	s.routes = reordered
	s.saveLocked()
	s.mu.Unlock()

	return nil
}

// Visible returns copies of all display-visible routes.
func (s *Store) Visible() []core.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	visible := lo.Filter(s.routes, func(r core.Route, _ int) bool { return r.Visible })
	return lo.Map(visible, func(r core.Route, _ int) core.Route { return copyRoute(r) })
}

// FirstVisible returns the first visible route, the fallback used when a
// start intent arrives without a route id.
func (s *Store) FirstVisible() (core.Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.routes {
		if r.Visible {
			return copyRoute(r), true
		}
	}
	return core.Route{}, false
}

// List returns copies of all routes ordered by the given key. Selecting
// the same key twice in a row flips the direction; a new key resets to
// that key's default direction (name ascending, newest/largest/highest
// first for the others).
func (s *Store) List(key SortKey) []core.Route {
	s.mu.Lock()
	asc := defaultAscending(key)
	if key == s.lastSort {
		asc = !s.lastAsc
	}
	s.lastSort = key
	s.lastAsc = asc

	snapshot := lo.Map(s.routes, func(r core.Route, _ int) core.Route { return copyRoute(r) })
	s.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		less := lessBy(key, snapshot[i], snapshot[j])
		if asc {
			return less
		}
		return lessBy(key, snapshot[j], snapshot[i])
	})
	return snapshot
}

// Size returns the sort metric for a route: area for zones, length for
// open routes, both in meters (squared for area).
func Size(r core.Route) float64 {
	if r.Kind == core.KindZone {
		return geo.PolygonArea(r.Vertices)
	}
	return geo.RouteLength(r.Vertices)
}

// EstimateTime returns the estimated traversal seconds for a route at
// the given settings.
func EstimateTime(r core.Route, settings core.PatrolSettings) float64 {
	return geo.EstimateTraversalTime(Size(r), settings.SpeedPercent, r.Kind, settings.Pattern)
}

func defaultAscending(key SortKey) bool {
	// name sorts A-Z by default; everything else starts with the
	// "biggest/newest/highest first" reading operators expect
	return key == SortByName
}

func lessBy(key SortKey, a, b core.Route) bool {
	switch key {
	case SortByCreated:
		return a.CreatedAt.Before(b.CreatedAt)
	case SortBySize:
		return Size(a) < Size(b)
	case SortByPriority:
		// Rank is 0 for high; "ascending" means low priority first so the
		// default descending direction shows high first
		return a.Priority.Rank() > b.Priority.Rank()
	default:
		return a.Name < b.Name
	}
}

// indexOf requires s.mu held.
func (s *Store) indexOf(id string) int {
	_, idx, _ := lo.FindIndexOf(s.routes, func(r core.Route) bool { return r.ID == id })
	return idx
}

// saveLocked requires s.mu held for writing. Persisting inside the
// mutation's critical section keeps the stored list in step with the
// in-memory one under concurrent mutations.
func (s *Store) saveLocked() {
	snapshot := append([]core.Route{}, s.routes...)
	if err := s.persist.Set(store.KeyRoutes, snapshot); err != nil {
		s.log.Error("Failed to persist routes", "error", err)
	}
}

func copyRoute(r core.Route) core.Route {
	r.Vertices = append([]core.LatLng{}, r.Vertices...)
	return r
}
