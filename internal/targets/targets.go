// Package targets manages operator-defined detection targets. A custom
// target binds to exactly one detection source, either a fixed baseline
// class or an uploaded model artifact. Switching the source clears the
// other binding so a stale reference can never leak onto the wire.
package targets

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/patrolkit/engine/internal/store"
	"github.com/patrolkit/engine/pkg/core"
)

var (
	ErrNotFound        = errors.New("custom target not found")
	ErrInvalidBinding  = errors.New("custom target must bind exactly one detection source")
	ErrUnknownBaseline = errors.New("unknown baseline class")
)

// Registry owns the custom target list.
type Registry struct {
	mu      sync.Mutex
	targets []core.CustomTarget

	persist store.Store
	log     *slog.Logger

	// onChange pushes the updated set toward the unit, typically
	// Engine.UpdateCustomTargets.
	onChange func([]core.CustomTarget) error
}

// NewRegistry loads persisted targets. onChange may be nil.
func NewRegistry(persist store.Store, log *slog.Logger, onChange func([]core.CustomTarget) error) *Registry {
	return &Registry{
		targets:  store.Load(persist, store.KeyTargets, []core.CustomTarget{}),
		persist:  persist,
		log:      log,
		onChange: onChange,
	}
}

// List returns a copy of the registered targets.
func (r *Registry) List() []core.CustomTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.CustomTarget, len(r.targets))
	copy(out, r.targets)
	return out
}

// Get returns the target with the given id.
func (r *Registry) Get(id string) (core.CustomTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.targets {
		if t.ID == id {
			return t, nil
		}
	}
	return core.CustomTarget{}, ErrNotFound
}

// Add registers a new custom target.
func (r *Registry) Add(t core.CustomTarget) (core.CustomTarget, error) {
	if err := normalize(&t); err != nil {
		return core.CustomTarget{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	r.mu.Lock()
	r.targets = append(r.targets, t)
	r.mu.Unlock()

	r.log.Info("Custom target added", "name", t.Name, "source", t.Source)
	return t, r.flush()
}

// Update replaces an existing target.
func (r *Registry) Update(t core.CustomTarget) error {
	if err := normalize(&t); err != nil {
		return err
	}

	r.mu.Lock()
	idx := slices.IndexFunc(r.targets, func(x core.CustomTarget) bool { return x.ID == t.ID })
	if idx < 0 {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.targets[idx] = t
	r.mu.Unlock()

	return r.flush()
}

// SetEnabled toggles a target without touching its binding.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	idx := slices.IndexFunc(r.targets, func(x core.CustomTarget) bool { return x.ID == id })
	if idx < 0 {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.targets[idx].Enabled = enabled
	r.mu.Unlock()

	return r.flush()
}

// Remove deletes a target.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	before := len(r.targets)
	r.targets = slices.DeleteFunc(r.targets, func(x core.CustomTarget) bool { return x.ID == id })
	removed := len(r.targets) != before
	r.mu.Unlock()

	if !removed {
		return ErrNotFound
	}
	return r.flush()
}

func (r *Registry) flush() error {
	snapshot := r.List()
	if err := r.persist.Set(store.KeyTargets, snapshot); err != nil {
		r.log.Error("Failed to persist custom targets", "error", err)
		return err
	}
	if r.onChange != nil {
		return r.onChange(snapshot)
	}
	return nil
}

// normalize enforces the single-binding invariant and clamps the
// confidence threshold into (0, 1].
func normalize(t *core.CustomTarget) error {
	switch t.Source {
	case core.SourceBaseline:
		if t.BaselineClass == "" {
			return ErrInvalidBinding
		}
		if !slices.Contains(core.BaselineTargets, t.BaselineClass) {
			return ErrUnknownBaseline
		}
		t.ModelRef = ""
	case core.SourceModel:
		if t.ModelRef == "" {
			return ErrInvalidBinding
		}
		t.BaselineClass = ""
	default:
		return ErrInvalidBinding
	}

	if t.Threshold <= 0 || t.Threshold > 1 {
		t.Threshold = 0.7
	}
	return nil
}
