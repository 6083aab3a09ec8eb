// Package alerts records detection events and fires the configured alert
// side effects. Recording is unconditional; side effects go through the
// per-type cooldown so a snail sitting in front of the camera does not
// ring the bell thirty times a minute.
package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patrolkit/engine/internal/queue"
	"github.com/patrolkit/engine/internal/store"
	"github.com/patrolkit/engine/pkg/core"
)

// HistoryCap bounds the detection history, most recent first.
const HistoryCap = 100

// MissionControl is the slice of the mission state machine the pipeline
// needs for pause-on-detect and detection counting. Generation changes
// on every transition; the auto-resume timer uses it to stand down when
// the pause it armed for has been superseded.
type MissionControl interface {
	Status() core.Status
	Generation() uint64
	Pause(reason string) error
	Resume() error
	NoteDetection()
}

// Publisher is the outbound intent sink.
type Publisher interface {
	Publish(core.Command)
}

// Pipeline is the detection/alert pipeline.
type Pipeline struct {
	mu        sync.Mutex
	history   []core.DetectionEvent
	counts    map[string]int
	lastAlert map[string]time.Time
	policy    core.AlertPolicy

	mission MissionControl
	out     Publisher
	persist store.Store
	pending *queue.Queue[core.DetectionEvent]
	log     *slog.Logger
	now     func() time.Time
}

// New builds a pipeline, reloading persisted history and alert policy.
func New(mission MissionControl, out Publisher, persist store.Store, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		counts:    map[string]int{},
		lastAlert: map[string]time.Time{},
		mission:   mission,
		out:       out,
		persist:   persist,
		pending:   queue.New[core.DetectionEvent](),
		log:       log,
		now:       time.Now,
	}
	p.policy = store.Load(persist, store.KeyAlerts, core.DefaultAlertPolicy())
	p.history = store.Load(persist, store.KeyDetections, []core.DetectionEvent{})
	if len(p.history) > HistoryCap {
		p.history = p.history[:HistoryCap]
	}
	for _, ev := range p.history {
		p.counts[ev.Target]++
	}
	return p
}

// HandleDetection records the event and evaluates the alert policy.
func (p *Pipeline) HandleDetection(ev core.DetectionEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = p.now()
	}

	p.mu.Lock()
	p.history = append([]core.DetectionEvent{ev}, p.history...)
	if len(p.history) > HistoryCap {
		p.history = p.history[:HistoryCap]
	}
	p.counts[ev.Target]++
	policy := p.policy

	alertable := true
	if policy.Cooldown > 0 {
		if last, ok := p.lastAlert[ev.Target]; ok && p.now().Sub(last) < policy.Cooldown {
			alertable = false
		}
	}
	p.mu.Unlock()

	p.mission.NoteDetection()
	p.pending.Push(ev)

	p.log.Info("Detection recorded",
		"type", ev.Target,
		"confidence", ev.Confidence,
		"alerted", alertable)

	if !alertable {
		return
	}

	alerted := false
	if policy.Sound {
		p.out.Publish(core.Command{Kind: core.CmdSoundAlert, Time: ev.Time})
		alerted = true
	}
	if policy.Notification || policy.Email {
		p.out.Publish(core.Command{
			Kind: core.CmdNotify,
			Time: ev.Time,
			Notify: &core.NotifyPayload{
				Target:     ev.Target,
				Confidence: ev.Confidence,
				Position:   ev.Position,
				ImageRef:   ev.ImageRef,
			},
		})
		alerted = true
	}
	if policy.Photo && ev.ImageRef != "" {
		p.out.Publish(core.Command{
			Kind: core.CmdCaptureArchived,
			Time: ev.Time,
			Notify: &core.NotifyPayload{
				Target:     ev.Target,
				Confidence: ev.Confidence,
				Position:   ev.Position,
				ImageRef:   ev.ImageRef,
			},
		})
		alerted = true
	}

	if policy.PauseOnMatch && p.mission.Status() == core.StatusRunning {
		if err := p.mission.Pause("detection: " + ev.Target); err == nil {
			alerted = true
			p.log.Info("Patrol paused on detection", "type", ev.Target)
			if policy.PauseFor > 0 {
				p.scheduleResume(policy.PauseFor, p.mission.Generation())
			}
		}
	}

	// the cooldown window only arms when something actually fired, so a
	// detection seen while every effect is disabled cannot suppress the
	// first real alert after re-enabling
	if alerted {
		p.mu.Lock()
		p.lastAlert[ev.Target] = p.now()
		p.mu.Unlock()
	}
}

// scheduleResume resumes the mission after the detection pause window.
// The generation captured at pause time pins the timer to that pause:
// if any transition happened since, even back into Paused by an
// operator, the timer stands down.
func (p *Pipeline) scheduleResume(after time.Duration, gen uint64) {
	time.AfterFunc(after, func() {
		if p.mission.Status() != core.StatusPaused || p.mission.Generation() != gen {
			return
		}
		if err := p.mission.Resume(); err == nil {
			p.log.Info("Patrol resumed after detection pause")
		}
	})
}

// History returns the recorded detections, most recent first.
func (p *Pipeline) History() []core.DetectionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.DetectionEvent, len(p.history))
	copy(out, p.history)
	return out
}

// Counts returns the per-type detection totals.
func (p *Pipeline) Counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

// Policy returns the active alert policy.
func (p *Pipeline) Policy() core.AlertPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// UpdatePolicy replaces and persists the alert policy.
func (p *Pipeline) UpdatePolicy(policy core.AlertPolicy) error {
	p.mu.Lock()
	p.policy = policy
	p.mu.Unlock()
	if err := p.persist.Set(store.KeyAlerts, policy); err != nil {
		p.log.Error("Failed to persist alert policy", "error", err)
		return err
	}
	return nil
}

// Clear drops the history and counters, in memory and on disk.
func (p *Pipeline) Clear() error {
	p.mu.Lock()
	p.history = nil
	p.counts = map[string]int{}
	p.lastAlert = map[string]time.Time{}
	p.mu.Unlock()
	p.pending.Clear()
	if err := p.persist.Delete(store.KeyDetections); err != nil {
		p.log.Error("Failed to clear persisted detections", "error", err)
		return err
	}
	return nil
}

// Run flushes recorded detections to the store in batches until the
// context ends. A final flush happens on shutdown.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush()
			return
		case <-ticker.C:
			p.Flush()
		}
	}
}

// Flush persists the history snapshot if anything arrived since the last
// flush.
func (p *Pipeline) Flush() {
	if batch := p.pending.Drain(); len(batch) == 0 {
		return
	}
	if err := p.persist.Set(store.KeyDetections, p.History()); err != nil {
		p.log.Error("Failed to persist detection history", "error", err)
	}
}
