package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/patrolkit/engine/internal/tracker"
	"github.com/patrolkit/engine/pkg/core"
)

// MissionSource exposes the engine's current mission state.
type MissionSource interface {
	Snapshot() core.Mission
}

// ProgressSource exposes waypoint progress for the active mission.
type ProgressSource interface {
	Progress() tracker.Progress
}

// OutboundQueue reports the health of the command channel to the unit.
type OutboundQueue interface {
	Len() int
	Dropped() int64
}

// MissionRecorder persists periodic mission points. Nil disables recording.
type MissionRecorder interface {
	RecordMission(mission core.Mission, event string)
}

// Dependencies holds all dependencies for the monitor service.
type Dependencies struct {
	Mission   MissionSource
	Progress  ProgressSource
	Outbound  OutboundQueue
	Recorder  MissionRecorder
	Logger    *slog.Logger
	StatusDir string
	Interval  time.Duration
}

// Status is the snapshot written to the status file each tick.
type Status struct {
	Time            time.Time        `json:"time"`
	Mission         core.Mission     `json:"mission"`
	Progress        tracker.Progress `json:"progress"`
	OutboundPending int              `json:"outbound_pending"`
	OutboundDropped int64            `json:"outbound_dropped"`
}

// Service manages status monitoring.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current program status as printable lines plus the
// structured snapshot behind them.
func (s *Service) GetStatus() (output []string, status Status) {
	status = Status{
		Time:    time.Now(),
		Mission: s.deps.Mission.Snapshot(),
	}
	if s.deps.Progress != nil {
		status.Progress = s.deps.Progress.Progress()
	}
	if s.deps.Outbound != nil {
		status.OutboundPending = s.deps.Outbound.Len()
		status.OutboundDropped = s.deps.Outbound.Dropped()
	}

	raw, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	output = append(output, string(raw))
	return output, status
}

// Start starts the status monitor goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor goroutine", "function", "startStatusMonitor")

		var statusFile *os.File
		if s.deps.StatusDir != "" {
			var err error
			statusFile, err = os.Create(filepath.Join(s.deps.StatusDir, "status.txt"))
			if err != nil {
				s.deps.Logger.Error("Error creating status file", "error", err)
			} else {
				defer statusFile.Close()
			}
		}

		for {
			select {
			case <-s.stopChan:
				return
			case <-time.After(s.deps.Interval):
				lines, status := s.GetStatus()

				if status.Mission.Status == core.StatusStopped {
					continue
				}

				if statusFile != nil {
					statusFile.Truncate(0)
					statusFile.Seek(0, 0)
					for _, line := range lines {
						statusFile.WriteString(line + "\n")
					}
				}

				s.deps.Logger.Info("Patrol status",
					"status", status.Mission.Status,
					"route", status.Mission.ActiveRouteID,
					"waypoint", status.Progress.Current,
					"distance_m", status.Mission.DistanceMeters,
					"outbound_pending", status.OutboundPending,
					"outbound_dropped", status.OutboundDropped,
				)

				if s.deps.Recorder != nil {
					s.deps.Recorder.RecordMission(status.Mission, "status")
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
