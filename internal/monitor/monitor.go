// Package monitor periodically writes a status snapshot of every puck.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/tabletopmap/pucktracker/internal/influx"
	"github.com/tabletopmap/pucktracker/internal/registry"
	"github.com/tabletopmap/pucktracker/internal/session"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// WriteStats reports the storage write pipeline.
type WriteStats interface {
	GetLastDBWriteDuration() time.Duration
	WriteQueueLen() int
}

// PointWriter receives performance samples, typically influx.Manager.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger     *slog.Logger
	Registry   *registry.Registry
	Session    *session.Context
	Writes     WriteStats
	Perf       PointWriter
	StatusPath string
	Interval   time.Duration
}

// MarkerStatus is the state of one puck at snapshot time.
type MarkerStatus struct {
	ID         core.MarkerID `json:"id"`
	Job        core.JobTag   `json:"job"`
	Detected   bool          `json:"detected"`
	Enabled    bool          `json:"enabled"`
	Center     *core.Point2D `json:"center,omitempty"`
	HistoryLen int           `json:"historyLen"`
	HistoryMax int           `json:"historyMax"`
	Suppressed uint64        `json:"suppressed"`
}

// Status is one snapshot.
type Status struct {
	Time              time.Time      `json:"time"`
	SessionID         string         `json:"sessionId"`
	Markers           []MarkerStatus `json:"markers"`
	WriteQueue        int            `json:"writeQueue"`
	LastWriteDuration float64        `json:"lastWriteMs"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}

	// last known detection state, for transition warnings
	tickMu   sync.Mutex
	detected map[core.MarkerID]bool
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		detected: make(map[core.MarkerID]bool),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current status snapshot
func (s *Service) GetProgramStatus() Status {
	st := Status{Time: time.Now()}
	if s.deps.Session != nil {
		st.SessionID = s.deps.Session.ID().String()
	}
	if s.deps.Writes != nil {
		st.WriteQueue = s.deps.Writes.WriteQueueLen()
		st.LastWriteDuration = float64(s.deps.Writes.GetLastDBWriteDuration().Microseconds()) / 1000
	}

	for _, m := range s.deps.Registry.All() {
		ms := MarkerStatus{
			ID:         m.ID(),
			Job:        m.Job(),
			Detected:   m.Detected(),
			Enabled:    m.IsEnabled(),
			HistoryLen: m.HistoryLen(),
			HistoryMax: m.HistoryMax(),
			Suppressed: m.Suppressed(),
		}
		if c, ok := m.MostRecentCenter(); ok {
			ms.Center = &c
		}
		st.Markers = append(st.Markers, ms)
	}
	return st
}

// warnTransitions logs a puck that went missing or came back since the last snapshot.
func (s *Service) warnTransitions(st Status) {
	for _, m := range st.Markers {
		was, seen := s.detected[m.ID]
		s.detected[m.ID] = m.Detected
		if !seen || was == m.Detected {
			continue
		}
		if m.Detected {
			s.deps.Logger.Info("Marker detected again", "marker", m.ID, "job", m.Job)
		} else {
			s.deps.Logger.Warn("Marker no longer detected", "marker", m.ID, "job", m.Job)
		}
	}
}

func (s *Service) perfPoint(st Status) *influxdb2_write.Point {
	detected := 0
	for _, m := range st.Markers {
		if m.Detected {
			detected++
		}
	}
	return influx.PerformancePoint(st.Time, map[string]any{
		"markers":     len(st.Markers),
		"detected":    detected,
		"write_queue": st.WriteQueue,
		"last_write":  st.LastWriteDuration,
	})
}

// writeStatus replaces the content of the status file with st.
func writeStatus(f *os.File, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Tick takes one snapshot, writes it out and returns it.
func (s *Service) Tick(statusFile *os.File) Status {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	st := s.GetProgramStatus()
	s.warnTransitions(st)

	if statusFile != nil {
		if err := writeStatus(statusFile, st); err != nil {
			s.deps.Logger.Error("Error writing status file", "error", err)
		}
	}
	if s.deps.Perf != nil {
		if err := s.deps.Perf.WritePoint(context.Background(), influx.PerformanceBucket, s.perfPoint(st)); err != nil {
			s.deps.Logger.Error("Error writing performance point", "error", err)
		}
	}
	return st
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}

	var statusFile *os.File
	if s.deps.StatusPath != "" {
		f, err := os.Create(s.deps.StatusPath)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("error creating status file: %w", err)
		}
		statusFile = f
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			if statusFile != nil {
				statusFile.Close()
			}
		}()

		s.deps.Logger.Debug("Starting status monitor goroutine")
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Tick(statusFile)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
