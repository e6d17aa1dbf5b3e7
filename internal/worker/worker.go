package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tabletopmap/pucktracker/internal/engine"
	"github.com/tabletopmap/pucktracker/internal/parser"
	"github.com/tabletopmap/pucktracker/internal/registry"
	"github.com/tabletopmap/pucktracker/internal/session"
	"github.com/tabletopmap/pucktracker/internal/storage"
	"github.com/tabletopmap/pucktracker/internal/transform"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// ErrNoSession is returned when a session command arrives out of order.
var ErrNoSession = errors.New("no session in progress")

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Logger    *slog.Logger
	Parser    *parser.Parser
	Engine    *engine.Engine
	Registry  *registry.Registry
	Transform *transform.Affine
	Session   *session.Context

	// RecordPosition disables position recording when false; gestures and
	// remaps are always recorded.
	RecordPosition bool
	FrameBuffer    int

	Hostname string
	Version  string
	Build    string
	MapName  string
}

// Manager turns feed events into engine calls and storage writes
type Manager struct {
	deps    Dependencies
	backend storage.Backend
	log     *slog.Logger

	mu     sync.Mutex
	active bool
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.FrameBuffer <= 0 {
		deps.FrameBuffer = 64
	}
	return &Manager{
		deps:    deps,
		backend: backend,
		log:     log,
	}
}

// DBWriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// QueueLenProvider is an optional interface for backends with write queues.
type QueueLenProvider interface {
	QueueLen() int
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastDBWriteDuration() time.Duration {
	if p, ok := m.backend.(DBWriteDurationProvider); ok {
		return p.GetLastDBWriteDuration()
	}
	if multi, ok := m.backend.(storage.Multi); ok {
		var longest time.Duration
		for _, b := range multi {
			if p, ok := b.(DBWriteDurationProvider); ok && p.GetLastDBWriteDuration() > longest {
				longest = p.GetLastDBWriteDuration()
			}
		}
		return longest
	}
	return 0
}

// WriteQueueLen returns how many rows the backend still has to write.
func (m *Manager) WriteQueueLen() int {
	if p, ok := m.backend.(QueueLenProvider); ok {
		return p.QueueLen()
	}
	n := 0
	if multi, ok := m.backend.(storage.Multi); ok {
		for _, b := range multi {
			if p, ok := b.(QueueLenProvider); ok {
				n += p.QueueLen()
			}
		}
	}
	return n
}

// Active reports whether a session is being recorded.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// StartSession ends a running session and records a new one on mapName.
func (m *Manager) StartSession(mapName string) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		if err := m.endLocked(); err != nil {
			m.log.Error("Failed to end previous session", "error", err)
		}
	}
	if mapName == "" {
		mapName = m.deps.MapName
	}

	s := &core.Session{
		ID:               uuid.New(),
		StartTime:        time.Now(),
		Hostname:         m.deps.Hostname,
		ExtensionVersion: m.deps.Version,
		ExtensionBuild:   m.deps.Build,
		MapName:          mapName,
	}
	for _, mk := range m.deps.Registry.All() {
		s.Markers = append(s.Markers, mk.ID())
	}

	m.deps.Session.Set(s)
	if err := m.backend.StartSession(s); err != nil {
		return s, fmt.Errorf("failed to start session: %w", err)
	}
	m.active = true
	m.log.Info("Session started", "session_id", s.ID, "map", s.MapName, "markers", len(s.Markers))
	return s, nil
}

// EndSession stamps and closes the running session.
func (m *Manager) EndSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return ErrNoSession
	}
	return m.endLocked()
}

func (m *Manager) endLocked() error {
	m.active = false
	m.deps.Session.End(time.Now())
	if err := m.backend.EndSession(); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if e, ok := m.backend.(storage.Exportable); ok && e.GetExportedFilePath() != "" {
		m.log.Info("Session exported", "path", e.GetExportedFilePath())
	}
	m.log.Info("Session ended", "session_id", m.deps.Session.ID())
	return nil
}

// Record writes an engine result to the backend. It is also the engine's
// OnCommit hook for asynchronous transforms.
func (m *Manager) Record(res engine.Result) {
	if !m.Active() {
		return
	}
	if m.deps.RecordPosition && len(res.Positions) > 0 {
		if err := storage.RecordPositions(m.backend, res.Positions); err != nil {
			m.log.Error("Failed to record positions", "error", err)
		}
	}
	for i := range res.Gestures {
		if err := m.backend.RecordGesture(&res.Gestures[i]); err != nil {
			m.log.Error("Failed to record gesture", "error", err)
		}
	}
}
