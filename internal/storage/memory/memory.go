// Package memory keeps a session in memory and exports it as JSON when the
// session ends.
package memory

import (
	"sync"

	"github.com/tabletopmap/pucktracker/internal/config"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// MarkerRecord groups a puck with all its time-series data
type MarkerRecord struct {
	ID        core.MarkerID
	Job       core.JobTag
	Positions []core.PositionState
	Gestures  []core.GestureEvent
}

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	markers map[core.MarkerID]*MarkerRecord
	order   []core.MarkerID
	remaps  []core.RemapEvent

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		markers: make(map[core.MarkerID]*MarkerRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = s
	b.markers = make(map[core.MarkerID]*MarkerRecord)
	b.order = nil
	b.remaps = nil
	b.lastExportPath = ""
	for _, id := range s.Markers {
		b.recordLocked(id, "")
	}
	return nil
}

// EndSession finalizes and exports the session data
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	return b.exportJSON()
}

// recordLocked returns the record for id, creating it on first sight.
func (b *Backend) recordLocked(id core.MarkerID, job core.JobTag) *MarkerRecord {
	r, ok := b.markers[id]
	if !ok {
		r = &MarkerRecord{ID: id, Job: job}
		b.markers[id] = r
		b.order = append(b.order, id)
	}
	if job != "" {
		r.Job = job
	}
	return r
}

// RecordPosition records a puck position
func (b *Backend) RecordPosition(p *core.PositionState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.recordLocked(p.MarkerID, p.Job)
	r.Positions = append(r.Positions, *p)
	return nil
}

// RecordPositions records one frame of positions under a single lock
func (b *Backend) RecordPositions(ps []core.PositionState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range ps {
		r := b.recordLocked(p.MarkerID, p.Job)
		r.Positions = append(r.Positions, p)
	}
	return nil
}

// RecordGesture records a fired gesture
func (b *Backend) RecordGesture(g *core.GestureEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.recordLocked(g.MarkerID, g.Job)
	r.Gestures = append(r.Gestures, *g)
	return nil
}

// RecordRemap records a job handover
func (b *Backend) RecordRemap(e *core.RemapEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.remaps = append(b.remaps, *e)
	b.recordLocked(e.MarkerID, e.Job)
	if e.PreviousID != nil {
		if prev, ok := b.markers[*e.PreviousID]; ok {
			prev.Job = core.JobUnassigned
		}
	}
	return nil
}

// GetMarker returns a copy of the record for id
func (b *Backend) GetMarker(id core.MarkerID) (MarkerRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.markers[id]
	if !ok {
		return MarkerRecord{}, false
	}
	cp := *r
	cp.Positions = append([]core.PositionState(nil), r.Positions...)
	cp.Gestures = append([]core.GestureEvent(nil), r.Gestures...)
	return cp, true
}

// Remaps returns the recorded job handovers
func (b *Backend) Remaps() []core.RemapEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.RemapEvent(nil), b.remaps...)
}

// GetExportedFilePath returns the path of the last export
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
