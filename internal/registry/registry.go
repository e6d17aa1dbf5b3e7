// Package registry is the catalog of every puck on the table.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tabletopmap/pucktracker/internal/marker"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

var (
	// ErrDuplicateMarker is returned when a marker id is registered twice.
	ErrDuplicateMarker = errors.New("marker already registered")
	// ErrUnknownMarker is returned for an id that is not registered.
	ErrUnknownMarker = errors.New("unknown marker")
)

// Registry indexes markers by id and keeps their registration order.
// Both views always hold the same markers.
type Registry struct {
	mu      sync.RWMutex
	byID    map[core.MarkerID]*marker.Marker
	ordered []*marker.Marker
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byID: make(map[core.MarkerID]*marker.Marker),
	}
}

// Register adds a marker under its current id.
func (r *Registry) Register(m *marker.Marker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := m.ID()
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("register marker %d: %w", id, ErrDuplicateMarker)
	}
	r.byID[id] = m
	r.ordered = append(r.ordered, m)
	return nil
}

// Get retrieves a marker by id.
func (r *Registry) Get(id core.MarkerID) (*marker.Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	return m, ok
}

// GetByJob returns the first marker, in registration order, holding job.
func (r *Registry) GetByJob(job core.JobTag) (*marker.Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byJobLocked(job)
}

func (r *Registry) byJobLocked(job core.JobTag) (*marker.Marker, bool) {
	for _, m := range r.ordered {
		if m.Job() == job {
			return m, true
		}
	}
	return nil, false
}

// All returns every marker in registration order. The slice is a copy.
func (r *Registry) All() []*marker.Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*marker.Marker, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// IsValid reports whether id is registered.
func (r *Registry) IsValid(id core.MarkerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Len returns the number of registered markers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Remap hands job to the marker id. A marker already holding job is set to
// core.JobUnassigned first; both steps happen under one lock so no reader sees two
// holders. The previous holder, if any, is returned.
func (r *Registry) Remap(job core.JobTag, id core.MarkerID) (previous *marker.Marker, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("remap %q to marker %d: %w", job, id, ErrUnknownMarker)
	}
	if holder, ok := r.byJobLocked(job); ok {
		if holder == target {
			return nil, nil
		}
		holder.SetJob(core.JobUnassigned)
		previous = holder
	}
	target.SetJob(job)
	return previous, nil
}

// ReassignID re-keys a marker, for example after a worn puck is replaced by one
// carrying a different fiducial.
func (r *Registry) ReassignID(oldID, newID core.MarkerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[oldID]
	if !ok {
		return fmt.Errorf("reassign marker %d: %w", oldID, ErrUnknownMarker)
	}
	if oldID == newID {
		return nil
	}
	if _, taken := r.byID[newID]; taken {
		return fmt.Errorf("reassign marker %d to %d: %w", oldID, newID, ErrDuplicateMarker)
	}
	delete(r.byID, oldID)
	m.SetID(newID)
	r.byID[newID] = m
	return nil
}

// Close stops every marker's cooldown timer.
func (r *Registry) Close() {
	for _, m := range r.All() {
		m.Close()
	}
}
