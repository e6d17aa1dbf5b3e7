// Package marker is the per-puck aggregate: history, flicker filter, gesture detector
// and the job and action currently bound to the puck.
package marker

import (
	"context"
	"sync"
	"time"

	"github.com/tabletopmap/pucktracker/internal/fusion"
	"github.com/tabletopmap/pucktracker/internal/geometry"
	"github.com/tabletopmap/pucktracker/internal/gesture"
	"github.com/tabletopmap/pucktracker/internal/history"
	"github.com/tabletopmap/pucktracker/internal/transform"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// Config is the fixed startup configuration of a puck.
type Config struct {
	ID                 core.MarkerID
	Job                core.JobTag
	MinRotationDegrees float64
	Cooldown           time.Duration
	HistorySize        int
	FlickerWindow      float64
	TrueAxisDeltas     bool
	Action             gesture.Action
}

// Marker tracks one physical puck.
type Marker struct {
	mu       sync.RWMutex
	id       core.MarkerID
	job      core.JobTag
	action   gesture.Action
	hist     *history.History
	filter   fusion.Filter
	detector *gesture.Detector
	t        transform.Transformer
	seq      transform.LatestWins

	// counters read by the engine for metrics
	suppressed uint64
}

// New creates a marker. A nil transformer stores corners as detected.
func New(cfg Config, t transform.Transformer) *Marker {
	action := cfg.Action
	if action == nil {
		action = gesture.NoAction
	}
	return &Marker{
		id:     cfg.ID,
		job:    cfg.Job,
		action: action,
		hist:   history.New(cfg.HistorySize),
		filter: fusion.New(cfg.FlickerWindow),
		detector: gesture.NewDetector(gesture.Config{
			MinRotationDegrees: cfg.MinRotationDegrees,
			Cooldown:           cfg.Cooldown,
			TrueAxisDeltas:     cfg.TrueAxisDeltas,
		}),
		t: t,
	}
}

// ID returns the fiducial id the marker answers to.
func (m *Marker) ID() core.MarkerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// SetID changes the fiducial id. Frames recorded under another id are dropped.
// Registered markers must be re-keyed through registry.ReassignID instead.
func (m *Marker) SetID(id core.MarkerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.id {
		m.hist.Reset()
	}
	m.id = id
}

// Job returns the job currently bound to the puck.
func (m *Marker) Job() core.JobTag {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.job
}

// SetJob binds a new job, keeping the current action.
func (m *Marker) SetJob(job core.JobTag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job = job
}

// Bind replaces job and action together. A pending cooldown keeps running and
// only re-arms the detector.
func (m *Marker) Bind(job core.JobTag, action gesture.Action) {
	if action == nil {
		action = gesture.NoAction
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job = job
	m.action = action
}

// Action returns the bound action.
func (m *Marker) Action() gesture.Action {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.action
}

// IsEnabled reports whether the puck may fire a gesture (Armed).
func (m *Marker) IsEnabled() bool {
	return m.detector.Enabled()
}

// State returns the debounce state.
func (m *Marker) State() gesture.State {
	return m.detector.State()
}

// Config returns the gesture settings of the puck.
func (m *Marker) Config() gesture.Config {
	return m.detector.Config()
}

// AddDataPoint records one frame for the puck and runs gesture detection. raw is nil
// when no camera saw the puck this frame.
func (m *Marker) AddDataPoint(ctx context.Context, raw *core.Sample) (gesture.Gesture, bool) {
	m.mu.Lock()
	kept := m.admit(raw)
	if kept != nil {
		kept.Corners = transform.Corners(m.t, kept.Corners, kept.Camera)
	}
	m.hist.Push(kept)
	entries, action := m.snapshot()
	m.mu.Unlock()

	return m.detector.Observe(ctx, entries, action)
}

// snapshot copies what gesture detection needs so the action runs without
// m.mu held. Nothing is copied while cooling down. Callers hold m.mu.
func (m *Marker) snapshot() ([]history.Entry, gesture.Action) {
	if !m.detector.Enabled() {
		return nil, m.action
	}
	return m.hist.Compact(), m.action
}

// admit runs the flicker filter and returns a private copy of the kept sample.
func (m *Marker) admit(raw *core.Sample) *core.Sample {
	kept := m.filter.Apply(raw, m.hist)
	if kept == nil {
		if raw != nil {
			m.suppressed++
		}
		return nil
	}
	cp := *kept
	return &cp
}

// Pending is a filtered frame waiting for its corners to come back from an
// asynchronous transform.
type Pending struct {
	Seq    uint64
	Sample *core.Sample
}

// Stage filters raw against the current history and reserves a slot for it.
func (m *Marker) Stage(raw *core.Sample) Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Pending{Seq: m.seq.Next(), Sample: m.admit(raw)}
}

// Commit pushes a staged frame with its transformed corners. A frame overtaken by a
// newer commit is dropped and reported as not applied.
func (m *Marker) Commit(ctx context.Context, p Pending, corners core.Corners) (g gesture.Gesture, fired, applied bool) {
	m.mu.Lock()
	if !m.seq.Accept(p.Seq) {
		m.mu.Unlock()
		return gesture.Gesture{}, false, false
	}
	var s *core.Sample
	if p.Sample != nil {
		s = &core.Sample{Corners: corners, Camera: p.Sample.Camera}
	}
	m.hist.Push(s)
	entries, action := m.snapshot()
	m.mu.Unlock()

	g, fired = m.detector.Observe(ctx, entries, action)
	return g, fired, true
}

// MostRecentSample returns the newest present sample in table coordinates.
func (m *Marker) MostRecentSample() (core.Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hist.MostRecentPresent()
}

// MostRecentCenter returns the centroid of the newest present sample.
func (m *Marker) MostRecentCenter() (core.Point2D, bool) {
	s, ok := m.MostRecentSample()
	if !ok {
		return core.Point2D{}, false
	}
	return geometry.Centroid(s.Corners)
}

// MostRecentCenterX returns the x of MostRecentCenter.
func (m *Marker) MostRecentCenterX() (float64, bool) {
	p, ok := m.MostRecentCenter()
	return p.X, ok
}

// MostRecentCenterY returns the y of MostRecentCenter.
func (m *Marker) MostRecentCenterY() (float64, bool) {
	p, ok := m.MostRecentCenter()
	return p.Y, ok
}

// WasMoved reports whether the puck was picked up and set down between its two
// newest present samples.
func (m *Marker) WasMoved() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detector.WasMoved(m.hist)
}

// Detected reports whether the newest frame holds a kept sample.
func (m *Marker) Detected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hist.At(0) != nil
}

// Suppressed returns how many detections the flicker filter has discarded.
func (m *Marker) Suppressed() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suppressed
}

// HistoryLen returns the number of frames held.
func (m *Marker) HistoryLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hist.Len()
}

// HistoryMax returns how many frames the puck keeps.
func (m *Marker) HistoryMax() int {
	return m.hist.Max()
}

// Close cancels the cooldown timer.
func (m *Marker) Close() {
	m.detector.Stop()
}
