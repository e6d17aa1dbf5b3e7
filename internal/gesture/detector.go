// Package gesture turns a marker's sample history into debounced rotation gestures.
package gesture

import (
	"context"
	"sync"
	"time"

	"github.com/tabletopmap/pucktracker/internal/geometry"
	"github.com/tabletopmap/pucktracker/internal/history"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// State is the debounce state of a detector.
type State int

const (
	Armed State = iota
	Cooldown
)

func (s State) String() string {
	if s == Cooldown {
		return "cooldown"
	}
	return "armed"
}

const (
	// minSamples is how many present samples a marker needs before a turn can be read.
	minSamples = 3
	// stationaryPixels is the per-axis movement at or below which a marker is at rest.
	stationaryPixels = 1.0
)

// Config tunes a detector.
type Config struct {
	MinRotationDegrees float64
	Cooldown           time.Duration
	// TrueAxisDeltas measures x movement from the x coordinates instead of reusing the y delta.
	TrueAxisDeltas bool
}

// Gesture is a fired rotation.
type Gesture struct {
	Direction core.Direction
	From      float64
	To        float64
}

// Detector classifies rotations and owns the cooldown timer of one marker.
type Detector struct {
	cfg Config

	mu      sync.Mutex
	enabled bool
	timer   *time.Timer
	fired   uint64
	// gen changes on every claim and Stop; a stale claim never starts a timer
	gen uint64
}

// NewDetector creates an armed detector.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, enabled: true}
}

// Config returns the detector settings.
func (d *Detector) Config() Config {
	return d.cfg
}

// Enabled reports whether the detector is armed.
func (d *Detector) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// State returns the current debounce state.
func (d *Detector) State() State {
	if d.Enabled() {
		return Armed
	}
	return Cooldown
}

// Fired returns how many gestures this detector has fired.
func (d *Detector) Fired() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Observe reads a turn from entries, the present samples of a history newest
// first (history.Compact). On a turn it leaves Armed, invokes the matching side
// of action and then starts the cooldown timer. Concurrent callers race for the
// armed state and at most one of them fires. The timer never calls back into
// action.
func (d *Detector) Observe(ctx context.Context, entries []history.Entry, action Action) (Gesture, bool) {
	if !d.Enabled() {
		return Gesture{}, false
	}
	g, ok := d.classify(entries)
	if !ok {
		return Gesture{}, false
	}
	gen, won := d.claim()
	if !won {
		return Gesture{}, false
	}

	if action == nil {
		action = NoAction
	}
	switch g.Direction {
	case core.DirectionLeft:
		action.RotateLeft(ctx)
	case core.DirectionRight:
		action.RotateRight(ctx)
	}
	d.startCooldown(gen)
	return g, true
}

func (d *Detector) classify(entries []history.Entry) (Gesture, bool) {
	if len(entries) < minSamples {
		return Gesture{}, false
	}
	newest, previous := entries[0].Sample.Corners, entries[1].Sample.Corners

	dx, dy := geometry.Distance(newest, previous, d.cfg.TrueAxisDeltas)
	if dx <= stationaryPixels || dy <= stationaryPixels {
		return Gesture{}, false
	}

	dir, _, ok := geometry.RotationDelta(previous, newest, d.cfg.MinRotationDegrees)
	if !ok || dir == core.DirectionNone {
		return Gesture{}, false
	}
	from, _ := geometry.OrientationDegrees(previous)
	to, _ := geometry.OrientationDegrees(newest)
	return Gesture{Direction: dir, From: from, To: to}, true
}

// claim leaves Armed if the detector is still armed.
func (d *Detector) claim() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return 0, false
	}
	d.enabled = false
	d.fired++
	d.gen++
	return d.gen, true
}

// startCooldown schedules the return to Armed for the claim gen.
func (d *Detector) startCooldown(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.cfg.Cooldown, func() { d.rearm(gen) })
}

func (d *Detector) rearm(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen {
		d.enabled = true
	}
}

// Stop cancels a pending cooldown timer and re-arms the detector.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.enabled = true
}
