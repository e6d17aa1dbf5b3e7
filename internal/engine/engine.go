// Package engine feeds frames through the registered pucks and collects the
// resulting positions and gestures.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tabletopmap/pucktracker/internal/geometry"
	"github.com/tabletopmap/pucktracker/internal/gesture"
	"github.com/tabletopmap/pucktracker/internal/logging"
	"github.com/tabletopmap/pucktracker/internal/marker"
	"github.com/tabletopmap/pucktracker/internal/registry"
	"github.com/tabletopmap/pucktracker/internal/session"
	"github.com/tabletopmap/pucktracker/internal/transform"
	"github.com/tabletopmap/pucktracker/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tabletopmap/pucktracker/internal/engine"

// Projector places table positions on the map.
type Projector interface {
	Project(p core.Point2D) *core.GeoPosition
}

// Result is what one frame (or one late asynchronous commit) produced.
type Result struct {
	Positions []core.PositionState
	Gestures  []core.GestureEvent
	// Pending counts samples handed to the asynchronous transform.
	Pending int
}

func (r *Result) merge(o Result) {
	r.Positions = append(r.Positions, o.Positions...)
	r.Gestures = append(r.Gestures, o.Gestures...)
	r.Pending += o.Pending
}

// Options configures an Engine.
type Options struct {
	Logger    *slog.Logger
	Session   *session.Context
	Projector Projector
	// Workers > 1 shards markers over that many goroutines by id.
	Workers int
	// Async routes corner transforms through an asynchronous collaborator.
	// Markers must then be created without a transformer. Late results are
	// delivered through OnCommit.
	Async    transform.AsyncTransformer
	OnCommit func(Result)
	// Meter defaults to the global meter provider.
	Meter metric.Meter
}

type instruments struct {
	frames     metric.Int64Counter
	gestures   metric.Int64Counter
	suppressed metric.Int64Counter
	stale      metric.Int64Counter
}

func newInstruments(m metric.Meter) instruments {
	var in instruments
	in.frames, _ = m.Int64Counter("engine.frames",
		metric.WithDescription("Frames processed"))
	in.gestures, _ = m.Int64Counter("engine.gestures",
		metric.WithDescription("Rotation gestures fired"))
	in.suppressed, _ = m.Int64Counter("engine.flicker.suppressed",
		metric.WithDescription("Detections discarded by the flicker filter"))
	in.stale, _ = m.Int64Counter("engine.async.stale",
		metric.WithDescription("Asynchronous transform results dropped as out of order"))
	return in
}

// Engine runs every frame through the registry's markers.
type Engine struct {
	reg  *registry.Registry
	opts Options
	log  *slog.Logger
	in   instruments

	pool *Pool
	// frames are applied one at a time; the pool barrier relies on it
	frameMu sync.Mutex
}

// New creates an Engine over reg. Call Close to stop the shard workers.
func New(reg *registry.Registry, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Session == nil {
		opts.Session = session.NewContext()
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(instrumentationName)
	}
	e := &Engine{
		reg:  reg,
		opts: opts,
		log:  log,
		in:   newInstruments(opts.Meter),
	}
	if opts.Workers > 1 {
		e.pool = NewPool(opts.Workers, e.processMarker)
	}
	return e
}

// Close stops the shard workers.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

// ProcessFrame gives every registered marker exactly one data point: the first
// detection for its id across cameras, or an absent sample.
func (e *Engine) ProcessFrame(ctx context.Context, f core.Frame) Result {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()

	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	markers := e.reg.All()

	var res Result
	if e.pool != nil {
		res = e.pool.Run(ctx, f, markers)
	} else {
		for _, m := range markers {
			res.merge(e.processMarker(ctx, f, m))
		}
	}

	e.in.frames.Add(ctx, 1)
	if n := len(res.Gestures); n > 0 {
		e.in.gestures.Add(ctx, int64(n))
	}
	return res
}

func (e *Engine) processMarker(ctx context.Context, f core.Frame, m *marker.Marker) Result {
	ctx = logging.WithAttrs(ctx, slog.Uint64("frame", f.Seq))
	var raw *core.Sample
	if d, ok := f.Find(m.ID()); ok {
		raw = d.Sample()
	}

	if e.opts.Async != nil {
		return e.stage(ctx, f, m, raw)
	}

	before := m.Suppressed()
	g, fired := m.AddDataPoint(ctx, raw)
	if m.Suppressed() > before {
		e.in.suppressed.Add(ctx, 1)
	}

	var res Result
	if s, ok := e.latest(m); ok {
		res.Positions = append(res.Positions, e.position(f, m, s))
	}
	if fired {
		res.Gestures = append(res.Gestures, e.gestureEvent(f, m, g))
	}
	return res
}

// latest returns the sample just pushed, if it is present.
func (e *Engine) latest(m *marker.Marker) (core.Sample, bool) {
	if !m.Detected() {
		return core.Sample{}, false
	}
	return m.MostRecentSample()
}

// stage filters raw now and commits it once its corners come back.
func (e *Engine) stage(ctx context.Context, f core.Frame, m *marker.Marker, raw *core.Sample) Result {
	p := m.Stage(raw)
	if raw != nil && p.Sample == nil {
		e.in.suppressed.Add(ctx, 1)
	}
	if p.Sample == nil {
		// absent frames carry no corners; commit in order right away
		e.commit(ctx, f, m, p, core.Corners{})
		return Result{}
	}

	e.opts.Async.TransformAsync(ctx, p.Sample.Corners, p.Sample.Camera, func(c core.Corners, err error) {
		if err != nil {
			e.log.Warn("Transform failed", "marker", m.ID(), "error", err)
			e.commit(ctx, f, m, marker.Pending{Seq: p.Seq}, core.Corners{})
			return
		}
		e.commit(ctx, f, m, p, c)
	})
	return Result{Pending: 1}
}

func (e *Engine) commit(ctx context.Context, f core.Frame, m *marker.Marker, p marker.Pending, c core.Corners) {
	g, fired, applied := m.Commit(ctx, p, c)
	if !applied {
		e.in.stale.Add(ctx, 1)
		return
	}

	var res Result
	if p.Sample != nil {
		res.Positions = append(res.Positions, e.position(f, m, core.Sample{Corners: c, Camera: p.Sample.Camera}))
	}
	if fired {
		e.in.gestures.Add(ctx, 1)
		res.Gestures = append(res.Gestures, e.gestureEvent(f, m, g))
	}
	if e.opts.OnCommit != nil && (len(res.Positions) > 0 || len(res.Gestures) > 0) {
		e.opts.OnCommit(res)
	}
}

func (e *Engine) position(f core.Frame, m *marker.Marker, s core.Sample) core.PositionState {
	center, _ := geometry.Centroid(s.Corners)
	ps := core.PositionState{
		SessionID: e.opts.Session.ID(),
		MarkerID:  m.ID(),
		Job:       m.Job(),
		Frame:     f.Seq,
		Time:      f.Time,
		Position:  center,
		Camera:    s.Camera,
		Enabled:   m.IsEnabled(),
	}
	if e.opts.Projector != nil {
		ps.Geo = e.opts.Projector.Project(center)
	}
	return ps
}

func (e *Engine) gestureEvent(f core.Frame, m *marker.Marker, g gesture.Gesture) core.GestureEvent {
	ev := core.NewGestureEvent(m.ID(), m.Job(), g.Direction, g.From, g.To)
	ev.SessionID = e.opts.Session.ID()
	ev.Frame = f.Seq
	ev.Time = f.Time
	e.log.Debug("Gesture fired", "marker", ev.MarkerID, "job", ev.Job, "direction", ev.Direction.String())
	return ev
}

// Remap hands job to marker id between frames and describes the change for
// recording. PreviousJob is the job id held before the handover.
func (e *Engine) Remap(job core.JobTag, id core.MarkerID) (core.RemapEvent, error) {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()

	var before core.JobTag
	if m, ok := e.reg.Get(id); ok {
		before = m.Job()
	}
	prev, err := e.reg.Remap(job, id)
	if err != nil {
		return core.RemapEvent{}, err
	}
	ev := core.NewRemapEvent(job, id)
	ev.SessionID = e.opts.Session.ID()
	ev.PreviousJob = before
	if prev != nil {
		pid := prev.ID()
		ev.PreviousID = &pid
		e.log.Info("Job remapped", "job", job, "marker", id, "previous", pid)
	} else {
		e.log.Info("Job remapped", "job", job, "marker", id)
	}
	return ev, nil
}

// ReassignID re-keys a puck between frames.
func (e *Engine) ReassignID(oldID, newID core.MarkerID) error {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()
	return e.reg.ReassignID(oldID, newID)
}
