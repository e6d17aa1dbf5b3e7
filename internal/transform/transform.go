// Package transform maps camera pixel coordinates onto the table surface.
package transform

import (
	"context"
	"math"
	"sync"

	"github.com/tabletopmap/pucktracker/pkg/core"
)

// Transformer converts one raw corner seen by cam into table coordinates.
type Transformer interface {
	Transform(x, y float64, cam core.CameraID) core.Point2D
}

// Func adapts a plain function to Transformer.
type Func func(x, y float64, cam core.CameraID) core.Point2D

func (f Func) Transform(x, y float64, cam core.CameraID) core.Point2D {
	return f(x, y, cam)
}

// Identity leaves coordinates untouched.
var Identity Transformer = Func(func(x, y float64, _ core.CameraID) core.Point2D {
	return core.Point2D{X: x, Y: y}
})

// Corners applies t to every corner of c, keeping the winding order.
func Corners(t Transformer, c core.Corners, cam core.CameraID) core.Corners {
	if t == nil {
		return c
	}
	var out core.Corners
	for i, p := range c {
		out[i] = t.Transform(p.X, p.Y, cam)
	}
	return out
}

// Calibration is the affine placement of one camera's image on the table:
// rotate by RotationDegrees, scale, then offset.
type Calibration struct {
	Camera          core.CameraID `json:"camera" mapstructure:"camera"`
	ScaleX          float64       `json:"scaleX" mapstructure:"scaleX"`
	ScaleY          float64       `json:"scaleY" mapstructure:"scaleY"`
	OffsetX         float64       `json:"offsetX" mapstructure:"offsetX"`
	OffsetY         float64       `json:"offsetY" mapstructure:"offsetY"`
	RotationDegrees float64       `json:"rotationDegrees" mapstructure:"rotationDegrees"`
}

type affine struct {
	a, b, c float64
	d, e, f float64
}

func (cal Calibration) matrix() affine {
	sx, sy := cal.ScaleX, cal.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	sin, cos := math.Sincos(cal.RotationDegrees * math.Pi / 180)
	return affine{
		a: sx * cos, b: -sx * sin, c: cal.OffsetX,
		d: sy * sin, e: sy * cos, f: cal.OffsetY,
	}
}

// Affine holds one calibration per camera. Cameras without a calibration pass
// through unchanged. Calibrations may be replaced while tracking runs.
type Affine struct {
	mu       sync.RWMutex
	matrices map[core.CameraID]affine
}

// NewAffine creates an Affine transformer from camera calibrations.
func NewAffine(cals ...Calibration) *Affine {
	t := &Affine{matrices: make(map[core.CameraID]affine, len(cals))}
	for _, cal := range cals {
		t.matrices[cal.Camera] = cal.matrix()
	}
	return t
}

// Calibrate replaces the calibration of a single camera.
func (t *Affine) Calibrate(cal Calibration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.matrices[cal.Camera] = cal.matrix()
}

// Transform implements Transformer.
func (t *Affine) Transform(x, y float64, cam core.CameraID) core.Point2D {
	t.mu.RLock()
	m, ok := t.matrices[cam]
	t.mu.RUnlock()
	if !ok {
		return core.Point2D{X: x, Y: y}
	}
	return core.Point2D{
		X: m.a*x + m.b*y + m.c,
		Y: m.d*x + m.e*y + m.f,
	}
}

// AsyncTransformer is a transform collaborator that answers later, for example a
// calibration service on another process. done may be called from any goroutine.
type AsyncTransformer interface {
	TransformAsync(ctx context.Context, c core.Corners, cam core.CameraID, done func(core.Corners, error))
}

// Blocking adapts a synchronous Transformer to AsyncTransformer by answering inline.
type Blocking struct {
	Transformer
}

func (b Blocking) TransformAsync(_ context.Context, c core.Corners, cam core.CameraID, done func(core.Corners, error)) {
	done(Corners(b.Transformer, c, cam), nil)
}

// Async answers every request on its own goroutine, so replies may arrive out of
// order.
type Async struct {
	Transformer
}

func (a Async) TransformAsync(ctx context.Context, c core.Corners, cam core.CameraID, done func(core.Corners, error)) {
	go func() {
		if err := ctx.Err(); err != nil {
			done(c, err)
			return
		}
		done(Corners(a.Transformer, c, cam), nil)
	}()
}

// LatestWins orders asynchronous results: only a result newer than every result
// already applied is accepted, late arrivals are dropped.
type LatestWins struct {
	mu      sync.Mutex
	issued  uint64
	applied uint64
}

// Next issues a sequence number for a new request.
func (l *LatestWins) Next() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issued++
	return l.issued
}

// Accept reports whether the result for seq may be applied and records it.
func (l *LatestWins) Accept(seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq <= l.applied || seq > l.issued {
		return false
	}
	l.applied = seq
	return true
}
