package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

func TestIdentity(t *testing.T) {
	assert.Equal(t, core.Point2D{X: 3, Y: 4}, Identity.Transform(3, 4, 1))
}

func TestCorners_KeepsOrder(t *testing.T) {
	c := core.Corners{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 2}}
	shift := Func(func(x, y float64, cam core.CameraID) core.Point2D {
		return core.Point2D{X: x + float64(cam), Y: y}
	})

	got := Corners(shift, c, 10)
	assert.Equal(t, core.Corners{{X: 11, Y: 1}, {X: 12, Y: 1}, {X: 12, Y: 2}, {X: 11, Y: 2}}, got)
	assert.Equal(t, c, Corners(nil, c, 10))
}

func TestAffine(t *testing.T) {
	tr := NewAffine(
		Calibration{Camera: 1, ScaleX: 2, ScaleY: 3, OffsetX: 10, OffsetY: -5},
		Calibration{Camera: 2, RotationDegrees: 90},
	)

	p := tr.Transform(1, 1, 1)
	assert.InDelta(t, 12, p.X, 1e-9)
	assert.InDelta(t, -2, p.Y, 1e-9)

	p = tr.Transform(1, 0, 2)
	assert.InDelta(t, 0, p.X, 1e-9)
	assert.InDelta(t, 1, p.Y, 1e-9)

	// uncalibrated camera passes through
	assert.Equal(t, core.Point2D{X: 7, Y: 8}, tr.Transform(7, 8, 3))
}

func TestAffine_Calibrate(t *testing.T) {
	tr := NewAffine()
	tr.Calibrate(Calibration{Camera: 1, OffsetX: 25, OffsetY: 25})

	assert.Equal(t, core.Point2D{X: 26, Y: 27}, tr.Transform(1, 2, 1))
}

func TestBlocking(t *testing.T) {
	b := Blocking{Transformer: NewAffine(Calibration{Camera: 1, OffsetX: 1})}
	c := core.Corners{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}

	var got core.Corners
	var called bool
	b.TransformAsync(context.Background(), c, 1, func(out core.Corners, err error) {
		require.NoError(t, err)
		got = out
		called = true
	})
	require.True(t, called)
	assert.Equal(t, core.Point2D{X: 1, Y: 0}, got[0])
}

func TestAsync(t *testing.T) {
	a := Async{Transformer: NewAffine(Calibration{Camera: 1, OffsetY: 2})}
	c := core.Corners{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}

	out := make(chan core.Corners, 1)
	a.TransformAsync(context.Background(), c, 1, func(got core.Corners, err error) {
		assert.NoError(t, err)
		out <- got
	})
	got := <-out
	assert.Equal(t, core.Point2D{X: 0, Y: 2}, got[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errs := make(chan error, 1)
	a.TransformAsync(ctx, c, 1, func(_ core.Corners, err error) { errs <- err })
	assert.ErrorIs(t, <-errs, context.Canceled)
}

func TestLatestWins(t *testing.T) {
	var l LatestWins
	first := l.Next()
	second := l.Next()
	third := l.Next()

	assert.True(t, l.Accept(second))
	assert.False(t, l.Accept(first), "older result must be dropped")
	assert.False(t, l.Accept(second), "duplicate result must be dropped")
	assert.True(t, l.Accept(third))
	assert.False(t, l.Accept(third+1), "unissued sequence must be rejected")
}
