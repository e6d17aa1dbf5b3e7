// Package geometry derives position, orientation and rotation from marker corners.
// Every function is partial: degenerate input yields ok == false, never a panic or NaN.
package geometry

import (
	"math"

	"github.com/tabletopmap/pucktracker/pkg/core"
)

// MaxRotationDegrees caps a plausible frame-to-frame rotation. Anything at or above it
// is an angle wraparound artifact.
const MaxRotationDegrees = 240.0

func finite(c core.Corners) bool {
	for _, p := range c {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return false
		}
	}
	return true
}

// Centroid is the midpoint of the corners[0]-corners[2] diagonal.
func Centroid(c core.Corners) (core.Point2D, bool) {
	if !finite(c) {
		return core.Point2D{}, false
	}
	return core.Point2D{
		X: (c[0].X + c[2].X) * 0.5,
		Y: (c[0].Y + c[2].Y) * 0.5,
	}, true
}

// OrientationDegrees is the clockwise screen angle of the centroid->corners[0] vector,
// in (0, 360]. It is undefined when corners[0] sits straight above or below the centroid.
func OrientationDegrees(c core.Corners) (float64, bool) {
	center, ok := Centroid(c)
	if !ok {
		return 0, false
	}
	x, y := c[0].X, c[0].Y
	if x == center.X {
		return 0, false
	}

	rotation := math.Atan((center.Y - y) / (x - center.X))

	switch {
	case rotation < 0 && y > center.Y:
		// quadrant IV
		rotation += 2 * math.Pi
	case x < center.X && y < center.Y:
		// quadrant II
		if rotation < 0 {
			rotation += math.Pi
		} else {
			rotation += math.Pi / 2
		}
	case x < center.X && y > center.Y:
		// quadrant III
		if rotation < 0 {
			rotation += 3 * math.Pi / 2
		} else {
			rotation += math.Pi
		}
	case x < center.X:
		// on the horizontal axis, left of center
		rotation = math.Pi
	}
	rotation -= 2 * math.Pi

	// screen y grows downward
	return -rotation * 180 / math.Pi, true
}

// RotationDelta classifies the rotation from old to new. diff is old minus new
// orientation; ok is false when either orientation is undefined.
func RotationDelta(old, new core.Corners, minDegrees float64) (dir core.Direction, diff float64, ok bool) {
	from, ok := OrientationDegrees(old)
	if !ok {
		return core.DirectionNone, 0, false
	}
	to, ok := OrientationDegrees(new)
	if !ok {
		return core.DirectionNone, 0, false
	}
	return Classify(from-to, minDegrees), from - to, true
}

// Classify maps an orientation difference onto a gesture direction.
func Classify(diff, minDegrees float64) core.Direction {
	if math.Abs(diff) >= MaxRotationDegrees {
		return core.DirectionNone
	}
	switch {
	case diff > minDegrees:
		return core.DirectionLeft
	case diff < -minDegrees:
		return core.DirectionRight
	default:
		return core.DirectionNone
	}
}

// Distance is the per-axis movement of corners[0] between two samples.
//
// Unless trueAxes is set both magnitudes come from the y delta, which is how the
// table has always measured movement and what the gesture thresholds are tuned to.
func Distance(a, b core.Corners, trueAxes bool) (dx, dy float64) {
	dy = math.Abs(a[0].Y - b[0].Y)
	if !trueAxes {
		return dy, dy
	}
	return math.Abs(a[0].X - b[0].X), dy
}
