package transform

import (
	"errors"
	"fmt"

	"github.com/tabletopmap/pucktracker/pkg/core"
	"gonum.org/v1/gonum/stat"
)

// ErrNotEnoughPoints is returned when a fit has fewer than two distinct points per axis.
var ErrNotEnoughPoints = errors.New("not enough tracking points")

// TrackingPoint pairs a puck center seen by a camera with the table position it
// was placed on during calibration.
type TrackingPoint struct {
	Camera core.CameraID `json:"camera"`
	Raw    core.Point2D  `json:"raw"`
	Table  core.Point2D  `json:"table"`
}

// Fit estimates an axis-aligned scale and offset for cam by least squares over
// the tracking points recorded for it.
func Fit(cam core.CameraID, points []TrackingPoint) (Calibration, error) {
	var rx, ry, tx, ty []float64
	for _, p := range points {
		if p.Camera != cam {
			continue
		}
		rx = append(rx, p.Raw.X)
		ry = append(ry, p.Raw.Y)
		tx = append(tx, p.Table.X)
		ty = append(ty, p.Table.Y)
	}
	if len(rx) < 2 || stat.Variance(rx, nil) == 0 || stat.Variance(ry, nil) == 0 {
		return Calibration{}, fmt.Errorf("camera %d: %w", cam, ErrNotEnoughPoints)
	}

	offX, scaleX := stat.LinearRegression(rx, tx, nil, false)
	offY, scaleY := stat.LinearRegression(ry, ty, nil, false)

	return Calibration{
		Camera:  cam,
		ScaleX:  scaleX,
		ScaleY:  scaleY,
		OffsetX: offX,
		OffsetY: offY,
	}, nil
}
