package gesture

import (
	"github.com/tabletopmap/pucktracker/internal/geometry"
	"github.com/tabletopmap/pucktracker/internal/history"
)

// Jitter of a resting puck stays inside (repositionMin, repositionMax) pixels.
const (
	repositionMin = 1.0
	repositionMax = 4.0
)

// WasMoved reports whether the two newest present samples of h show the puck being
// picked up and put down, as opposed to camera noise on a resting puck.
func WasMoved(h *history.History, trueAxisDeltas bool) bool {
	entries := h.Compact()
	if len(entries) < 2 {
		return false
	}
	newest, previous := entries[0].Sample.Corners, entries[1].Sample.Corners
	if newest[0].X == previous[0].X {
		return false
	}

	dx, dy := geometry.Distance(newest, previous, trueAxisDeltas)
	if inBand(dx) || inBand(dy) {
		return false
	}
	return true
}

func inBand(v float64) bool {
	return v > repositionMin && v < repositionMax
}

// WasMoved applies the package-level check with the detector's axis setting.
func (d *Detector) WasMoved(h *history.History) bool {
	return WasMoved(h, d.cfg.TrueAxisDeltas)
}
