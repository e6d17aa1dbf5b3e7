// Package fusion suppresses detections of a marker that flicker between the two
// overhead cameras where their fields of view overlap.
package fusion

import (
	"github.com/tabletopmap/pucktracker/internal/history"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// DefaultWindow is the share of the history, newest first, in which a sample from
// another camera blocks a new detection.
const DefaultWindow = 0.2

// Filter decides what a marker's history actually receives for a frame.
type Filter struct {
	window float64
}

// New creates a Filter. A window outside (0, 1] falls back to DefaultWindow.
func New(window float64) Filter {
	if window <= 0 || window > 1 {
		window = DefaultWindow
	}
	return Filter{window: window}
}

// Apply returns the sample to push: raw, or nil when raw is absent or another camera
// saw the marker recently. Recency is measured in frames against the current history
// length, so a short history still looks back at least one frame.
func (f Filter) Apply(raw *core.Sample, h *history.History) *core.Sample {
	if raw == nil {
		return nil
	}
	if f.SeenInOtherCamera(raw.Camera, h) {
		return nil
	}
	return raw
}

// SeenInOtherCamera reports whether a present sample inside the recency window came
// from a camera other than cam.
func (f Filter) SeenInOtherCamera(cam core.CameraID, h *history.History) bool {
	limit := float64(h.Len()) * f.window
	for i := 0; i < h.Len() && float64(i) <= limit; i++ {
		if s := h.At(i); s != nil && s.Camera != cam {
			return true
		}
	}
	return false
}
