// pkg/core/frame.go
package core

import "time"

// Frame is every detection delivered for one capture tick, across all cameras.
type Frame struct {
	Seq        uint64      `json:"seq"`
	Time       time.Time   `json:"time"`
	Detections []Detection `json:"detections"`
}

// Find returns the first detection for id in the frame. The detector may report the same
// marker once per camera; the fusion filter decides later whether the chosen sample is kept.
func (f Frame) Find(id MarkerID) (Detection, bool) {
	for _, d := range f.Detections {
		if d.MarkerID == id {
			return d, true
		}
	}
	return Detection{}, false
}
