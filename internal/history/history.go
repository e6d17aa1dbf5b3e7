// Package history keeps the bounded, newest-first record of a marker's detections.
package history

import "github.com/tabletopmap/pucktracker/pkg/core"

// DefaultMax is the number of frames retained per marker.
const DefaultMax = 40

// Entry is a present sample together with its index in the history at the time
// Compact was called. Index 0 is the newest frame.
type Entry struct {
	Sample core.Sample
	Index  int
}

// History is a newest-first ring of per-frame samples. A nil slot is a frame in
// which the marker was not seen (or was suppressed as flicker).
// It is not safe for concurrent use; each marker is owned by one goroutine at a time.
type History struct {
	max     int
	samples []*core.Sample
}

// New creates a History holding at most max frames. A max below 1 uses DefaultMax.
func New(max int) *History {
	if max < 1 {
		max = DefaultMax
	}
	return &History{
		max:     max,
		samples: make([]*core.Sample, 0, max+1),
	}
}

// Push prepends a frame, evicting the oldest one once the history is full.
func (h *History) Push(s *core.Sample) {
	if s != nil {
		cp := *s
		s = &cp
	}
	h.samples = append(h.samples, nil)
	copy(h.samples[1:], h.samples)
	h.samples[0] = s
	if len(h.samples) > h.max {
		h.samples[h.max] = nil
		h.samples = h.samples[:h.max]
	}
}

// Len returns the number of frames held, present or not.
func (h *History) Len() int {
	return len(h.samples)
}

// Max returns the capacity of the history.
func (h *History) Max() int {
	return h.max
}

// At returns the frame at index i (0 = newest). Absent frames and out of range
// indexes return nil.
func (h *History) At(i int) *core.Sample {
	if i < 0 || i >= len(h.samples) {
		return nil
	}
	return h.samples[i]
}

// MostRecentPresent returns the newest present sample.
func (h *History) MostRecentPresent() (core.Sample, bool) {
	for _, s := range h.samples {
		if s != nil {
			return *s, true
		}
	}
	return core.Sample{}, false
}

// Compact returns every present sample, newest first, with its original index.
func (h *History) Compact() []Entry {
	out := make([]Entry, 0, len(h.samples))
	for i, s := range h.samples {
		if s != nil {
			out = append(out, Entry{Sample: *s, Index: i})
		}
	}
	return out
}

// Reset drops every frame.
func (h *History) Reset() {
	clear(h.samples)
	h.samples = h.samples[:0]
}
