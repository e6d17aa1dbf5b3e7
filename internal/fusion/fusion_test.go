package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tabletopmap/pucktracker/internal/history"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

func sample(cam core.CameraID) *core.Sample {
	return &core.Sample{
		Corners: core.Corners{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 2}},
		Camera:  cam,
	}
}

func historyOf(samples ...*core.Sample) *history.History {
	h := history.New(history.DefaultMax)
	for _, s := range samples {
		h.Push(s)
	}
	return h
}

func TestFilter_AbsentStaysAbsent(t *testing.T) {
	f := New(DefaultWindow)
	assert.Nil(t, f.Apply(nil, historyOf(sample(1))))
	assert.Nil(t, f.Apply(nil, historyOf()))
}

func TestFilter_EmptyHistoryKeepsSample(t *testing.T) {
	f := New(DefaultWindow)
	raw := sample(2)
	assert.Same(t, raw, f.Apply(raw, historyOf()))
}

func TestFilter_SameCameraKept(t *testing.T) {
	f := New(DefaultWindow)
	h := historyOf(sample(1), sample(1), sample(1), sample(1), sample(1))
	raw := sample(1)
	assert.Same(t, raw, f.Apply(raw, h))
}

func TestFilter_OtherCameraInWindowSuppressed(t *testing.T) {
	f := New(DefaultWindow)
	// oldest to newest, five frames of camera 1
	h := historyOf(sample(1), sample(1), sample(1), sample(1), sample(1))
	assert.Nil(t, f.Apply(sample(2), h))
}

func TestFilter_OtherCameraOutsideWindowKept(t *testing.T) {
	f := New(DefaultWindow)
	// camera 1 seen only at index 4 of 10; window covers indexes 0..2
	h := historyOf(nil, nil, nil, nil, nil, sample(1), nil, nil, nil, nil)
	raw := sample(2)
	assert.Same(t, raw, f.Apply(raw, h))
}

func TestFilter_AbsentFramesInWindowDoNotBlock(t *testing.T) {
	f := New(DefaultWindow)
	h := historyOf(sample(1), nil, nil, nil, nil)
	raw := sample(2)
	// camera 1 sits at index 4, outside 0..1
	assert.Same(t, raw, f.Apply(raw, h))
}

func TestFilter_WindowBoundaryInclusive(t *testing.T) {
	f := New(DefaultWindow)
	// 10 frames, limit 2.0: index 2 is inside
	h := historyOf(nil, nil, nil, nil, nil, nil, nil, sample(1), nil, nil)
	assert.True(t, f.SeenInOtherCamera(2, h))

	h = historyOf(nil, nil, nil, nil, nil, nil, sample(1), nil, nil, nil)
	assert.False(t, f.SeenInOtherCamera(2, h))
}

func TestNew_InvalidWindowFallsBack(t *testing.T) {
	assert.Equal(t, DefaultWindow, New(0).window)
	assert.Equal(t, DefaultWindow, New(1.5).window)
	assert.Equal(t, 0.5, New(0.5).window)
}
