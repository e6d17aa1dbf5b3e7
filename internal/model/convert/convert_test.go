package convert

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

func TestSessionRoundTrip(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	s := core.Session{
		ID:               uuid.New(),
		StartTime:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EndTime:          &end,
		Hostname:         "table-1",
		ExtensionVersion: "1.2.0",
		MapName:          "floodplain",
		Markers:          []core.MarkerID{320, 7, 9, 11},
	}

	m := CoreToSession(s)
	assert.JSONEq(t, `[320,7,9,11]`, string(m.Markers))

	if diff := cmp.Diff(s, SessionToCore(m)); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_NoMarkers(t *testing.T) {
	m := CoreToSession(core.Session{ID: uuid.New()})
	assert.Equal(t, "[]", string(m.Markers))
	assert.Empty(t, SessionToCore(m).Markers)
}

func TestPositionState_WithGeo(t *testing.T) {
	p := core.PositionState{
		SessionID: uuid.New(),
		MarkerID:  7,
		Job:       "layer",
		Frame:     42,
		Time:      time.Unix(1000, 0).UTC(),
		Position:  core.Point2D{X: 100.5, Y: 200.25},
		Camera:    2,
		Enabled:   true,
		Geo:       &core.GeoPosition{Longitude: 10, Latitude: 50, X3857: 1113194.9, Y3857: 6446275.8},
	}

	m := CoreToPositionState(p)
	coord, ok := m.Location.Coordinates()
	require.True(t, ok)
	assert.Equal(t, 1113194.9, coord.X)
	assert.Equal(t, 6446275.8, coord.Y)
	assert.Equal(t, 7, m.MarkerID)
	assert.Equal(t, "layer", m.Job)

	if diff := cmp.Diff(p, PositionStateToCore(m)); diff != "" {
		t.Errorf("position mismatch (-want +got):\n%s", diff)
	}
}

func TestPositionState_WithoutGeo(t *testing.T) {
	m := CoreToPositionState(core.PositionState{MarkerID: 9, Position: core.Point2D{X: 1, Y: 2}})
	assert.True(t, m.Location.IsEmpty())
	assert.Nil(t, PositionStateToCore(m).Geo)
}

func TestGestureEventRoundTrip(t *testing.T) {
	for _, dir := range []core.Direction{core.DirectionLeft, core.DirectionRight, core.DirectionNone} {
		g := core.NewGestureEvent(320, "year", dir, 10, 2)
		g.SessionID = uuid.New()
		g.Frame = 5

		m := CoreToGestureEvent(g)
		assert.Equal(t, dir.String(), m.Direction)

		if diff := cmp.Diff(g, GestureEventToCore(m)); diff != "" {
			t.Errorf("gesture mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestRemapEventRoundTrip(t *testing.T) {
	prev := core.MarkerID(320)
	r := core.RemapEvent{
		ID:          uuid.New(),
		SessionID:   uuid.New(),
		Time:        time.Unix(50, 0).UTC(),
		Job:         "year",
		MarkerID:    11,
		PreviousID:  &prev,
		PreviousJob: "add",
	}

	m := CoreToRemapEvent(r)
	assert.True(t, m.PreviousID.Valid)
	assert.Equal(t, int64(320), m.PreviousID.Int64)

	if diff := cmp.Diff(r, RemapEventToCore(m)); diff != "" {
		t.Errorf("remap mismatch (-want +got):\n%s", diff)
	}

	r.PreviousID = nil
	m = CoreToRemapEvent(r)
	assert.False(t, m.PreviousID.Valid)
	assert.Nil(t, RemapEventToCore(m).PreviousID)
}
