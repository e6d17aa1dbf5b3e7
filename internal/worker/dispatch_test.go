package worker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabletopmap/pucktracker/internal/config"
	"github.com/tabletopmap/pucktracker/internal/dispatcher"
	"github.com/tabletopmap/pucktracker/internal/engine"
	"github.com/tabletopmap/pucktracker/internal/marker"
	"github.com/tabletopmap/pucktracker/internal/parser"
	"github.com/tabletopmap/pucktracker/internal/registry"
	"github.com/tabletopmap/pucktracker/internal/session"
	"github.com/tabletopmap/pucktracker/internal/storage/memory"
	"github.com/tabletopmap/pucktracker/internal/transform"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

type recorder struct {
	left  atomic.Int32
	right atomic.Int32
}

func (r *recorder) RotateLeft(context.Context)  { r.left.Add(1) }
func (r *recorder) RotateRight(context.Context) { r.right.Add(1) }

type fixture struct {
	manager *Manager
	disp    *dispatcher.Dispatcher
	parser  *parser.Parser
	backend *memory.Backend
	reg     *registry.Registry
	tr      *transform.Affine
	action  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		parser:  parser.NewParser(nil),
		backend: memory.New(config.MemoryConfig{OutputDir: t.TempDir()}),
		reg:     registry.New(),
		tr:      transform.NewAffine(),
		action:  &recorder{},
	}
	require.NoError(t, f.reg.Register(marker.New(marker.Config{
		ID: 320, Job: "year", MinRotationDegrees: 4, Cooldown: time.Hour, Action: f.action,
	}, f.tr)))
	require.NoError(t, f.reg.Register(marker.New(marker.Config{ID: 9, Job: "scenario"}, f.tr)))
	require.NoError(t, f.reg.Register(marker.New(marker.Config{ID: 11, Job: "add"}, f.tr)))
	t.Cleanup(f.reg.Close)

	sess := session.NewContext()
	eng := engine.New(f.reg, engine.Options{Session: sess})
	t.Cleanup(eng.Close)

	f.manager = NewManager(Dependencies{
		Parser:         f.parser,
		Engine:         eng,
		Registry:       f.reg,
		Transform:      f.tr,
		Session:        sess,
		RecordPosition: true,
		FrameBuffer:    8,
		MapName:        "default",
	}, f.backend)

	d, err := dispatcher.New(nil)
	require.NoError(t, err)
	f.manager.RegisterHandlers(d)
	t.Cleanup(d.Close)
	f.disp = d
	return f
}

func (f *fixture) send(t *testing.T, line string) (any, error) {
	t.Helper()
	e, err := f.parser.ParseEvent([]byte(line), time.Now())
	require.NoError(t, err)
	return f.disp.Dispatch(e)
}

func puckJSON(id int, cx, cy, orientation float64) string {
	phi := (360 - orientation) * math.Pi / 180
	var pts []string
	for i := 0; i < 4; i++ {
		a := phi + float64(i)*math.Pi/2
		pts = append(pts, fmt.Sprintf(`{"x":%g,"y":%g}`, cx+10*math.Cos(a), cy-10*math.Sin(a)))
	}
	return fmt.Sprintf(`{"id":%d,"camera":1,"corners":[%s]}`, id, strings.Join(pts, ","))
}

func frameJSON(seq int, dets ...string) string {
	return fmt.Sprintf(`{"type":"frame","seq":%d,"detections":[%s]}`, seq, strings.Join(dets, ","))
}

func TestRegisterHandlers(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []string{
		parser.CommandFrame, parser.CommandRemap, parser.CommandReassign,
		parser.CommandCalibrate, parser.CommandSessionStart, parser.CommandSessionEnd,
	} {
		assert.True(t, f.disp.HasHandler(cmd), cmd)
	}
}

func TestFrames_RecordedDuringSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.send(t, `{"type":"session.start","map":"harbor"}`)
	require.NoError(t, err)
	assert.True(t, f.manager.Active())

	_, err = f.send(t, frameJSON(1, puckJSON(320, 90, 90, 10)))
	require.NoError(t, err)
	_, err = f.send(t, frameJSON(2, puckJSON(320, 100, 100, 10)))
	require.NoError(t, err)
	_, err = f.send(t, frameJSON(3, puckJSON(320, 110, 110, 2)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, ok := f.backend.GetMarker(320)
		return ok && len(r.Positions) == 3 && len(r.Gestures) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), f.action.left.Load())
	r, _ := f.backend.GetMarker(320)
	assert.Equal(t, core.DirectionLeft, r.Gestures[0].Direction)
}

func TestFrames_NotRecordedWithoutSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.backend.StartSession(&core.Session{}))

	_, err := f.send(t, frameJSON(1, puckJSON(320, 90, 90, 10)))
	require.NoError(t, err)

	m, _ := f.reg.Get(320)
	require.Eventually(t, func() bool { return m.HistoryLen() == 1 }, 2*time.Second, 10*time.Millisecond)
	r, _ := f.backend.GetMarker(320)
	assert.Empty(t, r.Positions)
}

func TestRemap(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.StartSession("")
	require.NoError(t, err)

	res, err := f.send(t, `{"type":"remap","job":"scenario","id":11}`)
	require.NoError(t, err)
	ev := res.(core.RemapEvent)
	require.NotNil(t, ev.PreviousID)
	assert.Equal(t, core.MarkerID(9), *ev.PreviousID)

	old, _ := f.reg.Get(9)
	assert.Equal(t, core.JobUnassigned, old.Job())
	assert.Len(t, f.backend.Remaps(), 1)

	_, err = f.send(t, `{"type":"remap","job":"scenario","id":404}`)
	assert.ErrorIs(t, err, registry.ErrUnknownMarker)

	_, err = f.send(t, `{"type":"remap","id":11}`)
	assert.ErrorIs(t, err, parser.ErrInvalidFrame)
}

func TestReassign(t *testing.T) {
	f := newFixture(t)
	_, err := f.send(t, `{"type":"reassign","from":11,"to":12}`)
	require.NoError(t, err)
	assert.False(t, f.reg.IsValid(11))
	assert.True(t, f.reg.IsValid(12))

	_, err = f.send(t, `{"type":"reassign","from":9,"to":12}`)
	assert.ErrorIs(t, err, registry.ErrDuplicateMarker)
}

func TestCalibrate(t *testing.T) {
	f := newFixture(t)
	_, err := f.send(t, `{"type":"calibrate","calibration":{"camera":1,"offsetX":100}}`)
	require.NoError(t, err)
	assert.InDelta(t, 101, f.tr.Transform(1, 0, 1).X, 1e-9)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	_, err := f.send(t, `{"type":"session.end"}`)
	assert.ErrorIs(t, err, ErrNoSession)

	res, err := f.send(t, `{"type":"session.start"}`)
	require.NoError(t, err)
	s := res.(*core.Session)
	assert.Equal(t, "default", s.MapName)
	assert.ElementsMatch(t, []core.MarkerID{320, 9, 11}, s.Markers)

	// starting again ends the running session first
	second, err := f.manager.StartSession("harbor")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, second.ID)
	assert.NotNil(t, s.EndTime)

	_, err = f.send(t, `{"type":"session.end"}`)
	require.NoError(t, err)
	assert.False(t, f.manager.Active())
	assert.NotEmpty(t, f.backend.GetExportedFilePath())
}

func TestSessionEnd_WaitsForQueuedFrames(t *testing.T) {
	f := newFixture(t)
	_, err := f.send(t, `{"type":"session.start"}`)
	require.NoError(t, err)

	for i := 1; i <= 20; i++ {
		res, err := f.send(t, frameJSON(i, puckJSON(320, 90, 90, 10)))
		require.NoError(t, err)
		assert.Equal(t, dispatcher.Queued, res)
	}
	_, err = f.send(t, `{"type":"session.end"}`)
	require.NoError(t, err)

	r, ok := f.backend.GetMarker(320)
	require.True(t, ok)
	assert.Len(t, r.Positions, 20, "frames queued before session.end are recorded in the session")
}

func TestStats_DefaultsWithoutProviders(t *testing.T) {
	f := newFixture(t)
	assert.Zero(t, f.manager.GetLastDBWriteDuration())
	assert.Zero(t, f.manager.WriteQueueLen())
}
