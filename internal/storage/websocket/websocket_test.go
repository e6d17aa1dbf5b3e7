package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletopmap/pucktracker/pkg/core"
	"github.com/tabletopmap/pucktracker/pkg/streaming"
)

// fakeDisplay upgrades every request and records the envelopes received on
// each connection.
type fakeDisplay struct {
	// ack answers start_session and end_session
	ack bool
	// dropFirst closes the first connection once its session start is acked
	dropFirst bool

	mu     sync.Mutex
	secret string
	conns  [][]streaming.Envelope
}

func newDisplay(t *testing.T, d *fakeDisplay) string {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (d *fakeDisplay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var upgrader ws.Upgrader
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	d.mu.Lock()
	d.secret = r.URL.Query().Get("secret")
	d.conns = append(d.conns, nil)
	n := len(d.conns) - 1
	d.mu.Unlock()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var env streaming.Envelope
		if json.Unmarshal(msg, &env) != nil {
			continue
		}
		d.mu.Lock()
		d.conns[n] = append(d.conns[n], env)
		d.mu.Unlock()

		if !d.ack || (env.Type != streaming.TypeStartSession && env.Type != streaming.TypeEndSession) {
			continue
		}
		ack, _ := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: env.Type})
		if c.WriteMessage(ws.TextMessage, ack) != nil {
			return
		}
		if d.dropFirst && n == 0 && env.Type == streaming.TypeStartSession {
			return
		}
	}
}

// messages returns what connection n has received so far.
func (d *fakeDisplay) messages(n int) []streaming.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n >= len(d.conns) {
		return nil
	}
	return slices.Clone(d.conns[n])
}

func (d *fakeDisplay) types(n int) []string {
	var types []string
	for _, env := range d.messages(n) {
		types = append(types, env.Type)
	}
	return types
}

func TestStartAndEndSession(t *testing.T) {
	d := &fakeDisplay{ack: true}
	b := New(Config{URL: newDisplay(t, d), Secret: "table"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	s := &core.Session{ID: uuid.New(), MapName: "floodplain", Markers: []core.MarkerID{320, 7}}
	require.NoError(t, b.StartSession(s))
	require.NoError(t, b.EndSession())

	msgs := d.messages(0)
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, streaming.TypeStartSession, msgs[0].Type)
	assert.Equal(t, streaming.TypeEndSession, msgs[len(msgs)-1].Type)

	var start streaming.StartSessionPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &start))
	assert.Equal(t, s.ID, start.Session.ID)
	assert.Equal(t, []core.MarkerID{320, 7}, start.Session.Markers)

	d.mu.Lock()
	assert.Equal(t, "table", d.secret)
	d.mu.Unlock()
}

func TestEventsFollowEarlierPositions(t *testing.T) {
	d := &fakeDisplay{ack: true}
	b := New(Config{URL: newDisplay(t, d), FlushInterval: time.Hour}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(&core.Session{ID: uuid.New()}))

	require.NoError(t, b.RecordPosition(&core.PositionState{MarkerID: 7, Frame: 1, Position: core.Point2D{X: 1, Y: 2}}))
	require.NoError(t, b.RecordPosition(&core.PositionState{MarkerID: 7, Frame: 2, Position: core.Point2D{X: 3, Y: 4}}))
	require.NoError(t, b.RecordPosition(&core.PositionState{MarkerID: 320, Frame: 2}))
	ev := core.NewGestureEvent(320, "year", core.DirectionRight, 2, 10)
	require.NoError(t, b.RecordGesture(&ev))
	require.NoError(t, b.RecordRemap(&core.RemapEvent{Job: "year", MarkerID: 11}))
	require.NoError(t, b.EndSession())

	assert.Equal(t, []string{
		streaming.TypeStartSession,
		streaming.TypePositions,
		streaming.TypeGesture,
		streaming.TypeRemap,
		streaming.TypeEndSession,
	}, d.types(0))

	var batch streaming.PositionsPayload
	require.NoError(t, json.Unmarshal(d.messages(0)[1].Payload, &batch))
	require.Len(t, batch.Positions, 2, "only the newest position per puck is sent")
	assert.Equal(t, core.MarkerID(7), batch.Positions[0].MarkerID)
	assert.Equal(t, uint64(2), batch.Positions[0].Frame)
	assert.Equal(t, core.MarkerID(320), batch.Positions[1].MarkerID)
}

func TestPositionsFlushPeriodically(t *testing.T) {
	d := &fakeDisplay{ack: true}
	b := New(Config{URL: newDisplay(t, d), FlushInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.RecordPosition(&core.PositionState{MarkerID: 9}))
	assert.Eventually(t, func() bool {
		return slices.Contains(d.types(0), streaming.TypePositions)
	}, time.Second, 5*time.Millisecond)
}

func TestStartSession_AckTimeout(t *testing.T) {
	d := &fakeDisplay{}
	b := New(Config{URL: newDisplay(t, d), AckTimeout: 20 * time.Millisecond}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	err := b.StartSession(&core.Session{ID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start_session")
}

func TestReconnect_ReplaysSessionAndPositions(t *testing.T) {
	d := &fakeDisplay{ack: true, dropFirst: true}
	b := New(Config{URL: newDisplay(t, d), Backoff: 5 * time.Millisecond, FlushInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(&core.Session{ID: uuid.New()}))
	require.NoError(t, b.RecordPosition(&core.PositionState{MarkerID: 11}))

	require.Eventually(t, func() bool {
		return len(d.types(1)) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{streaming.TypeStartSession, streaming.TypePositions}, d.types(1)[:2])
}

func TestReconnect_GivesUp(t *testing.T) {
	var served atomic.Int32
	upgrader := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) > 1 {
			http.Error(w, "display offline", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Close()
	}))
	defer srv.Close()

	b := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Backoff: time.Millisecond, MaxReconnect: 2}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	assert.Eventually(t, func() bool { return served.Load() == 3 }, 2*time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		_ = b.RecordGesture(&core.GestureEvent{MarkerID: 7})
		return b.Dropped() > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, b.EndSession(), ErrUnreachable)
}

func TestInit_DialFailure(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/none"}, nil)
	assert.Error(t, b.Init())
}

func TestClose_Idempotent(t *testing.T) {
	b := New(Config{URL: newDisplay(t, &fakeDisplay{ack: true})}, nil)
	require.NoError(t, b.Init())
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}
