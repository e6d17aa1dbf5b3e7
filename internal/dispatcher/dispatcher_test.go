package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) record(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *testLogger) Debug(msg string, kv ...any) { l.record("DEBUG", msg, kv) }
func (l *testLogger) Info(msg string, kv ...any)  { l.record("INFO", msg, kv) }
func (l *testLogger) Error(msg string, kv ...any) { l.record("ERROR", msg, kv) }

func (l *testLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	d, err := New(logger)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, logger
}

func frame(seq int) Event {
	return Event{Command: "frame", Payload: json.RawMessage(fmt.Sprint(seq))}
}

func TestDispatch_Inline(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got json.RawMessage
	d.Register("calibrate", func(e Event) (any, error) {
		got = e.Payload
		return "applied", nil
	})

	result, err := d.Dispatch(Event{Command: "calibrate", Payload: json.RawMessage(`{"camera":1}`)})
	require.NoError(t, err)
	assert.Equal(t, "applied", result)
	assert.JSONEq(t, `{"camera":1}`, string(got))
	assert.True(t, d.HasHandler("calibrate"))
	assert.False(t, d.HasHandler("frame"))
}

func TestDispatch_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.Dispatch(Event{Command: "nope"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestLane_SharedOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var order []string
	handler := func(e Event) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, e.Command+string(e.Payload))
		return len(order), nil
	}
	d.Register("frame", handler, Lane("table", 4))
	d.Register("remap", handler, Lane("table", 0), Await())

	for i := 1; i <= 10; i++ {
		res, err := d.Dispatch(frame(i))
		require.NoError(t, err)
		assert.Equal(t, Queued, res)
	}
	res, err := d.Dispatch(Event{Command: "remap", Payload: json.RawMessage(`"year"`)})
	require.NoError(t, err)
	assert.Equal(t, 11, res, "remap runs after every frame queued before it")

	_, err = d.Dispatch(frame(11))
	require.NoError(t, err)
	d.Close()

	require.Len(t, order, 12)
	assert.Equal(t, `remap"year"`, order[10])
	assert.Equal(t, "frame11", order[11])
}

func TestLane_AwaitReturnsHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)
	errUnknownJob := errors.New("unknown job")
	d.Register("remap", func(Event) (any, error) { return nil, errUnknownJob }, Lane("table", 1), Await(), Logged())

	_, err := d.Dispatch(Event{Command: "remap"})
	assert.ErrorIs(t, err, errUnknownJob)
	assert.True(t, logger.has("ERROR: Feed command failed"))
}

func TestLane_QueuedErrorIsLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)
	d.Register("frame", func(Event) (any, error) { return nil, errors.New("bad corners") }, Lane("table", 1))

	_, err := d.Dispatch(frame(1))
	require.NoError(t, err)
	d.Close()

	assert.True(t, logger.has("ERROR: Queued event failed"))
}

func TestLane_BlocksWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 3)
	release := make(chan struct{})
	d.Register("frame", func(Event) (any, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}, Lane("table", 1))

	_, _ = d.Dispatch(frame(1))
	<-started
	_, _ = d.Dispatch(frame(2))

	done := make(chan struct{})
	go func() {
		_, _ = d.Dispatch(frame(3))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("dispatch should block on a full lane")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
}

func TestLane_LossyDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	d.Register("status", func(Event) (any, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}, Lane("status", 2), Lossy())

	_, err := d.Dispatch(Event{Command: "status"})
	require.NoError(t, err)
	<-started

	for i := 0; i < 2; i++ {
		_, err = d.Dispatch(Event{Command: "status"})
		require.NoError(t, err)
	}
	_, err = d.Dispatch(Event{Command: "status"})
	assert.ErrorIs(t, err, ErrQueueFull)
	close(release)
}

func TestClose_DrainsAndRejects(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var handled atomic.Int32
	d.Register("frame", func(Event) (any, error) {
		handled.Add(1)
		return nil, nil
	}, Lane("table", 100))

	for i := 0; i < 50; i++ {
		_, err := d.Dispatch(frame(i))
		require.NoError(t, err)
	}
	d.Close()
	d.Close()
	assert.Equal(t, int32(50), handled.Load())

	_, err := d.Dispatch(frame(51))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLogged_Success(t *testing.T) {
	d, logger := newTestDispatcher(t)
	d.Register("calibrate", func(Event) (any, error) { return "ok", nil }, Logged())

	_, err := d.Dispatch(Event{Command: "calibrate", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.True(t, logger.has("DEBUG: Handling feed command"))
	assert.True(t, logger.has("INFO: Feed command applied"))
}

func TestMetrics_ProcessedPerCommand(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = provider.Shutdown(context.Background())
	})

	d, _ := newTestDispatcher(t)
	d.Register("frame", func(Event) (any, error) { return nil, nil }, Lane("table", 8))
	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(frame(i))
		require.NoError(t, err)
	}
	d.Close()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var processed int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == "dispatcher.events.processed" {
				for _, dp := range sum.DataPoints {
					processed += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(3), processed)
}
