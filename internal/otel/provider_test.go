package otel

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

// syncBuffer guards a bytes.Buffer written by exporter goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.Equal(t, noop.Meter{}, p.Meter("engine"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutSink(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "pucktracker"})
	assert.Error(t, err)
}

func TestNew_LogsOnly(t *testing.T) {
	var buf syncBuffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "pucktracker",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())
	assert.Nil(t, p.meterProvider)

	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_MetricsExported(t *testing.T) {
	var buf syncBuffer
	p, err := New(Config{
		Enabled:        true,
		ServiceName:    "pucktracker",
		MetricWriter:   &buf,
		MetricInterval: time.Hour,
	})
	require.NoError(t, err)
	assert.Nil(t, p.LoggerProvider())

	counter, err := p.Meter("engine").Int64Counter("engine.frames")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, buf.String(), "engine.frames")
	assert.NoError(t, p.Shutdown(context.Background()))
}
