// Package influxstorage writes puck positions and gestures as InfluxDB points.
// It is meant to run next to a relational backend through storage.Multi.
package influxstorage

import (
	"context"
	"sync"

	"github.com/google/uuid"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/tabletopmap/pucktracker/internal/influx"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// PointWriter is the part of influx.Manager the backend needs.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
	Flush()
}

// Backend implements storage.Backend over a PointWriter.
type Backend struct {
	w      PointWriter
	bucket string

	mu        sync.RWMutex
	sessionID uuid.UUID
}

// New creates a backend writing into bucket.
func New(w PointWriter, bucket string) *Backend {
	return &Backend{w: w, bucket: bucket}
}

func (b *Backend) Init() error { return nil }

// Close flushes buffered points. The manager is closed by its owner.
func (b *Backend) Close() error {
	b.w.Flush()
	return nil
}

func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionID = s.ID
	return nil
}

func (b *Backend) EndSession() error {
	b.w.Flush()
	return nil
}

func (b *Backend) session() uuid.UUID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionID
}

func (b *Backend) RecordPosition(p *core.PositionState) error {
	ps := *p
	if ps.SessionID == uuid.Nil {
		ps.SessionID = b.session()
	}
	return b.w.WritePoint(context.Background(), b.bucket, influx.PositionPoint(ps))
}

func (b *Backend) RecordGesture(g *core.GestureEvent) error {
	ev := *g
	if ev.SessionID == uuid.Nil {
		ev.SessionID = b.session()
	}
	return b.w.WritePoint(context.Background(), b.bucket, influx.GesturePoint(ev))
}

func (b *Backend) RecordRemap(r *core.RemapEvent) error {
	ev := *r
	if ev.SessionID == uuid.Nil {
		ev.SessionID = b.session()
	}
	return b.w.WritePoint(context.Background(), b.bucket, influx.RemapPoint(ev))
}
