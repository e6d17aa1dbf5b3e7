// Package websocket streams positions and gestures to a live table display.
package websocket

import (
	"log/slog"
	"time"

	"github.com/tabletopmap/pucktracker/pkg/core"
	"github.com/tabletopmap/pucktracker/pkg/streaming"
)

// Config holds the display connection settings. Zero values take defaults.
type Config struct {
	URL    string
	Secret string
	// FlushInterval is how often changed positions are batched out.
	FlushInterval time.Duration
	AckTimeout    time.Duration
	MaxReconnect  int
	// Backoff is the first redial delay; it doubles up to 30s.
	Backoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.MaxReconnect <= 0 {
		c.MaxReconnect = 10
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	return c
}

// Backend pushes recorded events to the display server. Only the newest
// position of each puck is kept between flushes.
// It implements storage.Backend but not storage.Exportable.
type Backend struct {
	conn *connection
}

func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{conn: newConnection(cfg.withDefaults(), logger)}
}

// Init connects to the display.
func (b *Backend) Init() error {
	return b.conn.open()
}

func (b *Backend) Close() error {
	return b.conn.close()
}

// Dropped counts messages lost to a full queue or an unreachable display.
func (b *Backend) Dropped() uint64 {
	return b.conn.dropped.Load()
}

func (b *Backend) send(msgType string, payload any) error {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.enqueue(data)
	return nil
}

// StartSession announces the session and waits for the display to ack it.
// The announcement is sent again after every reconnect.
func (b *Backend) StartSession(s *core.Session) error {
	data, err := streaming.Marshal(streaming.TypeStartSession, streaming.StartSessionPayload{Session: s})
	if err != nil {
		return err
	}

	c := b.conn
	c.mu.Lock()
	c.start = data
	clear(c.latest)
	clear(c.dirty)
	c.mu.Unlock()

	return c.sendAndWait(data, streaming.TypeStartSession)
}

// EndSession flushes pending positions, sends end_session and waits for the
// ack.
func (b *Backend) EndSession() error {
	data, err := streaming.Marshal(streaming.TypeEndSession, nil)
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndSession)

	c := b.conn
	c.mu.Lock()
	c.start = nil
	clear(c.latest)
	c.mu.Unlock()

	return err
}

func (b *Backend) RecordPosition(p *core.PositionState) error {
	b.conn.position(*p)
	return nil
}

func (b *Backend) RecordGesture(g *core.GestureEvent) error {
	return b.send(streaming.TypeGesture, g)
}

func (b *Backend) RecordRemap(r *core.RemapEvent) error {
	return b.send(streaming.TypeRemap, r)
}
