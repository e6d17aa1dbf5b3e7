package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/tabletopmap/pucktracker/pkg/core"
	"github.com/tabletopmap/pucktracker/pkg/streaming"
)

const (
	eventChSize = 4096
	maxBackoff  = 30 * time.Second
	writeWait   = 10 * time.Second
)

var (
	errConnLost = errors.New("display connection lost")
	// ErrClosed is returned by operations waiting on a closed backend.
	ErrClosed = errors.New("display backend closed")
	// ErrUnreachable is returned once reconnecting has been given up.
	ErrUnreachable = errors.New("display unreachable")
)

// connection owns the display socket. A single writer goroutine sends queued
// events and position batches and redials when the socket breaks; a reader
// goroutine per socket resolves acks.
type connection struct {
	cfg    Config
	logger *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	events chan []byte
	// broken receives the socket whose reader failed.
	broken chan *ws.Conn

	mu      sync.Mutex
	conn    *ws.Conn
	start   []byte
	latest  map[core.MarkerID]core.PositionState
	dirty   map[core.MarkerID]struct{}
	waiters map[string][]chan struct{}

	dropped atomic.Uint64
	gone    atomic.Bool
}

func newConnection(cfg Config, logger *slog.Logger) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan []byte, eventChSize),
		broken:  make(chan *ws.Conn, 1),
		latest:  make(map[core.MarkerID]core.PositionState),
		dirty:   make(map[core.MarkerID]struct{}),
		waiters: make(map[string][]chan struct{}),
	}
}

// open dials the display and starts the writer.
func (c *connection) open() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.attach(conn)
	c.wg.Add(1)
	go c.run(conn)
	return nil
}

func (c *connection) dial() (*ws.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid display URL: %w", err)
	}
	if c.cfg.Secret != "" {
		q := u.Query()
		q.Set("secret", c.cfg.Secret)
		u.RawQuery = q.Encode()
	}
	conn, _, err := ws.DefaultDialer.DialContext(c.ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("display dial failed: %w", err)
	}
	return conn, nil
}

// attach makes conn current and starts its reader.
func (c *connection) attach(conn *ws.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.wg.Add(1)
	go c.read(conn)
}

func (c *connection) run(conn *ws.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	// held is an event that failed to send; it goes out first after redial.
	var held []byte
	for {
		var err error
		if held != nil {
			if err = c.send(conn, held); err == nil {
				held = nil
			}
		} else {
			select {
			case <-c.ctx.Done():
				return
			case b := <-c.broken:
				if b != conn {
					continue
				}
				err = errConnLost
			case data := <-c.events:
				if err = c.send(conn, data); err != nil {
					held = data
				}
			case <-ticker.C:
				err = c.flush(conn, false)
			}
		}
		if err == nil {
			continue
		}

		c.logger.Warn("Display connection lost", "error", err)
		if conn = c.reconnect(conn); conn == nil {
			if c.ctx.Err() == nil {
				c.giveUp(held)
			}
			return
		}
	}
}

// giveUp counts everything still queued as dropped. Later events are dropped
// on arrival.
func (c *connection) giveUp(held []byte) {
	c.gone.Store(true)
	if held != nil {
		c.dropped.Add(1)
	}
	for {
		select {
		case <-c.events:
			c.dropped.Add(1)
		default:
			return
		}
	}
}

// send writes data after the positions recorded before it.
func (c *connection) send(conn *ws.Conn, data []byte) error {
	if err := c.flush(conn, false); err != nil {
		return err
	}
	return write(conn, data)
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// flush sends the positions changed since the last batch, or every known
// position when all is set.
func (c *connection) flush(conn *ws.Conn, all bool) error {
	c.mu.Lock()
	batch := make(map[core.MarkerID]core.PositionState, len(c.dirty))
	if all {
		for id, p := range c.latest {
			batch[id] = p
		}
	} else {
		for id := range c.dirty {
			batch[id] = c.latest[id]
		}
	}
	clear(c.dirty)
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	data, err := streaming.Marshal(streaming.TypePositions, streaming.NewPositions(batch))
	if err != nil {
		return err
	}
	return write(conn, data)
}

// reconnect closes the broken socket and redials with exponential backoff.
// On success the session announcement and every known position are sent
// again. It returns nil when the attempts are exhausted or the backend closes.
func (c *connection) reconnect(old *ws.Conn) *ws.Conn {
	c.mu.Lock()
	if c.conn == old {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = old.Close()

	backoff := c.cfg.Backoff
	for attempt := 1; attempt <= c.cfg.MaxReconnect; attempt++ {
		c.logger.Info("Reconnecting to display", "attempt", attempt, "backoff", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := c.dial()
		if err != nil {
			c.logger.Warn("Display redial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		if err := c.resume(conn); err != nil {
			c.logger.Warn("Display resume failed", "attempt", attempt, "error", err)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			_ = conn.Close()
			continue
		}
		c.logger.Info("Display reconnected", "attempt", attempt)
		return conn
	}

	c.logger.Error("Display unreachable, giving up", "attempts", c.cfg.MaxReconnect)
	return nil
}

func (c *connection) resume(conn *ws.Conn) error {
	c.attach(conn)
	c.mu.Lock()
	start := c.start
	c.mu.Unlock()
	if start != nil {
		if err := write(conn, start); err != nil {
			return err
		}
	}
	return c.flush(conn, true)
}

func (c *connection) read(conn *ws.Conn) {
	defer c.wg.Done()
	stop := context.AfterFunc(c.ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("Display read failed", "error", err)
				select {
				case c.broken <- conn:
				case <-c.ctx.Done():
				}
			}
			return
		}
		ack, ok := streaming.ParseAck(msg)
		if !ok {
			c.logger.Debug("Ignoring display message", "raw", string(msg))
			continue
		}
		c.resolve(ack.For)
	}
}

// enqueue hands data to the writer without blocking.
func (c *connection) enqueue(data []byte) {
	if c.gone.Load() {
		c.dropped.Add(1)
		return
	}
	select {
	case c.events <- data:
	default:
		c.dropped.Add(1)
		c.logger.Warn("Display queue full, dropping message")
	}
}

// position stores p as the newest position of its puck.
func (c *connection) position(p core.PositionState) {
	c.mu.Lock()
	c.latest[p.MarkerID] = p
	c.dirty[p.MarkerID] = struct{}{}
	c.mu.Unlock()
}

func (c *connection) expect(msgType string) chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	c.waiters[msgType] = append(c.waiters[msgType], ch)
	c.mu.Unlock()
	return ch
}

// resolve releases the oldest waiter for msgType.
func (c *connection) resolve(msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiting := c.waiters[msgType]
	if len(waiting) == 0 {
		return
	}
	close(waiting[0])
	c.waiters[msgType] = waiting[1:]
}

func (c *connection) forget(msgType string, ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiting := c.waiters[msgType]
	for i, w := range waiting {
		if w == ch {
			c.waiters[msgType] = append(waiting[:i:i], waiting[i+1:]...)
			return
		}
	}
}

// sendAndWait queues data and blocks until the display acks msgType.
func (c *connection) sendAndWait(data []byte, msgType string) error {
	if c.gone.Load() {
		return ErrUnreachable
	}
	ch := c.expect(msgType)
	c.enqueue(data)

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		c.forget(msgType, ch)
		return fmt.Errorf("timeout waiting for ack of %q", msgType)
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// close stops every goroutine and sends a close frame on the current socket.
func (c *connection) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = conn.Close()
	})
	return err
}
