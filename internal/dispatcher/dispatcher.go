// Package dispatcher routes feed commands to their handlers.
//
// Handlers either run on the caller's goroutine or on a lane: a named FIFO
// served by one goroutine. Commands that share a lane are handled in the
// order they were dispatched, so an admin command sent after frame N is
// applied after frame N.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tabletopmap/pucktracker/internal/dispatcher"

var (
	ErrUnknownCommand = errors.New("unknown command")
	// ErrQueueFull is returned when a lossy lane drops an event.
	ErrQueueFull = errors.New("queue full")
	ErrClosed    = errors.New("dispatcher closed")
)

// Queued is the result of an event handed to a lane without waiting.
const Queued = "queued"

// Event is one decoded message from the detection feed.
type Event struct {
	Command   string
	Payload   json.RawMessage
	Timestamp time.Time
}

type HandlerFunc func(Event) (any, error)

// Logger is the key/value logger the dispatcher reports through.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*route)

type route struct {
	lane   string
	size   int
	await  bool
	lossy  bool
	logged bool
}

// Lane runs the handler on the named lane. The lane is created by the first
// registration that names it, with room for size pending events.
func Lane(name string, size int) Option {
	return func(r *route) {
		r.lane = name
		r.size = size
	}
}

// Await makes Dispatch wait for a lane handler and return its result.
func Await() Option {
	return func(r *route) { r.await = true }
}

// Lossy drops the event with ErrQueueFull instead of blocking when the lane
// is full. Awaited handlers always block.
func Lossy() Option {
	return func(r *route) { r.lossy = true }
}

// Logged logs every call with its duration.
func Logged() Option {
	return func(r *route) { r.logged = true }
}

type reply struct {
	result any
	err    error
}

type job struct {
	event Event
	h     HandlerFunc
	reply chan reply
}

type lane struct {
	name string
	jobs chan job
}

type entry struct {
	h     HandlerFunc
	route route
	attrs metric.MeasurementOption
}

// Dispatcher routes feed events to registered handlers.
type Dispatcher struct {
	logger Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	duration  metric.Float64Histogram

	mu      sync.RWMutex
	entries map[string]entry
	lanes   map[string]*lane
	closed  bool
	wg      sync.WaitGroup

	// held for reading while sending into a lane, for writing while closing
	sendMu sync.RWMutex
}

// New creates a Dispatcher; a nil logger uses slog.Default. Metrics go to the
// global meter provider.
func New(logger Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:  logger,
		entries: make(map[string]entry),
		lanes:   make(map[string]*lane),
	}
	if err := d.instrument(otel.Meter(instrumentationName)); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) instrument(m metric.Meter) error {
	var err error
	d.queueSize, err = m.Int64ObservableGauge("dispatcher.lane.size",
		metric.WithDescription("Feed events waiting on a lane"))
	if err != nil {
		return fmt.Errorf("creating lane size gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		for name, l := range d.lanes {
			o.ObserveInt64(d.queueSize, int64(len(l.jobs)),
				metric.WithAttributes(attribute.String("lane", name)))
		}
		return nil
	}, d.queueSize)
	if err != nil {
		return fmt.Errorf("registering lane callback: %w", err)
	}

	if d.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Feed events handled")); err != nil {
		return fmt.Errorf("creating processed counter: %w", err)
	}
	if d.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Feed events dropped by a full lossy lane")); err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	if d.duration, err = m.Float64Histogram("dispatcher.handle.duration",
		metric.WithDescription("Handler run time"), metric.WithUnit("s")); err != nil {
		return fmt.Errorf("creating duration histogram: %w", err)
	}
	return nil
}

// Register adds the handler for command, replacing any previous one.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	var r route
	for _, opt := range opts {
		opt(&r)
	}
	if r.logged {
		h = d.withLogging(command, h)
	}
	e := entry{
		h:     d.measured(command, h),
		route: r,
		attrs: metric.WithAttributes(attribute.String("command", command)),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r.lane != "" && d.lanes[r.lane] == nil && !d.closed {
		d.lanes[r.lane] = d.startLane(r.lane, r.size)
	}
	d.entries[command] = e
}

// Dispatch routes an event to its handler. Events sent to a lane without
// Await return Queued.
func (d *Dispatcher) Dispatch(ev Event) (any, error) {
	d.mu.RLock()
	e, ok := d.entries[ev.Command]
	l := d.lanes[e.route.lane]
	closed := d.closed
	d.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, ev.Command)
	}
	if e.route.lane == "" {
		return e.h(ev)
	}
	return d.enqueue(l, e, ev)
}

func (d *Dispatcher) enqueue(l *lane, e entry, ev Event) (any, error) {
	j := job{event: ev, h: e.h}
	if e.route.await {
		j.reply = make(chan reply, 1)
	}

	d.sendMu.RLock()
	if d.isClosed() {
		d.sendMu.RUnlock()
		return nil, ErrClosed
	}
	if e.route.lossy && !e.route.await {
		select {
		case l.jobs <- j:
		default:
			d.sendMu.RUnlock()
			d.dropped.Add(context.Background(), 1, e.attrs)
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, ev.Command)
		}
	} else {
		l.jobs <- j
	}
	d.sendMu.RUnlock()

	if j.reply == nil {
		return Queued, nil
	}
	// the lane drains before Close returns, so a reply always arrives
	r := <-j.reply
	return r.result, r.err
}

// HasHandler reports whether a handler is registered for command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[command]
	return ok
}

// Close stops accepting events and waits until every lane is drained.
func (d *Dispatcher) Close() {
	d.sendMu.Lock()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.sendMu.Unlock()
		return
	}
	d.closed = true
	for _, l := range d.lanes {
		close(l.jobs)
	}
	d.mu.Unlock()
	d.sendMu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) startLane(name string, size int) *lane {
	l := &lane{name: name, jobs: make(chan job, max(size, 0))}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for j := range l.jobs {
			result, err := j.h(j.event)
			if j.reply != nil {
				j.reply <- reply{result, err}
			} else if err != nil {
				d.logger.Error("Queued event failed", "lane", name, "command", j.event.Command, "error", err)
			}
		}
	}()
	return l
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

func (d *Dispatcher) measured(command string, h HandlerFunc) HandlerFunc {
	attrs := metric.WithAttributes(attribute.String("command", command))
	return func(e Event) (any, error) {
		start := time.Now()
		result, err := h(e)
		ctx := context.Background()
		d.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		d.processed.Add(ctx, 1, attrs)
		return result, err
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("Handling feed command", "command", command, "bytes", len(e.Payload))

		result, err := h(e)
		if err != nil {
			d.logger.Error("Feed command failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Info("Feed command applied", "command", command, "duration", time.Since(start))
		}
		return result, err
	}
}
