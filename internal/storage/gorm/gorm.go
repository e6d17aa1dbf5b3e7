// Package gormstorage implements the storage.Backend interface on top of GORM
// with internal queues and a background DB writer goroutine.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tabletopmap/pucktracker/internal/model"
	"github.com/tabletopmap/pucktracker/internal/model/convert"
	"github.com/tabletopmap/pucktracker/internal/queue"
	"github.com/tabletopmap/pucktracker/pkg/core"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoSession is returned when an event is recorded before StartSession.
var ErrNoSession = errors.New("no session started")

const (
	defaultFlushInterval = 2 * time.Second
	batchSize            = 2000
	// rows kept per queue while the database is unreachable
	defaultQueueLimit = 1 << 20
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
	QueueLimit    int
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Positions *queue.Queue[model.PositionState]
	Gestures  *queue.Queue[model.GestureEvent]
	Remaps    *queue.Queue[model.RemapEvent]
}

func newQueues(limit int) *queues {
	return &queues{
		Positions: queue.New[model.PositionState](limit),
		Gestures:  queue.New[model.GestureEvent](limit),
		Remaps:    queue.New[model.RemapEvent](limit),
	}
}

// Backend implements storage.Backend with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	log    *slog.Logger
	queues *queues

	// serializes flushes between the writer goroutine and EndSession/Close
	writeMu sync.Mutex

	sessionMu sync.RWMutex
	sessionID uuid.UUID
	// EndTime is stamped by the session owner, or already set on replay
	session *core.Session

	lastWrite atomic.Int64
	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	if deps.QueueLimit <= 0 {
		deps.QueueLimit = defaultQueueLimit
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		deps:   deps,
		log:    log.With("backend", "gorm"),
		queues: newQueues(deps.QueueLimit),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema when needed and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database")
	}
	if !b.deps.DB.Migrator().HasTable(&model.PositionState{}) {
		b.log.Info("Migrating schema")
		if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writerLoop()
	return nil
}

// Close stops the writer goroutine and writes whatever is still queued.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.stopChan != nil {
			close(b.stopChan)
			<-b.done
		}
		err = b.Flush()
	})
	return err
}

// StartSession inserts the session row synchronously; every queued row references it.
func (b *Backend) StartSession(s *core.Session) error {
	row := convert.CoreToSession(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	b.sessionMu.Lock()
	b.sessionID = s.ID
	b.session = s
	b.sessionMu.Unlock()
	b.log.Info("Session started", "session_id", s.ID)
	return nil
}

// EndSession flushes the queues and stamps the session end time.
func (b *Backend) EndSession() error {
	id := b.currentSession()
	if id == uuid.Nil {
		return ErrNoSession
	}
	flushErr := b.Flush()

	end := time.Now()
	b.sessionMu.RLock()
	if b.session != nil && b.session.EndTime != nil {
		end = *b.session.EndTime
	}
	b.sessionMu.RUnlock()

	err := b.deps.DB.Model(&model.Session{}).
		Where("id = ?", id).
		Update("end_time", end).Error
	if err != nil {
		return errors.Join(flushErr, fmt.Errorf("failed to end session: %w", err))
	}
	return flushErr
}

func (b *Backend) currentSession() uuid.UUID {
	b.sessionMu.RLock()
	defer b.sessionMu.RUnlock()
	return b.sessionID
}

// RecordPosition converts and queues a position state.
func (b *Backend) RecordPosition(p *core.PositionState) error {
	b.queues.Positions.Push(convert.CoreToPositionState(*p))
	return nil
}

// RecordPositions converts and queues a frame's worth of position states.
func (b *Backend) RecordPositions(ps []core.PositionState) error {
	rows := make([]model.PositionState, len(ps))
	for i, p := range ps {
		rows[i] = convert.CoreToPositionState(p)
	}
	b.queues.Positions.Push(rows...)
	return nil
}

// RecordGesture converts and queues a gesture event.
func (b *Backend) RecordGesture(g *core.GestureEvent) error {
	b.queues.Gestures.Push(convert.CoreToGestureEvent(*g))
	return nil
}

// RecordRemap converts and queues a remap event.
func (b *Backend) RecordRemap(r *core.RemapEvent) error {
	b.queues.Remaps.Push(convert.CoreToRemapEvent(*r))
	return nil
}

// QueueLen returns how many rows are waiting to be written.
func (b *Backend) QueueLen() int {
	return b.queues.Positions.Len() + b.queues.Gestures.Len() + b.queues.Remaps.Len()
}

// Dropped counts rows discarded because a queue overflowed while writes failed.
func (b *Backend) Dropped() uint64 {
	return b.queues.Positions.Dropped() + b.queues.Gestures.Dropped() + b.queues.Remaps.Dropped()
}

// GetLastDBWriteDuration returns how long the most recent flush took.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// Flush writes every queued row now.
func (b *Backend) Flush() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	id := b.currentSession()
	if id == uuid.Nil {
		if b.QueueLen() > 0 {
			return ErrNoSession
		}
		return nil
	}

	start := time.Now()
	err := errors.Join(
		writeQueue(b.deps.DB, b.queues.Positions, func(items []model.PositionState) {
			for i := range items {
				items[i].SessionID = id
			}
		}),
		writeQueue(b.deps.DB, b.queues.Gestures, func(items []model.GestureEvent) {
			for i := range items {
				items[i].SessionID = id
			}
		}),
		writeQueue(b.deps.DB, b.queues.Remaps, func(items []model.RemapEvent) {
			for i := range items {
				items[i].SessionID = id
			}
		}),
	)
	b.lastWrite.Store(int64(time.Since(start)))
	return err
}

// writeQueue writes all items from a queue in one transaction. On failure the
// items go back on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], stamp func([]T)) error {
	if q.Len() == 0 {
		return nil
	}

	items := q.Drain()
	stamp(items)
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).CreateInBatches(&items, batchSize).Error
	})
	if err != nil {
		q.Requeue(items)
		var zero T
		return fmt.Errorf("failed to write %T rows: %w", zero, err)
	}
	return nil
}

func (b *Backend) writerLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Error("DB write failed", "error", err)
			}
		}
	}
}

// Sessions returns every recorded session, newest first.
func (b *Backend) Sessions() ([]core.Session, error) {
	var rows []model.Session
	if err := b.deps.DB.Order("start_time desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]core.Session, len(rows))
	for i, r := range rows {
		out[i] = convert.SessionToCore(r)
	}
	return out, nil
}

// Positions returns the recorded positions of one puck in frame order.
func (b *Backend) Positions(sessionID uuid.UUID, id core.MarkerID) ([]core.PositionState, error) {
	var rows []model.PositionState
	err := b.deps.DB.
		Where("session_id = ? AND marker_id = ?", sessionID, int(id)).
		Order("frame asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}
	out := make([]core.PositionState, len(rows))
	for i, r := range rows {
		out[i] = convert.PositionStateToCore(r)
	}
	return out, nil
}

// Gestures returns the gestures of a session in time order.
func (b *Backend) Gestures(sessionID uuid.UUID) ([]core.GestureEvent, error) {
	var rows []model.GestureEvent
	err := b.deps.DB.Where("session_id = ?", sessionID).Order("time asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read gestures: %w", err)
	}
	out := make([]core.GestureEvent, len(rows))
	for i, r := range rows {
		out[i] = convert.GestureEventToCore(r)
	}
	return out, nil
}

// Remaps returns the job remaps of a session in time order.
func (b *Backend) Remaps(sessionID uuid.UUID) ([]core.RemapEvent, error) {
	var rows []model.RemapEvent
	err := b.deps.DB.Where("session_id = ?", sessionID).Order("time asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read remaps: %w", err)
	}
	out := make([]core.RemapEvent, len(rows))
	for i, r := range rows {
		out[i] = convert.RemapEventToCore(r)
	}
	return out, nil
}
