package gormstorage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tabletopmap/pucktracker/internal/model"
	"github.com/tabletopmap/pucktracker/internal/model/convert"
	"github.com/tabletopmap/pucktracker/internal/storage"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// ErrUnknownSession is returned when a session id has no stored row.
var ErrUnknownSession = errors.New("unknown session")

// Session loads one recorded session.
func (b *Backend) Session(id uuid.UUID) (core.Session, error) {
	var row model.Session
	res := b.deps.DB.Where("id = ?", id).Limit(1).Find(&row)
	if res.Error != nil {
		return core.Session{}, fmt.Errorf("failed to read session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return convert.SessionToCore(row), nil
}

// SessionPositions returns every position of a session ordered by frame, then puck.
func (b *Backend) SessionPositions(sessionID uuid.UUID) ([]core.PositionState, error) {
	var rows []model.PositionState
	err := b.deps.DB.
		Where("session_id = ?", sessionID).
		Order("frame asc, marker_id asc").
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

// Replay feeds a stored session into dst as if it were recorded live: the
// session is started, every row recorded, then the session is ended. It is
// used to export database sessions to JSON and to migrate sqlite backups.
func (b *Backend) Replay(sessionID uuid.UUID, dst storage.Backend) error {
	s, err := b.Session(sessionID)
	if err != nil {
		return err
	}
	positions, err := b.SessionPositions(sessionID)
	if err != nil {
		return err
	}
	gestures, err := b.Gestures(sessionID)
	if err != nil {
		return err
	}
	remaps, err := b.Remaps(sessionID)
	if err != nil {
		return err
	}

	if err := dst.StartSession(&s); err != nil {
		return fmt.Errorf("replay start: %w", err)
	}
	if err := storage.RecordPositions(dst, positions); err != nil {
		return fmt.Errorf("replay positions: %w", err)
	}
	for i := range gestures {
		if err := dst.RecordGesture(&gestures[i]); err != nil {
			return fmt.Errorf("replay gesture: %w", err)
		}
	}
	for i := range remaps {
		if err := dst.RecordRemap(&remaps[i]); err != nil {
			return fmt.Errorf("replay remap: %w", err)
		}
	}
	return dst.EndSession()
}
