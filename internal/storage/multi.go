package storage

import (
	"errors"

	"github.com/tabletopmap/pucktracker/pkg/core"
)

// Multi fans every call out to several backends. All backends are called even
// when one fails; the errors are joined.
type Multi []Backend

func (m Multi) each(fn func(Backend) error) error {
	var errs []error
	for _, b := range m {
		if err := fn(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Init() error  { return m.each(Backend.Init) }
func (m Multi) Close() error { return m.each(Backend.Close) }

func (m Multi) StartSession(s *core.Session) error {
	return m.each(func(b Backend) error { return b.StartSession(s) })
}

func (m Multi) EndSession() error { return m.each(Backend.EndSession) }

func (m Multi) RecordPosition(p *core.PositionState) error {
	return m.each(func(b Backend) error { return b.RecordPosition(p) })
}

// RecordPositions uses the batch path of each backend when it has one.
func (m Multi) RecordPositions(ps []core.PositionState) error {
	return m.each(func(b Backend) error { return RecordPositions(b, ps) })
}

func (m Multi) RecordGesture(g *core.GestureEvent) error {
	return m.each(func(b Backend) error { return b.RecordGesture(g) })
}

func (m Multi) RecordRemap(r *core.RemapEvent) error {
	return m.each(func(b Backend) error { return b.RecordRemap(r) })
}

// GetExportedFilePath returns the first export produced by any backend.
func (m Multi) GetExportedFilePath() string {
	for _, b := range m {
		if e, ok := b.(Exportable); ok && e.GetExportedFilePath() != "" {
			return e.GetExportedFilePath()
		}
	}
	return ""
}

// RecordPositions writes ps through b, in one batch when b supports it.
func RecordPositions(b Backend, ps []core.PositionState) error {
	if br, ok := b.(BatchRecorder); ok {
		return br.RecordPositions(ps)
	}
	var errs []error
	for i := range ps {
		if err := b.RecordPosition(&ps[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
