// internal/storage/storage.go
package storage

import "github.com/tabletopmap/pucktracker/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	// Recording
	RecordPosition(p *core.PositionState) error
	RecordGesture(g *core.GestureEvent) error
	RecordRemap(r *core.RemapEvent) error
}

// BatchRecorder is an optional interface for backends that write many
// positions in one round trip.
type BatchRecorder interface {
	RecordPositions(ps []core.PositionState) error
}

// Exportable is an optional interface for backends that produce a file
// when a session ends.
type Exportable interface {
	GetExportedFilePath() string
}
