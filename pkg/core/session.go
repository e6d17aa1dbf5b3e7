// pkg/core/session.go
package core

import (
	"time"

	"github.com/google/uuid"
)

// Session is one run of the tracker between startup and shutdown.
type Session struct {
	ID               uuid.UUID  `json:"id"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Hostname         string     `json:"hostname"`
	ExtensionVersion string     `json:"version"`
	ExtensionBuild   string     `json:"build"`
	MapName          string     `json:"mapName"`
	Markers          []MarkerID `json:"markers"`
}
