package model

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []any{
	&TableInfo{},
	&Session{},
	&PositionState{},
	&GestureEvent{},
	&RemapEvent{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// TableInfo describes the installation the tracker runs on
type TableInfo struct {
	gorm.Model
	Name        string `json:"name" gorm:"size:127"`
	Description string `json:"description" gorm:"size:255"`
	Website     string `json:"website" gorm:"size:255"`
}

func (*TableInfo) TableName() string {
	return "table_infos"
}

////////////////////////
// SESSION
////////////////////////

// Session is one run of the tracker
type Session struct {
	ID               uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	StartTime        time.Time      `json:"startTime" gorm:"type:timestamptz;index:idx_session_start_time"`
	EndTime          *time.Time     `json:"endTime" gorm:"type:timestamptz"`
	Hostname         string         `json:"hostname" gorm:"size:127"`
	ExtensionVersion string         `json:"version" gorm:"size:64"`
	ExtensionBuild   string         `json:"build" gorm:"size:64"`
	MapName          string         `json:"mapName" gorm:"size:127"`
	Markers          datatypes.JSON `json:"markers" gorm:"default:'[]'"` // Marker ids registered at start
}

func (*Session) TableName() string {
	return "sessions"
}

////////////////////////
// TIME SERIES
////////////////////////

// PositionState is the position of a puck at the end of a frame
type PositionState struct {
	ID        uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time  `json:"time" gorm:"type:timestamptz;"`
	SessionID uuid.UUID  `json:"sessionId" gorm:"type:uuid;index:idx_positionstate_session_id"`
	Session   Session    `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignKey:SessionID;"`
	MarkerID  int        `json:"markerId" gorm:"index:idx_positionstate_marker_id"`
	Job       string     `json:"job" gorm:"size:64"`
	Frame     uint64     `json:"frame" gorm:"index:idx_positionstate_frame"`
	X         float64    `json:"x"`                                         // Table space centroid
	Y         float64    `json:"y"`                                         // Table space centroid
	Camera    int        `json:"camera"`                                    // Camera that produced the sample
	Enabled   bool       `json:"enabled"`                                   // Gesture detector armed
	Location  geom.Point `json:"location" gorm:"type:geometry(Point,3857)"` // Projected map position, empty when the map is not placed
	Longitude float64    `json:"longitude"`
	Latitude  float64    `json:"latitude"`
}

func (*PositionState) TableName() string {
	return "position_states"
}

// GestureEvent is a rotation gesture that fired an action
type GestureEvent struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"`
	SessionID uuid.UUID `json:"sessionId" gorm:"type:uuid;index:idx_gestureevent_session_id"`
	Session   Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignKey:SessionID;"`
	MarkerID  int       `json:"markerId"`
	Job       string    `json:"job" gorm:"size:64"`
	Direction string    `json:"direction" gorm:"size:8"`
	Frame     uint64    `json:"frame"`
	FromDeg   float64   `json:"from"`
	ToDeg     float64   `json:"to"`
}

func (*GestureEvent) TableName() string {
	return "gesture_events"
}

// RemapEvent records a job handed from one puck to another
type RemapEvent struct {
	ID          uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Time        time.Time     `json:"time" gorm:"type:timestamptz;"`
	SessionID   uuid.UUID     `json:"sessionId" gorm:"type:uuid;index:idx_remapevent_session_id"`
	Session     Session       `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignKey:SessionID;"`
	Job         string        `json:"job" gorm:"size:64"`
	MarkerID    int           `json:"markerId"`
	PreviousID  sql.NullInt64 `json:"previousId"`
	PreviousJob string        `json:"previousJob" gorm:"size:64"`
}

func (*RemapEvent) TableName() string {
	return "remap_events"
}
