// pkg/core/events.go
package core

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the classification of a rotation between two samples.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionLeft
	DirectionRight
)

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a direction name. Unknown names decode as DirectionNone.
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "left":
		*d = DirectionLeft
	case "right":
		*d = DirectionRight
	default:
		*d = DirectionNone
	}
	return nil
}

func (d Direction) String() string {
	switch d {
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	default:
		return "none"
	}
}

// GeoPosition is a table position projected into the map's geographic frame.
type GeoPosition struct {
	Longitude float64 `json:"lon"`
	Latitude  float64 `json:"lat"`
	X3857     float64 `json:"x3857"`
	Y3857     float64 `json:"y3857"`
}

// PositionState is the smoothed position of a puck at the end of a frame.
type PositionState struct {
	SessionID uuid.UUID    `json:"sessionId"`
	MarkerID  MarkerID     `json:"markerId"`
	Job       JobTag       `json:"job"`
	Frame     uint64       `json:"frame"`
	Time      time.Time    `json:"time"`
	Position  Point2D      `json:"position"`
	Camera    CameraID     `json:"camera"`
	Enabled   bool         `json:"enabled"`
	Geo       *GeoPosition `json:"geo,omitempty"`
}

// GestureEvent records a fired rotation gesture.
type GestureEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"sessionId"`
	MarkerID  MarkerID  `json:"markerId"`
	Job       JobTag    `json:"job"`
	Direction Direction `json:"direction"`
	Frame     uint64    `json:"frame"`
	Time      time.Time `json:"time"`
	// Orientations of the two samples that were compared, in degrees.
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// RemapEvent records a job handed from one puck to another.
type RemapEvent struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"sessionId"`
	Time        time.Time `json:"time"`
	Job         JobTag    `json:"job"`
	MarkerID    MarkerID  `json:"markerId"`
	PreviousID  *MarkerID `json:"previousId,omitempty"`
	PreviousJob JobTag    `json:"previousJob,omitempty"`
}

// NewGestureEvent stamps a gesture with a fresh id.
func NewGestureEvent(id MarkerID, job JobTag, dir Direction, from, to float64) GestureEvent {
	return GestureEvent{
		ID:        uuid.New(),
		MarkerID:  id,
		Job:       job,
		Direction: dir,
		Time:      time.Now(),
		From:      from,
		To:        to,
	}
}

// NewRemapEvent stamps a remap with a fresh id.
func NewRemapEvent(job JobTag, id MarkerID) RemapEvent {
	return RemapEvent{
		ID:       uuid.New(),
		Time:     time.Now(),
		Job:      job,
		MarkerID: id,
	}
}
