package parser

import (
	"encoding/json"
	"fmt"

	"github.com/tabletopmap/pucktracker/internal/dispatcher"
	"github.com/tabletopmap/pucktracker/internal/transform"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// Remap hands a job to the puck with the given id.
type Remap struct {
	Job      core.JobTag   `json:"job"`
	MarkerID core.MarkerID `json:"id"`
}

// Reassign moves a puck to a new fiducial id, keeping its job and history.
type Reassign struct {
	From core.MarkerID `json:"from"`
	To   core.MarkerID `json:"to"`
}

// Calibrate either installs a calibration directly or fits one from tracking points.
type Calibrate struct {
	Calibration *transform.Calibration    `json:"calibration"`
	Camera      core.CameraID             `json:"camera"`
	Points      []transform.TrackingPoint `json:"points"`
}

// SessionStart names the map the table is showing.
type SessionStart struct {
	MapName string `json:"map"`
}

// ParseRemap decodes a remap message.
func (p *Parser) ParseRemap(e dispatcher.Event) (Remap, error) {
	var r Remap
	if err := json.Unmarshal(e.Payload, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if r.Job == "" {
		return r, fmt.Errorf("%w: remap without job", ErrInvalidFrame)
	}
	return r, nil
}

// ParseReassign decodes a reassign message.
func (p *Parser) ParseReassign(e dispatcher.Event) (Reassign, error) {
	var r Reassign
	if err := json.Unmarshal(e.Payload, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if r.From == r.To {
		return r, fmt.Errorf("%w: reassign to the same id %d", ErrInvalidFrame, r.From)
	}
	return r, nil
}

// ParseCalibrate decodes a calibrate message and resolves it to one calibration.
func (p *Parser) ParseCalibrate(e dispatcher.Event) (transform.Calibration, error) {
	var c Calibrate
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return transform.Calibration{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if c.Calibration != nil {
		return *c.Calibration, nil
	}
	cal, err := transform.Fit(c.Camera, c.Points)
	if err != nil {
		return transform.Calibration{}, fmt.Errorf("fitting calibration: %w", err)
	}
	return cal, nil
}

// ParseSessionStart decodes a session start message.
func (p *Parser) ParseSessionStart(e dispatcher.Event) (SessionStart, error) {
	var s SessionStart
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return s, nil
}
