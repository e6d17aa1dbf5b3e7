// Package parser decodes the JSON-lines detection feed into feed events and
// core values. It performs no I/O.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tabletopmap/pucktracker/internal/dispatcher"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// Feed commands.
const (
	CommandFrame        = "frame"
	CommandRemap        = "remap"
	CommandReassign     = "reassign"
	CommandCalibrate    = "calibrate"
	CommandSessionStart = "session.start"
	CommandSessionEnd   = "session.end"
)

// ErrInvalidFrame is returned for feed lines that cannot be decoded.
var ErrInvalidFrame = errors.New("invalid feed message")

// parseIntFromFloat parses a string that may be an integer ("32") or float ("32.00") into int64.
// Browser based detectors serialize every number as a float.
func parseIntFromFloat(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("parseIntFromFloat: %q is not a valid int64", s)
	}
	return int64(f), nil
}

// Parser converts raw feed lines into dispatcher events and typed payloads.
type Parser struct {
	logger *slog.Logger

	// assigned to frames that arrive without a sequence number
	seq atomic.Uint64
}

// NewParser creates a new parser with only a logger dependency.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

type envelope struct {
	Type string `json:"type"`
}

// ParseEvent reads the message type of one feed line. The whole line becomes the payload.
func (p *Parser) ParseEvent(line []byte, now time.Time) (dispatcher.Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return dispatcher.Event{}, fmt.Errorf("%w: empty line", ErrInvalidFrame)
	}
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return dispatcher.Event{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if env.Type == "" {
		return dispatcher.Event{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return dispatcher.Event{
		Command:   env.Type,
		Payload:   json.RawMessage(append([]byte(nil), line...)),
		Timestamp: now,
	}, nil
}

type rawDetection struct {
	ID      json.Number    `json:"id"`
	Camera  json.Number    `json:"camera"`
	Corners []core.Point2D `json:"corners"`
}

type rawFrame struct {
	Seq        uint64         `json:"seq"`
	Time       *time.Time     `json:"time"`
	Detections []rawDetection `json:"detections"`
}

// ParseFrame decodes a frame message. Every detection needs exactly four finite corners.
func (p *Parser) ParseFrame(e dispatcher.Event) (core.Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(e.Payload, &raw); err != nil {
		return core.Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	frame := core.Frame{
		Seq:        raw.Seq,
		Time:       e.Timestamp,
		Detections: make([]core.Detection, 0, len(raw.Detections)),
	}
	if raw.Time != nil {
		frame.Time = *raw.Time
	}
	if frame.Seq == 0 {
		frame.Seq = p.seq.Add(1)
	}

	for i, d := range raw.Detections {
		det, err := toDetection(d)
		if err != nil {
			return core.Frame{}, fmt.Errorf("%w: detection %d: %v", ErrInvalidFrame, i, err)
		}
		frame.Detections = append(frame.Detections, det)
	}

	p.logger.Debug("Parsed frame", "seq", frame.Seq, "detections", len(frame.Detections))
	return frame, nil
}

func toDetection(d rawDetection) (core.Detection, error) {
	id, err := parseIntFromFloat(d.ID.String())
	if err != nil {
		return core.Detection{}, fmt.Errorf("id: %w", err)
	}
	var cam int64
	if d.Camera != "" {
		if cam, err = parseIntFromFloat(d.Camera.String()); err != nil {
			return core.Detection{}, fmt.Errorf("camera: %w", err)
		}
	}
	if len(d.Corners) != 4 {
		return core.Detection{}, fmt.Errorf("want 4 corners, got %d", len(d.Corners))
	}
	det := core.Detection{MarkerID: core.MarkerID(id), Camera: core.CameraID(cam)}
	for i, c := range d.Corners {
		if !finite(c.X) || !finite(c.Y) {
			return core.Detection{}, fmt.Errorf("corner %d is not finite", i)
		}
		det.Corners[i] = c
	}
	return det, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
