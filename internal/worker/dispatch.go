package worker

import (
	"context"
	"fmt"

	"github.com/tabletopmap/pucktracker/internal/dispatcher"
	"github.com/tabletopmap/pucktracker/internal/parser"
)

// tableLane orders frames, admin commands and session changes as they
// arrived on the feed.
const tableLane = "table"

// RegisterHandlers registers all feed command handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// a dropped frame would skip a history slot, so the lane blocks
	d.Register(parser.CommandFrame, m.handleFrame, dispatcher.Lane(tableLane, m.deps.FrameBuffer))

	for cmd, h := range map[string]dispatcher.HandlerFunc{
		parser.CommandRemap:        m.handleRemap,
		parser.CommandReassign:     m.handleReassign,
		parser.CommandCalibrate:    m.handleCalibrate,
		parser.CommandSessionStart: m.handleSessionStart,
		parser.CommandSessionEnd:   m.handleSessionEnd,
	} {
		d.Register(cmd, h, dispatcher.Lane(tableLane, m.deps.FrameBuffer), dispatcher.Await(), dispatcher.Logged())
	}
}

func (m *Manager) handleFrame(e dispatcher.Event) (any, error) {
	f, err := m.deps.Parser.ParseFrame(e)
	if err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	res := m.deps.Engine.ProcessFrame(context.Background(), f)
	m.Record(res)
	return res, nil
}

func (m *Manager) handleRemap(e dispatcher.Event) (any, error) {
	r, err := m.deps.Parser.ParseRemap(e)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remap: %w", err)
	}
	ev, err := m.deps.Engine.Remap(r.Job, r.MarkerID)
	if err != nil {
		return nil, fmt.Errorf("failed to remap %q: %w", r.Job, err)
	}
	if m.Active() {
		if err := m.backend.RecordRemap(&ev); err != nil {
			m.log.Error("Failed to record remap", "error", err)
		}
	}
	return ev, nil
}

func (m *Manager) handleReassign(e dispatcher.Event) (any, error) {
	r, err := m.deps.Parser.ParseReassign(e)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reassign: %w", err)
	}
	if err := m.deps.Engine.ReassignID(r.From, r.To); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Manager) handleCalibrate(e dispatcher.Event) (any, error) {
	cal, err := m.deps.Parser.ParseCalibrate(e)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calibration: %w", err)
	}
	if m.deps.Transform == nil {
		return nil, fmt.Errorf("calibration is not supported by the configured transform")
	}
	m.deps.Transform.Calibrate(cal)
	m.log.Info("Camera calibrated", "camera", cal.Camera)
	return cal, nil
}

func (m *Manager) handleSessionStart(e dispatcher.Event) (any, error) {
	s, err := m.deps.Parser.ParseSessionStart(e)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session start: %w", err)
	}
	return m.StartSession(s.MapName)
}

func (m *Manager) handleSessionEnd(dispatcher.Event) (any, error) {
	return nil, m.EndSession()
}
