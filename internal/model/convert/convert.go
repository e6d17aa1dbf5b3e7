package convert

import (
	"encoding/json"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/tabletopmap/pucktracker/internal/model"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// pointToGeo converts a stored location back to a GeoPosition. Empty points yield nil.
func pointToGeo(p geom.Point, lon, lat float64) *core.GeoPosition {
	coord, ok := p.Coordinates()
	if !ok {
		return nil
	}
	return &core.GeoPosition{Longitude: lon, Latitude: lat, X3857: coord.X, Y3857: coord.Y}
}

func parseDirection(s string) core.Direction {
	var d core.Direction
	_ = d.UnmarshalText([]byte(s))
	return d
}

// SessionToCore converts a GORM Session to a core.Session.
func SessionToCore(s model.Session) core.Session {
	var markers []core.MarkerID
	if len(s.Markers) > 0 {
		_ = json.Unmarshal(s.Markers, &markers)
	}
	return core.Session{
		ID:               s.ID,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		Hostname:         s.Hostname,
		ExtensionVersion: s.ExtensionVersion,
		ExtensionBuild:   s.ExtensionBuild,
		MapName:          s.MapName,
		Markers:          markers,
	}
}

// PositionStateToCore converts a GORM PositionState to a core.PositionState.
func PositionStateToCore(p model.PositionState) core.PositionState {
	return core.PositionState{
		SessionID: p.SessionID,
		MarkerID:  core.MarkerID(p.MarkerID),
		Job:       core.JobTag(p.Job),
		Frame:     p.Frame,
		Time:      p.Time,
		Position:  core.Point2D{X: p.X, Y: p.Y},
		Camera:    core.CameraID(p.Camera),
		Enabled:   p.Enabled,
		Geo:       pointToGeo(p.Location, p.Longitude, p.Latitude),
	}
}

// GestureEventToCore converts a GORM GestureEvent to a core.GestureEvent.
func GestureEventToCore(g model.GestureEvent) core.GestureEvent {
	return core.GestureEvent{
		ID:        g.ID,
		SessionID: g.SessionID,
		MarkerID:  core.MarkerID(g.MarkerID),
		Job:       core.JobTag(g.Job),
		Direction: parseDirection(g.Direction),
		Frame:     g.Frame,
		Time:      g.Time,
		From:      g.FromDeg,
		To:        g.ToDeg,
	}
}

// RemapEventToCore converts a GORM RemapEvent to a core.RemapEvent.
func RemapEventToCore(r model.RemapEvent) core.RemapEvent {
	ev := core.RemapEvent{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Time:        r.Time,
		Job:         core.JobTag(r.Job),
		MarkerID:    core.MarkerID(r.MarkerID),
		PreviousJob: core.JobTag(r.PreviousJob),
	}
	if r.PreviousID.Valid {
		id := core.MarkerID(r.PreviousID.Int64)
		ev.PreviousID = &id
	}
	return ev
}
