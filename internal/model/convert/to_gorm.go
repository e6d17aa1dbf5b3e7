// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/tabletopmap/pucktracker/internal/model"
	"github.com/tabletopmap/pucktracker/pkg/core"
	"gorm.io/datatypes"
)

// geoToPoint converts a projected position to a web mercator geom.Point.
// A nil position yields the empty point.
func geoToPoint(g *core.GeoPosition) geom.Point {
	if g == nil {
		return geom.NewEmptyPoint(geom.DimXY)
	}
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: g.X3857, Y: g.Y3857}, Type: geom.DimXY})
}

// markersToJSON converts marker ids to datatypes.JSON for DB storage.
func markersToJSON(ids []core.MarkerID) datatypes.JSON {
	if len(ids) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(ids)
	return datatypes.JSON(data)
}

// CoreToSession converts a core.Session to a GORM model.Session.
func CoreToSession(s core.Session) model.Session {
	return model.Session{
		ID:               s.ID,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		Hostname:         s.Hostname,
		ExtensionVersion: s.ExtensionVersion,
		ExtensionBuild:   s.ExtensionBuild,
		MapName:          s.MapName,
		Markers:          markersToJSON(s.Markers),
	}
}

// CoreToPositionState converts a core.PositionState to a GORM model.PositionState.
func CoreToPositionState(p core.PositionState) model.PositionState {
	m := model.PositionState{
		Time:      p.Time,
		SessionID: p.SessionID,
		MarkerID:  int(p.MarkerID),
		Job:       string(p.Job),
		Frame:     p.Frame,
		X:         p.Position.X,
		Y:         p.Position.Y,
		Camera:    int(p.Camera),
		Enabled:   p.Enabled,
		Location:  geoToPoint(p.Geo),
	}
	if p.Geo != nil {
		m.Longitude = p.Geo.Longitude
		m.Latitude = p.Geo.Latitude
	}
	return m
}

// CoreToGestureEvent converts a core.GestureEvent to a GORM model.GestureEvent.
func CoreToGestureEvent(g core.GestureEvent) model.GestureEvent {
	return model.GestureEvent{
		ID:        g.ID,
		Time:      g.Time,
		SessionID: g.SessionID,
		MarkerID:  int(g.MarkerID),
		Job:       string(g.Job),
		Direction: g.Direction.String(),
		Frame:     g.Frame,
		FromDeg:   g.From,
		ToDeg:     g.To,
	}
}

// CoreToRemapEvent converts a core.RemapEvent to a GORM model.RemapEvent.
func CoreToRemapEvent(r core.RemapEvent) model.RemapEvent {
	m := model.RemapEvent{
		ID:          r.ID,
		Time:        r.Time,
		SessionID:   r.SessionID,
		Job:         string(r.Job),
		MarkerID:    int(r.MarkerID),
		PreviousJob: string(r.PreviousJob),
	}
	if r.PreviousID != nil {
		m.PreviousID = sql.NullInt64{Int64: int64(*r.PreviousID), Valid: true}
	}
	return m
}
