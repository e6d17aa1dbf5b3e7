package influx

import (
	"strconv"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// PositionPoint encodes a puck position. Tags are the low-cardinality ids,
// fields carry the table and map coordinates.
func PositionPoint(p core.PositionState) *influxdb2_write.Point {
	pt := influxdb2_write.NewPointWithMeasurement("position").
		AddTag("session", p.SessionID.String()).
		AddTag("marker", strconv.Itoa(int(p.MarkerID))).
		AddTag("job", string(p.Job)).
		AddField("frame", int64(p.Frame)).
		AddField("x", p.Position.X).
		AddField("y", p.Position.Y).
		AddField("camera", int64(p.Camera)).
		AddField("enabled", p.Enabled).
		SetTime(p.Time)
	if p.Geo != nil {
		pt.AddField("lon", p.Geo.Longitude).
			AddField("lat", p.Geo.Latitude)
	}
	return pt
}

// GesturePoint encodes a fired gesture.
func GesturePoint(g core.GestureEvent) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("gesture").
		AddTag("session", g.SessionID.String()).
		AddTag("marker", strconv.Itoa(int(g.MarkerID))).
		AddTag("job", string(g.Job)).
		AddTag("direction", g.Direction.String()).
		AddField("frame", int64(g.Frame)).
		AddField("from", g.From).
		AddField("to", g.To).
		SetTime(g.Time)
}

// RemapPoint encodes a job handover.
func RemapPoint(r core.RemapEvent) *influxdb2_write.Point {
	pt := influxdb2_write.NewPointWithMeasurement("remap").
		AddTag("session", r.SessionID.String()).
		AddTag("job", string(r.Job)).
		AddField("marker", int64(r.MarkerID)).
		SetTime(r.Time)
	if r.PreviousID != nil {
		pt.AddField("previous", int64(*r.PreviousID))
	}
	return pt
}

// PerformancePoint encodes one status sample of the tracker itself.
func PerformancePoint(at time.Time, fields map[string]any) *influxdb2_write.Point {
	return influxdb2_write.NewPoint("tracker_status", nil, fields, at)
}
