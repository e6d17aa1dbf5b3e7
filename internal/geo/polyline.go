package geo

import (
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/tabletopmap/pucktracker/pkg/core"
)

// Trail builds a web mercator line string through the projected positions, in
// order. Positions without a projection are skipped. Fewer than two projected
// positions yield an empty line string.
func Trail(states []core.PositionState) geom.LineString {
	coords := make([]float64, 0, len(states)*2)
	for _, s := range states {
		if s.Geo == nil {
			continue
		}
		coords = append(coords, s.Geo.X3857, s.Geo.Y3857)
	}
	if len(coords) < 4 {
		return geom.LineString{}
	}
	return geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
}
