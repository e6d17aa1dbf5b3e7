package geo

import (
	"errors"
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/tabletopmap/pucktracker/pkg/core"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Positions are always stored as 3857. The table shows a web map, so table pixels are
// linear in web mercator and only the final lon/lat needs the inverse transform.

// ErrInvalidBounds is returned when the map placement cannot be used for projection
var ErrInvalidBounds = errors.New("invalid map bounds")

// Coords3857From4326 creates a web mercator point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return geom.NewEmptyPoint(geom.DimXY), fmt.Errorf("cannot project %f,%f", longitude, latitude)
	}
	point = geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	return point, nil
}

// Projector maps table pixels onto the geographic area shown on the table.
type Projector struct {
	width, height float64
	// web mercator corners
	west, north float64
	east, south float64
	toLonLat    func(a, b, c float64) (float64, float64, float64)
}

// NewProjector builds a projector for a table of width x height pixels showing
// bounds, given as [[south, west], [north, east]] in degrees.
func NewProjector(width, height float64, bounds [2][2]float64) (*Projector, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: table size %vx%v", ErrInvalidBounds, width, height)
	}
	south, west := bounds[0][0], bounds[0][1]
	north, east := bounds[1][0], bounds[1][1]
	if north <= south || east <= west {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBounds, bounds)
	}
	if north > 85.06 || south < -85.06 || west < -180 || east > 180 {
		return nil, fmt.Errorf("%w: outside web mercator range %v", ErrInvalidBounds, bounds)
	}

	sw, err := Coords3857From4326(west, south)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBounds, err)
	}
	ne, err := Coords3857From4326(east, north)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBounds, err)
	}
	swc, _ := sw.Coordinates()
	nec, _ := ne.Coordinates()

	return &Projector{
		width:    width,
		height:   height,
		west:     swc.X,
		south:    swc.Y,
		east:     nec.X,
		north:    nec.Y,
		toLonLat: wgs84.EPSG().Transform(3857, 4326),
	}, nil
}

// Point returns the web mercator point under table position p. Pixel y grows downwards.
func (pr *Projector) Point(p core.Point2D) geom.Point {
	x := pr.west + p.X/pr.width*(pr.east-pr.west)
	y := pr.north - p.Y/pr.height*(pr.north-pr.south)
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}})
}

// Project returns the geographic position under table position p.
func (pr *Projector) Project(p core.Point2D) *core.GeoPosition {
	coord, _ := pr.Point(p).Coordinates()
	lon, lat, _ := pr.toLonLat(coord.X, coord.Y, 0)
	return &core.GeoPosition{
		Longitude: lon,
		Latitude:  lat,
		X3857:     coord.X,
		Y3857:     coord.Y,
	}
}
