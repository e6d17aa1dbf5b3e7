// pkg/core/types.go
package core

// MarkerID is the fiducial id printed on a puck.
type MarkerID int

// CameraID identifies the overhead camera that produced a detection.
type CameraID int

// JobTag names the role a puck currently plays on the table ("year", "layer", ...).
type JobTag string

// JobUnassigned is the job held by a puck whose role was handed to another puck.
const JobUnassigned JobTag = "unassigned"

// Point2D is a position in camera pixel space or table space.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Corners is a marker quadrilateral. Corners[0] and Corners[2] are diagonally opposite.
type Corners [4]Point2D

// Sample is one frame's detection of a marker. A nil *Sample means the marker was not seen.
type Sample struct {
	Corners Corners  `json:"corners"`
	Camera  CameraID `json:"camera"`
}

// Detection is a raw record from the upstream marker detector.
type Detection struct {
	MarkerID MarkerID `json:"id"`
	Corners  Corners  `json:"corners"`
	Camera   CameraID `json:"camera"`
}

// Sample strips the marker id from a detection.
func (d Detection) Sample() *Sample {
	return &Sample{Corners: d.Corners, Camera: d.Camera}
}
