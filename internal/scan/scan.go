// Package scan defines the immutable point-cloud scan snapshot consumed
// by the processing front end, plus a line-oriented log codec used for
// capture and replay.
package scan

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point is a single LiDAR return in the scan's frame.
type Point struct {
	X, Y, Z   float64
	Intensity uint8
}

// Vec returns the point position as an r3 vector.
func (p Point) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Scan is one complete sensor sweep. Scans are treated as immutable
// once constructed: the pipeline never mutates points in place, and
// frame relabeling copies the header while sharing point storage.
type Scan struct {
	Seq    uint32
	Stamp  time.Time
	Frame  string
	Points []Point
}

// Len returns the point count.
func (s *Scan) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Points)
}

// WithFrame returns a header copy of s relabeled to the given frame.
// Point storage is shared; callers must honor the immutability
// contract.
func (s *Scan) WithFrame(frame string) *Scan {
	out := *s
	out.Frame = frame
	return &out
}

// Transformed returns a new scan whose points are fn applied to each of
// s's points, stamped into the given frame. Intensity is carried over.
func (s *Scan) Transformed(frame string, fn func(r3.Vec) r3.Vec) *Scan {
	out := &Scan{
		Seq:    s.Seq,
		Stamp:  s.Stamp,
		Frame:  frame,
		Points: make([]Point, len(s.Points)),
	}
	for i, p := range s.Points {
		v := fn(p.Vec())
		out.Points[i] = Point{X: v.X, Y: v.Y, Z: v.Z, Intensity: p.Intensity}
	}
	return out
}
