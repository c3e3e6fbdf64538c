package components

import (
	"time"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/ridgeline-robotics/scanfront/internal/scan"
)

// DefaultRollingMapPoints bounds the map when the rolling buffer is
// enabled without an explicit cap.
const DefaultRollingMapPoints = 500_000

// KDMapper is an in-memory point map whose approximate-nearest-
// neighbor queries are served by a k-d tree. The tree is rebuilt
// lazily after insertions; queries between insertions share one build.
type KDMapper struct {
	// Radius is the neighbor acceptance distance in meters: query
	// points whose nearest map point lies farther away produce no
	// neighbor.
	Radius float64

	FixedFrame string

	// PublishFunc, when non-nil, receives a snapshot of the map on
	// PublishMap.
	PublishFunc func(*scan.Scan)

	// MaxPoints caps the stored map when the rolling buffer is on;
	// zero selects DefaultRollingMapPoints.
	MaxPoints int

	rolling bool
	points  kdtree.Points
	tree    *kdtree.Tree
	dirty   bool
}

// NewKDMapper returns a mapper accepting neighbors within radius
// meters.
func NewKDMapper(radius float64, fixedFrame string) *KDMapper {
	return &KDMapper{Radius: radius, FixedFrame: fixedFrame}
}

// SetRollingBuffer bounds the map to a rolling window of the most
// recent insertions.
func (m *KDMapper) SetRollingBuffer(on bool) {
	m.rolling = on
}

// InsertPoints adds a fixed-frame scan to the map and returns the
// inserted subset (all points here; a deduplicating map structure may
// return fewer).
func (m *KDMapper) InsertPoints(s *scan.Scan) *scan.Scan {
	for _, p := range s.Points {
		m.points = append(m.points, kdtree.Point{p.X, p.Y, p.Z})
	}
	if m.rolling {
		limit := m.MaxPoints
		if limit <= 0 {
			limit = DefaultRollingMapPoints
		}
		if len(m.points) > limit {
			n := copy(m.points, m.points[len(m.points)-limit:])
			m.points = m.points[:n]
		}
	}
	m.dirty = true
	return s
}

// ApproxNearestNeighbors returns, for each point of the fixed-frame
// query scan, its nearest map point within Radius. The result is a
// fixed-frame scan of the matched map points.
func (m *KDMapper) ApproxNearestNeighbors(s *scan.Scan) *scan.Scan {
	out := &scan.Scan{Seq: s.Seq, Stamp: s.Stamp, Frame: m.FixedFrame}
	if len(m.points) == 0 {
		return out
	}
	if m.dirty || m.tree == nil {
		m.tree = kdtree.New(m.points, false)
		m.dirty = false
	}

	radiusSq := m.Radius * m.Radius
	for _, p := range s.Points {
		got, distSq := m.tree.Nearest(kdtree.Point{p.X, p.Y, p.Z})
		if got == nil || distSq > radiusSq {
			continue
		}
		q := got.(kdtree.Point)
		out.Points = append(out.Points, scan.Point{X: q[0], Y: q[1], Z: q[2]})
	}
	return out
}

// PublishMap hands a snapshot of the current map to PublishFunc.
func (m *KDMapper) PublishMap() {
	if m.PublishFunc == nil {
		return
	}
	snap := &scan.Scan{Stamp: time.Now(), Frame: m.FixedFrame, Points: make([]scan.Point, len(m.points))}
	for i, p := range m.points {
		snap.Points[i] = scan.Point{X: p[0], Y: p[1], Z: p[2]}
	}
	m.PublishFunc(snap)
}

// Size returns the number of stored map points.
func (m *KDMapper) Size() int {
	return len(m.points)
}
