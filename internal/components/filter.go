// Package components provides reference implementations of the front
// end's collaborators — filter, odometry estimator, localizer and
// mapper — sufficient to run the pipeline end to end. They stay
// deliberately shallow on geometry: production deployments substitute
// real scan-matching and map-indexing subsystems behind the same
// interfaces.
package components

import (
	"math"

	"github.com/ridgeline-robotics/scanfront/internal/scan"
)

// VoxelFilter downsamples a scan by keeping one representative point
// per cubic voxel. In open space the leaf size widens by
// OpenSpaceFactor so sparse returns are not thinned away.
type VoxelFilter struct {
	LeafSize        float64 // meters, cubic voxel side
	OpenSpaceFactor float64 // leaf multiplier when the scan is open space
}

// NewVoxelFilter returns a filter with the given leaf size and a 2x
// open-space widening.
func NewVoxelFilter(leafSize float64) *VoxelFilter {
	return &VoxelFilter{LeafSize: leafSize, OpenSpaceFactor: 2}
}

type voxelKey struct{ x, y, z int32 }

// Filter reduces s to one point per voxel. The input scan is never
// mutated; point order follows first occurrence per voxel.
func (f *VoxelFilter) Filter(s *scan.Scan, openSpace bool) *scan.Scan {
	leaf := f.LeafSize
	if openSpace && f.OpenSpaceFactor > 0 {
		leaf *= f.OpenSpaceFactor
	}
	if leaf <= 0 || s.Len() == 0 {
		return s.WithFrame(s.Frame)
	}

	seen := make(map[voxelKey]struct{}, s.Len())
	points := make([]scan.Point, 0, s.Len())
	for _, p := range s.Points {
		k := voxelKey{
			x: int32(math.Floor(p.X / leaf)),
			y: int32(math.Floor(p.Y / leaf)),
			z: int32(math.Floor(p.Z / leaf)),
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		points = append(points, p)
	}

	filtered := s.WithFrame(s.Frame)
	filtered.Points = points
	return filtered
}
