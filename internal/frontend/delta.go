package frontend

import "github.com/ridgeline-robotics/scanfront/internal/geom"

// DeltaResolver converts consecutive absolute external poses into
// relative motion deltas in the moving frame. It is only constructed
// under odometry integration mode.
type DeltaResolver struct {
	primed bool
	prev   geom.Pose
}

// Resolve returns the delta Inverse(previous) ∘ current and ok=true.
// The first call only stores the pose and returns ok=false: the caller
// must treat the cycle as a bootstrap skip, not an error. The stored
// previous pose always becomes the immediately prior call's input.
func (r *DeltaResolver) Resolve(curr geom.Pose) (geom.Pose, bool) {
	if !r.primed {
		r.prev = curr
		r.primed = true
		return geom.Pose{}, false
	}
	delta := geom.Delta(r.prev, curr)
	r.prev = curr
	return delta, true
}
