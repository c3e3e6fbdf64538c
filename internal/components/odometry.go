package components

import (
	"github.com/ridgeline-robotics/scanfront/internal/frontend"
	"github.com/ridgeline-robotics/scanfront/internal/geom"
	"github.com/ridgeline-robotics/scanfront/internal/scan"
)

// DeltaOdometry is a scan-to-scan odometry estimator that trusts
// externally supplied motion deltas when present and otherwise assumes
// zero motion. It validates only that the filtered scan carries enough
// structure to support an estimate; real geometric registration lives
// behind the same interface in production deployments.
type DeltaOdometry struct {
	// MinPoints is the smallest filtered scan accepted as a valid
	// estimation input; anything smaller fails the update.
	MinPoints int

	// PoseFunc, when non-nil, receives the incremental estimate on
	// Publish.
	PoseFunc func(geom.Pose)

	filtered    *scan.Scan
	external    geom.Pose
	hasExternal bool
	incremental geom.Pose
	flatGround  bool
	lastOK      bool
}

// NewDeltaOdometry returns an estimator requiring at least minPoints
// filtered points per update.
func NewDeltaOdometry(minPoints int) *DeltaOdometry {
	return &DeltaOdometry{MinPoints: minPoints, incremental: geom.Identity(), lastOK: true}
}

// SetFilteredScan stores the filtered scan for the next update.
func (o *DeltaOdometry) SetFilteredScan(s *scan.Scan) {
	o.filtered = s
}

// SetExternalDelta seeds the next update with an externally resolved
// motion delta.
func (o *DeltaOdometry) SetExternalDelta(delta geom.Pose) {
	o.external = delta
	o.hasExternal = true
}

// UpdateEstimate produces the incremental estimate for this cycle.
// It fails when no filtered scan was supplied or the scan is too
// sparse to trust.
func (o *DeltaOdometry) UpdateEstimate() bool {
	defer func() {
		o.filtered = nil
		o.hasExternal = false
	}()

	if o.filtered == nil || o.filtered.Len() < o.MinPoints {
		o.lastOK = false
		return false
	}
	if o.hasExternal {
		o.incremental = o.external
	} else {
		o.incremental = geom.Identity()
	}
	if o.flatGround {
		o.incremental = geom.ProjectToPlane(o.incremental)
	}
	o.lastOK = true
	return true
}

// SetFlatGroundAssumption constrains subsequent estimates to planar
// motion.
func (o *DeltaOdometry) SetFlatGroundAssumption(on bool) {
	o.flatGround = on
}

// IncrementalEstimate returns the most recent incremental pose.
func (o *DeltaOdometry) IncrementalEstimate() geom.Pose {
	return o.incremental
}

// Publish forwards the incremental estimate to PoseFunc if configured.
func (o *DeltaOdometry) Publish() {
	if o.PoseFunc != nil {
		o.PoseFunc(o.incremental)
	}
}

// Diagnostics reports HealthOK while updates succeed and HealthWarn
// after a failed update.
func (o *DeltaOdometry) Diagnostics() frontend.Health {
	if o.lastOK {
		return frontend.HealthOK
	}
	return frontend.HealthWarn
}
