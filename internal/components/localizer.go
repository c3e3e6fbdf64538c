package components

import (
	"time"

	"github.com/ridgeline-robotics/scanfront/internal/frontend"
	"github.com/ridgeline-robotics/scanfront/internal/geom"
	"github.com/ridgeline-robotics/scanfront/internal/scan"
)

// PoseLocalizer maintains the integrated pose in the fixed frame by
// composing incremental motion estimates, and transforms scans between
// sensor and fixed frames. Its measurement update relabels the
// filtered scan into the base frame without a geometric correction —
// the seam where a real scan-to-submap solver plugs in.
type PoseLocalizer struct {
	FixedFrame string
	BaseFrame  string

	// PoseFunc, when non-nil, receives the integrated estimate on
	// Publish and PublishPose.
	PoseFunc func(geom.Pose, time.Time)

	pose       geom.Pose
	stamp      time.Time
	flatGround bool
}

// NewPoseLocalizer returns a localizer at the identity pose.
func NewPoseLocalizer(fixedFrame, baseFrame string) *PoseLocalizer {
	return &PoseLocalizer{
		FixedFrame: fixedFrame,
		BaseFrame:  baseFrame,
		pose:       geom.Identity(),
	}
}

// TransformToFixedFrame expresses a sensor-frame scan in the fixed
// frame using the integrated pose.
func (l *PoseLocalizer) TransformToFixedFrame(s *scan.Scan) *scan.Scan {
	return s.Transformed(l.FixedFrame, l.pose.Apply)
}

// TransformToSensorFrame expresses a fixed-frame scan back in the
// sensor frame.
func (l *PoseLocalizer) TransformToSensorFrame(s *scan.Scan) *scan.Scan {
	inv := geom.Inverse(l.pose)
	return s.Transformed(l.BaseFrame, inv.Apply)
}

// MotionUpdate composes an incremental body-frame delta onto the
// integrated pose.
func (l *PoseLocalizer) MotionUpdate(delta geom.Pose) {
	l.pose = geom.Compose(l.pose, delta)
	if l.flatGround {
		l.pose = geom.ProjectToPlane(l.pose)
	}
}

// SetFlatGroundAssumption constrains the integrated pose to planar
// motion. Enabling it flattens the current pose immediately.
func (l *PoseLocalizer) SetFlatGroundAssumption(on bool) {
	l.flatGround = on
	if on {
		l.pose = geom.ProjectToPlane(l.pose)
	}
}

// MeasurementUpdate accepts the filtered scan and its map neighbors
// and returns the scan expressed in the base frame. No geometric
// correction is applied here.
func (l *PoseLocalizer) MeasurementUpdate(filtered, neighbors *scan.Scan) *scan.Scan {
	l.stamp = filtered.Stamp
	return filtered.WithFrame(l.BaseFrame)
}

// IntegratedEstimate returns the current pose in the fixed frame.
func (l *PoseLocalizer) IntegratedEstimate() geom.Pose {
	return l.pose
}

// UpdateTimestamp advances the localizer's notion of time without a
// motion or measurement update.
func (l *PoseLocalizer) UpdateTimestamp(t time.Time) {
	l.stamp = t
}

// PublishPose emits the current pose without a motion update.
func (l *PoseLocalizer) PublishPose() {
	if l.PoseFunc != nil {
		l.PoseFunc(l.pose, l.stamp)
	}
}

// Publish emits the localizer's continuous outputs.
func (l *PoseLocalizer) Publish() {
	if l.PoseFunc != nil {
		l.PoseFunc(l.pose, l.stamp)
	}
}

// Diagnostics reports HealthOK; the pose integrator has no failure
// modes of its own.
func (l *PoseLocalizer) Diagnostics() frontend.Health {
	return frontend.HealthOK
}
