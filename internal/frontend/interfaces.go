package frontend

import (
	"time"

	"github.com/ridgeline-robotics/scanfront/internal/geom"
	"github.com/ridgeline-robotics/scanfront/internal/scan"
)

// Filter reduces a raw scan. The openSpace flag selects filtering
// behavior appropriate to sparse environments.
type Filter interface {
	Filter(s *scan.Scan, openSpace bool) *scan.Scan
}

// OdometryEstimator produces incremental pose estimates from filtered
// scans, optionally seeded by externally supplied motion deltas.
type OdometryEstimator interface {
	SetFilteredScan(s *scan.Scan)
	// SetExternalDelta hands over a relative motion delta resolved from
	// the external odometry source. Only called in integrated mode.
	SetExternalDelta(delta geom.Pose)
	// UpdateEstimate runs one estimation step. False means no valid
	// estimate was produced this cycle.
	UpdateEstimate() bool
	IncrementalEstimate() geom.Pose
	// SetFlatGroundAssumption constrains estimation to planar motion
	// when enabled. Takes effect from the next update.
	SetFlatGroundAssumption(on bool)
	// Publish emits the estimator's own continuous outputs. Called only
	// when Diagnostics reports HealthOK.
	Publish()
	Diagnostics() Health
}

// Localizer maintains the integrated pose in the fixed frame and
// performs scan-to-submap measurement updates.
type Localizer interface {
	TransformToFixedFrame(s *scan.Scan) *scan.Scan
	TransformToSensorFrame(s *scan.Scan) *scan.Scan
	MotionUpdate(delta geom.Pose)
	// MeasurementUpdate aligns the filtered scan against map neighbors
	// and returns the scan expressed in the base frame.
	MeasurementUpdate(filtered, neighbors *scan.Scan) *scan.Scan
	IntegratedEstimate() geom.Pose
	UpdateTimestamp(t time.Time)
	// SetFlatGroundAssumption constrains the integrated pose to planar
	// motion when enabled.
	SetFlatGroundAssumption(on bool)
	// PublishPose emits the current pose without a motion update
	// (first-scan bootstrap path).
	PublishPose()
	// Publish emits the localizer's continuous outputs. Called only
	// when Diagnostics reports HealthOK.
	Publish()
	Diagnostics() Health
}

// Mapper inserts points into the persistent map structure and answers
// approximate-nearest-neighbor queries against it.
type Mapper interface {
	// InsertPoints adds a fixed-frame scan to the map and returns the
	// subset that was actually new to the map structure (may be empty).
	InsertPoints(s *scan.Scan) *scan.Scan
	ApproxNearestNeighbors(s *scan.Scan) *scan.Scan
	PublishMap()
	// SetRollingBuffer bounds the map to a rolling window of recent
	// insertions when enabled.
	SetRollingBuffer(on bool)
}

// ScanSink receives the frame-relabeled copy of each raw scan for
// downstream consumers. Best effort; never required for correctness.
type ScanSink interface {
	PublishScan(s *scan.Scan)
}

// ReportSink receives the per-cycle diagnostics report. Best effort.
type ReportSink interface {
	PublishReport(r CycleReport)
}

// TrajectoryRecorder persists keyframe commits and cycle reports.
// Optional; failures are logged, never fatal to the cycle.
type TrajectoryRecorder interface {
	RecordKeyframe(seq uint32, stamp time.Time, pose geom.Pose, translation, rotationRad float64) error
	RecordCycle(r CycleReport) error
}
