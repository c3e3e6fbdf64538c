package frontend

import "time"

// Health is an ordinal subsystem severity level. Only HealthOK permits
// a subsystem's own continuous-pose publication for the cycle.
type Health int

const (
	HealthOK Health = iota
	HealthWarn
	HealthError
)

// String returns a short label for the health level.
func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthWarn:
		return "warn"
	case HealthError:
		return "error"
	default:
		return "unknown"
	}
}

// Stage names used for per-stage timing samples. They mirror the
// latency signals the front end has historically exported.
const (
	StageScanCallback = "scan_callback"
	StageScanToScan   = "scan_to_scan"
	StageScanToSubmap = "scan_to_submap"
)

// StageTiming is one named latency sample, recorded only when
// profiling is enabled.
type StageTiming struct {
	Stage   string
	Elapsed time.Duration
}

// CycleReport aggregates the per-scan observational outputs: subsystem
// health and optional stage timings. It is assembled once per cycle,
// handed to the ReportSink, and discarded.
type CycleReport struct {
	Seq       uint32
	Stamp     time.Time
	Odometry  Health
	Localizer Health
	Keyframe  bool
	Timings   []StageTiming
}
