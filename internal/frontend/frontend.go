// Package frontend implements the real-time per-scan processing
// pipeline of the LiDAR localization-and-mapping front end: temporal
// continuity checks, density classification, incremental motion
// estimation (optionally seeded from an external odometry history),
// keyframe selection, and throttled map publication, with per-cycle
// latency and health diagnostics.
//
// This package is the composition root of the per-scan control flow:
// it drives the Filter, OdometryEstimator, Localizer and Mapper
// collaborators but owns none of their geometry.
package frontend

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ridgeline-robotics/scanfront/internal/geom"
	"github.com/ridgeline-robotics/scanfront/internal/scan"
)

// Deps bundles the pipeline's collaborators. Filter, Odometry,
// Localizer and Mapper are required; the sinks and recorder are
// optional best-effort consumers.
type Deps struct {
	Filter    Filter
	Odometry  OdometryEstimator
	Localizer Localizer
	Mapper    Mapper

	ScanSink   ScanSink           // optional: frame-relabeled raw scans
	ReportSink ReportSink         // optional: per-cycle diagnostics
	Trajectory TrajectoryRecorder // optional: keyframe/cycle persistence
}

// Pipeline is the per-scan orchestration state machine. One instance
// owns all mutable front-end state (last keyframe pose, sequence
// bookkeeping, bootstrap flags); multiple instances never interfere.
//
// ProcessScan and HandleOdometry share one non-reentrant lock: exactly
// one cycle is in flight at a time.
type Pipeline struct {
	mu sync.Mutex

	deps Deps
	mode IntegrationMode

	// Resolved configuration, immutable after New.
	verbose            bool
	transThreshold     float64
	rotThreshold       float64
	publishMap         bool
	mapPublishPeriod   int
	fixedFrame         string
	baseFrame          string
	odomFrame          string
	profiling          bool
	publishDiagnostics bool
	retryLimit         int

	guard     *ScanGuard
	buffer    *TransformBuffer // nil unless IntegrationOdometry
	resolver  *DeltaResolver   // nil unless IntegrationOdometry
	keyframes *KeyframeEngine

	// Per-instance mutable state.
	awaitingFirstScan bool
	groundTruthSeeded bool
	lastKeyframePose  geom.Pose
	publishCounter    int
	lookupMisses      int
}

// New validates the configuration and assembles a pipeline. All
// configuration errors are fatal here; the pipeline never starts
// half-configured.
func New(cfg *Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Filter == nil || deps.Odometry == nil || deps.Localizer == nil || deps.Mapper == nil {
		return nil, errors.New("frontend: Filter, Odometry, Localizer and Mapper are all required")
	}

	p := &Pipeline{
		deps:               deps,
		mode:               cfg.Mode(),
		verbose:            *cfg.Verbose,
		transThreshold:     *cfg.TranslationThresholdKF,
		rotThreshold:       *cfg.RotationThresholdKF,
		publishMap:         *cfg.PublishMap,
		mapPublishPeriod:   *cfg.MapPublishPeriod,
		fixedFrame:         *cfg.FixedFrameID,
		baseFrame:          *cfg.BaseFrameID,
		odomFrame:          *cfg.OdomFrameID,
		profiling:          *cfg.Profiling,
		publishDiagnostics: cfg.GetPublishDiagnostics(),
		retryLimit:         *cfg.IntegrationRetryLimit,
		guard:              NewScanGuard(*cfg.OpenSpacePoints),
		keyframes:          NewKeyframeEngine(*cfg.TranslationThresholdKF, *cfg.RotationThresholdKF),
		awaitingFirstScan:  true,
		lastKeyframePose:   geom.Identity(),
	}

	switch p.mode {
	case IntegrationNone:
		diagf("no data integration requested, running pure LiDAR odometry")
	case IntegrationOdometry:
		diagf("odometry integration requested (frame %s)", p.odomFrame)
		p.buffer = NewTransformBuffer(*cfg.OdometryBufferLimit)
		p.resolver = &DeltaResolver{}
	}

	if cfg.GetRollingMapBuffer() {
		deps.Mapper.SetRollingBuffer(true)
	}

	if path := cfg.GetGroundTruthPath(); path != "" {
		if err := p.seedGroundTruth(path); err != nil {
			return nil, fmt.Errorf("ground truth seeding: %w", err)
		}
	}

	return p, nil
}

// seedGroundTruth loads a point cloud from a scan log and inserts it
// into the map before any scan is processed. When seeded, the
// first-scan bootstrap branch is skipped entirely.
func (p *Pipeline) seedGroundTruth(path string) error {
	scans, err := scan.ReadLogFile(path)
	if err != nil {
		return err
	}
	total := 0
	for _, s := range scans {
		p.deps.Mapper.InsertPoints(s.WithFrame(p.fixedFrame))
		total += s.Len()
	}
	p.groundTruthSeeded = true
	diagf("seeded map with ground truth point cloud from %s (%d scans, %d points)", path, len(scans), total)
	return nil
}

// HandleOdometry ingests one externally supplied absolute pose at the
// given timestamp. Under IntegrationNone the sample is dropped.
func (p *Pipeline) HandleOdometry(pose geom.Pose, stamp time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buffer == nil {
		tracef("odometry sample at %v dropped: integration disabled", stamp)
		return
	}
	p.buffer.Record(pose, stamp)
}

// HandleFlatGroundAssumption toggles the planar-motion constraint on
// both estimation collaborators. Takes effect from the next cycle.
func (p *Pipeline) HandleFlatGroundAssumption(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	diagf("flat ground assumption set to %v", on)
	p.deps.Odometry.SetFlatGroundAssumption(on)
	p.deps.Localizer.SetFlatGroundAssumption(on)
}

// ProcessScan runs one full cycle for the arriving scan. All
// recoverable conditions are local to the cycle: the pipeline always
// returns ready for the next scan.
func (p *Pipeline) ProcessScan(s *scan.Scan) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cycleStart, scanToScanStart, scanToSubmapStart time.Time
	report := CycleReport{Seq: s.Seq, Stamp: s.Stamp}
	if p.profiling {
		cycleStart = time.Now()
	}

	// Stage 1: ingestion bookkeeping. A gap is a warning, never an
	// abort — scan content, not sequence continuity, governs
	// correctness.
	first, gap, openSpace := p.guard.Classify(s.Seq, s.Len())
	if first {
		diagf("first scan received (seq %d, %d points)", s.Seq, s.Len())
	}
	if gap {
		opsf("scan dropped upstream: sequence jumped to %d", s.Seq)
	}

	// Stage 2: external odometry lookup and delta resolution. Both
	// failure shapes are skips: the next scan retries normally.
	if p.mode == IntegrationOdometry {
		ext, err := p.buffer.Lookup(s.Stamp)
		if err != nil {
			p.lookupMisses++
			if p.lookupMisses == p.retryLimit {
				opsf("external odometry unavailable for %d consecutive scans", p.lookupMisses)
			}
			tracef("odometry lookup miss at %v, skipping cycle", s.Stamp)
			return
		}
		p.lookupMisses = 0

		delta, ok := p.resolver.Resolve(ext)
		if !ok {
			diagf("received external odometry for the first time")
			return
		}
		p.deps.Odometry.SetExternalDelta(delta)
	}

	// Stage 3: filter and hand off to scan-to-scan estimation.
	filtered := p.deps.Filter.Filter(s, openSpace)
	p.deps.Odometry.SetFilteredScan(filtered)

	if p.profiling {
		scanToScanStart = time.Now()
	}

	// Stage 4: incremental estimate. A failed update re-arms the
	// first-scan bootstrap so the map reference is re-established from
	// this scan instead of propagating a degenerate estimate.
	if !p.deps.Odometry.UpdateEstimate() {
		opsf("odometry update failed at seq %d, re-bootstrapping map reference", s.Seq)
		p.awaitingFirstScan = true
	}
	report.Odometry = p.deps.Odometry.Diagnostics()
	if report.Odometry == HealthOK {
		p.deps.Odometry.Publish()
	}

	if p.profiling {
		report.Timings = append(report.Timings, StageTiming{StageScanToScan, time.Since(scanToScanStart)})
	}

	// Stage 5: first-scan bootstrap. Seeded runs skip this branch; the
	// integrated estimate simply evolves against the seeded map.
	if p.awaitingFirstScan && !p.groundTruthSeeded {
		fixed := p.deps.Localizer.TransformToFixedFrame(s)
		p.deps.Mapper.InsertPoints(fixed)
		p.deps.Localizer.UpdateTimestamp(s.Stamp)
		p.deps.Localizer.PublishPose()
		p.awaitingFirstScan = false
		p.lastKeyframePose = p.deps.Localizer.IntegratedEstimate()
		p.recordKeyframe(s, p.lastKeyframePose, Decision{Pose: p.lastKeyframePose})
		report.Keyframe = true
		p.finishCycle(s, report, cycleStart)
		return
	}

	if p.profiling {
		scanToSubmapStart = time.Now()
	}

	// Stage 6: steady state — motion update, neighbor query in the
	// fixed frame, measurement update against the filtered scan.
	p.deps.Localizer.MotionUpdate(p.deps.Odometry.IncrementalEstimate())
	fixed := p.deps.Localizer.TransformToFixedFrame(s)
	neighbors := p.deps.Mapper.ApproxNearestNeighbors(fixed)
	neighbors = p.deps.Localizer.TransformToSensorFrame(neighbors)
	p.deps.Localizer.MeasurementUpdate(filtered, neighbors)

	report.Localizer = p.deps.Localizer.Diagnostics()
	if report.Localizer == HealthOK {
		p.deps.Localizer.Publish()
	}

	if p.profiling {
		report.Timings = append(report.Timings, StageTiming{StageScanToSubmap, time.Since(scanToSubmapStart)})
	}

	// Stage 7: keyframe decision and throttled map publication.
	current := p.deps.Localizer.IntegratedEstimate()
	decision := p.keyframes.Evaluate(p.lastKeyframePose, current)
	if decision.Commit {
		if p.verbose {
			diagf("adding to map with translation %.3f m and rotation %.1f deg",
				decision.Translation, decision.RotationRad*180/math.Pi)
		}
		// Pose is already current; the identity motion update pins the
		// localizer state before the raw scan is committed.
		p.deps.Localizer.MotionUpdate(geom.Identity())
		fixedRaw := p.deps.Localizer.TransformToFixedFrame(s)
		p.deps.Mapper.InsertPoints(fixedRaw)
		if p.publishMap {
			p.publishCounter++
			if p.publishCounter == p.mapPublishPeriod {
				p.deps.Mapper.PublishMap()
				p.publishCounter = 0
			}
		}
		p.lastKeyframePose = current
		p.recordKeyframe(s, current, decision)
		report.Keyframe = true
	}

	// Stage 8: best-effort downstream copies and diagnostics.
	if p.deps.ScanSink != nil {
		p.deps.ScanSink.PublishScan(s.WithFrame(p.baseFrame))
	}
	p.finishCycle(s, report, cycleStart)
}

// recordKeyframe persists a keyframe commit; persistence failures are
// logged and never abort the cycle.
func (p *Pipeline) recordKeyframe(s *scan.Scan, pose geom.Pose, d Decision) {
	if p.deps.Trajectory == nil {
		return
	}
	if err := p.deps.Trajectory.RecordKeyframe(s.Seq, s.Stamp, pose, d.Translation, d.RotationRad); err != nil {
		opsf("failed to record keyframe at seq %d: %v", s.Seq, err)
	}
}

// finishCycle emits the per-cycle observational outputs.
func (p *Pipeline) finishCycle(s *scan.Scan, report CycleReport, cycleStart time.Time) {
	if p.profiling {
		report.Timings = append(report.Timings, StageTiming{StageScanCallback, time.Since(cycleStart)})
		for _, t := range report.Timings {
			tracef("stage %s: %v (seq %d)", t.Stage, t.Elapsed, s.Seq)
		}
	}
	if p.deps.Trajectory != nil {
		if err := p.deps.Trajectory.RecordCycle(report); err != nil {
			opsf("failed to record cycle at seq %d: %v", s.Seq, err)
		}
	}
	if p.publishDiagnostics && p.deps.ReportSink != nil {
		p.deps.ReportSink.PublishReport(report)
	}
	tracef("cycle complete: seq %d odometry=%s localizer=%s keyframe=%v",
		s.Seq, report.Odometry, report.Localizer, report.Keyframe)
}

// LastKeyframePose returns the pose of the most recent keyframe
// commit. Exposed for inspection and tests.
func (p *Pipeline) LastKeyframePose() geom.Pose {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastKeyframePose
}
