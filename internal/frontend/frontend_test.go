package frontend

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ridgeline-robotics/scanfront/internal/geom"
	"github.com/ridgeline-robotics/scanfront/internal/scan"
)

func ptr[T any](v T) *T { return &v }

// testConfig returns a fully populated configuration suitable for most
// pipeline tests. Callers mutate individual fields for their scenario.
func testConfig(mode string) *Config {
	return &Config{
		Verbose:                ptr(false),
		TranslationThresholdKF: ptr(1.0),
		RotationThresholdKF:    ptr(0.5),
		OpenSpacePoints:        ptr(100),
		MapPublishPeriod:       ptr(1),
		PublishMap:             ptr(true),
		FixedFrameID:           ptr("map"),
		BaseFrameID:            ptr("base_link"),
		OdomFrameID:            ptr("odom"),
		ScanQueueSize:          ptr(10),
		OdomQueueSize:          ptr(10),
		OdometryBufferLimit:    ptr(500),
		IntegrationMode:        ptr(mode),
		IntegrationRetryLimit:  ptr(3),
		Profiling:              ptr(false),
	}
}

func testScan(seq uint32, stamp time.Time, n int) *scan.Scan {
	s := &scan.Scan{Seq: seq, Stamp: stamp, Frame: "velodyne"}
	for i := 0; i < n; i++ {
		s.Points = append(s.Points, scan.Point{X: float64(i), Y: 0, Z: 0})
	}
	return s
}

type fakeFilter struct {
	calls     int
	openSpace []bool
}

func (f *fakeFilter) Filter(s *scan.Scan, openSpace bool) *scan.Scan {
	f.calls++
	f.openSpace = append(f.openSpace, openSpace)
	return s
}

type fakeOdometry struct {
	updateOK    bool
	health      Health
	incremental geom.Pose

	filteredScans  int
	externalDeltas []geom.Pose
	updates        int
	publishes      int
	flatGround     bool
}

func newFakeOdometry() *fakeOdometry {
	return &fakeOdometry{updateOK: true, health: HealthOK, incremental: geom.Identity()}
}

func (o *fakeOdometry) SetFilteredScan(s *scan.Scan) { o.filteredScans++ }
func (o *fakeOdometry) SetExternalDelta(delta geom.Pose) {
	o.externalDeltas = append(o.externalDeltas, delta)
}
func (o *fakeOdometry) UpdateEstimate() bool            { o.updates++; return o.updateOK }
func (o *fakeOdometry) IncrementalEstimate() geom.Pose  { return o.incremental }
func (o *fakeOdometry) SetFlatGroundAssumption(on bool) { o.flatGround = on }
func (o *fakeOdometry) Publish()                        { o.publishes++ }
func (o *fakeOdometry) Diagnostics() Health             { return o.health }

type fakeLocalizer struct {
	pose   geom.Pose
	health Health

	motionUpdates      []geom.Pose
	measurementUpdates int
	publishPoses       int
	publishes          int
	flatGround         bool
}

func newFakeLocalizer() *fakeLocalizer {
	return &fakeLocalizer{pose: geom.Identity(), health: HealthOK}
}

func (l *fakeLocalizer) TransformToFixedFrame(s *scan.Scan) *scan.Scan {
	return s.WithFrame("map")
}
func (l *fakeLocalizer) TransformToSensorFrame(s *scan.Scan) *scan.Scan { return s }
func (l *fakeLocalizer) MotionUpdate(delta geom.Pose) {
	l.motionUpdates = append(l.motionUpdates, delta)
	l.pose = geom.Compose(l.pose, delta)
}
func (l *fakeLocalizer) MeasurementUpdate(filtered, neighbors *scan.Scan) *scan.Scan {
	l.measurementUpdates++
	return filtered
}
func (l *fakeLocalizer) IntegratedEstimate() geom.Pose   { return l.pose }
func (l *fakeLocalizer) UpdateTimestamp(t time.Time)     {}
func (l *fakeLocalizer) SetFlatGroundAssumption(on bool) { l.flatGround = on }
func (l *fakeLocalizer) PublishPose()                    { l.publishPoses++ }
func (l *fakeLocalizer) Publish()                        { l.publishes++ }
func (l *fakeLocalizer) Diagnostics() Health             { return l.health }

type fakeMapper struct {
	inserts   int
	neighbors int
	publishes int
	rolling   bool
}

func (m *fakeMapper) InsertPoints(s *scan.Scan) *scan.Scan           { m.inserts++; return s }
func (m *fakeMapper) ApproxNearestNeighbors(s *scan.Scan) *scan.Scan { m.neighbors++; return s }
func (m *fakeMapper) PublishMap()                                    { m.publishes++ }
func (m *fakeMapper) SetRollingBuffer(on bool)                       { m.rolling = on }

type fakeScanSink struct{ frames []string }

func (s *fakeScanSink) PublishScan(sc *scan.Scan) { s.frames = append(s.frames, sc.Frame) }

type fakeReportSink struct{ reports []CycleReport }

func (s *fakeReportSink) PublishReport(r CycleReport) { s.reports = append(s.reports, r) }

type fakeRecorder struct {
	keyframes []uint32
	cycles    []CycleReport
	err       error
}

func (r *fakeRecorder) RecordKeyframe(seq uint32, stamp time.Time, pose geom.Pose, translation, rotationRad float64) error {
	r.keyframes = append(r.keyframes, seq)
	return r.err
}
func (r *fakeRecorder) RecordCycle(report CycleReport) error {
	r.cycles = append(r.cycles, report)
	return r.err
}

type harness struct {
	pipeline  *Pipeline
	filter    *fakeFilter
	odometry  *fakeOdometry
	localizer *fakeLocalizer
	mapper    *fakeMapper
	scans     *fakeScanSink
	reports   *fakeReportSink
	recorder  *fakeRecorder
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	h := &harness{
		filter:    &fakeFilter{},
		odometry:  newFakeOdometry(),
		localizer: newFakeLocalizer(),
		mapper:    &fakeMapper{},
		scans:     &fakeScanSink{},
		reports:   &fakeReportSink{},
		recorder:  &fakeRecorder{},
	}
	p, err := New(cfg, Deps{
		Filter:     h.filter,
		Odometry:   h.odometry,
		Localizer:  h.localizer,
		Mapper:     h.mapper,
		ScanSink:   h.scans,
		ReportSink: h.reports,
		Trajectory: h.recorder,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.pipeline = p
	return h
}

func TestPipeline_FirstScanBootstrapsMap(t *testing.T) {
	cfg := testConfig("none")
	cfg.PublishDiagnostics = ptr(true)
	h := newHarness(t, cfg)

	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))

	if h.mapper.inserts != 1 {
		t.Fatalf("bootstrap inserts = %d, want 1", h.mapper.inserts)
	}
	if h.localizer.publishPoses != 1 {
		t.Errorf("PublishPose calls = %d, want 1", h.localizer.publishPoses)
	}
	if h.localizer.measurementUpdates != 0 {
		t.Errorf("bootstrap ran a measurement update (%d)", h.localizer.measurementUpdates)
	}
	if len(h.recorder.keyframes) != 1 || h.recorder.keyframes[0] != 1 {
		t.Errorf("recorded keyframes = %v, want [1]", h.recorder.keyframes)
	}
	if len(h.reports.reports) != 1 || !h.reports.reports[0].Keyframe {
		t.Errorf("bootstrap cycle report missing or not flagged as keyframe: %+v", h.reports.reports)
	}
}

func TestPipeline_SteadyStateRunsMeasurementUpdate(t *testing.T) {
	h := newHarness(t, testConfig("none"))
	h.odometry.incremental = geom.Translation(0.1, 0, 0)

	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))
	h.pipeline.ProcessScan(testScan(2, time.Unix(10, 100_000_000), 200))

	if h.localizer.measurementUpdates != 1 {
		t.Fatalf("measurement updates = %d, want 1", h.localizer.measurementUpdates)
	}
	if h.mapper.neighbors != 1 {
		t.Errorf("neighbor queries = %d, want 1", h.mapper.neighbors)
	}
	if len(h.localizer.motionUpdates) == 0 {
		t.Fatal("no motion update in steady state")
	}
	if got := h.localizer.motionUpdates[0].T.X; math.Abs(got-0.1) > 1e-12 {
		t.Errorf("motion update delta X = %v, want 0.1", got)
	}
	// The raw scan goes downstream relabeled into the base frame.
	if len(h.scans.frames) != 1 || h.scans.frames[0] != "base_link" {
		t.Errorf("published scan frames = %v, want [base_link]", h.scans.frames)
	}
}

func TestPipeline_KeyframeOnlyAboveThreshold(t *testing.T) {
	h := newHarness(t, testConfig("none"))
	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))

	// Each steady cycle advances the pose by 0.4 m against a 1.0 m
	// threshold: commits land on the 3rd, 6th, ... steady scans.
	h.odometry.incremental = geom.Translation(0.4, 0, 0)
	for seq := uint32(2); seq <= 7; seq++ {
		h.pipeline.ProcessScan(testScan(seq, time.Unix(10+int64(seq), 0), 200))
	}

	// 1 bootstrap insert + 2 keyframe commits (at 1.2 m and 2.4 m).
	if h.mapper.inserts != 3 {
		t.Errorf("map inserts = %d, want 3", h.mapper.inserts)
	}
	if got := len(h.recorder.keyframes); got != 3 {
		t.Errorf("recorded keyframes = %d, want 3", got)
	}
}

func TestPipeline_MapPublishThrottle(t *testing.T) {
	cfg := testConfig("none")
	cfg.MapPublishPeriod = ptr(3)
	h := newHarness(t, cfg)

	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))

	// 2.0 m per cycle against a 1.0 m threshold: every steady scan
	// commits a keyframe.
	h.odometry.incremental = geom.Translation(2.0, 0, 0)
	for seq := uint32(2); seq <= 10; seq++ {
		h.pipeline.ProcessScan(testScan(seq, time.Unix(10+int64(seq), 0), 200))
	}

	// 9 commits with period 3: publishes after the 3rd, 6th and 9th.
	if h.mapper.publishes != 3 {
		t.Errorf("map publishes = %d, want 3", h.mapper.publishes)
	}
}

func TestPipeline_SequenceGapWarnsButProcesses(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(&ops, io.Discard, io.Discard)
	defer SetLogWriters(io.Discard, io.Discard, io.Discard)

	h := newHarness(t, testConfig("none"))
	h.pipeline.ProcessScan(testScan(10, time.Unix(10, 0), 200))
	h.pipeline.ProcessScan(testScan(11, time.Unix(11, 0), 200))
	h.pipeline.ProcessScan(testScan(13, time.Unix(13, 0), 200))

	if !strings.Contains(ops.String(), "jumped to 13") {
		t.Errorf("expected gap warning for seq 13, got ops log: %q", ops.String())
	}
	// Both post-bootstrap scans still run the full cycle.
	if h.localizer.measurementUpdates != 2 {
		t.Errorf("measurement updates = %d, want 2", h.localizer.measurementUpdates)
	}
	// With an identity incremental estimate the pose never leaves the
	// keyframe thresholds: only the bootstrap insert may reach the map.
	if h.mapper.inserts != 1 {
		t.Errorf("map inserts = %d, want only the bootstrap insert", h.mapper.inserts)
	}
}

func TestPipeline_OpenSpaceClassificationReachesFilter(t *testing.T) {
	cfg := testConfig("none")
	cfg.OpenSpacePoints = ptr(100)
	h := newHarness(t, cfg)

	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 50))  // below threshold
	h.pipeline.ProcessScan(testScan(2, time.Unix(11, 0), 200)) // strictly above

	want := []bool{false, true}
	if len(h.filter.openSpace) != 2 || h.filter.openSpace[0] != want[0] || h.filter.openSpace[1] != want[1] {
		t.Errorf("open-space flags = %v, want %v", h.filter.openSpace, want)
	}
}

func TestPipeline_OdometryLookupMissSkipsCycle(t *testing.T) {
	h := newHarness(t, testConfig("odometry"))

	// No odometry recorded yet: the scan must be skipped before
	// filtering.
	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))

	if h.filter.calls != 0 {
		t.Errorf("filter ran on a skipped cycle (%d calls)", h.filter.calls)
	}
	if h.mapper.inserts != 0 {
		t.Errorf("map insert on a skipped cycle (%d)", h.mapper.inserts)
	}
}

func TestPipeline_OdometryDeltaResolvedAcrossScans(t *testing.T) {
	h := newHarness(t, testConfig("odometry"))

	h.pipeline.HandleOdometry(geom.Identity(), time.Unix(10, 0))
	h.pipeline.HandleOdometry(geom.Translation(1, 0, 0), time.Unix(12, 0))

	// First resolvable scan primes the delta chain and skips the cycle.
	h.pipeline.ProcessScan(testScan(1, time.Unix(11, 0), 200))
	if h.filter.calls != 0 {
		t.Fatalf("first resolved scan must only prime the resolver, filter calls = %d", h.filter.calls)
	}

	// Second scan resolves a body-frame delta against the primed pose:
	// interpolated poses 0.5 m and 0.75 m give a 0.25 m delta.
	h.pipeline.ProcessScan(testScan(2, time.Unix(11, 500_000_000), 200))
	if len(h.odometry.externalDeltas) != 1 {
		t.Fatalf("external deltas = %d, want 1", len(h.odometry.externalDeltas))
	}
	if got := h.odometry.externalDeltas[0].T.X; math.Abs(got-0.25) > 1e-9 {
		t.Errorf("external delta X = %v, want 0.25", got)
	}
}

func TestPipeline_ConsecutiveLookupMissesWarnOnce(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(&ops, io.Discard, io.Discard)
	defer SetLogWriters(io.Discard, io.Discard, io.Discard)

	cfg := testConfig("odometry")
	cfg.IntegrationRetryLimit = ptr(2)
	h := newHarness(t, cfg)

	for seq := uint32(1); seq <= 4; seq++ {
		h.pipeline.ProcessScan(testScan(seq, time.Unix(int64(seq), 0), 200))
	}

	if got := strings.Count(ops.String(), "external odometry unavailable"); got != 1 {
		t.Errorf("unavailable warnings = %d, want exactly 1 at the retry limit", got)
	}
}

func TestPipeline_EstimateFailureRebootstrapsSameCycle(t *testing.T) {
	h := newHarness(t, testConfig("none"))
	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))
	h.pipeline.ProcessScan(testScan(2, time.Unix(11, 0), 200))

	measBefore := h.localizer.measurementUpdates
	h.odometry.updateOK = false
	h.odometry.health = HealthError
	h.pipeline.ProcessScan(testScan(3, time.Unix(12, 0), 200))

	// The failed cycle re-establishes the map reference immediately: a
	// fresh bootstrap insert and no measurement update.
	if h.mapper.inserts != 2 {
		t.Errorf("map inserts = %d, want 2 (bootstrap + re-bootstrap)", h.mapper.inserts)
	}
	if h.localizer.measurementUpdates != measBefore {
		t.Errorf("measurement update ran during re-bootstrap")
	}
	// Unhealthy estimator must not publish.
	if h.odometry.publishes != 2 {
		t.Errorf("odometry publishes = %d, want 2 (healthy cycles only)", h.odometry.publishes)
	}
}

func TestPipeline_UnhealthyLocalizerDoesNotPublish(t *testing.T) {
	h := newHarness(t, testConfig("none"))
	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))

	h.localizer.health = HealthError
	h.pipeline.ProcessScan(testScan(2, time.Unix(11, 0), 200))

	if h.localizer.publishes != 0 {
		t.Errorf("localizer published while unhealthy (%d)", h.localizer.publishes)
	}
}

func TestPipeline_ReportSinkGatedByConfig(t *testing.T) {
	h := newHarness(t, testConfig("none")) // publish_diagnostics omitted
	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))

	if len(h.reports.reports) != 0 {
		t.Errorf("diagnostics published without publish_diagnostics: %d reports", len(h.reports.reports))
	}
	if len(h.recorder.cycles) != 1 {
		t.Errorf("cycle recording must be independent of publish_diagnostics, got %d", len(h.recorder.cycles))
	}
}

func TestPipeline_ProfilingEmitsStageTimings(t *testing.T) {
	cfg := testConfig("none")
	cfg.Profiling = ptr(true)
	cfg.PublishDiagnostics = ptr(true)
	h := newHarness(t, cfg)

	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))
	h.pipeline.ProcessScan(testScan(2, time.Unix(11, 0), 200))

	if len(h.reports.reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(h.reports.reports))
	}
	stages := func(r CycleReport) map[string]bool {
		m := map[string]bool{}
		for _, t := range r.Timings {
			m[t.Stage] = true
		}
		return m
	}
	boot := stages(h.reports.reports[0])
	if !boot[StageScanToScan] || !boot[StageScanCallback] || boot[StageScanToSubmap] {
		t.Errorf("bootstrap stages = %v, want scan_to_scan and scan_callback only", boot)
	}
	steady := stages(h.reports.reports[1])
	if !steady[StageScanToScan] || !steady[StageScanToSubmap] || !steady[StageScanCallback] {
		t.Errorf("steady-state stages = %v, want all three", steady)
	}
}

func TestPipeline_RollingMapBufferForwarded(t *testing.T) {
	cfg := testConfig("none")
	cfg.RollingMapBuffer = ptr(true)
	h := newHarness(t, cfg)

	if !h.mapper.rolling {
		t.Error("rolling_map_buffer not forwarded to the mapper")
	}
}

func TestPipeline_GroundTruthSeedingSkipsBootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ground_truth.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create log: %v", err)
	}
	w := scan.NewWriter(f)
	if err := w.Write(testScan(0, time.Unix(1, 0), 50)); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush log: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close log: %v", err)
	}

	cfg := testConfig("none")
	cfg.GroundTruthPath = ptr(path)
	h := newHarness(t, cfg)

	if h.mapper.inserts != 1 {
		t.Fatalf("seed inserts = %d, want 1", h.mapper.inserts)
	}

	// The very first live scan goes straight to the steady-state path.
	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))
	if h.localizer.measurementUpdates != 1 {
		t.Errorf("seeded run skipped measurement update on first scan")
	}
	if h.mapper.inserts != 1 {
		t.Errorf("first scan re-bootstrapped a seeded map (inserts = %d)", h.mapper.inserts)
	}
}

func TestPipeline_FlatGroundAssumptionReachesBothEstimators(t *testing.T) {
	h := newHarness(t, testConfig("none"))

	h.pipeline.HandleFlatGroundAssumption(true)
	if !h.odometry.flatGround || !h.localizer.flatGround {
		t.Fatalf("flat ground not forwarded: odometry=%v localizer=%v",
			h.odometry.flatGround, h.localizer.flatGround)
	}

	h.pipeline.HandleFlatGroundAssumption(false)
	if h.odometry.flatGround || h.localizer.flatGround {
		t.Errorf("flat ground not cleared: odometry=%v localizer=%v",
			h.odometry.flatGround, h.localizer.flatGround)
	}
}

func TestPipeline_RecorderFailureDoesNotAbortCycle(t *testing.T) {
	h := newHarness(t, testConfig("none"))
	h.recorder.err = errFake
	h.pipeline.ProcessScan(testScan(1, time.Unix(10, 0), 200))

	// The cycle still completed its map bootstrap despite persistence
	// failures.
	if h.mapper.inserts != 1 {
		t.Errorf("cycle aborted on recorder failure (inserts = %d)", h.mapper.inserts)
	}
}

var errFake = errFakeType{}

type errFakeType struct{}

func (errFakeType) Error() string { return "fake persistence failure" }
