// Command scanfront replays a recorded scan log through the LiDAR
// front-end pipeline: filtering, incremental motion estimation,
// keyframe selection and map accumulation, with optional external
// odometry integration and trajectory persistence.
//
// Usage:
//
//	go run ./cmd/scanfront [flags]
//
// Flags:
//
//	-config    Path to the front-end JSON configuration (required)
//	-scans     Path to the JSON-lines scan log to replay (required)
//	-odometry  Path to a JSON-lines pose log for external integration
//	-db        Trajectory database path (overrides trajectory_db)
//	-map-out   Write the final accumulated map to this scan log
//	-trace     Enable the high-frequency trace log stream
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ridgeline-robotics/scanfront/internal/components"
	"github.com/ridgeline-robotics/scanfront/internal/frontend"
	"github.com/ridgeline-robotics/scanfront/internal/geom"
	"github.com/ridgeline-robotics/scanfront/internal/scan"
	"github.com/ridgeline-robotics/scanfront/internal/trajstore"
)

// poseRecord is the JSON-lines wire form of one external odometry
// sample: an absolute pose in the odometry frame at a timestamp.
type poseRecord struct {
	TSNanos int64   `json:"ts_unix_nanos"`
	TX      float64 `json:"tx"`
	TY      float64 `json:"ty"`
	TZ      float64 `json:"tz"`
	QW      float64 `json:"qw"`
	QX      float64 `json:"qx"`
	QY      float64 `json:"qy"`
	QZ      float64 `json:"qz"`
}

type stampedPose struct {
	pose  geom.Pose
	stamp time.Time
}

func readPoseLog(path string) ([]stampedPose, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open odometry log: %w", err)
	}
	defer f.Close()

	var out []stampedPose
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		var rec poseRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode odometry record %d: %w", len(out), err)
		}
		out = append(out, stampedPose{
			pose: geom.NewPose(
				r3.Vec{X: rec.TX, Y: rec.TY, Z: rec.TZ},
				quat.Number{Real: rec.QW, Imag: rec.QX, Jmag: rec.QY, Kmag: rec.QZ},
			),
			stamp: time.Unix(0, rec.TSNanos),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read odometry log: %w", err)
	}
	return out, nil
}

func writeMapSnapshot(path string, snapshot *scan.Scan) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := scan.NewWriter(f)
	if err := w.Write(snapshot); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func main() {
	configPath := flag.String("config", "", "Path to front-end JSON configuration (required)")
	scanPath := flag.String("scans", "", "Path to JSON-lines scan log (required)")
	odomPath := flag.String("odometry", "", "Path to JSON-lines odometry pose log")
	dbPath := flag.String("db", "", "Trajectory database path (overrides config)")
	mapOut := flag.String("map-out", "", "Write the final map to this scan log")
	trace := flag.Bool("trace", false, "Enable the trace log stream")
	flag.Parse()

	if *configPath == "" || *scanPath == "" {
		log.Fatal("Error: -config and -scans flags are required")
	}

	var traceWriter io.Writer
	if *trace {
		traceWriter = os.Stderr
	}
	frontend.SetLogWriters(os.Stderr, os.Stderr, traceWriter)

	cfg, err := frontend.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	filter := components.NewVoxelFilter(0.1)
	odometry := components.NewDeltaOdometry(10)
	localizer := components.NewPoseLocalizer(*cfg.FixedFrameID, *cfg.BaseFrameID)
	mapper := components.NewKDMapper(0.5, *cfg.FixedFrameID)

	deps := frontend.Deps{
		Filter:    filter,
		Odometry:  odometry,
		Localizer: localizer,
		Mapper:    mapper,
	}

	trajPath := cfg.GetTrajectoryDBPath()
	if *dbPath != "" {
		trajPath = *dbPath
	}
	if trajPath != "" {
		store, err := trajstore.Open(trajPath)
		if err != nil {
			log.Fatalf("Failed to open trajectory store: %v", err)
		}
		defer store.Close()

		configJSON, _ := json.Marshal(cfg)
		run, err := store.BeginRun(time.Now(), string(configJSON))
		if err != nil {
			log.Fatalf("Failed to begin trajectory run: %v", err)
		}
		deps.Trajectory = run
		log.Printf("Recording trajectory run %s to %s", run.ID, trajPath)
	}

	pipeline, err := frontend.New(cfg, deps)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	var poses []stampedPose
	if *odomPath != "" {
		poses, err = readPoseLog(*odomPath)
		if err != nil {
			log.Fatalf("Failed to load odometry log: %v", err)
		}
		log.Printf("Loaded %d odometry samples from %s", len(poses), *odomPath)
	}

	f, err := os.Open(*scanPath)
	if err != nil {
		log.Fatalf("Failed to open scan log: %v", err)
	}
	defer f.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Merge replay: feed every odometry sample stamped at or before the
	// scan into the transform history, then run the scan cycle.
	reader := scan.NewReader(f)
	scans, nextPose := 0, 0
replay:
	for {
		select {
		case <-sigCh:
			log.Printf("Interrupted after %d scans", scans)
			break replay
		default:
		}

		s, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read scan %d: %v", scans, err)
		}

		for nextPose < len(poses) && !poses[nextPose].stamp.After(s.Stamp) {
			pipeline.HandleOdometry(poses[nextPose].pose, poses[nextPose].stamp)
			nextPose++
		}
		pipeline.ProcessScan(s)
		scans++
	}

	log.Printf("Replay complete: %d scans, %d map points", scans, mapper.Size())

	if *mapOut != "" {
		var snapshot *scan.Scan
		mapper.PublishFunc = func(s *scan.Scan) { snapshot = s }
		mapper.PublishMap()
		if snapshot != nil {
			if err := writeMapSnapshot(*mapOut, snapshot); err != nil {
				log.Fatalf("Failed to write map snapshot: %v", err)
			}
			log.Printf("Wrote %d map points to %s", snapshot.Len(), *mapOut)
		}
	}
}
