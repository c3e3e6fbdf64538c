// Package trajstore persists the front end's trajectory outputs —
// keyframe commits and per-cycle diagnostics — to SQLite, grouped by
// run so replays and live sessions can be compared after the fact.
package trajstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ridgeline-robotics/scanfront/internal/frontend"
	"github.com/ridgeline-robotics/scanfront/internal/geom"
)

// Store is a SQLite-backed trajectory store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the trajectory database at path and
// applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trajectory db: %w", err)
	}
	// Single writer; serialized access keeps modernc's driver happy.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is a run-scoped handle implementing frontend.TrajectoryRecorder.
type Run struct {
	ID    string
	store *Store
}

// BeginRun registers a new run and returns its recorder handle.
func (s *Store) BeginRun(startedAt time.Time, configJSON string) (*Run, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO frontend_runs (run_id, started_unix_nanos, config_json) VALUES (?, ?, ?)`,
		id, startedAt.UnixNano(), configJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return &Run{ID: id, store: s}, nil
}

// RecordKeyframe persists one keyframe commit.
func (r *Run) RecordKeyframe(seq uint32, stamp time.Time, pose geom.Pose, translation, rotationRad float64) error {
	_, err := r.store.db.Exec(`
		INSERT INTO frontend_keyframes (
			run_id, seq, ts_unix_nanos,
			tx, ty, tz, qw, qx, qy, qz,
			translation_delta, rotation_delta_rad
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, seq, stamp.UnixNano(),
		pose.T.X, pose.T.Y, pose.T.Z,
		pose.R.Real, pose.R.Imag, pose.R.Jmag, pose.R.Kmag,
		translation, rotationRad,
	)
	if err != nil {
		return fmt.Errorf("insert keyframe: %w", err)
	}
	return nil
}

// RecordCycle persists one cycle report. Only the whole-callback
// timing is stored; per-stage samples stay on the log streams.
func (r *Run) RecordCycle(report frontend.CycleReport) error {
	var cycleNanos int64
	for _, t := range report.Timings {
		if t.Stage == frontend.StageScanCallback {
			cycleNanos = t.Elapsed.Nanoseconds()
		}
	}
	_, err := r.store.db.Exec(`
		INSERT INTO frontend_cycles (
			run_id, seq, ts_unix_nanos,
			odometry_health, localizer_health, keyframe, cycle_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, report.Seq, report.Stamp.UnixNano(),
		int(report.Odometry), int(report.Localizer), report.Keyframe, cycleNanos,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// Keyframe is one persisted keyframe commit.
type Keyframe struct {
	Seq              uint32
	TSUnixNanos      int64
	Pose             geom.Pose
	TranslationDelta float64
	RotationDeltaRad float64
}

// Keyframes returns a run's keyframes in commit order.
func (s *Store) Keyframes(runID string) ([]Keyframe, error) {
	rows, err := s.db.Query(`
		SELECT seq, ts_unix_nanos, tx, ty, tz, qw, qx, qy, qz,
		       translation_delta, rotation_delta_rad
		FROM frontend_keyframes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query keyframes: %w", err)
	}
	defer rows.Close()

	var out []Keyframe
	for rows.Next() {
		var k Keyframe
		if err := rows.Scan(
			&k.Seq, &k.TSUnixNanos,
			&k.Pose.T.X, &k.Pose.T.Y, &k.Pose.T.Z,
			&k.Pose.R.Real, &k.Pose.R.Imag, &k.Pose.R.Jmag, &k.Pose.R.Kmag,
			&k.TranslationDelta, &k.RotationDeltaRad,
		); err != nil {
			return nil, fmt.Errorf("scan keyframe row: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// CycleCount returns the number of recorded cycles for a run.
func (s *Store) CycleCount(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM frontend_cycles WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cycles: %w", err)
	}
	return n, nil
}
