package frontend

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ridgeline-robotics/scanfront/internal/geom"
)

// ErrNotYetAvailable is returned by TransformBuffer.Lookup when the
// requested time is outside the buffered interval. Callers treat it as
// a best-effort cache miss and skip the cycle, not as a fatal error.
var ErrNotYetAvailable = errors.New("transform not yet available")

type stampedPose struct {
	stamp time.Time
	pose  geom.Pose
}

// TransformBuffer is a time-indexed history of externally supplied
// poses. It is the one resource shared between the odometry-insertion
// path and the scan-processing path, so it carries its own lock:
// inserted poses are visible to any lookup issued after Record
// returns, and lookups never observe a partial insertion.
type TransformBuffer struct {
	mu        sync.RWMutex
	retention int
	samples   []stampedPose
}

// NewTransformBuffer returns a buffer retaining at most retention
// samples; the oldest are evicted past the limit. retention < 1 is
// treated as 1.
func NewTransformBuffer(retention int) *TransformBuffer {
	if retention < 1 {
		retention = 1
	}
	return &TransformBuffer{retention: retention}
}

// Record inserts a pose at the given timestamp. Insertions are
// append-only and idempotent per timestamp: a pose recorded at an
// already-buffered timestamp is ignored, never edited retroactively.
func (b *TransformBuffer) Record(pose geom.Pose, stamp time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := sort.Search(len(b.samples), func(i int) bool {
		return !b.samples[i].stamp.Before(stamp)
	})
	if i < len(b.samples) && b.samples[i].stamp.Equal(stamp) {
		return
	}
	b.samples = append(b.samples, stampedPose{})
	copy(b.samples[i+1:], b.samples[i:])
	b.samples[i] = stampedPose{stamp: stamp, pose: pose}

	if len(b.samples) > b.retention {
		n := copy(b.samples, b.samples[len(b.samples)-b.retention:])
		b.samples = b.samples[:n]
	}
}

// Len returns the number of buffered samples.
func (b *TransformBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Lookup resolves the pose at the given time, interpolating between
// the bracketing samples. It returns ErrNotYetAvailable immediately —
// never blocking — when the time precedes retained data or exceeds the
// newest sample.
func (b *TransformBuffer) Lookup(stamp time.Time) (geom.Pose, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.samples) == 0 {
		return geom.Pose{}, ErrNotYetAvailable
	}
	first, last := b.samples[0], b.samples[len(b.samples)-1]
	if stamp.Before(first.stamp) || stamp.After(last.stamp) {
		return geom.Pose{}, ErrNotYetAvailable
	}

	i := sort.Search(len(b.samples), func(i int) bool {
		return !b.samples[i].stamp.Before(stamp)
	})
	if b.samples[i].stamp.Equal(stamp) {
		return b.samples[i].pose, nil
	}
	lo, hi := b.samples[i-1], b.samples[i]
	span := hi.stamp.Sub(lo.stamp)
	f := float64(stamp.Sub(lo.stamp)) / float64(span)
	return geom.Interpolate(lo.pose, hi.pose, f), nil
}
