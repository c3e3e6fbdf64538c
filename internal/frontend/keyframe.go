package frontend

import "github.com/ridgeline-robotics/scanfront/internal/geom"

// Decision is the outcome of one keyframe evaluation. Translation and
// RotationRad carry the displacement magnitudes that were compared,
// for logging; Pose is the new keyframe pose when Commit is true.
type Decision struct {
	Commit      bool
	Pose        geom.Pose
	Translation float64
	RotationRad float64
}

// KeyframeEngine decides whether the current integrated pose has moved
// far enough from the last committed keyframe to commit the scan to
// the map. It is a pure threshold comparison; it holds no notion of
// map content.
type KeyframeEngine struct {
	translationThreshold float64
	rotationThreshold    float64
}

// NewKeyframeEngine returns an engine firing when translation exceeds
// translationThreshold meters or rotation exceeds rotationThreshold
// radians. Both comparisons are strict.
func NewKeyframeEngine(translationThreshold, rotationThreshold float64) *KeyframeEngine {
	return &KeyframeEngine{
		translationThreshold: translationThreshold,
		rotationThreshold:    rotationThreshold,
	}
}

// Evaluate compares current against last and returns the decision.
func (e *KeyframeEngine) Evaluate(last, current geom.Pose) Decision {
	delta := geom.Delta(last, current)
	d := Decision{
		Translation: delta.TranslationNorm(),
		RotationRad: delta.RotationAngle(),
	}
	if d.Translation > e.translationThreshold || d.RotationRad > e.rotationThreshold {
		d.Commit = true
		d.Pose = current
	}
	return d
}
