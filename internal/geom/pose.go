// Package geom provides the rigid-transform math used by the scan
// processing front end: poses as translation+quaternion pairs, pose
// composition and inversion, and point transforms between frames.
//
// Coordinate convention: X=right, Y=forward, Z=up (matches the scan
// ingestion code).
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a rigid transform: a rotation followed by a translation.
// The rotation quaternion is kept unit-norm; constructors and
// interpolation renormalize.
type Pose struct {
	T r3.Vec
	R quat.Number
}

// Identity returns the identity pose (zero translation, unit rotation).
func Identity() Pose {
	return Pose{R: quat.Number{Real: 1}}
}

// NewPose builds a pose from a translation and rotation, normalizing
// the quaternion. A zero quaternion is replaced by the identity
// rotation rather than producing NaNs downstream.
func NewPose(t r3.Vec, r quat.Number) Pose {
	n := quat.Abs(r)
	if n == 0 {
		return Pose{T: t, R: quat.Number{Real: 1}}
	}
	return Pose{T: t, R: quat.Scale(1/n, r)}
}

// RotationZ returns a pose rotating by angle radians about the Z axis
// with zero translation.
func RotationZ(angle float64) Pose {
	half := angle / 2
	return Pose{R: quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}}
}

// Translation returns a pure-translation pose.
func Translation(x, y, z float64) Pose {
	return Pose{T: r3.Vec{X: x, Y: y, Z: z}, R: quat.Number{Real: 1}}
}

// rotateVec rotates v by the unit quaternion q (q v q*).
func rotateVec(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Compose returns the pose equivalent to applying b first, then a.
// Written a ∘ b: (a ∘ b).Apply(p) == a.Apply(b.Apply(p)).
func Compose(a, b Pose) Pose {
	return Pose{
		T: r3.Add(a.T, rotateVec(a.R, b.T)),
		R: quat.Mul(a.R, b.R),
	}
}

// Inverse returns the pose that undoes p.
func Inverse(p Pose) Pose {
	ri := quat.Conj(p.R)
	return Pose{T: r3.Scale(-1, rotateVec(ri, p.T)), R: ri}
}

// Delta returns the relative pose taking a to b: Inverse(a) ∘ b.
func Delta(a, b Pose) Pose {
	return Compose(Inverse(a), b)
}

// Apply transforms the point v by p.
func (p Pose) Apply(v r3.Vec) r3.Vec {
	return r3.Add(rotateVec(p.R, v), p.T)
}

// TranslationNorm returns the Euclidean magnitude of the pose's
// translation component.
func (p Pose) TranslationNorm() float64 {
	return r3.Norm(p.T)
}

// RotationAngle returns the magnitude of the minimal rotation encoded
// by the pose, in radians: |2·acos(w)|. The scalar component is
// clamped to [-1, 1] so floating-point drift past unit norm cannot
// produce an acos domain error.
func (p Pose) RotationAngle() float64 {
	w := p.R.Real
	if w > 1 {
		w = 1
	} else if w < -1 {
		w = -1
	}
	return math.Abs(2 * math.Acos(w))
}

// YawAngle returns the heading component of the pose's rotation, in
// radians about the Z axis.
func (p Pose) YawAngle() float64 {
	q := p.R
	return math.Atan2(2*(q.Real*q.Kmag+q.Imag*q.Jmag), 1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag))
}

// ProjectToPlane constrains p to planar motion: the Z translation is
// dropped and only the heading component of the rotation survives.
func ProjectToPlane(p Pose) Pose {
	return Pose{
		T: r3.Vec{X: p.T.X, Y: p.T.Y},
		R: RotationZ(p.YawAngle()).R,
	}
}

// Interpolate returns the pose at fraction f along the path from a to
// b: linear in translation, normalized-lerp in rotation (adequate for
// the small inter-sample rotations seen at scan rate). f outside
// [0, 1] is clamped.
func Interpolate(a, b Pose, f float64) Pose {
	if f <= 0 {
		return a
	}
	if f >= 1 {
		return b
	}
	t := r3.Add(r3.Scale(1-f, a.T), r3.Scale(f, b.T))

	// Pick the shorter arc: negate one endpoint when the quaternions
	// point into opposite hemispheres.
	br := b.R
	dot := a.R.Real*br.Real + a.R.Imag*br.Imag + a.R.Jmag*br.Jmag + a.R.Kmag*br.Kmag
	if dot < 0 {
		br = quat.Scale(-1, br)
	}
	r := quat.Add(quat.Scale(1-f, a.R), quat.Scale(f, br))
	return NewPose(t, r)
}
