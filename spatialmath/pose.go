// Package spatialmath defines spatial mathematical operations for rigid transforms in 3D space.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid 6-DOF transform: a rotation followed by a translation.
// The zero value is not a valid Pose; use NewZeroPose for the identity.
type Pose struct {
	point       r3.Vector
	orientation quat.Number
}

// NewZeroPose returns a pose at the origin with no rotation.
func NewZeroPose() Pose {
	return Pose{orientation: quat.Number{Real: 1}}
}

// NewPoseFromPoint takes a cartesian (x,y,z) and stores it as a pose with no rotation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return Pose{point: point, orientation: quat.Number{Real: 1}}
}

// NewPose takes a point and an orientation in euler angles and returns a Pose.
func NewPose(point r3.Vector, ea *EulerAngles) Pose {
	return Pose{point: point, orientation: ea.Quaternion()}
}

// NewPoseFromQuaternion takes a point and a rotation unit quaternion and returns a Pose.
func NewPoseFromQuaternion(point r3.Vector, q quat.Number) Pose {
	return Pose{point: point, orientation: Normalize(q)}
}

// Point returns the translation component of the pose.
func (p Pose) Point() r3.Vector {
	return p.point
}

// Orientation returns the rotation component of the pose as a unit quaternion.
func (p Pose) Orientation() quat.Number {
	return p.orientation
}

// EulerAngles returns the rotation component of the pose in euler angle representation.
func (p Pose) EulerAngles() *EulerAngles {
	return QuatToEulerAngles(p.orientation)
}

// TransformPoint applies the pose to a point, rotating then translating it.
func (p Pose) TransformPoint(pt r3.Vector) r3.Vector {
	return rotateVector(p.orientation, pt).Add(p.point)
}

// Compose treats a pose as a transform and applies b in the frame of a, returning a ⊕ b.
func Compose(a, b Pose) Pose {
	return Pose{
		point:       a.TransformPoint(b.point),
		orientation: Normalize(quat.Mul(a.orientation, b.orientation)),
	}
}

// PoseInverse returns the transform that undoes the given pose, so that
// Compose(p, PoseInverse(p)) is the identity.
func PoseInverse(p Pose) Pose {
	invOrient := quat.Conj(p.orientation)
	return Pose{
		point:       rotateVector(invOrient, p.point.Mul(-1)),
		orientation: invOrient,
	}
}

// PoseBetween returns the difference between two poses, the transform that takes a to b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// PoseAlmostEqual checks whether two poses are approximately the same, both in
// position and in orientation.
func PoseAlmostEqual(a, b Pose, epsilon float64) bool {
	return PoseAlmostCoincident(a, b, epsilon) && QuaternionAlmostEqual(a.orientation, b.orientation, epsilon)
}

// PoseAlmostCoincident checks whether two poses approximately occupy the same position,
// ignoring orientation.
func PoseAlmostCoincident(a, b Pose, epsilon float64) bool {
	return a.point.Sub(b.point).Norm() < epsilon
}

// Interpolate linearly interpolates the translation between two poses by the given amount in [0,1].
// Orientation is taken from whichever endpoint is nearer.
func Interpolate(a, b Pose, by float64) Pose {
	pt := a.point.Add(b.point.Sub(a.point).Mul(by))
	orient := a.orientation
	if by > 0.5 {
		orient = b.orientation
	}
	return Pose{point: pt, orientation: orient}
}

// rotateVector rotates a vector by a unit quaternion via q v q*.
func rotateVector(q quat.Number, v r3.Vector) r3.Vector {
	if v.Norm2() == 0 {
		return v
	}
	vq := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rotated := quat.Mul(quat.Mul(q, vq), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// TranslationNorm returns the magnitude of the pose's translation.
func (p Pose) TranslationNorm() float64 {
	return math.Sqrt(p.point.Norm2())
}
