// Package spatialmath defines the spatial types used by the camera resection
// pipeline: rotations, camera poses, and the local geodetic tangent frame.
//
// Orientations are held as rotation matrices (with quaternions used for
// composition) while solving; compass Euler angles (yaw/pitch/roll in degrees)
// exist only at the module boundary.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/resection/utils"
)

// RotationMatrix is a 3x3 rotation matrix in row major order.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates a rotation matrix from a slice of 9 floats in row
// major order. The data is not checked for orthonormality.
func NewRotationMatrix(data []float64) (*RotationMatrix, error) {
	if len(data) != 9 {
		return nil, errors.Errorf("rotation matrix needs 9 values, got %d", len(data))
	}
	rm := &RotationMatrix{}
	copy(rm.mat[:], data)
	return rm, nil
}

// NewZeroRotation returns the identity rotation.
func NewZeroRotation() *RotationMatrix {
	return &RotationMatrix{mat: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// At returns the value of the matrix at the given row and column.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[3*row+col]
}

// Row returns the a 3 vector of the matrix at the given row.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[3*row], Y: rm.mat[3*row+1], Z: rm.mat[3*row+2]}
}

// Col returns the a 3 vector of the matrix at the given column.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[3+col], Z: rm.mat[6+col]}
}

// Apply rotates the given vector: R * v.
func (rm *RotationMatrix) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.mat[0]*v.X + rm.mat[1]*v.Y + rm.mat[2]*v.Z,
		Y: rm.mat[3]*v.X + rm.mat[4]*v.Y + rm.mat[5]*v.Z,
		Z: rm.mat[6]*v.X + rm.mat[7]*v.Y + rm.mat[8]*v.Z,
	}
}

// ApplyInverse rotates the given vector by the matrix inverse: R^T * v.
func (rm *RotationMatrix) ApplyInverse(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.mat[0]*v.X + rm.mat[3]*v.Y + rm.mat[6]*v.Z,
		Y: rm.mat[1]*v.X + rm.mat[4]*v.Y + rm.mat[7]*v.Z,
		Z: rm.mat[2]*v.X + rm.mat[5]*v.Y + rm.mat[8]*v.Z,
	}
}

// Mul returns the matrix product rm * other.
func (rm *RotationMatrix) Mul(other *RotationMatrix) *RotationMatrix {
	out := &RotationMatrix{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum := 0.0
			for k := 0; k < 3; k++ {
				sum += rm.mat[3*i+k] * other.mat[3*k+j]
			}
			out.mat[3*i+j] = sum
		}
	}
	return out
}

// Transpose returns the transpose, which for a rotation is also its inverse.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	m := rm.mat
	return &RotationMatrix{mat: [9]float64{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}}
}

// Quaternion returns the rotation in quaternion representation, using
// Shepperd's method to stay stable near all branches.
func (rm *RotationMatrix) Quaternion() quat.Number {
	m := rm.mat
	var q quat.Number
	tr := m[0] + m[4] + m[8]
	switch {
	case tr > 0:
		s := 0.5 / math.Sqrt(tr+1.0)
		q = quat.Number{Real: 0.25 / s, Imag: (m[7] - m[5]) * s, Jmag: (m[2] - m[6]) * s, Kmag: (m[3] - m[1]) * s}
	case m[0] > m[4] && m[0] > m[8]:
		s := 2.0 * math.Sqrt(1.0+m[0]-m[4]-m[8])
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: 0.25 * s, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := 2.0 * math.Sqrt(1.0+m[4]-m[0]-m[8])
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: 0.25 * s, Kmag: (m[5] + m[7]) / s}
	default:
		s := 2.0 * math.Sqrt(1.0+m[8]-m[0]-m[4])
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: 0.25 * s}
	}
	return q
}

// QuatToRotationMatrix converts a quaternion to a rotation matrix. The
// quaternion is normalized first.
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	w, x, y, z := q.Real/n, q.Imag/n, q.Jmag/n, q.Kmag/n
	return &RotationMatrix{mat: [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}}
}

// ExpMap converts a rotation vector (axis scaled by angle in radians) to a
// rotation matrix via the corresponding unit quaternion.
func ExpMap(w r3.Vector) *RotationMatrix {
	theta := w.Norm()
	if theta < 1e-14 {
		return NewZeroRotation()
	}
	axis := w.Mul(1 / theta)
	sinA := math.Sin(theta / 2)
	return QuatToRotationMatrix(quat.Number{
		Real: math.Cos(theta / 2),
		Imag: axis.X * sinA,
		Jmag: axis.Y * sinA,
		Kmag: axis.Z * sinA,
	})
}

// cameraRef is the reference attitude: camera x (right) to east, camera y
// (down) to -up, camera z (optical axis) to north.
var cameraRef = &RotationMatrix{mat: [9]float64{
	1, 0, 0,
	0, 0, 1,
	0, -1, 0,
}}

func rotZ(rad float64) *RotationMatrix {
	c, s := math.Cos(rad), math.Sin(rad)
	return &RotationMatrix{mat: [9]float64{c, -s, 0, s, c, 0, 0, 0, 1}}
}

func rotX(rad float64) *RotationMatrix {
	c, s := math.Cos(rad), math.Sin(rad)
	return &RotationMatrix{mat: [9]float64{1, 0, 0, 0, c, -s, 0, s, c}}
}

// AttitudeFromYawPitchRoll builds the camera-to-world rotation (ENU world
// frame) from compass angles in degrees: yaw clockwise from north, pitch
// positive above the horizon, roll about the optical axis.
func AttitudeFromYawPitchRoll(yawDeg, pitchDeg, rollDeg float64) *RotationMatrix {
	yawAboutUp := rotZ(-utils.DegToRad(yawDeg))
	pitchAboutRight := rotX(utils.DegToRad(pitchDeg))
	rollAboutAxis := rotZ(utils.DegToRad(rollDeg))
	return yawAboutUp.Mul(cameraRef).Mul(pitchAboutRight).Mul(rollAboutAxis)
}

// YawPitchRoll decomposes a camera-to-world rotation into compass angles in
// degrees. At pitch = +/-90 the yaw/roll split is not unique and yaw is
// reported as 0.
func (rm *RotationMatrix) YawPitchRoll() (yawDeg, pitchDeg, rollDeg float64) {
	fwd := rm.Col(2)
	yawDeg = utils.RadToDeg(math.Atan2(fwd.X, fwd.Y))
	pitchDeg = utils.RadToDeg(math.Asin(utils.Clamp(fwd.Z, -1, 1)))
	noRoll := AttitudeFromYawPitchRoll(yawDeg, pitchDeg, 0)
	m := noRoll.Transpose().Mul(rm)
	rollDeg = utils.RadToDeg(math.Atan2(m.At(1, 0), m.At(0, 0)))
	return yawDeg, pitchDeg, rollDeg
}

// OrientationAlmostEqual reports whether two rotations differ by less than tol
// radians of total rotation.
func OrientationAlmostEqual(a, b *RotationMatrix, tol float64) bool {
	diff := a.Transpose().Mul(b)
	// trace = 1 + 2 cos(theta)
	cosTheta := utils.Clamp((diff.mat[0]+diff.mat[4]+diff.mat[8]-1)/2, -1, 1)
	return math.Acos(cosTheta) < tol
}
