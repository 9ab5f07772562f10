package spatialmath

import (
	"github.com/golang/geo/r3"
)

// Pose is a camera pose: the camera center in the local ENU world frame
// (meters) and the camera-to-world rotation.
type Pose struct {
	Position    r3.Vector
	Orientation *RotationMatrix
}

// NewPose creates a pose from a position and an orientation.
func NewPose(position r3.Vector, orientation *RotationMatrix) *Pose {
	return &Pose{Position: position, Orientation: orientation}
}

// NewPoseFromYawPitchRoll creates a pose from a position and compass angles
// in degrees.
func NewPoseFromYawPitchRoll(position r3.Vector, yawDeg, pitchDeg, rollDeg float64) *Pose {
	return &Pose{Position: position, Orientation: AttitudeFromYawPitchRoll(yawDeg, pitchDeg, rollDeg)}
}

// TransformToCamera maps a world point into the camera frame (x right, y
// down, z along the optical axis).
func (p *Pose) TransformToCamera(pt r3.Vector) r3.Vector {
	return p.Orientation.ApplyInverse(pt.Sub(p.Position))
}

// PoseAlmostEqual reports whether two poses agree within tolPos meters and
// tolRot radians.
func PoseAlmostEqual(a, b *Pose, tolPos, tolRot float64) bool {
	return a.Position.Sub(b.Position).Norm() < tolPos &&
		OrientationAlmostEqual(a.Orientation, b.Orientation, tolRot)
}
