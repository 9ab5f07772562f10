package transform

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/resection/spatialmath"
)

func testModel() *PinholeCameraModel {
	return &PinholeCameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{
			Width: 1920, Height: 1080,
			FocalPx: 1000, Cx: 960, Cy: 540,
		},
	}
}

func TestProject(t *testing.T) {
	model := testModel()
	pose := spatialmath.NewPoseFromYawPitchRoll(r3.Vector{Z: 100}, 0, 0, 0)

	// a point straight ahead lands on the principal point
	pix, err := model.Project(pose, r3.Vector{Y: 50, Z: 100})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pix.X, test.ShouldAlmostEqual, 960, 1e-9)
	test.That(t, pix.Y, test.ShouldAlmostEqual, 540, 1e-9)

	// 10m east at 50m range is 0.2 normalized units right of center
	pix, err = model.Project(pose, r3.Vector{X: 10, Y: 50, Z: 100})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pix.X, test.ShouldAlmostEqual, 1160, 1e-9)
	test.That(t, pix.Y, test.ShouldAlmostEqual, 540, 1e-9)

	// 10m above the axis maps up the image (smaller v)
	pix, err = model.Project(pose, r3.Vector{Y: 50, Z: 110})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pix.Y, test.ShouldAlmostEqual, 340, 1e-9)

	// a point behind the camera is rejected
	_, err = model.Project(pose, r3.Vector{Y: -50, Z: 100})
	test.That(t, err, test.ShouldBeError, ErrBehindCamera)
}

func TestProjectWithJacobianMatchesProject(t *testing.T) {
	model := testModel()
	model.Distortion = &BrownConrady{RadialK1: -0.1, RadialK2: 0.02, TangentialP1: 0.001}
	pose := spatialmath.NewPoseFromYawPitchRoll(r3.Vector{X: 3, Y: -2, Z: 101}, 25, -10, 5)
	pt := r3.Vector{X: 10, Y: 60, Z: 95}

	pix, _, err := model.ProjectWithJacobian(pose, pt)
	test.That(t, err, test.ShouldBeNil)
	direct, err := model.Project(pose, pt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pix.X, test.ShouldAlmostEqual, direct.X, 1e-12)
	test.That(t, pix.Y, test.ShouldAlmostEqual, direct.Y, 1e-12)
}

// perturb returns the model and pose moved along parameter k by eps.
func perturb(model *PinholeCameraModel, pose *spatialmath.Pose, k int, eps float64) (*PinholeCameraModel, *spatialmath.Pose) {
	newIntr := model.PinholeCameraIntrinsics.Clone()
	position := pose.Position
	orientation := pose.Orientation
	switch k {
	case ParamX:
		position = position.Add(r3.Vector{X: eps})
	case ParamY:
		position = position.Add(r3.Vector{Y: eps})
	case ParamZ:
		position = position.Add(r3.Vector{Z: eps})
	case ParamRx:
		orientation = orientation.Mul(spatialmath.ExpMap(r3.Vector{X: eps}))
	case ParamRy:
		orientation = orientation.Mul(spatialmath.ExpMap(r3.Vector{Y: eps}))
	case ParamRz:
		orientation = orientation.Mul(spatialmath.ExpMap(r3.Vector{Z: eps}))
	case ParamFocal:
		newIntr.FocalPx += eps
	case ParamCx:
		newIntr.Cx += eps
	case ParamCy:
		newIntr.Cy += eps
	}
	return &PinholeCameraModel{PinholeCameraIntrinsics: newIntr, Distortion: model.Distortion},
		spatialmath.NewPose(position, orientation)
}

func TestProjectionJacobianNumeric(t *testing.T) {
	model := testModel()
	model.Distortion = &BrownConrady{RadialK1: -0.05, RadialK2: 0.01, TangentialP1: 0.0005, TangentialP2: -0.0003}
	pose := spatialmath.NewPoseFromYawPitchRoll(r3.Vector{X: 1, Y: 2, Z: 100}, 15, -5, 3)
	pt := r3.Vector{X: -8, Y: 55, Z: 103}

	_, jac, err := model.ProjectWithJacobian(pose, pt)
	test.That(t, err, test.ShouldBeNil)

	const eps = 1e-6
	for k := 0; k < NumParams; k++ {
		plusModel, plusPose := perturb(model, pose, k, eps)
		minusModel, minusPose := perturb(model, pose, k, -eps)
		plus, err := plusModel.Project(plusPose, pt)
		test.That(t, err, test.ShouldBeNil)
		minus, err := minusModel.Project(minusPose, pt)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, jac.U[k], test.ShouldAlmostEqual, (plus.X-minus.X)/(2*eps), 1e-3)
		test.That(t, jac.V[k], test.ShouldAlmostEqual, (plus.Y-minus.Y)/(2*eps), 1e-3)
	}
}
