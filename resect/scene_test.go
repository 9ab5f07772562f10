package resect

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
)

// testIntrinsics is the reference camera used across the package tests.
func testIntrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width: 1920, Height: 1080,
		FocalPx: 1000, Cx: 960, Cy: 540,
	}
}

// testModel wraps the reference intrinsics in an undistorted pinhole model.
func testModel() *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics()}
}

// testPose places the camera 100m up in the local frame, level and looking
// north.
func testPose() *spatialmath.Pose {
	return spatialmath.NewPoseFromYawPitchRoll(r3.Vector{Z: 100}, 0, 0, 0)
}

// testWorldPoints is a well-conditioned non-coplanar configuration north of
// the test camera, all comfortably inside its frustum.
func testWorldPoints() []WorldPoint {
	return []WorldPoint{
		{ID: "p1", Position: r3.Vector{X: -20, Y: 50, Z: 95}},
		{ID: "p2", Position: r3.Vector{X: 25, Y: 60, Z: 110}},
		{ID: "p3", Position: r3.Vector{X: 0, Y: 40, Z: 100}},
		{ID: "p4", Position: r3.Vector{X: 15, Y: 45, Z: 90}},
		{ID: "p5", Position: r3.Vector{X: -10, Y: 70, Z: 115}},
		{ID: "p6", Position: r3.Vector{X: 30, Y: 55, Z: 105}},
	}
}

// synthesizeObservations projects world points through a known camera to make
// exact observations.
func synthesizeObservations(
	t *testing.T,
	pose *spatialmath.Pose,
	model *transform.PinholeCameraModel,
	points []WorldPoint,
) []Observation {
	t.Helper()
	observations := make([]Observation, len(points))
	for i, pt := range points {
		pix, err := model.Project(pose, pt.Position)
		test.That(t, err, test.ShouldBeNil)
		observations[i] = Observation{ID: pt.ID, Pixel: pix}
	}
	return observations
}

// testScene builds the exact correspondence set of the reference setup.
func testScene(t *testing.T) (CorrespondenceSet, *transform.PinholeCameraModel, *spatialmath.Pose) {
	t.Helper()
	model := &transform.PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics()}
	pose := testPose()
	points := testWorldPoints()
	set, err := NewCorrespondenceSet(synthesizeObservations(t, pose, model, points), points)
	test.That(t, err, test.ShouldBeNil)
	return set, model, pose
}
