package resect

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/resection/spatialmath"
)

func TestP3PFindsTruePose(t *testing.T) {
	set, model, pose := testScene(t)

	for _, sample := range [][]int{{0, 1, 2}, {1, 3, 5}, {0, 2, 4}} {
		poses := p3pPoses(set, sample, model.PinholeCameraIntrinsics)
		test.That(t, len(poses), test.ShouldBeGreaterThan, 0)
		found := false
		for _, candidate := range poses {
			if spatialmath.PoseAlmostEqual(candidate, pose, 1e-4, 1e-6) {
				found = true
			}
		}
		test.That(t, found, test.ShouldBeTrue)
	}
}

func TestP3PRotatedCamera(t *testing.T) {
	model := testModel()
	pose := spatialmath.NewPoseFromYawPitchRoll(r3.Vector{X: 4, Y: -6, Z: 98}, -35, 12, -4)
	points := testWorldPoints()
	set, err := NewCorrespondenceSet(synthesizeObservations(t, pose, model, points), points)
	test.That(t, err, test.ShouldBeNil)

	poses := p3pPoses(set, []int{1, 2, 4}, model.PinholeCameraIntrinsics)
	found := false
	for _, candidate := range poses {
		if spatialmath.PoseAlmostEqual(candidate, pose, 1e-4, 1e-6) {
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)
}

func TestP3PDegenerateSample(t *testing.T) {
	model := testModel()
	pose := testPose()
	points := []WorldPoint{
		{ID: "a", Position: r3.Vector{X: -10, Y: 50, Z: 100}},
		{ID: "b", Position: r3.Vector{X: 0, Y: 50, Z: 100}},
		{ID: "c", Position: r3.Vector{X: 10, Y: 50, Z: 100}},
	}
	set, err := NewCorrespondenceSet(synthesizeObservations(t, pose, model, points), points)
	test.That(t, err, test.ShouldBeNil)

	// collinear world points produce no pose candidates
	poses := p3pPoses(set, []int{0, 1, 2}, model.PinholeCameraIntrinsics)
	test.That(t, len(poses), test.ShouldEqual, 0)
}
