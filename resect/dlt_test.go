package resect

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/resection/spatialmath"
)

func TestEstimateDLTRecoversCamera(t *testing.T) {
	set, model, pose := testScene(t)

	got, intr, err := estimateDLT(set, model.Width, model.Height)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, pose, 1e-6, 1e-8), test.ShouldBeTrue)
	test.That(t, intr.FocalPx, test.ShouldAlmostEqual, model.FocalPx, 1e-5)
	test.That(t, intr.Cx, test.ShouldAlmostEqual, model.Cx, 1e-5)
	test.That(t, intr.Cy, test.ShouldAlmostEqual, model.Cy, 1e-5)
}

func TestEstimateDLTRotatedCamera(t *testing.T) {
	model := testModel()
	pose := spatialmath.NewPoseFromYawPitchRoll(r3.Vector{X: -5, Y: 10, Z: 102}, 12, -8, 3)
	points := testWorldPoints()
	set, err := NewCorrespondenceSet(synthesizeObservations(t, pose, model, points), points)
	test.That(t, err, test.ShouldBeNil)

	got, intr, err := estimateDLT(set, model.Width, model.Height)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, pose, 1e-6, 1e-8), test.ShouldBeTrue)
	test.That(t, intr.FocalPx, test.ShouldAlmostEqual, model.FocalPx, 1e-5)
}

func TestEstimateDLTDegenerate(t *testing.T) {
	// coplanar world points defeat the direct linear transform
	points := []WorldPoint{
		{ID: "a", Position: r3.Vector{X: -20, Y: 50, Z: 100}},
		{ID: "b", Position: r3.Vector{X: 25, Y: 60, Z: 100}},
		{ID: "c", Position: r3.Vector{X: 0, Y: 40, Z: 100}},
		{ID: "d", Position: r3.Vector{X: 15, Y: 45, Z: 100}},
		{ID: "e", Position: r3.Vector{X: -10, Y: 70, Z: 100}},
		{ID: "f", Position: r3.Vector{X: 30, Y: 55, Z: 100}},
	}
	model := testModel()
	pose := testPose()
	set, err := NewCorrespondenceSet(synthesizeObservations(t, pose, model, points), points)
	test.That(t, err, test.ShouldBeNil)

	_, _, err = estimateDLT(set, model.Width, model.Height)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimateDLTTooFew(t *testing.T) {
	set, model, _ := testScene(t)
	_, _, err := estimateDLT(set[:5], model.Width, model.Height)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "at least")
}
