package resect

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestBuildDiagnostics(t *testing.T) {
	set, model, pose := testScene(t)
	set[1].Pixel = set[1].Pixel.Add(r2.Point{X: 3, Y: 4}) // residual 5
	set[4].Pixel = set[4].Pixel.Add(r2.Point{X: 30})      // outlier

	diag := buildDiagnostics(set, model, pose, []int{0, 1, 2, 3, 5}, 8.0, nil)

	test.That(t, diag.ResidualsPx, test.ShouldHaveLength, 6)
	test.That(t, diag.ResidualsPx[0], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, diag.ResidualsPx[1], test.ShouldAlmostEqual, 5, 1e-9)
	test.That(t, diag.ResidualsPx[4], test.ShouldAlmostEqual, 30, 1e-9)
	test.That(t, diag.InlierIDs, test.ShouldResemble, []string{"p1", "p2", "p3", "p4", "p6"})
	test.That(t, diag.InlierRatio, test.ShouldAlmostEqual, 5.0/6.0)
	// RMSE over the 5 inliers: sqrt(25/5)
	test.That(t, diag.RMSEPx, test.ShouldAlmostEqual, math.Sqrt(5), 1e-9)
	test.That(t, diag.Warnings, test.ShouldHaveLength, 0)
}

func TestBuildDiagnosticsDropsDriftedInlier(t *testing.T) {
	set, model, pose := testScene(t)
	set[2].Pixel = set[2].Pixel.Add(r2.Point{Y: 20})

	// index 2 was claimed inlier but no longer fits at this pose
	diag := buildDiagnostics(set, model, pose, []int{0, 1, 2, 3, 4, 5}, 8.0, nil)
	test.That(t, diag.InlierIDs, test.ShouldResemble, []string{"p1", "p2", "p4", "p5", "p6"})
	test.That(t, diag.InlierRatio, test.ShouldAlmostEqual, 5.0/6.0)
}

func TestBuildDiagnosticsUnprojectable(t *testing.T) {
	points := append(testWorldPoints(), WorldPoint{ID: "behind", Position: r3.Vector{Y: -50, Z: 100}})
	model := testModel()
	pose := testPose()
	observations := synthesizeObservations(t, pose, model, points[:6])
	observations = append(observations, Observation{ID: "behind", Pixel: r2.Point{X: 100, Y: 100}})
	set, err := NewCorrespondenceSet(observations, points)
	test.That(t, err, test.ShouldBeNil)

	diag := buildDiagnostics(set, model, pose, []int{0, 1, 2, 3, 4, 5}, 8.0, []string{"earlier stage note"})
	test.That(t, diag.ResidualsPx[6], test.ShouldEqual, UnprojectableResidual)
	test.That(t, diag.InlierIDs, test.ShouldNotContain, "behind")
	test.That(t, diag.Warnings, test.ShouldHaveLength, 2)
	test.That(t, diag.Warnings[0], test.ShouldEqual, "earlier stage note")
	test.That(t, diag.Warnings[1], test.ShouldContainSubstring, "behind the camera")
}
