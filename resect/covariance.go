package resect

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/utils"
)

// covarianceLabelsJoint orders the reported parameters. Angles are reported
// in degrees even though the solver works on the so(3) tangent space.
var covarianceLabelsJoint = []string{"x", "y", "z", "yaw", "pitch", "roll", "focal", "cx", "cy"}

// covarianceRCond is the reciprocal condition number below which the normal
// matrix is treated as rank deficient and no covariance is reported. Joint
// solves near the minimal correspondence count legitimately sit around 1e-10,
// while true rank deficiency lands at machine epsilon, so the cut sits well
// below both healthy cases.
const covarianceRCond = 1e-14

// eulerStep is the tangent perturbation used to differentiate the
// yaw/pitch/roll extraction.
const eulerStep = 1e-6

func covarianceLabels(fixIntrinsics bool) []string {
	if fixIntrinsics {
		return append([]string(nil), covarianceLabelsJoint[:6]...)
	}
	return append([]string(nil), covarianceLabelsJoint...)
}

// eulerJacobian differentiates the yaw/pitch/roll angles (degrees) of
// orientation with respect to a right-multiplied so(3) perturbation. Near
// gimbal lock the extraction itself is ill conditioned and that shows up
// here as large entries, which is the honest answer.
func eulerJacobian(orientation *spatialmath.RotationMatrix) *mat.Dense {
	j := mat.NewDense(3, 3, nil)
	for col := 0; col < 3; col++ {
		var axis r3.Vector
		switch col {
		case 0:
			axis = r3.Vector{X: eulerStep}
		case 1:
			axis = r3.Vector{Y: eulerStep}
		case 2:
			axis = r3.Vector{Z: eulerStep}
		}
		plusYaw, plusPitch, plusRoll := orientation.Mul(spatialmath.ExpMap(axis)).YawPitchRoll()
		minusYaw, minusPitch, minusRoll := orientation.Mul(spatialmath.ExpMap(axis.Mul(-1))).YawPitchRoll()
		j.Set(0, col, angleDiffDeg(plusYaw, minusYaw)/(2*eulerStep))
		j.Set(1, col, angleDiffDeg(plusPitch, minusPitch)/(2*eulerStep))
		j.Set(2, col, angleDiffDeg(plusRoll, minusRoll)/(2*eulerStep))
	}
	return j
}

// angleDiffDeg is a wrap-aware difference of two angles in degrees.
func angleDiffDeg(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	if d > 180 {
		d -= 360
	}
	if d < -180 {
		d += 360
	}
	return d
}

// estimateCovariance propagates the residual scatter through the final
// linearization: sigma^2 (J^T W J)^{-1}, with the rotation block rotated
// into yaw/pitch/roll degrees. A rank-deficient normal matrix (for example
// all world points on one plane while intrinsics float) yields an empty
// covariance and a warning rather than a misleading matrix.
func estimateCovariance(
	outcome *refineOutcome,
	fixIntrinsics bool,
) (Covariance, []string) {
	labels := covarianceLabels(fixIntrinsics)
	p := len(labels)
	empty := Covariance{Labels: []string{}, Matrix: []float64{}}

	eval := outcome.eval
	dof := 2*len(eval.indices) - p
	if eval.jacobian == nil || dof <= 0 {
		return empty, []string{"too few inliers to estimate parameter covariance"}
	}

	n, _ := eval.normalEquations(outcome.weights)

	var svd mat.SVD
	if !svd.Factorize(n, mat.SVDNone) {
		return empty, []string{"covariance estimate failed: normal matrix decomposition did not converge"}
	}
	values := svd.Values(nil)
	if values[0] <= 0 || values[p-1]/values[0] < covarianceRCond {
		return empty, []string{"covariance unavailable: observation geometry leaves parameters unconstrained"}
	}

	var inv mat.Dense
	if err := inv.Inverse(n); err != nil {
		return empty, []string{"covariance estimate failed: normal matrix is numerically singular"}
	}

	// unbiased residual variance over the weighted inlier residuals
	var rss float64
	for i, r := range eval.residuals {
		rss += outcome.weights[i] * utils.Square(r)
	}
	sigma2 := rss / float64(dof)
	inv.Scale(sigma2, &inv)

	// rotate the so(3) tangent block into yaw/pitch/roll degrees:
	// cov' = T cov T^T with T identity outside the rotation block.
	t := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		t.Set(i, i, 1)
	}
	ej := eulerJacobian(outcome.pose.Orientation)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.Set(3+i, 3+j, ej.At(i, j))
		}
	}
	var tmp, rotated mat.Dense
	tmp.Mul(t, &inv)
	rotated.Mul(&tmp, t.T())

	matrix := make([]float64, 0, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			// symmetrize away the floating point skew from the transform
			matrix = append(matrix, 0.5*(rotated.At(i, j)+rotated.At(j, i)))
		}
	}
	return Covariance{Labels: labels, Matrix: matrix}, nil
}
