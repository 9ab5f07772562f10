package resect

import (
	"gonum.org/v1/gonum/mat"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
)

// paramCount returns the dimension of the refined parameter vector: camera
// center and rotation, plus focal length and principal point unless intrinsics
// are held fixed.
func paramCount(fixIntrinsics bool) int {
	if fixIntrinsics {
		return 6
	}
	return transform.NumParams
}

// residualEval is a linearization of the reprojection error at a candidate
// pose: stacked residuals (observed - projected) and the Jacobian of the
// projected pixels, restricted to projectable correspondences.
type residualEval struct {
	// indices maps each evaluated correspondence back to its position in the
	// original set.
	indices []int
	// residuals holds the per-correspondence 2D error norms, aligned with
	// indices.
	residuals []float64
	// stacked is the 2n residual vector, aligned with jacobian rows.
	stacked *mat.VecDense
	// jacobian is 2n x p.
	jacobian *mat.Dense
	// weights holds the observation weight per evaluated correspondence.
	weights []float64
	// unprojectable lists original indices that had to be excluded.
	unprojectable []int
}

// evaluateResiduals linearizes the reprojection error of the given
// correspondences (a subset of set selected by subset, or all when subset is
// nil). Correspondences behind the camera are excluded from the linear system.
func evaluateResiduals(
	set CorrespondenceSet,
	subset []int,
	model *transform.PinholeCameraModel,
	pose *spatialmath.Pose,
	fixIntrinsics bool,
) *residualEval {
	if subset == nil {
		subset = make([]int, len(set))
		for i := range set {
			subset[i] = i
		}
	}
	p := paramCount(fixIntrinsics)
	eval := &residualEval{
		indices:   make([]int, 0, len(subset)),
		residuals: make([]float64, 0, len(subset)),
		weights:   make([]float64, 0, len(subset)),
	}
	resid := make([]float64, 0, 2*len(subset))
	jacRows := make([]float64, 0, 2*len(subset)*p)
	for _, idx := range subset {
		c := set[idx]
		pix, jac, err := model.ProjectWithJacobian(pose, c.Point)
		if err != nil {
			eval.unprojectable = append(eval.unprojectable, idx)
			continue
		}
		du := c.Pixel.X - pix.X
		dv := c.Pixel.Y - pix.Y
		eval.indices = append(eval.indices, idx)
		eval.residuals = append(eval.residuals, c.Pixel.Sub(pix).Norm())
		eval.weights = append(eval.weights, c.Weight)
		resid = append(resid, du, dv)
		jacRows = append(jacRows, jac.U[:p]...)
		jacRows = append(jacRows, jac.V[:p]...)
	}
	if len(eval.indices) > 0 {
		eval.stacked = mat.NewVecDense(len(resid), resid)
		eval.jacobian = mat.NewDense(2*len(eval.indices), p, jacRows)
	}
	return eval
}

// cost returns the weighted sum of squared residuals under the given
// per-correspondence weights (aligned with eval.indices).
func (eval *residualEval) cost(weights []float64) float64 {
	total := 0.0
	for i, r := range eval.residuals {
		total += weights[i] * r * r
	}
	return total
}

// unprojectablePenaltyPx stands in for the residual of a correspondence that
// was weighted at the reference iterate but cannot be projected at the one
// under evaluation. It is large enough that a step never looks better by
// pushing a point behind the camera.
const unprojectablePenaltyPx = 1e6

// indexWeights re-keys per-correspondence weights by their index in the
// correspondence set, so evaluations at different iterates can be scored
// against the same weights even when their projectable subsets differ.
func indexWeights(eval *residualEval, weights []float64) map[int]float64 {
	byIdx := make(map[int]float64, len(eval.indices))
	for i, idx := range eval.indices {
		byIdx[idx] = weights[i]
	}
	return byIdx
}

// costAgainst scores this evaluation under weights keyed by correspondence
// index. Correspondences weighted in the reference but unprojectable here are
// charged unprojectablePenaltyPx; ones projectable here but absent from the
// reference fall back to their observation weight.
func (eval *residualEval) costAgainst(weightByIdx map[int]float64) float64 {
	total := 0.0
	seen := make(map[int]bool, len(eval.indices))
	for i, idx := range eval.indices {
		seen[idx] = true
		w, ok := weightByIdx[idx]
		if !ok {
			w = eval.weights[i]
		}
		total += w * eval.residuals[i] * eval.residuals[i]
	}
	for idx, w := range weightByIdx {
		if !seen[idx] {
			total += w * unprojectablePenaltyPx * unprojectablePenaltyPx
		}
	}
	return total
}

// normalEquations assembles N = J^T W J and g = J^T W r for the given
// per-correspondence weights. Each correspondence weights both of its rows.
func (eval *residualEval) normalEquations(weights []float64) (*mat.SymDense, *mat.VecDense) {
	_, p := eval.jacobian.Dims()
	n := mat.NewSymDense(p, nil)
	g := mat.NewVecDense(p, nil)
	for i := range eval.indices {
		w := weights[i]
		if w == 0 {
			continue
		}
		for rowOff := 0; rowOff < 2; rowOff++ {
			row := eval.jacobian.RawRowView(2*i + rowOff)
			r := eval.stacked.AtVec(2*i + rowOff)
			for a := 0; a < p; a++ {
				g.SetVec(a, g.AtVec(a)+w*row[a]*r)
				for b := a; b < p; b++ {
					n.SetSym(a, b, n.At(a, b)+w*row[a]*row[b])
				}
			}
		}
	}
	return n, g
}
