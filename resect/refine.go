package resect

import (
	"fmt"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
)

const (
	// huberK is the Huber tuning constant in units of the robust scale.
	huberK = 1.345
	// robustScaleFloorPx keeps the IRLS scale sane when residuals collapse
	// to numerical noise.
	robustScaleFloorPx = 0.1
	// lm damping bounds
	lambdaInit = 1e-4
	lambdaMax  = 1e12
	// convergence tolerances
	stepTol = 1e-10
	costTol = 1e-12
	// costFloor is the weighted squared error below which the iterate is at
	// the numerical optimum and further steps are noise.
	costFloor = 1e-16
	// reclassifyRounds bounds the refine / re-classify outer loop.
	reclassifyRounds = 5
	// rescueMaxSetSize bounds the exhaustive leave-one-out refit.
	rescueMaxSetSize = 12
	// rescueTriggerPx is the inlier RMSE above which a stabilized solve over a
	// small set is suspected of having absorbed a gross outlier.
	rescueTriggerPx = 1e-4
	// rescueAcceptRatio is how much better a leave-one-out refit must be
	// before it replaces the stabilized solve.
	rescueAcceptRatio = 0.25
)

// refineOutcome is the refiner's final state: the best iterate reached, the
// stabilized inlier set, and the linearization at that iterate for the
// covariance estimate.
type refineOutcome struct {
	pose       *spatialmath.Pose
	intrinsics *transform.PinholeCameraIntrinsics
	inliers    []int
	eval       *residualEval
	weights    []float64
	warnings   []string
}

// robustWeights computes Huber IRLS weights (times observation weights) from
// the current residual norms. The scale is 1.4826 * MAD, floored.
func robustWeights(eval *residualEval) []float64 {
	absResiduals := make([]float64, len(eval.residuals))
	copy(absResiduals, eval.residuals)
	med, err := stats.Median(absResiduals)
	if err != nil {
		med = 0
	}
	deviations := make([]float64, len(absResiduals))
	for i, r := range absResiduals {
		deviations[i] = math.Abs(r - med)
	}
	mad, err := stats.Median(deviations)
	if err != nil {
		mad = 0
	}
	scale := math.Max(1.4826*mad, robustScaleFloorPx)
	cutoff := huberK * scale
	weights := make([]float64, len(eval.residuals))
	for i, r := range eval.residuals {
		w := 1.0
		if r > cutoff {
			w = cutoff / r
		}
		weights[i] = w * eval.weights[i]
	}
	return weights
}

// solveDamped solves (N + lambda diag(N)) delta = g.
func solveDamped(n *mat.SymDense, g *mat.VecDense, lambda float64) (*mat.VecDense, bool) {
	p, _ := n.Dims()
	damped := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := n.At(i, j)
			if i == j {
				v += lambda*n.At(i, i) + 1e-18
			}
			damped.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(damped) {
		return nil, false
	}
	delta := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(delta, g); err != nil {
		return nil, false
	}
	return delta, true
}

// applyStep moves the parameters along delta. The rotation update composes on
// the right through the exponential map so the iterate never leaves SO(3).
func applyStep(
	pose *spatialmath.Pose,
	intr *transform.PinholeCameraIntrinsics,
	delta *mat.VecDense,
	fixIntrinsics bool,
) (*spatialmath.Pose, *transform.PinholeCameraIntrinsics) {
	newPose := spatialmath.NewPose(
		pose.Position.Add(r3.Vector{X: delta.AtVec(0), Y: delta.AtVec(1), Z: delta.AtVec(2)}),
		pose.Orientation.Mul(spatialmath.ExpMap(r3.Vector{
			X: delta.AtVec(transform.ParamRx),
			Y: delta.AtVec(transform.ParamRy),
			Z: delta.AtVec(transform.ParamRz),
		})),
	)
	newIntr := intr.Clone()
	if !fixIntrinsics {
		newIntr.FocalPx += delta.AtVec(transform.ParamFocal)
		newIntr.Cx += delta.AtVec(transform.ParamCx)
		newIntr.Cy += delta.AtVec(transform.ParamCy)
	}
	return newPose, newIntr
}

// refine jointly minimizes the weighted squared reprojection error over pose
// (and intrinsics unless fixed) by Levenberg-Marquardt with Huber IRLS,
// starting from the consensus hypothesis and its inlier set. After each
// converged run the full set is re-classified against the inlier threshold
// and refinement repeats until the set is stable. The returned iterate is
// never worse than the starting hypothesis on its own inlier set.
func refine(
	set CorrespondenceSet,
	model *transform.PinholeCameraModel,
	start *hypothesis,
	opts Options,
	logger golog.Logger,
) *refineOutcome {
	pose := start.pose
	intr := model.PinholeCameraIntrinsics.Clone()
	// an empty inlier set must stay empty: a nil subset means "everything" to
	// evaluateResiduals
	inliers := make([]int, len(start.inliers))
	copy(inliers, start.inliers)
	var warnings []string
	warnf := func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	for round := 0; round < reclassifyRounds; round++ {
		var diverged bool
		pose, intr, diverged = levenbergMarquardt(set, model, pose, intr, inliers, opts, logger)
		if diverged {
			warnf("refiner stopped on numerical instability; returning its best stable iterate")
		}

		// re-classify the full set at the refined parameters
		refined := &transform.PinholeCameraModel{PinholeCameraIntrinsics: intr, Distortion: model.Distortion}
		next := scoreHypothesis(set, refined, pose, opts.InlierThresholdPx, 0)
		if len(next.inliers) == 0 {
			warnf("no correspondences remain within the inlier threshold after refinement")
			break
		}
		if equalInts(next.inliers, inliers) {
			break
		}
		inliers = next.inliers
	}

	if rescuedPose, rescuedIntr, rescuedInliers, ok := rescueAbsorbedOutlier(set, model, pose, intr, inliers, opts, logger); ok {
		pose, intr, inliers = rescuedPose, rescuedIntr, rescuedInliers
	}

	refined := &transform.PinholeCameraModel{PinholeCameraIntrinsics: intr, Distortion: model.Distortion}
	eval := evaluateResiduals(set, inliers, refined, pose, opts.FixIntrinsics)
	var weights []float64
	if len(eval.indices) > 0 {
		weights = robustWeights(eval)
	}
	return &refineOutcome{
		pose:       pose,
		intrinsics: intr,
		inliers:    inliers,
		eval:       eval,
		weights:    weights,
		warnings:   warnings,
	}
}

// levenbergMarquardt runs damped Gauss-Newton over the given inlier subset.
// It reports divergence when the normal equations stay singular or damping
// overflows; the best iterate seen is always returned.
func levenbergMarquardt(
	set CorrespondenceSet,
	model *transform.PinholeCameraModel,
	pose *spatialmath.Pose,
	intr *transform.PinholeCameraIntrinsics,
	inliers []int,
	opts Options,
	logger golog.Logger,
) (*spatialmath.Pose, *transform.PinholeCameraIntrinsics, bool) {
	p := paramCount(opts.FixIntrinsics)
	bestPose, bestIntr := pose, intr

	currentModel := func(in *transform.PinholeCameraIntrinsics) *transform.PinholeCameraModel {
		return &transform.PinholeCameraModel{PinholeCameraIntrinsics: in, Distortion: model.Distortion}
	}

	eval := evaluateResiduals(set, inliers, currentModel(intr), pose, opts.FixIntrinsics)
	if eval.jacobian == nil || 2*len(eval.indices) < p {
		return bestPose, bestIntr, true
	}
	weights := robustWeights(eval)
	weightByIdx := indexWeights(eval, weights)
	cost := eval.cost(weights)
	bestCost := cost

	lambda := lambdaInit
	diverged := false
	accepted := false
	// raising the damping past its cap means no acceptable step exists. That
	// is a stall at a local optimum when progress was made (or none was
	// needed); it is divergence only when no step was ever accepted away from
	// a poor start.
	escalate := func(factor float64) bool {
		lambda *= factor
		if lambda > lambdaMax {
			if cost > costFloor && !accepted {
				diverged = true
			}
			return true
		}
		return false
	}
	for iter := 0; iter < opts.MaxRefineIterations; iter++ {
		if cost <= costFloor {
			break
		}
		n, g := eval.normalEquations(weights)
		delta, ok := solveDamped(n, g, lambda)
		if !ok {
			if escalate(10) {
				break
			}
			continue
		}

		candPose, candIntr := applyStep(pose, intr, delta, opts.FixIntrinsics)
		if candIntr.FocalPx <= 0 {
			if escalate(10) {
				break
			}
			continue
		}
		candEval := evaluateResiduals(set, inliers, currentModel(candIntr), candPose, opts.FixIntrinsics)
		if candEval.jacobian == nil || 2*len(candEval.indices) < p {
			if escalate(10) {
				break
			}
			continue
		}
		// score the candidate over the same correspondences as the current
		// iterate: a point the step pushed behind the camera is charged, not
		// dropped
		candCost := candEval.costAgainst(weightByIdx)
		if candCost >= cost {
			if escalate(5) {
				break
			}
			continue
		}

		pose, intr, eval = candPose, candIntr, candEval
		accepted = true
		improvement := (cost - candCost) / math.Max(cost, 1e-300)
		lambda = math.Max(lambda/3, 1e-12)
		weights = robustWeights(eval)
		weightByIdx = indexWeights(eval, weights)
		cost = eval.cost(weights)
		if cost < bestCost {
			bestCost = cost
			bestPose, bestIntr = pose, intr
		}
		if mat.Norm(delta, math.Inf(1)) < stepTol || improvement < costTol {
			break
		}
	}
	logger.Debugf("refiner finished with weighted cost %.6g over %d inliers", bestCost, len(inliers))
	return bestPose, bestIntr, diverged
}

// rescueAbsorbedOutlier guards small sets against a single gross outlier that
// the linear seed folded into the consensus hypothesis: with barely more
// observations than parameters, such an outlier survives refinement as a
// mediocre near-full-set fit instead of a clean exclusion. Each
// correspondence is left out in turn and the rest refit; a refit that is
// dramatically better while the left-out point lands outside the inlier
// threshold exposes that point as the outlier.
func rescueAbsorbedOutlier(
	set CorrespondenceSet,
	model *transform.PinholeCameraModel,
	pose *spatialmath.Pose,
	intr *transform.PinholeCameraIntrinsics,
	inliers []int,
	opts Options,
	logger golog.Logger,
) (*spatialmath.Pose, *transform.PinholeCameraIntrinsics, []int, bool) {
	n := len(set)
	if n > rescueMaxSetSize || len(inliers) < n-1 || 2*(n-1) < paramCount(opts.FixIntrinsics) {
		return pose, intr, inliers, false
	}
	withIntr := func(in *transform.PinholeCameraIntrinsics) *transform.PinholeCameraModel {
		return &transform.PinholeCameraModel{PinholeCameraIntrinsics: in, Distortion: model.Distortion}
	}
	cur := evaluateResiduals(set, inliers, withIntr(intr), pose, opts.FixIntrinsics)
	if len(cur.indices) == 0 || rmseOf(cur.residuals) <= rescueTriggerPx {
		return pose, intr, inliers, false
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	refPose, refIntr, _ := levenbergMarquardt(set, model, pose, intr, all, opts, logger)
	refEval := evaluateResiduals(set, all, withIntr(refIntr), refPose, opts.FixIntrinsics)
	if len(refEval.indices) == 0 {
		return pose, intr, inliers, false
	}
	refRMSE := rmseOf(refEval.residuals)

	bestRMSE := math.Inf(1)
	bestLeftOut := -1
	var bestPose *spatialmath.Pose
	var bestIntr *transform.PinholeCameraIntrinsics
	var bestSubset []int
	for leftOut := 0; leftOut < n; leftOut++ {
		subset := make([]int, 0, n-1)
		for i := 0; i < n; i++ {
			if i != leftOut {
				subset = append(subset, i)
			}
		}
		candPose, candIntr, _ := levenbergMarquardt(set, model, refPose, refIntr, subset, opts, logger)
		candEval := evaluateResiduals(set, subset, withIntr(candIntr), candPose, opts.FixIntrinsics)
		if len(candEval.indices) < len(subset) {
			continue
		}
		if r := rmseOf(candEval.residuals); r < bestRMSE {
			bestRMSE = r
			bestPose, bestIntr, bestSubset, bestLeftOut = candPose, candIntr, subset, leftOut
		}
	}
	if bestLeftOut < 0 || bestRMSE >= rescueAcceptRatio*refRMSE {
		return pose, intr, inliers, false
	}
	pix, err := withIntr(bestIntr).Project(bestPose, set[bestLeftOut].Point)
	if err == nil && set[bestLeftOut].Pixel.Sub(pix).Norm() <= opts.InlierThresholdPx {
		return pose, intr, inliers, false
	}
	logger.Debugf("leave-one-out refit excluded correspondence %d (rmse %.3gpx vs %.3gpx over the full set)",
		bestLeftOut, bestRMSE, refRMSE)
	return bestPose, bestIntr, bestSubset, true
}

func rmseOf(residuals []float64) float64 {
	if len(residuals) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range residuals {
		total += r * r
	}
	return math.Sqrt(total / float64(len(residuals)))
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
