package resect

import (
	"fmt"
	"math"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
	"go.viam.com/resection/utils"
)

// buildDiagnostics evaluates the final parameters against every input
// correspondence. Residuals come back in input order; points that cannot be
// projected (behind the camera or at the optical center) report
// UnprojectableResidual and never count as inliers.
func buildDiagnostics(
	set CorrespondenceSet,
	model *transform.PinholeCameraModel,
	pose *spatialmath.Pose,
	inliers []int,
	thresholdPx float64,
	warnings []string,
) Diagnostics {
	residuals := make([]float64, len(set))
	unprojectable := 0
	for i, c := range set {
		pix, err := model.Project(pose, c.Point)
		if err != nil {
			residuals[i] = UnprojectableResidual
			unprojectable++
			continue
		}
		residuals[i] = c.Pixel.Sub(pix).Norm()
	}
	if unprojectable > 0 {
		warnings = append(warnings,
			fmt.Sprintf("%d world point(s) sit behind the camera at the solved pose", unprojectable))
	}

	inlierSet := make(map[int]struct{}, len(inliers))
	for _, idx := range inliers {
		if residuals[idx] <= thresholdPx {
			inlierSet[idx] = struct{}{}
		}
	}

	var sumSq float64
	ids := make([]string, 0, len(inlierSet))
	for idx := range set {
		if _, ok := inlierSet[idx]; !ok {
			continue
		}
		sumSq += utils.Square(residuals[idx])
		ids = append(ids, set[idx].ID)
	}

	rmse := 0.0
	if len(inlierSet) > 0 {
		rmse = math.Sqrt(sumSq / float64(len(inlierSet)))
	}

	if warnings == nil {
		warnings = []string{}
	}
	return Diagnostics{
		RMSEPx:      rmse,
		InlierRatio: float64(len(inlierSet)) / float64(len(set)),
		ResidualsPx: residuals,
		InlierIDs:   ids,
		Warnings:    warnings,
	}
}
