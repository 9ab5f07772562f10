package resect

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
	"go.viam.com/resection/utils"
)

// consensusRoundSize is the number of minimal samples evaluated between
// convergence checks.
const consensusRoundSize = 64

// hypothesis is a candidate pose with the correspondences that support it.
type hypothesis struct {
	pose *spatialmath.Pose
	// inliers are indices into the correspondence set, ascending.
	inliers []int
	// score is the total reprojection error over the inliers.
	score float64
	// sampleNum orders hypotheses deterministically for tie-breaking;
	// negative numbers are reserved for externally seeded hypotheses.
	sampleNum int
}

func (h *hypothesis) betterThan(other *hypothesis) bool {
	if other == nil {
		return true
	}
	if len(h.inliers) != len(other.inliers) {
		return len(h.inliers) > len(other.inliers)
	}
	if h.score != other.score {
		return h.score < other.score
	}
	return h.sampleNum < other.sampleNum
}

// scoreHypothesis classifies every correspondence against the candidate pose.
// Unprojectable points never count as inliers.
func scoreHypothesis(
	set CorrespondenceSet,
	model *transform.PinholeCameraModel,
	pose *spatialmath.Pose,
	thresholdPx float64,
	sampleNum int,
) *hypothesis {
	h := &hypothesis{pose: pose, sampleNum: sampleNum}
	for i, c := range set {
		pix, err := model.Project(pose, c.Point)
		if err != nil {
			continue
		}
		dist := c.Pixel.Sub(pix).Norm()
		if dist <= thresholdPx {
			h.inliers = append(h.inliers, i)
			h.score += dist
		}
	}
	return h
}

// contentSeed derives a deterministic RNG seed from the correspondence
// content so repeated solves of the same request sample identically.
func contentSeed(set CorrespondenceSet) uint64 {
	hash := fnv.New64a()
	var buf [8]byte
	writeFloat := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		//nolint:errcheck // fnv hash writes cannot fail
		hash.Write(buf[:])
	}
	for _, c := range set {
		//nolint:errcheck
		hash.Write([]byte(c.ID))
		writeFloat(c.Pixel.X)
		writeFloat(c.Pixel.Y)
		writeFloat(c.Point.X)
		writeFloat(c.Point.Y)
		writeFloat(c.Point.Z)
	}
	return hash.Sum64()
}

// neededSamples is the adaptive RANSAC iteration count to hit the requested
// confidence given the best inlier ratio seen so far.
func neededSamples(inlierRatio, confidence float64, cap int) int {
	if inlierRatio >= 0.9999 {
		return 1
	}
	pGood := math.Pow(inlierRatio, minimalSampleSize)
	if pGood < 1e-12 {
		return cap
	}
	needed := math.Log(1-confidence) / math.Log(1-pGood)
	if math.IsNaN(needed) || needed > float64(cap) {
		return cap
	}
	return int(math.Ceil(needed))
}

// consensusSearch runs the sampling/scoring state machine: rounds of minimal
// P3P samples are scored in parallel and reduced to the single best-supported
// hypothesis. seed hypotheses (e.g. from a DLT initialization) compete with
// the sampled ones. It returns the best hypothesis, stage warnings, and an
// error only when no usable hypothesis exists at all.
func consensusSearch(
	ctx context.Context,
	set CorrespondenceSet,
	model *transform.PinholeCameraModel,
	seedPoses []*spatialmath.Pose,
	opts Options,
	logger golog.Logger,
) (*hypothesis, []string, error) {
	n := len(set)
	var warnings []string

	var best *hypothesis
	for i, pose := range seedPoses {
		h := scoreHypothesis(set, model, pose, opts.InlierThresholdPx, -len(seedPoses)+i)
		// seeds compete under the same support bar as sampled hypotheses
		if len(h.inliers) >= minimalSampleSize && h.betterThan(best) {
			best = h
		}
	}

	var seed uint64
	if opts.Seed != nil {
		seed = *opts.Seed
	} else {
		seed = contentSeed(set)
	}
	//nolint:gosec // deterministic sampling is the point, not security
	rnd := rand.New(rand.NewSource(int64(seed)))

	start := opts.Clock.Now()
	done := 0
	exhausted := true
	for done < opts.MaxIterations {
		if opts.Clock.Since(start) > opts.TimeBudget {
			warnings = append(warnings,
				"consensus search stopped at its time budget before reaching target confidence")
			break
		}
		roundSize := consensusRoundSize
		if remaining := opts.MaxIterations - done; remaining < roundSize {
			roundSize = remaining
		}
		samples := make([][]int, roundSize)
		for i := range samples {
			samples[i] = utils.SampleNDistinct(minimalSampleSize, n, rnd)
		}
		results := make([]*hypothesis, roundSize)
		//nolint:errcheck // the group work function never errors
		utils.GroupWorkParallel(ctx, roundSize, func(groupSize int) {},
			func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
				return func(memberNum, workNum int) {
					var localBest *hypothesis
					for _, pose := range p3pPoses(set, samples[workNum], model.PinholeCameraIntrinsics) {
						h := scoreHypothesis(set, model, pose, opts.InlierThresholdPx, done+workNum)
						if len(h.inliers) >= minimalSampleSize && h.betterThan(localBest) {
							localBest = h
						}
					}
					results[workNum] = localBest
				}, nil
			})
		for _, h := range results {
			if h != nil && h.betterThan(best) {
				best = h
			}
		}
		done += roundSize

		if best != nil {
			ratio := float64(len(best.inliers)) / float64(n)
			if done >= neededSamples(ratio, opts.Confidence, opts.MaxIterations) {
				exhausted = false
				break
			}
		}
	}

	if best == nil {
		return nil, warnings, errors.New(
			"consensus search found no valid pose hypothesis; correspondence geometry may be degenerate")
	}
	if exhausted && len(warnings) == 0 {
		warnings = append(warnings,
			"consensus search exhausted its iteration budget before reaching target confidence")
	}
	logger.Debugf("consensus search kept %d/%d inliers after %d samples (score %.3f)",
		len(best.inliers), n, done, best.score)
	return best, warnings, nil
}
