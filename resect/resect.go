package resect

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
)

// Problem is one self-contained resection task: the measurements, the image
// geometry, and an optional intrinsics guess. World point positions are in
// the local ENU frame, meters.
type Problem struct {
	Observations []Observation
	Points       []WorldPoint
	// Width and Height describe the image the observations came from.
	Width, Height int
	// IntrinsicsGuess seeds (or, with Options.FixIntrinsics, fixes) the
	// focal length and principal point. Nil means estimate from scratch.
	IntrinsicsGuess *transform.PinholeCameraIntrinsics
	// Distortion optionally models the lens; nil means an ideal pinhole.
	Distortion transform.Distorter
}

// Solve estimates the camera pose, and unless fixed the intrinsics, that best
// explain the observations. It validates the input, seeds intrinsics (guess,
// then a 6-point direct linear estimate, then an image-size heuristic), runs
// the robust consensus search, refines the winning hypothesis, and attaches
// covariance and diagnostics. Degenerate geometry and undersized sets fail
// with a validation error before any sampling.
func Solve(ctx context.Context, problem Problem, opts Options, logger golog.Logger) (*Result, error) {
	opts = opts.withDefaults()

	if problem.Width <= 0 || problem.Height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", problem.Width, problem.Height)
	}
	set, err := NewCorrespondenceSet(problem.Observations, problem.Points)
	if err != nil {
		return nil, err
	}
	minCount := MinCorrespondencesJoint
	if opts.FixIntrinsics {
		minCount = MinCorrespondencesFixed
	}
	if len(set) < minCount {
		return nil, errors.Errorf("need at least %d correspondences, got %d", minCount, len(set))
	}
	if set.Collinear() {
		return nil, errors.New("world points are collinear; the pose is not observable")
	}
	if opts.FixIntrinsics && problem.IntrinsicsGuess == nil {
		return nil, errors.New("fixIntrinsics requires an intrinsics guess")
	}

	intrinsics, seedPoses, warnings, err := seedIntrinsics(set, problem, opts, logger)
	if err != nil {
		return nil, err
	}
	model := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: intrinsics,
		Distortion:              problem.Distortion,
	}

	best, searchWarnings, err := consensusSearch(ctx, set, model, seedPoses, opts, logger)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, searchWarnings...)

	outcome := refine(set, model, best, opts, logger)
	warnings = append(warnings, outcome.warnings...)

	cov, covWarnings := estimateCovariance(outcome, opts.FixIntrinsics)
	warnings = append(warnings, covWarnings...)

	final := outcome.intrinsics.Clone()
	final.Width = problem.Width
	final.Height = problem.Height
	finalModel := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: final,
		Distortion:              problem.Distortion,
	}
	diag := buildDiagnostics(set, finalModel, outcome.pose, outcome.inliers, opts.InlierThresholdPx, warnings)

	return &Result{
		Pose:        outcome.pose,
		Intrinsics:  final,
		Covariance:  cov,
		Diagnostics: diag,
	}, nil
}

// seedIntrinsics picks the starting focal length and principal point. A
// caller guess wins; otherwise a direct linear estimate over the full set
// supplies both intrinsics and a pose hypothesis for the consensus search;
// when the geometry defeats the linear estimate (coplanar points) the seed
// falls back to focal = max(width, height) with the principal point at the
// image center.
func seedIntrinsics(
	set CorrespondenceSet,
	problem Problem,
	opts Options,
	logger golog.Logger,
) (*transform.PinholeCameraIntrinsics, []*spatialmath.Pose, []string, error) {
	var warnings []string

	if guess := problem.IntrinsicsGuess; guess != nil {
		seed := guess.Clone()
		seed.Width = problem.Width
		seed.Height = problem.Height
		if err := seed.CheckValid(); err != nil {
			return nil, nil, nil, err
		}
		return seed, nil, warnings, nil
	}

	if len(set) >= MinCorrespondencesJoint && !set.Coplanar() {
		pose, intr, err := estimateDLT(set, problem.Width, problem.Height)
		if err == nil {
			intr.Width = problem.Width
			intr.Height = problem.Height
			logger.Debugf("direct linear estimate seeded focal %.2fpx, principal point (%.2f, %.2f)",
				intr.FocalPx, intr.Cx, intr.Cy)
			return intr, []*spatialmath.Pose{pose}, warnings, nil
		}
		logger.Debugw("direct linear intrinsics estimate failed, falling back to heuristic", "error", err)
	}

	warnings = append(warnings,
		"no intrinsics guess and no usable linear estimate; seeding focal length from the image size")
	focal := float64(problem.Width)
	if problem.Height > problem.Width {
		focal = float64(problem.Height)
	}
	return &transform.PinholeCameraIntrinsics{
		Width:   problem.Width,
		Height:  problem.Height,
		FocalPx: focal,
		Cx:      float64(problem.Width) / 2,
		Cy:      float64(problem.Height) / 2,
	}, nil, warnings, nil
}
