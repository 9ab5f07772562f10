// Package resect estimates a camera's pose and intrinsic parameters from 2D
// pixel observations of known 3D world points (space resection), and reports
// parameter covariance and fit diagnostics alongside the estimate.
//
// The pipeline is: minimal-set pose hypotheses (P3P) inside a robust consensus
// search, an optional 6-point DLT to seed intrinsics, joint Levenberg-Marquardt
// refinement over the inlier set, and covariance from the final normal
// equations. Every solve is stateless and self-contained.
package resect

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
)

// Observation is a single 2D pixel measurement. ID links it to a WorldPoint
// and to the per-observation diagnostics.
type Observation struct {
	ID     string
	Pixel  r2.Point
	Weight float64
}

// WorldPoint is a known 3D reference point in the local ENU world frame
// (meters).
type WorldPoint struct {
	ID       string
	Position r3.Vector
}

// Correspondence pairs an observation with the world point sharing its ID.
type Correspondence struct {
	ID     string
	Pixel  r2.Point
	Weight float64
	Point  r3.Vector
}

// CorrespondenceSet is an ordered set of correspondences. Order is preserved
// through the pipeline so diagnostics align with the caller's observations.
type CorrespondenceSet []Correspondence

// NewCorrespondenceSet pairs observations with world points by ID. Every
// observation must have exactly one world point; a zero weight defaults to 1.
func NewCorrespondenceSet(observations []Observation, points []WorldPoint) (CorrespondenceSet, error) {
	byID := make(map[string]r3.Vector, len(points))
	for _, pt := range points {
		if pt.ID == "" {
			return nil, errors.New("world point has an empty id")
		}
		if _, ok := byID[pt.ID]; ok {
			return nil, errors.Errorf("duplicate world point id %q", pt.ID)
		}
		byID[pt.ID] = pt.Position
	}
	set := make(CorrespondenceSet, 0, len(observations))
	seen := make(map[string]bool, len(observations))
	var err error
	for _, obs := range observations {
		if obs.ID == "" {
			err = multierr.Combine(err, errors.New("observation has an empty id"))
			continue
		}
		if seen[obs.ID] {
			err = multierr.Combine(err, errors.Errorf("duplicate observation id %q", obs.ID))
			continue
		}
		seen[obs.ID] = true
		pos, ok := byID[obs.ID]
		if !ok {
			err = multierr.Combine(err, errors.Errorf("observation %q has no matching world point", obs.ID))
			continue
		}
		weight := obs.Weight
		if weight == 0 {
			weight = 1
		}
		if weight < 0 {
			err = multierr.Combine(err, errors.Errorf("observation %q has a negative weight", obs.ID))
			continue
		}
		set = append(set, Correspondence{ID: obs.ID, Pixel: obs.Pixel, Weight: weight, Point: pos})
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

// positionSpread returns the singular values of the centered world positions,
// largest first. They describe the geometric diversity of the points.
func (set CorrespondenceSet) positionSpread() [3]float64 {
	n := len(set)
	centroid := r3.Vector{}
	for _, c := range set {
		centroid = centroid.Add(c.Point)
	}
	centroid = centroid.Mul(1 / float64(n))
	data := make([]float64, 0, 3*n)
	for _, c := range set {
		d := c.Point.Sub(centroid)
		data = append(data, d.X, d.Y, d.Z)
	}
	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(n, 3, data), mat.SVDNone) {
		return [3]float64{}
	}
	values := svd.Values(nil)
	var out [3]float64
	copy(out[:], values)
	return out
}

// Collinear reports whether all world points lie (nearly) on a single line.
func (set CorrespondenceSet) Collinear() bool {
	s := set.positionSpread()
	return s[1] <= 1e-9*s[0] || s[0] == 0
}

// Coplanar reports whether all world points lie (nearly) on a single plane.
func (set CorrespondenceSet) Coplanar() bool {
	s := set.positionSpread()
	return s[2] <= 1e-9*s[0] || s[0] == 0
}

const (
	// minimalSampleSize is the correspondence count consumed by the P3P
	// minimal-set estimator.
	minimalSampleSize = 3
	// MinCorrespondencesJoint is the smallest set accepted when intrinsics
	// are refined jointly with the pose (a 6-point DLT seeds them).
	MinCorrespondencesJoint = 6
	// MinCorrespondencesFixed is the smallest set accepted for a
	// fixed-intrinsics solve.
	MinCorrespondencesFixed = 4
)

// Options are the solve policy parameters. The zero value of any field means
// "use the default".
type Options struct {
	// FixIntrinsics holds focal length and principal point at the supplied
	// guess instead of refining them jointly with the pose.
	FixIntrinsics bool `json:"fixIntrinsics"`
	// InlierThresholdPx is the reprojection error under which a
	// correspondence counts as an inlier.
	InlierThresholdPx float64 `json:"inlierThresholdPx"`
	// Confidence drives the adaptive consensus iteration count.
	Confidence float64 `json:"confidence"`
	// MaxIterations caps the number of consensus samples.
	MaxIterations int `json:"maxIterations"`
	// MaxRefineIterations caps Levenberg-Marquardt iterations per round.
	MaxRefineIterations int `json:"maxRefineIterations"`
	// TimeBudget caps the wall-clock time of the consensus search.
	TimeBudget time.Duration `json:"-"`
	// Seed overrides the content-derived RNG seed of the consensus search.
	Seed *uint64 `json:"seed,omitempty"`
	// Clock is used to enforce TimeBudget; a mock may be injected in tests.
	Clock clock.Clock `json:"-"`
}

// DefaultOptions returns the documented policy defaults.
func DefaultOptions() Options {
	return Options{
		InlierThresholdPx:   8.0,
		Confidence:          0.999,
		MaxIterations:       500,
		MaxRefineIterations: 50,
		TimeBudget:          5 * time.Second,
		Clock:               clock.New(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.InlierThresholdPx <= 0 {
		o.InlierThresholdPx = def.InlierThresholdPx
	}
	if o.Confidence <= 0 || o.Confidence >= 1 {
		o.Confidence = def.Confidence
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.MaxRefineIterations <= 0 {
		o.MaxRefineIterations = def.MaxRefineIterations
	}
	if o.TimeBudget <= 0 {
		o.TimeBudget = def.TimeBudget
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	return o
}

// Covariance is a labeled parameter covariance matrix in row major order.
// Labels is empty when the information matrix was too ill-conditioned to
// invert.
type Covariance struct {
	Labels []string
	Matrix []float64
}

// Empty reports whether no covariance could be estimated.
func (c Covariance) Empty() bool {
	return len(c.Matrix) == 0
}

// UnprojectableResidual is reported for observations whose world point cannot
// be projected under the solved pose.
const UnprojectableResidual = math.MaxFloat64

// Diagnostics summarize the quality of a solve.
type Diagnostics struct {
	// RMSEPx is the root-mean-square reprojection error over the inliers.
	RMSEPx float64
	// InlierRatio is |inliers| / |correspondences|.
	InlierRatio float64
	// ResidualsPx holds one reprojection error per input correspondence, in
	// input order, inliers and outliers alike.
	ResidualsPx []float64
	// InlierIDs lists the inlier correspondence IDs in input order.
	InlierIDs []string
	// Warnings collects the human-readable condition reports of every stage.
	Warnings []string
}

// Result is the output of a single solve: pose and intrinsics with their
// covariance and the solve diagnostics. Results share no state between calls.
type Result struct {
	Pose        *spatialmath.Pose
	Intrinsics  *transform.PinholeCameraIntrinsics
	Covariance  Covariance
	Diagnostics Diagnostics
}
