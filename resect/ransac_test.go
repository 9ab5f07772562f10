package resect

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/resection/spatialmath"
)

// steppingClock advances a fixed amount on every elapsed-time check, so the
// consensus time budget can be exercised deterministically.
type steppingClock struct {
	*clock.Mock
	step time.Duration
}

func (c *steppingClock) Since(t time.Time) time.Duration {
	c.Add(c.step)
	return c.Now().Sub(t)
}

func TestConsensusSearchClean(t *testing.T) {
	set, model, pose := testScene(t)
	logger := golog.NewTestLogger(t)

	best, warnings, err := consensusSearch(context.Background(), set, model, nil, DefaultOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, warnings, test.ShouldHaveLength, 0)
	test.That(t, best.inliers, test.ShouldResemble, []int{0, 1, 2, 3, 4, 5})
	test.That(t, spatialmath.PoseAlmostEqual(best.pose, pose, 1e-4, 1e-6), test.ShouldBeTrue)
}

func TestConsensusSearchExcludesOutlier(t *testing.T) {
	set, model, _ := testScene(t)
	set[2].Pixel = set[2].Pixel.Add(r2.Point{X: 50})
	logger := golog.NewTestLogger(t)

	best, warnings, err := consensusSearch(context.Background(), set, model, nil, DefaultOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, warnings, test.ShouldHaveLength, 0)
	test.That(t, best.inliers, test.ShouldResemble, []int{0, 1, 3, 4, 5})
}

func TestConsensusSearchDeterministic(t *testing.T) {
	logger := golog.NewTestLogger(t)
	run := func() *hypothesis {
		set, model, _ := testScene(t)
		// a little noise so the sampled hypothesis actually matters
		noise := rand.New(rand.NewSource(7))
		for i := range set {
			set[i].Pixel = set[i].Pixel.Add(r2.Point{X: noise.NormFloat64(), Y: noise.NormFloat64()})
		}
		best, _, err := consensusSearch(context.Background(), set, model, nil, DefaultOptions(), logger)
		test.That(t, err, test.ShouldBeNil)
		return best
	}
	first := run()
	second := run()
	test.That(t, second.inliers, test.ShouldResemble, first.inliers)
	test.That(t, second.score, test.ShouldEqual, first.score)
	test.That(t, second.sampleNum, test.ShouldEqual, first.sampleNum)
}

func TestConsensusSearchSeedPoseWins(t *testing.T) {
	set, model, pose := testScene(t)
	logger := golog.NewTestLogger(t)

	opts := DefaultOptions()
	best, _, err := consensusSearch(context.Background(), set, model, []*spatialmath.Pose{pose}, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	// the exact seed supports every correspondence with zero error, so no
	// sampled hypothesis can beat it
	test.That(t, best.sampleNum, test.ShouldBeLessThan, 0)
	test.That(t, best.score, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestConsensusSearchExhaustion(t *testing.T) {
	set, model, _ := testScene(t)
	// noise well above the threshold keeps the inlier ratio low
	noise := rand.New(rand.NewSource(3))
	for i := range set {
		set[i].Pixel = set[i].Pixel.Add(r2.Point{X: 4 * noise.NormFloat64(), Y: 4 * noise.NormFloat64()})
	}
	logger := golog.NewTestLogger(t)

	opts := DefaultOptions()
	opts.InlierThresholdPx = 0.5
	opts.MaxIterations = 10
	best, warnings, err := consensusSearch(context.Background(), set, model, nil, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, best, test.ShouldNotBeNil)
	test.That(t, warnings, test.ShouldHaveLength, 1)
	test.That(t, warnings[0], test.ShouldContainSubstring, "exhausted")
}

func TestConsensusSearchTimeBudget(t *testing.T) {
	set, model, pose := testScene(t)
	logger := golog.NewTestLogger(t)

	opts := DefaultOptions()
	opts.TimeBudget = 50 * time.Millisecond
	opts.Clock = &steppingClock{Mock: clock.NewMock(), step: 60 * time.Millisecond}
	best, warnings, err := consensusSearch(context.Background(), set, model, []*spatialmath.Pose{pose}, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	// the budget ran out before any sampling, but the seed hypothesis is
	// still returned
	test.That(t, best, test.ShouldNotBeNil)
	test.That(t, best.inliers, test.ShouldResemble, []int{0, 1, 2, 3, 4, 5})
	test.That(t, warnings, test.ShouldHaveLength, 1)
	test.That(t, warnings[0], test.ShouldContainSubstring, "time budget")
}

func TestConsensusSearchRejectsUnsupportedSeed(t *testing.T) {
	set, model, _ := testScene(t)
	logger := golog.NewTestLogger(t)

	// a seed pose looking away from every point supports nothing; with no
	// sampling budget either, the search must fail instead of returning a
	// zero-inlier hypothesis
	away := spatialmath.NewPoseFromYawPitchRoll(r3.Vector{Z: 100}, 180, 0, 0)
	opts := DefaultOptions()
	opts.MaxIterations = 0
	_, _, err := consensusSearch(context.Background(), set, model, []*spatialmath.Pose{away}, opts, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no valid pose hypothesis")
}

func TestNeededSamples(t *testing.T) {
	// a perfect inlier ratio needs a single confirming sample
	test.That(t, neededSamples(1.0, 0.999, 500), test.ShouldEqual, 1)
	// no inliers yet means the full budget
	test.That(t, neededSamples(0, 0.999, 500), test.ShouldEqual, 500)
	// half inliers: log(0.001)/log(1-0.125) = 52 samples
	test.That(t, neededSamples(0.5, 0.999, 500), test.ShouldEqual, 52)
	test.That(t, neededSamples(0.5, 0.999, 20), test.ShouldEqual, 20)
}

func TestContentSeedDeterministic(t *testing.T) {
	setA, _, _ := testScene(t)
	setB, _, _ := testScene(t)
	test.That(t, contentSeed(setA), test.ShouldEqual, contentSeed(setB))

	setB[0].Pixel.X += 0.25
	test.That(t, contentSeed(setA), test.ShouldNotEqual, contentSeed(setB))
}
