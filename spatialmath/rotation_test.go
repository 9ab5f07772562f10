package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestYawPitchRollRoundTrip(t *testing.T) {
	cases := []struct {
		yaw, pitch, roll float64
	}{
		{0, 0, 0},
		{45, 0, 0},
		{-135, 10, 0},
		{90, -30, 15},
		{179, 45, -170},
		{-179, -45, 170},
		{30, 89, 0},
	}
	for _, c := range cases {
		rm := AttitudeFromYawPitchRoll(c.yaw, c.pitch, c.roll)
		yaw, pitch, roll := rm.YawPitchRoll()
		back := AttitudeFromYawPitchRoll(yaw, pitch, roll)
		test.That(t, OrientationAlmostEqual(rm, back, 1e-8), test.ShouldBeTrue)
		if math.Abs(c.pitch) < 85 {
			test.That(t, yaw, test.ShouldAlmostEqual, c.yaw, 1e-8)
			test.That(t, pitch, test.ShouldAlmostEqual, c.pitch, 1e-8)
			test.That(t, roll, test.ShouldAlmostEqual, c.roll, 1e-8)
		}
	}
}

func TestZeroAttitudeLooksNorth(t *testing.T) {
	rm := AttitudeFromYawPitchRoll(0, 0, 0)
	fwd := rm.Col(2)
	test.That(t, fwd.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, fwd.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, fwd.Z, test.ShouldAlmostEqual, 0, 1e-12)
	// camera x (image right) points east, camera y (image down) points down
	right := rm.Col(0)
	test.That(t, right.X, test.ShouldAlmostEqual, 1, 1e-12)
	down := rm.Col(1)
	test.That(t, down.Z, test.ShouldAlmostEqual, -1, 1e-12)
}

func TestYawIsClockwiseFromNorth(t *testing.T) {
	rm := AttitudeFromYawPitchRoll(90, 0, 0)
	fwd := rm.Col(2)
	test.That(t, fwd.X, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, fwd.Y, test.ShouldAlmostEqual, 0, 1e-12)
}

func TestQuaternionRoundTrip(t *testing.T) {
	rm := AttitudeFromYawPitchRoll(73, -21, 144)
	back := QuatToRotationMatrix(rm.Quaternion())
	test.That(t, OrientationAlmostEqual(rm, back, 1e-10), test.ShouldBeTrue)
}

func TestExpMap(t *testing.T) {
	test.That(t, OrientationAlmostEqual(ExpMap(r3.Vector{}), NewZeroRotation(), 1e-12), test.ShouldBeTrue)

	// a rotation about z by theta matches rotZ
	theta := 0.3
	rm := ExpMap(r3.Vector{Z: theta})
	test.That(t, OrientationAlmostEqual(rm, rotZ(theta), 1e-12), test.ShouldBeTrue)

	// exp(w) exp(-w) = identity
	w := r3.Vector{X: 0.2, Y: -0.5, Z: 1.1}
	prod := ExpMap(w).Mul(ExpMap(w.Mul(-1)))
	test.That(t, OrientationAlmostEqual(prod, NewZeroRotation(), 1e-12), test.ShouldBeTrue)
}

func TestApplyInverse(t *testing.T) {
	rm := AttitudeFromYawPitchRoll(33, 12, -7)
	v := r3.Vector{X: 1, Y: -2, Z: 3}
	back := rm.ApplyInverse(rm.Apply(v))
	test.That(t, back.X, test.ShouldAlmostEqual, v.X, 1e-12)
	test.That(t, back.Y, test.ShouldAlmostEqual, v.Y, 1e-12)
	test.That(t, back.Z, test.ShouldAlmostEqual, v.Z, 1e-12)
}
