package resect

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
	"go.viam.com/resection/utils"
)

// p3pPoses computes the candidate camera poses seeing the three world points
// at the three pixels, by Grunert's closed-form solution of the three point
// perspective pose problem. Up to four poses are returned; degenerate
// triples (collinear points, coincident bearings, no positive-depth root)
// yield none.
func p3pPoses(set CorrespondenceSet, sample []int, intr *transform.PinholeCameraIntrinsics) []*spatialmath.Pose {
	p1 := set[sample[0]].Point
	p2 := set[sample[1]].Point
	p3 := set[sample[2]].Point

	// side lengths of the world triangle
	aLen := p2.Sub(p3).Norm()
	bLen := p1.Sub(p3).Norm()
	cLen := p1.Sub(p2).Norm()
	if aLen == 0 || bLen == 0 || cLen == 0 {
		return nil
	}
	cross := p2.Sub(p1).Cross(p3.Sub(p1)).Norm()
	if cross < 1e-10*cLen*bLen {
		return nil
	}

	j1 := bearing(set[sample[0]], intr)
	j2 := bearing(set[sample[1]], intr)
	j3 := bearing(set[sample[2]], intr)
	cosAlpha := j2.Dot(j3)
	cosBeta := j1.Dot(j3)
	cosGamma := j1.Dot(j2)
	// coincident rays carry no triangulation information
	if cosAlpha > 1-1e-12 || cosBeta > 1-1e-12 || cosGamma > 1-1e-12 {
		return nil
	}

	a2, b2, c2 := aLen*aLen, bLen*bLen, cLen*cLen
	acb := (a2 - c2) / b2
	a2b := a2 / b2
	c2b := c2 / b2

	// Grunert's quartic in v = s3/s1 (Haralick et al. 1994, eq. 9)
	coeff4 := utils.Square(acb-1) - 4*c2b*utils.Square(cosAlpha)
	coeff3 := 4 * (acb*(1-acb)*cosBeta - (1-(a2b+c2b))*cosAlpha*cosGamma + 2*c2b*utils.Square(cosAlpha)*cosBeta)
	coeff2 := 2 * (utils.Square(acb) - 1 + 2*utils.Square(acb)*utils.Square(cosBeta) +
		2*((b2-c2)/b2)*utils.Square(cosAlpha) -
		4*(a2b+c2b)*cosAlpha*cosBeta*cosGamma +
		2*((b2-a2)/b2)*utils.Square(cosGamma))
	coeff1 := 4 * (-acb*(1+acb)*cosBeta + 2*a2b*utils.Square(cosGamma)*cosBeta - (1-(a2b+c2b))*cosAlpha*cosGamma)
	coeff0 := utils.Square(1+acb) - 4*a2b*utils.Square(cosGamma)

	var poses []*spatialmath.Pose
	for _, v := range realPolyRoots([]float64{coeff4, coeff3, coeff2, coeff1, coeff0}) {
		if v <= 0 {
			continue
		}
		denomU := 2 * (cosGamma - v*cosAlpha)
		if math.Abs(denomU) < 1e-12 {
			continue
		}
		u := ((-1+acb)*v*v - 2*acb*cosBeta*v + 1 + acb) / denomU
		if u <= 0 {
			continue
		}
		s1Sq := b2 / (1 + v*v - 2*v*cosBeta)
		if s1Sq <= 0 {
			continue
		}
		s1 := math.Sqrt(s1Sq)
		q1 := j1.Mul(s1)
		q2 := j2.Mul(u * s1)
		q3 := j3.Mul(v * s1)
		if pose := absoluteOrientation([3]r3.Vector{q1, q2, q3}, [3]r3.Vector{p1, p2, p3}); pose != nil {
			poses = append(poses, pose)
		}
	}
	return poses
}

// bearing is the unit viewing ray of a pixel in the camera frame.
func bearing(c Correspondence, intr *transform.PinholeCameraIntrinsics) r3.Vector {
	return r3.Vector{
		X: (c.Pixel.X - intr.Cx) / intr.FocalPx,
		Y: (c.Pixel.Y - intr.Cy) / intr.FocalPx,
		Z: 1,
	}.Normalize()
}

// absoluteOrientation finds the rigid camera-to-world transform aligning the
// camera-frame points q with the world points p (Kabsch via SVD).
func absoluteOrientation(q, p [3]r3.Vector) *spatialmath.Pose {
	qc := q[0].Add(q[1]).Add(q[2]).Mul(1.0 / 3.0)
	pc := p[0].Add(p[1]).Add(p[2]).Mul(1.0 / 3.0)

	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		dq := q[i].Sub(qc)
		dp := p[i].Sub(pc)
		h.Set(0, 0, h.At(0, 0)+dq.X*dp.X)
		h.Set(0, 1, h.At(0, 1)+dq.X*dp.Y)
		h.Set(0, 2, h.At(0, 2)+dq.X*dp.Z)
		h.Set(1, 0, h.At(1, 0)+dq.Y*dp.X)
		h.Set(1, 1, h.At(1, 1)+dq.Y*dp.Y)
		h.Set(1, 2, h.At(1, 2)+dq.Y*dp.Z)
		h.Set(2, 0, h.At(2, 0)+dq.Z*dp.X)
		h.Set(2, 1, h.At(2, 1)+dq.Z*dp.Y)
		h.Set(2, 2, h.At(2, 2)+dq.Z*dp.Z)
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return nil
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		// reflect the smallest singular direction
		flip := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
		rot.Mul(&v, flip)
		rot.Mul(&rot, u.T())
	}
	orientation := denseToRotation(&rot)
	center := pc.Sub(orientation.Apply(qc))
	return spatialmath.NewPose(center, orientation)
}

// realPolyRoots returns the real roots of the polynomial with the given
// coefficients (highest degree first), via the eigenvalues of its companion
// matrix. Leading near-zero coefficients are stripped.
func realPolyRoots(coeffs []float64) []float64 {
	maxCoeff := 0.0
	for _, c := range coeffs {
		maxCoeff = math.Max(maxCoeff, math.Abs(c))
	}
	if maxCoeff == 0 {
		return nil
	}
	for len(coeffs) > 1 && math.Abs(coeffs[0]) < 1e-14*maxCoeff {
		coeffs = coeffs[1:]
	}
	degree := len(coeffs) - 1
	if degree < 1 {
		return nil
	}
	if degree == 1 {
		return []float64{-coeffs[1] / coeffs[0]}
	}
	companion := mat.NewDense(degree, degree, nil)
	for i := 0; i < degree; i++ {
		companion.Set(i, degree-1, -coeffs[degree-i]/coeffs[0])
		if i > 0 {
			companion.Set(i, i-1, 1)
		}
	}
	var eig mat.Eigen
	if !eig.Factorize(companion, mat.EigenNone) {
		return nil
	}
	var roots []float64
	for _, val := range eig.Values(nil) {
		if math.Abs(imag(val)) < 1e-8*(1+math.Abs(real(val))) {
			roots = append(roots, real(val))
		}
	}
	return roots
}
