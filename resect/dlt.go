package resect

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
)

// errDegenerateConfiguration is returned when the correspondence geometry
// cannot support a direct linear estimate (coplanar or collinear points,
// insufficient parallax).
var errDegenerateConfiguration = errors.New("degenerate correspondence configuration")

// estimateDLT recovers a full 3x4 projection matrix from at least 6
// correspondences by the direct linear transform and decomposes it into a
// pose and pinhole intrinsics. Pixel and world coordinates are Hartley
// normalized before building the linear system.
func estimateDLT(set CorrespondenceSet, width, height int) (*spatialmath.Pose, *transform.PinholeCameraIntrinsics, error) {
	n := len(set)
	if n < MinCorrespondencesJoint {
		return nil, nil, errors.Errorf("direct linear transform needs at least %d correspondences, got %d", MinCorrespondencesJoint, n)
	}

	pixels := make([]r2.Point, n)
	points := make([]r3.Vector, n)
	for i, c := range set {
		pixels[i] = c.Pixel
		points[i] = c.Point
	}
	normPix, t := normalizePixels(pixels)
	normPts, u := normalizePoints(points)

	a := mat.NewDense(2*n, 12, nil)
	for i := 0; i < n; i++ {
		px, pt := normPix[i], normPts[i]
		a.SetRow(2*i, []float64{
			pt.X, pt.Y, pt.Z, 1,
			0, 0, 0, 0,
			-px.X * pt.X, -px.X * pt.Y, -px.X * pt.Z, -px.X,
		})
		a.SetRow(2*i+1, []float64{
			0, 0, 0, 0,
			pt.X, pt.Y, pt.Z, 1,
			-px.Y * pt.X, -px.Y * pt.Y, -px.Y * pt.Z, -px.Y,
		})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, nil, errors.New("failed to factorize the DLT system")
	}
	values := svd.Values(nil)
	// An 11-parameter projection needs rank 11; a smaller second-to-last
	// singular value means the points are confined to a plane or a line.
	if values[0] == 0 || values[10]/values[0] < 1e-9 {
		return nil, nil, errDegenerateConfiguration
	}
	var v mat.Dense
	svd.VTo(&v)
	proj := mat.NewDense(3, 4, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			proj.Set(row, col, v.At(4*row+col, 11))
		}
	}

	// undo the normalization: P = T^-1 * P~ * U
	var denorm mat.Dense
	denorm.Mul(invertPixelNorm(t), proj)
	denorm.Mul(&denorm, u)
	pose, intr, err := decomposeProjection(&denorm, set)
	if err != nil {
		return nil, nil, err
	}
	// A principal point off the sensor or an implausible focal length means
	// the linear estimate is numerically valid but physically useless as a
	// seed.
	w, h := float64(width), float64(height)
	if intr.Cx < -w || intr.Cx > 2*w || intr.Cy < -h || intr.Cy > 2*h ||
		intr.FocalPx < 0.05*math.Max(w, h) || intr.FocalPx > 100*math.Max(w, h) {
		return nil, nil, errDegenerateConfiguration
	}
	return pose, intr, nil
}

// decomposeProjection splits P = K [R | -R C] into intrinsics, a world-to-
// camera rotation, and the camera center by RQ decomposition.
func decomposeProjection(proj *mat.Dense, set CorrespondenceSet) (*spatialmath.Pose, *transform.PinholeCameraIntrinsics, error) {
	m := mat.DenseCopyOf(proj.Slice(0, 3, 0, 3))
	if mat.Det(m) < 0 {
		proj.Scale(-1, proj)
		m.Scale(-1, m)
	}

	// camera center: M C = -p4
	p4 := mat.NewVecDense(3, []float64{proj.At(0, 3), proj.At(1, 3), proj.At(2, 3)})
	var center mat.VecDense
	if err := center.SolveVec(m, p4); err != nil {
		return nil, nil, errDegenerateConfiguration
	}
	center.ScaleVec(-1, &center)

	k, rot, err := rqDecompose(m)
	if err != nil {
		return nil, nil, err
	}
	if math.Abs(k.At(2, 2)) < 1e-15 {
		return nil, nil, errDegenerateConfiguration
	}
	k.Scale(1/k.At(2, 2), k)

	pose := &spatialmath.Pose{
		Position:    r3.Vector{X: center.AtVec(0), Y: center.AtVec(1), Z: center.AtVec(2)},
		Orientation: denseToRotation(rot).Transpose(),
	}
	// reject mirror solutions: most points must be in front of the camera
	inFront := 0
	for _, c := range set {
		if pose.TransformToCamera(c.Point).Z > 0 {
			inFront++
		}
	}
	if 2*inFront < len(set) {
		return nil, nil, errDegenerateConfiguration
	}

	focal := (k.At(0, 0) + k.At(1, 1)) / 2
	if focal <= 0 {
		return nil, nil, errDegenerateConfiguration
	}
	intrinsics := &transform.PinholeCameraIntrinsics{
		FocalPx: focal,
		Cx:      k.At(0, 2),
		Cy:      k.At(1, 2),
	}
	return pose, intrinsics, nil
}

// rqDecompose factors a 3x3 matrix into an upper triangular K with positive
// diagonal and a rotation R, via a flipped QR decomposition.
func rqDecompose(m *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	exchange := mat.NewDense(3, 3, []float64{0, 0, 1, 0, 1, 0, 1, 0, 0})

	var flipped mat.Dense
	flipped.Mul(exchange, m)
	var qr mat.QR
	qr.Factorize(flipped.T())
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	// M = (E R^T E)(E Q^T)
	var k, rot mat.Dense
	k.Mul(exchange, r.T())
	k.Mul(&k, exchange)
	rot.Mul(exchange, q.T())

	// force a positive diagonal on K
	for i := 0; i < 3; i++ {
		if k.At(i, i) < 0 {
			for row := 0; row < 3; row++ {
				k.Set(row, i, -k.At(row, i))
			}
			for col := 0; col < 3; col++ {
				rot.Set(i, col, -rot.At(i, col))
			}
		}
	}
	if mat.Det(&rot) < 0 {
		return nil, nil, errDegenerateConfiguration
	}
	return &k, &rot, nil
}

func denseToRotation(d *mat.Dense) *spatialmath.RotationMatrix {
	rm, err := spatialmath.NewRotationMatrix(d.RawMatrix().Data)
	if err != nil {
		panic(err)
	}
	return rm
}

// normalizePixels translates pixel coordinates to their centroid and scales
// them to a mean distance of sqrt(2) (Multiple View Geometry, Alg 7.1 / 11.1).
func normalizePixels(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	centroid := r2.Point{}
	for _, pt := range pts {
		centroid = centroid.Add(pt)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))
	meanDist := 0.0
	for _, pt := range pts {
		meanDist += pt.Sub(centroid).Norm()
	}
	meanDist /= float64(len(pts))
	scale := 1.0
	if meanDist > 0 {
		scale = math.Sqrt2 / meanDist
	}
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(centroid).Mul(scale)
	}
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * centroid.X,
		0, scale, -scale * centroid.Y,
		0, 0, 1,
	})
	return out, t
}

// invertPixelNorm inverts the similarity transform built by normalizePixels.
func invertPixelNorm(t *mat.Dense) *mat.Dense {
	scale := t.At(0, 0)
	return mat.NewDense(3, 3, []float64{
		1 / scale, 0, -t.At(0, 2) / scale,
		0, 1 / scale, -t.At(1, 2) / scale,
		0, 0, 1,
	})
}

// normalizePoints is the 3D analogue of normalizePixels with mean distance
// sqrt(3); it returns the (homogeneous) transform applied to the points.
func normalizePoints(pts []r3.Vector) ([]r3.Vector, *mat.Dense) {
	centroid := r3.Vector{}
	for _, pt := range pts {
		centroid = centroid.Add(pt)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))
	meanDist := 0.0
	for _, pt := range pts {
		meanDist += pt.Sub(centroid).Norm()
	}
	meanDist /= float64(len(pts))
	scale := 1.0
	if meanDist > 0 {
		scale = math.Sqrt(3) / meanDist
	}
	out := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(centroid).Mul(scale)
	}
	u := mat.NewDense(4, 4, []float64{
		scale, 0, 0, -scale * centroid.X,
		0, scale, 0, -scale * centroid.Y,
		0, 0, scale, -scale * centroid.Z,
		0, 0, 0, 1,
	})
	return out, u
}
