package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/resection/spatialmath"
)

// ErrBehindCamera is returned when a world point has non-positive depth along
// the optical axis and therefore has no meaningful pixel projection.
var ErrBehindCamera = errors.New("point is behind the camera plane")

// minDepth is the smallest depth along the optical axis considered projectable.
const minDepth = 1e-9

// Parameter column indices of the projection Jacobian. The order matches the
// covariance label order exposed by the solver.
const (
	ParamX = iota
	ParamY
	ParamZ
	ParamRx
	ParamRy
	ParamRz
	ParamFocal
	ParamCx
	ParamCy
	// NumParams is the full parameter count: camera center, so(3) rotation
	// perturbation, focal length, principal point.
	NumParams
)

// ProjectionJacobian holds the partial derivatives of a projected pixel (u, v)
// with respect to the camera parameters. Rotation columns are taken with
// respect to a right-multiplied so(3) perturbation of the camera-to-world
// rotation, so they are valid in the pose's local tangent space.
type ProjectionJacobian struct {
	U [NumParams]float64
	V [NumParams]float64
}

// Project maps a world point into pixel coordinates through the given pose.
// It returns ErrBehindCamera for points at non-positive depth.
func (m *PinholeCameraModel) Project(pose *spatialmath.Pose, pt r3.Vector) (r2.Point, error) {
	pc := pose.TransformToCamera(pt)
	if pc.Z <= minDepth {
		return r2.Point{}, ErrBehindCamera
	}
	x := pc.X / pc.Z
	y := pc.Y / pc.Z
	if m.Distortion != nil {
		x, y = m.Distortion.Transform(x, y)
	}
	return r2.Point{
		X: m.FocalPx*x + m.Cx,
		Y: m.FocalPx*y + m.Cy,
	}, nil
}

// ProjectWithJacobian projects a world point and also returns the analytic
// Jacobian of the pixel with respect to all camera parameters.
func (m *PinholeCameraModel) ProjectWithJacobian(pose *spatialmath.Pose, pt r3.Vector) (r2.Point, *ProjectionJacobian, error) {
	pc := pose.TransformToCamera(pt)
	if pc.Z <= minDepth {
		return r2.Point{}, nil, ErrBehindCamera
	}
	x := pc.X / pc.Z
	y := pc.Y / pc.Z

	xd, yd := x, y
	j00, j01, j10, j11 := 1.0, 0.0, 0.0, 1.0
	if m.Distortion != nil {
		xd, yd = m.Distortion.Transform(x, y)
		j00, j01, j10, j11 = m.Distortion.Jacobian(x, y)
	}

	pix := r2.Point{X: m.FocalPx*xd + m.Cx, Y: m.FocalPx*yd + m.Cy}
	jac := &ProjectionJacobian{}

	// d(pc)/d(center_k) = -(row k of R); d(pc)/d(rot_k) = column k of skew(pc).
	rot := pose.Orientation
	dpc := [6]r3.Vector{
		rot.Row(0).Mul(-1),
		rot.Row(1).Mul(-1),
		rot.Row(2).Mul(-1),
		{X: 0, Y: pc.Z, Z: -pc.Y},
		{X: -pc.Z, Y: 0, Z: pc.X},
		{X: pc.Y, Y: -pc.X, Z: 0},
	}
	for k := 0; k < 6; k++ {
		dx := (dpc[k].X - x*dpc[k].Z) / pc.Z
		dy := (dpc[k].Y - y*dpc[k].Z) / pc.Z
		jac.U[k] = m.FocalPx * (j00*dx + j01*dy)
		jac.V[k] = m.FocalPx * (j10*dx + j11*dy)
	}
	jac.U[ParamFocal] = xd
	jac.V[ParamFocal] = yd
	jac.U[ParamCx] = 1
	jac.V[ParamCy] = 1
	return pix, jac, nil
}
