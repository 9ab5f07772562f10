// Package transform implements the pinhole camera model used by the resection
// pipeline: intrinsic parameters, lens distortion, and forward projection of
// world points into pixel coordinates with analytic derivatives.
package transform

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrapf(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective
// projection of a 3D scene to the 2D plane. The single focal length applies to
// both axes (square pixels).
type PinholeCameraIntrinsics struct {
	Width   int     `json:"width_px"`
	Height  int     `json:"height_px"`
	FocalPx float64 `json:"focalPx"`
	Cx      float64 `json:"cx"`
	Cy      float64 `json:"cy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.FocalPx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length focalPx = %#v", params.FocalPx))
	}
	if params.Cx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point cx = %#v", params.Cx))
	}
	if params.Cy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point cy = %#v", params.Cy))
	}
	return nil
}

// CameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[f 0 cx],
//
//	[0 f cy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) CameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.FocalPx)
	cameraMatrix.Set(1, 1, params.FocalPx)
	cameraMatrix.Set(0, 2, params.Cx)
	cameraMatrix.Set(1, 2, params.Cy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// Clone returns a copy of the intrinsics.
func (params *PinholeCameraIntrinsics) Clone() *PinholeCameraIntrinsics {
	if params == nil {
		return nil
	}
	cloned := *params
	return &cloned
}

// PinholeCameraModel is the model of a pinhole camera: intrinsics plus an
// optional lens distortion. A nil Distortion means an ideal pinhole.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}
