package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

// BrownConradyDistortionType is for simple lenses of narrow field easily modeled as a pinhole camera.
const BrownConradyDistortionType = DistortionType("brown_conrady")

// Distorter defines a lens distortion model applied to normalized image
// coordinates, after the pinhole division and before the principal-point
// offset.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	// Transform maps undistorted normalized coordinates to distorted ones.
	Transform(x, y float64) (float64, float64)
	// Jacobian returns the partial derivatives of Transform at (x, y) as
	// (dxd/dx, dxd/dy, dyd/dx, dyd/dy).
	Jacobian(x, y float64) (float64, float64, float64, float64)
}

// InvalidDistortionError is used when the distortion parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrapf(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType { //nolint:exhaustive
	case BrownConradyDistortionType:
		return NewBrownConrady(parameters)
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}

// BrownConrady is the Brown-Conrady distortion model: three radial terms and
// two tangential terms over normalized image coordinates.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes in a slice of floats that will be the parameters of the distortion model.
// A distortion model that is a combination of radial and tangential distortion.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("brown conrady distortion may have up to 5 parameters, got %d", len(inp))
	}
	params := make([]float64, 5)
	copy(params, inp)
	return &BrownConrady{params[0], params[1], params[2], params[3], params[4]}, nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Transform distorts the undistorted normalized coordinates (x, y).
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := 1 + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := x*radial + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radial + bc.TangentialP1*(r2+2*y*y) + 2*bc.TangentialP2*x*y
	return xd, yd
}

// Jacobian returns the partial derivatives of Transform at (x, y).
func (bc *BrownConrady) Jacobian(x, y float64) (float64, float64, float64, float64) {
	r2 := x*x + y*y
	radial := 1 + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	// derivative of the radial factor with respect to r^2
	dRad := bc.RadialK1 + 2*bc.RadialK2*r2 + 3*bc.RadialK3*r2*r2
	dxdx := radial + 2*x*x*dRad + 2*bc.TangentialP1*y + 6*bc.TangentialP2*x
	dxdy := 2*x*y*dRad + 2*bc.TangentialP1*x + 2*bc.TangentialP2*y
	dydx := 2*x*y*dRad + 2*bc.TangentialP1*x + 2*bc.TangentialP2*y
	dydy := radial + 2*y*y*dRad + 6*bc.TangentialP1*y + 2*bc.TangentialP2*x
	return dxdx, dxdy, dydx, dydy
}
