// Package resection exposes the camera resection solver over a JSON request
// and response surface: solve a camera pose (and optionally intrinsics) from
// pixel observations of known geodetic or local points, and reproject world
// points through a solved camera.
package resection

import (
	"context"
	"encoding/json"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/resection/resect"
	"go.viam.com/resection/spatialmath"
	"go.viam.com/resection/transform"
)

// Image describes the sensor the observations were measured on.
type Image struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Observation is one 2D measurement: a pixel location tagged with the id of
// the world point it observes. Weight defaults to 1.
type Observation struct {
	ID     string     `json:"id"`
	Pixel  [2]float64 `json:"pixel"`
	Weight float64    `json:"weight,omitempty"`
}

// WorldPoint is a known reference point, either geodetic (lat/lon/alt) or as
// a local east-north-up position in meters relative to the request frame.
// Exactly one of the two forms must be set.
type WorldPoint struct {
	ID       string      `json:"id"`
	Lat      *float64    `json:"lat,omitempty"`
	Lon      *float64    `json:"lon,omitempty"`
	Alt      *float64    `json:"alt,omitempty"`
	Position *[3]float64 `json:"position,omitempty"`
}

// Frame anchors the local east-north-up frame to the globe. When omitted,
// the first geodetic world point anchors the frame.
type Frame struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Intrinsics is the wire form of the pinhole parameters.
type Intrinsics struct {
	FocalPx float64 `json:"focalPx"`
	Cx      float64 `json:"cx"`
	Cy      float64 `json:"cy"`
}

// Distortion is the wire form of a lens distortion model.
type Distortion struct {
	Model      string    `json:"model"`
	Parameters []float64 `json:"parameters"`
}

// Pose is the wire form of a camera pose: geodetic position plus a compass
// attitude in degrees.
type Pose struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Alt      float64 `json:"alt"`
	YawDeg   float64 `json:"yawDeg"`
	PitchDeg float64 `json:"pitchDeg"`
	RollDeg  float64 `json:"rollDeg"`
}

// Covariance is a labeled square matrix in row major order. Both fields are
// empty when the solve could not constrain a covariance.
type Covariance struct {
	Matrix []float64 `json:"matrix"`
	Labels []string  `json:"labels"`
}

// Diagnostics reports the fit quality of a solve.
type Diagnostics struct {
	RMSEPx      float64   `json:"rmsePx"`
	InlierRatio float64   `json:"inlierRatio"`
	ResidualsPx []float64 `json:"residualsPx"`
	InlierIDs   []string  `json:"inlierIds"`
	Warnings    []string  `json:"warnings"`
}

// SolveOptions are the caller-tunable solve policy knobs. Zero values take
// the documented defaults.
type SolveOptions struct {
	FixIntrinsics     bool    `json:"fixIntrinsics,omitempty"`
	InlierThresholdPx float64 `json:"inlierThresholdPx,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
	MaxIterations     int     `json:"maxIterations,omitempty"`
	Seed              *uint64 `json:"seed,omitempty"`
}

// SolveRequest is one resection task.
type SolveRequest struct {
	Image           Image         `json:"image"`
	Observations    []Observation `json:"observations"`
	WorldPoints     []WorldPoint  `json:"worldPoints"`
	Frame           *Frame        `json:"frame,omitempty"`
	IntrinsicsGuess *Intrinsics   `json:"intrinsicsGuess,omitempty"`
	Distortion      *Distortion   `json:"distortion,omitempty"`
	Options         SolveOptions  `json:"options"`
}

// SolveResponse is the atomic result of one solve.
type SolveResponse struct {
	Pose        Pose        `json:"pose"`
	Intrinsics  Intrinsics  `json:"intrinsics"`
	Covariance  Covariance  `json:"covariance"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// ReprojectRequest asks for world points projected through a solved camera.
type ReprojectRequest struct {
	Pose        Pose         `json:"pose"`
	Intrinsics  Intrinsics   `json:"intrinsics"`
	Distortion  *Distortion  `json:"distortion,omitempty"`
	WorldPoints []WorldPoint `json:"worldPoints"`
	Frame       *Frame       `json:"frame,omitempty"`
}

// ReprojectResponse carries one pixel per requested world point, in request
// order. Unprojectable points yield a null pixel and a warning.
type ReprojectResponse struct {
	Pixels   []*[2]float64 `json:"pixels"`
	Warnings []string      `json:"warnings"`
}

// resolveFrame picks the ENU anchor: the explicit frame if given, else the
// first geodetic world point.
func resolveFrame(frame *Frame, points []WorldPoint) (*spatialmath.GeoFrame, error) {
	if frame != nil {
		return spatialmath.NewGeoFrame(frame.Lat, frame.Lon, frame.Alt), nil
	}
	for _, pt := range points {
		if pt.Lat != nil && pt.Lon != nil {
			alt := 0.0
			if pt.Alt != nil {
				alt = *pt.Alt
			}
			return spatialmath.NewGeoFrame(*pt.Lat, *pt.Lon, alt), nil
		}
	}
	return nil, errors.New("no frame given and no geodetic world point to anchor one")
}

// toLocalPoints converts wire world points into the solver's ENU frame.
func toLocalPoints(gf *spatialmath.GeoFrame, points []WorldPoint) ([]resect.WorldPoint, error) {
	out := make([]resect.WorldPoint, 0, len(points))
	for _, pt := range points {
		geodetic := pt.Lat != nil || pt.Lon != nil || pt.Alt != nil
		switch {
		case geodetic && pt.Position != nil:
			return nil, errors.Errorf("world point %q has both geodetic and local coordinates", pt.ID)
		case geodetic:
			if pt.Lat == nil || pt.Lon == nil {
				return nil, errors.Errorf("world point %q needs both lat and lon", pt.ID)
			}
			alt := 0.0
			if pt.Alt != nil {
				alt = *pt.Alt
			}
			out = append(out, resect.WorldPoint{ID: pt.ID, Position: gf.ToENU(*pt.Lat, *pt.Lon, alt)})
		case pt.Position != nil:
			p := *pt.Position
			out = append(out, resect.WorldPoint{ID: pt.ID, Position: r3.Vector{X: p[0], Y: p[1], Z: p[2]}})
		default:
			return nil, errors.Errorf("world point %q has no coordinates", pt.ID)
		}
	}
	return out, nil
}

func toDistorter(d *Distortion) (transform.Distorter, error) {
	if d == nil {
		return nil, nil
	}
	return transform.NewDistorter(transform.DistortionType(d.Model), d.Parameters)
}

// Solve runs one resection task and reports the solved camera with its
// covariance and diagnostics.
func Solve(ctx context.Context, req SolveRequest, logger golog.Logger) (*SolveResponse, error) {
	gf, err := resolveFrame(req.Frame, req.WorldPoints)
	if err != nil {
		return nil, err
	}
	points, err := toLocalPoints(gf, req.WorldPoints)
	if err != nil {
		return nil, err
	}
	observations := make([]resect.Observation, len(req.Observations))
	for i, obs := range req.Observations {
		observations[i] = resect.Observation{
			ID:     obs.ID,
			Pixel:  r2.Point{X: obs.Pixel[0], Y: obs.Pixel[1]},
			Weight: obs.Weight,
		}
	}
	distorter, err := toDistorter(req.Distortion)
	if err != nil {
		return nil, err
	}
	var guess *transform.PinholeCameraIntrinsics
	if req.IntrinsicsGuess != nil {
		guess = &transform.PinholeCameraIntrinsics{
			FocalPx: req.IntrinsicsGuess.FocalPx,
			Cx:      req.IntrinsicsGuess.Cx,
			Cy:      req.IntrinsicsGuess.Cy,
		}
	}
	opts := resect.DefaultOptions()
	opts.FixIntrinsics = req.Options.FixIntrinsics
	if req.Options.InlierThresholdPx > 0 {
		opts.InlierThresholdPx = req.Options.InlierThresholdPx
	}
	if req.Options.Confidence > 0 {
		opts.Confidence = req.Options.Confidence
	}
	if req.Options.MaxIterations > 0 {
		opts.MaxIterations = req.Options.MaxIterations
	}
	opts.Seed = req.Options.Seed

	result, err := resect.Solve(ctx, resect.Problem{
		Observations:    observations,
		Points:          points,
		Width:           req.Image.Width,
		Height:          req.Image.Height,
		IntrinsicsGuess: guess,
		Distortion:      distorter,
	}, opts, logger)
	if err != nil {
		return nil, err
	}

	lat, lon, alt := gf.FromENU(result.Pose.Position)
	yaw, pitch, roll := result.Pose.Orientation.YawPitchRoll()
	return &SolveResponse{
		Pose: Pose{
			Lat: lat, Lon: lon, Alt: alt,
			YawDeg: yaw, PitchDeg: pitch, RollDeg: roll,
		},
		Intrinsics: Intrinsics{
			FocalPx: result.Intrinsics.FocalPx,
			Cx:      result.Intrinsics.Cx,
			Cy:      result.Intrinsics.Cy,
		},
		Covariance: Covariance{
			Matrix: result.Covariance.Matrix,
			Labels: result.Covariance.Labels,
		},
		Diagnostics: Diagnostics{
			RMSEPx:      result.Diagnostics.RMSEPx,
			InlierRatio: result.Diagnostics.InlierRatio,
			ResidualsPx: result.Diagnostics.ResidualsPx,
			InlierIDs:   result.Diagnostics.InlierIDs,
			Warnings:    result.Diagnostics.Warnings,
		},
	}, nil
}

// ReprojectPoints projects world points through the given camera. Points the
// camera cannot image come back as null pixels with one warning each, so the
// output stays aligned with the input.
func ReprojectPoints(req ReprojectRequest) (*ReprojectResponse, error) {
	if req.Intrinsics.FocalPx <= 0 {
		return nil, errors.Errorf("invalid focal length %v", req.Intrinsics.FocalPx)
	}
	gf := spatialmath.NewGeoFrame(req.Pose.Lat, req.Pose.Lon, req.Pose.Alt)
	if req.Frame != nil {
		gf = spatialmath.NewGeoFrame(req.Frame.Lat, req.Frame.Lon, req.Frame.Alt)
	}
	points, err := toLocalPoints(gf, req.WorldPoints)
	if err != nil {
		return nil, err
	}
	distorter, err := toDistorter(req.Distortion)
	if err != nil {
		return nil, err
	}
	model := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			FocalPx: req.Intrinsics.FocalPx,
			Cx:      req.Intrinsics.Cx,
			Cy:      req.Intrinsics.Cy,
		},
		Distortion: distorter,
	}
	position := gf.ToENU(req.Pose.Lat, req.Pose.Lon, req.Pose.Alt)
	pose := spatialmath.NewPoseFromYawPitchRoll(position, req.Pose.YawDeg, req.Pose.PitchDeg, req.Pose.RollDeg)

	resp := &ReprojectResponse{
		Pixels:   make([]*[2]float64, len(points)),
		Warnings: []string{},
	}
	for i, pt := range points {
		pix, err := model.Project(pose, pt.Position)
		if err != nil {
			resp.Warnings = append(resp.Warnings,
				errors.Wrapf(err, "point %q is not imageable", pt.ID).Error())
			continue
		}
		resp.Pixels[i] = &[2]float64{pix.X, pix.Y}
	}
	return resp, nil
}

// SolveJSON is the JSON-in, JSON-out form of Solve.
func SolveJSON(ctx context.Context, reqJSON []byte, logger golog.Logger) ([]byte, error) {
	var req SolveRequest
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return nil, errors.Errorf("invalid request JSON: %v", err)
	}
	resp, err := Solve(ctx, req, logger)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

// ReprojectPointsJSON is the JSON-in, JSON-out form of ReprojectPoints.
func ReprojectPointsJSON(reqJSON []byte) ([]byte, error) {
	var req ReprojectRequest
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return nil, errors.Errorf("invalid request JSON: %v", err)
	}
	resp, err := ReprojectPoints(req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}
