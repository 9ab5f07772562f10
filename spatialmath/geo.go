package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"

	"go.viam.com/resection/utils"
)

// GeoFrame is a local east-north-up tangent frame anchored at a geodetic
// origin. World points and camera positions are expressed in meters relative
// to the origin; conversion back to lat/lon/alt happens only at the module
// boundary.
type GeoFrame struct {
	origin    *geo.Point
	originAlt float64
}

// NewGeoFrame creates a tangent frame anchored at the given geodetic point.
func NewGeoFrame(lat, lon, altMeters float64) *GeoFrame {
	return &GeoFrame{origin: geo.NewPoint(lat, lon), originAlt: altMeters}
}

// Origin returns the anchor as (lat, lon, alt).
func (gf *GeoFrame) Origin() (float64, float64, float64) {
	return gf.origin.Lat(), gf.origin.Lng(), gf.originAlt
}

// ToENU converts a geodetic coordinate to ENU meters relative to the origin.
func (gf *GeoFrame) ToENU(lat, lon, altMeters float64) r3.Vector {
	pt := geo.NewPoint(lat, lon)
	distMeters := gf.origin.GreatCircleDistance(pt) * 1000.0
	if distMeters == 0 {
		return r3.Vector{X: 0, Y: 0, Z: altMeters - gf.originAlt}
	}
	bearing := utils.DegToRad(gf.origin.BearingTo(pt))
	return r3.Vector{
		X: distMeters * math.Sin(bearing),
		Y: distMeters * math.Cos(bearing),
		Z: altMeters - gf.originAlt,
	}
}

// FromENU converts ENU meters relative to the origin back to (lat, lon, alt).
func (gf *GeoFrame) FromENU(v r3.Vector) (float64, float64, float64) {
	distMeters := math.Hypot(v.X, v.Y)
	if distMeters == 0 {
		return gf.origin.Lat(), gf.origin.Lng(), gf.originAlt + v.Z
	}
	bearing := utils.RadToDeg(math.Atan2(v.X, v.Y))
	pt := gf.origin.PointAtDistanceAndBearing(distMeters/1000.0, bearing)
	return pt.Lat(), pt.Lng(), gf.originAlt + v.Z
}
