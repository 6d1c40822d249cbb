package core

import (
	"math"
)

// Surface parametrization shared by the sphere mesh and the projector.
// Y points to the north pole. u runs around the equator starting at +X
// towards +Z, v runs from the north pole (0) to the south pole (1).

// UVToCartesian converts a surface coordinate to a point on a sphere
func UVToCartesian(uv Vec2, radius float64) (x, y, z float64) {
	theta := uv.Y * math.Pi
	phi := uv.X * 2.0 * math.Pi
	sinTheta := math.Sin(theta)

	x = radius * math.Cos(phi) * sinTheta
	y = radius * math.Cos(theta)
	z = radius * math.Sin(phi) * sinTheta
	return x, y, z
}

// CartesianToUV converts a point to its surface coordinate.
// The origin maps to (0, 0.5).
func CartesianToUV(x, y, z float64) Vec2 {
	r := math.Sqrt(x*x + y*y + z*z)
	if r < 1e-10 {
		return Vec2{X: 0, Y: 0.5}
	}

	// acos is only defined on [-1,1]; rounding can push y/r just outside
	cosTheta := math.Max(-1, math.Min(1, y/r))
	v := math.Acos(cosTheta) / math.Pi

	u := math.Atan2(z, x) / (2.0 * math.Pi)
	if u < 0 {
		u += 1.0
	}
	if u >= 1.0 {
		u = 0
	}
	return Vec2{X: u, Y: v}
}

// WrapU folds a u coordinate into [0,1)
func WrapU(u float64) float64 {
	u = math.Mod(u, 1.0)
	if u < 0 {
		u += 1.0
	}
	return u
}

// UVDistance returns the distance between two surface coordinates.
// With wrapU set the horizontal distance is taken the short way around
// the seam at u=0/1.
func UVDistance(a, b Vec2, wrapU bool) float64 {
	du := math.Abs(a.X - b.X)
	if wrapU && du > 0.5 {
		du = 1.0 - du
	}
	dv := a.Y - b.Y
	return math.Sqrt(du*du + dv*dv)
}
