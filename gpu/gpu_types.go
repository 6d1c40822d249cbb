package gpu

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]
func Clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Falloff is the linear radial brush weight at distance d
func Falloff(d, radius float64) float64 {
	if radius <= 0 {
		return 0
	}
	return max(0, 1-d/radius)
}
