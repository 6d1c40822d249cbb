package projector

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"planetsync/core"
	"planetsync/gpu"
)

// Hit is the nearest intersection of a pick ray with the terrain
type Hit struct {
	Point    mgl32.Vec3
	Normal   mgl32.Vec3
	UV       core.Vec2
	Distance float32
}

// Surface is anything the projector can pick against
type Surface interface {
	Intersect(origin, dir mgl32.Vec3) (Hit, bool)
}

// Sphere is the undeformed planet
type Sphere struct {
	Radius float32
}

func (s Sphere) Intersect(origin, dir mgl32.Vec3) (Hit, bool) {
	t, ok := raySphereIntersect(origin, dir, s.Radius)
	if !ok {
		return Hit{}, false
	}
	point := origin.Add(dir.Mul(t))
	return Hit{
		Point:    point,
		Normal:   point.Normalize(),
		UV:       surfaceUV(point),
		Distance: t,
	}, true
}

// raySphereIntersect returns the distance to the closer non-negative
// intersection with a sphere at the origin
func raySphereIntersect(origin, dir mgl32.Vec3, radius float32) (float32, bool) {
	oc := origin
	a := dir.Dot(dir)
	b := 2.0 * oc.Dot(dir)
	c := oc.Dot(oc) - radius*radius
	discriminant := b*b - 4*a*c

	if discriminant < 0 || a == 0 {
		return 0, false
	}

	sqrtD := float32(math.Sqrt(float64(discriminant)))
	t0 := (-b - sqrtD) / (2.0 * a)
	t1 := (-b + sqrtD) / (2.0 * a)

	// Use the closer positive intersection
	t := t0
	if t < 0 {
		t = t1
		if t < 0 {
			return 0, false
		}
	}
	return t, true
}

func surfaceUV(p mgl32.Vec3) core.Vec2 {
	uv := core.CartesianToUV(float64(p[0]), float64(p[1]), float64(p[2]))
	return core.Vec2{X: gpu.Clamp(uv.X, 0, 1), Y: gpu.Clamp(uv.Y, 0, 1)}
}
