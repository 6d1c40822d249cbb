package projector

import (
	"github.com/go-gl/mathgl/mgl32"

	"planetsync/core"
	"planetsync/gpu"
)

const triangleEpsilon = 1e-7

// Mesh picks against a triangulated planet, optionally displaced by the
// height raster so the pointer lands on the terrain that is drawn
type Mesh struct {
	mesh   *core.SphereMesh
	radius float32
}

// NewMesh generates a UV sphere with the given tessellation
func NewMesh(radius float32, segments, rings int) *Mesh {
	return &Mesh{mesh: core.GenerateSphereData(radius, segments, rings), radius: radius}
}

// Data exposes the mesh for drawing
func (m *Mesh) Data() *core.SphereMesh { return m.mesh }

// Displace moves every vertex along its normal to radius*(1 + scale*h),
// sampling h from view at the vertex uv
func (m *Mesh) Displace(view gpu.View, scale float32) {
	for i := 0; i < m.mesh.VertexCount(); i++ {
		nx, ny, nz := m.mesh.Normal(i)
		uv := m.mesh.TexCoord(i)
		h := view.Sample(uv.X, uv.Y)
		r := m.radius * (1 + scale*h)
		m.mesh.SetPosition(i, nx*r, ny*r, nz*r)
	}
}

func (m *Mesh) vertex(i uint32) (mgl32.Vec3, core.Vec2) {
	x, y, z := m.mesh.Position(int(i))
	return mgl32.Vec3{x, y, z}, m.mesh.TexCoord(int(i))
}

// Intersect returns the nearest triangle hit with its uv interpolated from
// the triangle's vertex texcoords
func (m *Mesh) Intersect(origin, dir mgl32.Vec3) (Hit, bool) {
	best := Hit{}
	found := false
	idx := m.mesh.Indices
	for i := 0; i+2 < len(idx); i += 3 {
		p0, uv0 := m.vertex(idx[i])
		p1, uv1 := m.vertex(idx[i+1])
		p2, uv2 := m.vertex(idx[i+2])

		t, b1, b2, ok := rayTriangle(origin, dir, p0, p1, p2)
		if !ok || (found && t >= best.Distance) {
			continue
		}
		b0 := 1 - b1 - b2

		normal := p1.Sub(p0).Cross(p2.Sub(p0))
		if normal.Len() == 0 {
			continue
		}
		normal = normal.Normalize()
		point := origin.Add(dir.Mul(t))
		if normal.Dot(point) < 0 {
			normal = normal.Mul(-1)
		}

		best = Hit{
			Point:  point,
			Normal: normal,
			UV: core.Vec2{
				X: gpu.Clamp(float64(b0)*uv0.X+float64(b1)*uv1.X+float64(b2)*uv2.X, 0, 1),
				Y: gpu.Clamp(float64(b0)*uv0.Y+float64(b1)*uv1.Y+float64(b2)*uv2.Y, 0, 1),
			},
			Distance: t,
		}
		found = true
	}
	return best, found
}

// rayTriangle is the Moller-Trumbore test. It returns the ray distance and
// the barycentric weights of p1 and p2.
func rayTriangle(origin, dir, p0, p1, p2 mgl32.Vec3) (t, b1, b2 float32, ok bool) {
	e1 := p1.Sub(p0)
	e2 := p2.Sub(p0)
	pvec := dir.Cross(e2)
	det := e1.Dot(pvec)
	if det > -triangleEpsilon && det < triangleEpsilon {
		return 0, 0, 0, false
	}
	inv := 1 / det

	tvec := origin.Sub(p0)
	b1 = tvec.Dot(pvec) * inv
	if b1 < 0 || b1 > 1 {
		return 0, 0, 0, false
	}
	qvec := tvec.Cross(e1)
	b2 = dir.Dot(qvec) * inv
	if b2 < 0 || b1+b2 > 1 {
		return 0, 0, 0, false
	}
	t = e2.Dot(qvec) * inv
	if t < 0 {
		return 0, 0, 0, false
	}
	return t, b1, b2, true
}
