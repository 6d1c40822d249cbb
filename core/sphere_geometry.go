package core

import (
	"math"
)

// SphereMesh is an indexed UV sphere. Each vertex carries position,
// normal and texcoord as consecutive float32 values.
type SphereMesh struct {
	Vertices []float32
	Indices  []uint32
	Segments int
	Rings    int
}

// VertexStride is the number of float32 values per vertex
const VertexStride = 8

// VertexCount returns the number of vertices in the mesh
func (m *SphereMesh) VertexCount() int {
	return len(m.Vertices) / VertexStride
}

// Position returns the position of vertex i
func (m *SphereMesh) Position(i int) (x, y, z float32) {
	base := i * VertexStride
	return m.Vertices[base], m.Vertices[base+1], m.Vertices[base+2]
}

// Normal returns the unit normal of vertex i
func (m *SphereMesh) Normal(i int) (x, y, z float32) {
	base := i*VertexStride + 3
	return m.Vertices[base], m.Vertices[base+1], m.Vertices[base+2]
}

// TexCoord returns the uv of vertex i
func (m *SphereMesh) TexCoord(i int) Vec2 {
	base := i*VertexStride + 6
	return Vec2{X: float64(m.Vertices[base]), Y: float64(m.Vertices[base+1])}
}

// SetPosition overwrites the position of vertex i
func (m *SphereMesh) SetPosition(i int, x, y, z float32) {
	base := i * VertexStride
	m.Vertices[base] = x
	m.Vertices[base+1] = y
	m.Vertices[base+2] = z
}

// GenerateSphereData generates vertex and index data for a UV sphere.
// Texture coordinates follow the parametrization in coordinates.go.
func GenerateSphereData(radius float32, segments, rings int) *SphereMesh {
	// Use default values if not specified
	if segments <= 0 {
		segments = 64
	}
	if rings <= 0 {
		rings = 32
	}

	vertices := make([]float32, 0, (rings+1)*(segments+1)*VertexStride)
	indices := make([]uint32, 0, rings*segments*6)

	for ring := 0; ring <= rings; ring++ {
		theta := float64(ring) * math.Pi / float64(rings)
		sinTheta := float32(math.Sin(theta))
		cosTheta := float32(math.Cos(theta))

		for seg := 0; seg <= segments; seg++ {
			phi := float64(seg) * 2.0 * math.Pi / float64(segments)
			sinPhi := float32(math.Sin(phi))
			cosPhi := float32(math.Cos(phi))

			x := cosPhi * sinTheta
			y := cosTheta
			z := sinPhi * sinTheta

			vertices = append(vertices, x*radius, y*radius, z*radius)

			// Normal (same as position for unit sphere)
			vertices = append(vertices, x, y, z)

			u := float32(seg) / float32(segments)
			v := float32(ring) / float32(rings)
			vertices = append(vertices, u, v)
		}
	}

	for ring := 0; ring < rings; ring++ {
		for seg := 0; seg < segments; seg++ {
			current := uint32(ring*(segments+1) + seg)
			next := current + uint32(segments) + 1

			indices = append(indices, current, next, current+1)
			indices = append(indices, current+1, next, next+1)
		}
	}

	return &SphereMesh{
		Vertices: vertices,
		Indices:  indices,
		Segments: segments,
		Rings:    rings,
	}
}
