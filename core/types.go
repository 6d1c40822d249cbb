package core

import "math"

// Vec2 is a surface coordinate in uv space
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vec3 represents a 3D vector in world space
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

func (v Vec3) Normalize() Vec3 {
	length := v.Length()
	if length == 0 {
		return Vec3{0, 0, 0}
	}
	return Vec3{v.X / length, v.Y / length, v.Z / length}
}

// ColorRGB holds a colour with channels in [0,1]
type ColorRGB struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
}

// EditEntry is one deformation event: where on the surface and how hard.
// Positive strength raises terrain, negative lowers it.
type EditEntry struct {
	UV       Vec2    `json:"uv"`
	Strength float64 `json:"strength"`
}

// Valid reports whether the entry can be applied to a raster.
func (e EditEntry) Valid() bool {
	if math.IsNaN(e.UV.X) || math.IsNaN(e.UV.Y) || math.IsNaN(e.Strength) || math.IsInf(e.Strength, 0) {
		return false
	}
	return e.UV.X >= 0 && e.UV.X <= 1 && e.UV.Y >= 0 && e.UV.Y <= 1
}

// LogRecord is an EditEntry as committed to a world's edit log.
// Index is assigned by the log and defines the replay order; Origin and
// OriginSeq name the peer session that issued the entry.
type LogRecord struct {
	Index     uint64    `json:"index"`
	Origin    string    `json:"origin,omitempty"`
	OriginSeq uint64    `json:"originSeq,omitempty"`
	Entry     EditEntry `json:"entry"`
}

// SameOrigin reports whether two records were issued by the same append.
func (r LogRecord) SameOrigin(other LogRecord) bool {
	return r.Origin != "" && r.Origin == other.Origin && r.OriginSeq == other.OriginSeq
}

// CursorEntry is a peer's latest pointer state on the surface
type CursorEntry struct {
	Position Vec3     `json:"position"`
	Normal   Vec3     `json:"normal"`
	Color    ColorRGB `json:"color"`
}
