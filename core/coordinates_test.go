package core

import (
	"math"
	"testing"
)

// TestUVConversions checks the surface parametrization at known points
func TestUVConversions(t *testing.T) {
	tests := []struct {
		name    string
		uv      Vec2
		wantX   float64
		wantY   float64
		wantZ   float64
		epsilon float64
	}{
		{
			name:    "North Pole",
			uv:      Vec2{X: 0, Y: 0},
			wantX:   0.0,
			wantY:   1.0,
			wantZ:   0.0,
			epsilon: 1e-9,
		},
		{
			name:    "South Pole",
			uv:      Vec2{X: 0, Y: 1},
			wantX:   0.0,
			wantY:   -1.0,
			wantZ:   0.0,
			epsilon: 1e-9,
		},
		{
			name:    "Equator Prime Meridian",
			uv:      Vec2{X: 0, Y: 0.5},
			wantX:   1.0,
			wantY:   0.0,
			wantZ:   0.0,
			epsilon: 1e-9,
		},
		{
			name:    "Equator Quarter Turn",
			uv:      Vec2{X: 0.25, Y: 0.5},
			wantX:   0.0,
			wantY:   0.0,
			wantZ:   1.0,
			epsilon: 1e-9,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x, y, z := UVToCartesian(tc.uv, 1.0)

			if math.Abs(x-tc.wantX) > tc.epsilon {
				t.Errorf("X coordinate: got %f, want %f", x, tc.wantX)
			}
			if math.Abs(y-tc.wantY) > tc.epsilon {
				t.Errorf("Y coordinate: got %f, want %f", y, tc.wantY)
			}
			if math.Abs(z-tc.wantZ) > tc.epsilon {
				t.Errorf("Z coordinate: got %f, want %f", z, tc.wantZ)
			}
		})
	}
}

// TestUVRoundTrip converts away from the poles and the seam and back
func TestUVRoundTrip(t *testing.T) {
	for u := 0.05; u < 1.0; u += 0.1 {
		for v := 0.05; v < 1.0; v += 0.1 {
			x, y, z := UVToCartesian(Vec2{X: u, Y: v}, 3.5)
			got := CartesianToUV(x, y, z)
			if math.Abs(got.X-u) > 1e-9 || math.Abs(got.Y-v) > 1e-9 {
				t.Fatalf("uv (%.2f,%.2f): round trip gave (%f,%f)", u, v, got.X, got.Y)
			}
		}
	}
}

func TestCartesianToUVOrigin(t *testing.T) {
	got := CartesianToUV(0, 0, 0)
	if got.X != 0 || got.Y != 0.5 {
		t.Fatalf("origin: got %+v", got)
	}
}

// TestSphereMeshTexCoords checks that mesh texcoords agree with CartesianToUV
func TestSphereMeshTexCoords(t *testing.T) {
	mesh := GenerateSphereData(2, 16, 8)

	if got, want := mesh.VertexCount(), 17*9; got != want {
		t.Fatalf("vertex count: got %d, want %d", got, want)
	}
	if got, want := len(mesh.Indices), 16*8*6; got != want {
		t.Fatalf("index count: got %d, want %d", got, want)
	}

	for i := 0; i < mesh.VertexCount(); i++ {
		uv := mesh.TexCoord(i)
		// poles and the closing seam column are degenerate in u
		if uv.Y == 0 || uv.Y == 1 || uv.X == 1 {
			continue
		}
		x, y, z := mesh.Position(i)
		got := CartesianToUV(float64(x), float64(y), float64(z))
		if math.Abs(got.X-uv.X) > 1e-5 || math.Abs(got.Y-uv.Y) > 1e-5 {
			t.Fatalf("vertex %d: texcoord %+v, position maps to %+v", i, uv, got)
		}
	}
}

func TestUVDistanceWrap(t *testing.T) {
	a := Vec2{X: 0.99, Y: 0.5}
	b := Vec2{X: 0.01, Y: 0.5}

	if d := UVDistance(a, b, false); math.Abs(d-0.98) > 1e-12 {
		t.Errorf("unwrapped distance: got %f, want 0.98", d)
	}
	if d := UVDistance(a, b, true); math.Abs(d-0.02) > 1e-12 {
		t.Errorf("wrapped distance: got %f, want 0.02", d)
	}
}

func TestWrapU(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.25, 0.25},
		{1.25, 0.25},
		{-0.25, 0.75},
		{1.0, 0.0},
	}
	for _, tc := range tests {
		if got := WrapU(tc.in); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("WrapU(%f): got %f, want %f", tc.in, got, tc.want)
		}
	}
}

func TestEditEntryValid(t *testing.T) {
	tests := []struct {
		name  string
		entry EditEntry
		want  bool
	}{
		{"centre", EditEntry{UV: Vec2{0.5, 0.5}, Strength: 1}, true},
		{"corner", EditEntry{UV: Vec2{1, 0}, Strength: -1}, true},
		{"outside", EditEntry{UV: Vec2{1.2, 0.5}, Strength: 1}, false},
		{"nan strength", EditEntry{UV: Vec2{0.5, 0.5}, Strength: math.NaN()}, false},
		{"inf strength", EditEntry{UV: Vec2{0.5, 0.5}, Strength: math.Inf(1)}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.entry.Valid(); got != tc.want {
				t.Errorf("Valid: got %v, want %v", got, tc.want)
			}
		})
	}
}
