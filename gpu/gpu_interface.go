package gpu

import "planetsync/core"

// Kernel is a deformation backend. Deform reads src and writes the
// deformed result of one edit into dst; the two never alias.
type Kernel interface {
	Deform(dst, src []float32, width, height int, entry core.EditEntry, params KernelParams) error
	Capabilities() Capabilities
	Name() string
	Cleanup()
}

// KernelParams configures the brush shared by every edit in a world
type KernelParams struct {
	BrushRadius   float64 // in uv units
	StrengthScale float64
	MaxHeight     float32
	WrapU         bool
}

// Capabilities reports what a backend's buffers can hold
type Capabilities struct {
	FloatBuffers bool
}
