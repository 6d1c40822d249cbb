// Package projector turns pointer input into surface hits and edit
// candidates.
package projector

import "github.com/go-gl/mathgl/mgl32"

// Camera is what the projector needs from the renderer's camera
type Camera struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Width      int
	Height     int
}

// NewCamera builds a perspective camera looking from eye at target
func NewCamera(eye, target, up mgl32.Vec3, fovyDeg float32, width, height int, near, far float32) Camera {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	return Camera{
		View:       mgl32.LookAtV(eye, target, up),
		Projection: mgl32.Perspective(mgl32.DegToRad(fovyDeg), aspect, near, far),
		Width:      width,
		Height:     height,
	}
}

// Ray unprojects a pixel into a world-space ray
func (c Camera) Ray(xpos, ypos float32) (origin, dir mgl32.Vec3, ok bool) {
	if c.Width <= 0 || c.Height <= 0 {
		return mgl32.Vec3{}, mgl32.Vec3{}, false
	}

	// Convert screen coordinates to NDC
	x := (2.0*xpos)/float32(c.Width) - 1.0
	y := 1.0 - (2.0*ypos)/float32(c.Height) // Flip Y

	invViewProj := c.Projection.Mul4(c.View).Inv()

	nearWorld := invViewProj.Mul4x1(mgl32.Vec4{x, y, -1.0, 1.0})
	farWorld := invViewProj.Mul4x1(mgl32.Vec4{x, y, 1.0, 1.0})
	if nearWorld[3] == 0 || farWorld[3] == 0 {
		return mgl32.Vec3{}, mgl32.Vec3{}, false
	}

	// Perspective divide
	nearWorld = nearWorld.Mul(1.0 / nearWorld[3])
	farWorld = farWorld.Mul(1.0 / farWorld[3])

	origin = nearWorld.Vec3()
	dir = farWorld.Vec3().Sub(origin)
	if dir.Len() == 0 {
		return mgl32.Vec3{}, mgl32.Vec3{}, false
	}
	return origin, dir.Normalize(), true
}
