package main

import (
	"fmt"
	"math"

	rl "github.com/gen2brain/raylib-go/raylib"
	"github.com/go-gl/mathgl/mgl32"

	"planetsync/config"
	"planetsync/core"
	"planetsync/gpu"
	"planetsync/presence"
	"planetsync/projector"
	"planetsync/session"
)

const (
	fovy        = 45
	nearPlane   = 0.01
	farPlane    = 1000
	minimapW    = 256
	minimapH    = 128
	minimapCell = 4
	cursorSize  = 0.015
)

// orbit is a camera circling the planet centre. Right drag or alt+left
// drag rotates, the wheel zooms.
type orbit struct {
	yaw, pitch float32
	distance   float32
	minDist    float32
	camera     rl.Camera3D
}

func newOrbit(radius float32) *orbit {
	o := &orbit{distance: radius * 3, minDist: radius * 1.2}
	o.camera = rl.Camera3D{
		Up:         rl.NewVector3(0, 1, 0),
		Fovy:       fovy,
		Projection: rl.CameraPerspective,
	}
	o.place()
	return o
}

func (o *orbit) update() {
	if navigating() {
		d := rl.GetMouseDelta()
		o.yaw -= d.X * 0.005
		o.pitch += d.Y * 0.005
		o.pitch = gpu.Clamp(o.pitch, -1.5, 1.5)
	}
	if wheel := rl.GetMouseWheelMove(); wheel != 0 {
		o.distance = max(o.minDist, o.distance*(1-wheel*0.1))
	}
	o.place()
}

func (o *orbit) place() {
	cp := float32(math.Cos(float64(o.pitch)))
	o.camera.Position = rl.NewVector3(
		o.distance*cp*float32(math.Sin(float64(o.yaw))),
		o.distance*float32(math.Sin(float64(o.pitch))),
		o.distance*cp*float32(math.Cos(float64(o.yaw))),
	)
}

// projectorCamera mirrors the raylib camera for picking
func (o *orbit) projectorCamera(width, height int) projector.Camera {
	p, t, u := o.camera.Position, o.camera.Target, o.camera.Up
	return projector.NewCamera(
		mgl32.Vec3{p.X, p.Y, p.Z},
		mgl32.Vec3{t.X, t.Y, t.Z},
		mgl32.Vec3{u.X, u.Y, u.Z},
		o.camera.Fovy, width, height, nearPlane, farPlane,
	)
}

func navigating() bool {
	return rl.IsMouseButtonDown(rl.MouseButtonRight) ||
		(rl.IsKeyDown(rl.KeyLeftAlt) && rl.IsMouseButtonDown(rl.MouseButtonLeft))
}

func readInput() projector.Input {
	m := rl.GetMousePosition()
	return projector.Input{
		X:          m.X,
		Y:          m.Y,
		ButtonHeld: rl.IsMouseButtonDown(rl.MouseButtonLeft),
		Invert:     rl.IsKeyDown(rl.KeyLeftShift) || rl.IsKeyDown(rl.KeyRightShift),
		Navigate:   navigating(),
	}
}

type renderer struct {
	maxHeight float32
	frame     int
	minimap   []float32
}

func newRenderer(settings config.Settings) *renderer {
	return &renderer{maxHeight: settings.Raster.MaxHeight}
}

// terrainColor maps a height to a sea-to-snow ramp
func (r *renderer) terrainColor(h float32) rl.Color {
	t := gpu.Clamp(h/r.maxHeight, 0, 1)
	switch {
	case t < 0.45:
		k := t / 0.45
		return rl.NewColor(uint8(20+40*k), uint8(50+80*k), uint8(120+80*k), 255)
	case t < 0.75:
		k := (t - 0.45) / 0.3
		return rl.NewColor(uint8(60+80*k), uint8(140-30*k), uint8(60-20*k), 255)
	default:
		k := (t - 0.75) / 0.25
		return rl.NewColor(uint8(140+115*k), uint8(110+145*k), uint8(40+215*k), 255)
	}
}

func (r *renderer) drawPlanet(mesh *core.SphereMesh, view gpu.View) {
	idx := mesh.Indices
	for i := 0; i+2 < len(idx); i += 3 {
		a, b, c := int(idx[i]), int(idx[i+1]), int(idx[i+2])
		uv := mesh.TexCoord(a)
		col := r.terrainColor(view.Sample(uv.X, uv.Y))
		rl.DrawTriangle3D(vertex(mesh, a), vertex(mesh, b), vertex(mesh, c), col)
	}
}

func vertex(mesh *core.SphereMesh, i int) rl.Vector3 {
	x, y, z := mesh.Position(i)
	return rl.NewVector3(x, y, z)
}

func (r *renderer) drawCursors(cursors []presence.Indicator) {
	for _, c := range cursors {
		p := c.Cursor.Position
		rl.DrawSphere(rl.NewVector3(float32(p.X), float32(p.Y), float32(p.Z)), cursorSize, toColor(c.Cursor.Color))
	}
}

func (r *renderer) drawHover(hit projector.Hit, color core.ColorRGB) {
	rl.DrawSphere(rl.NewVector3(hit.Point.X(), hit.Point.Y(), hit.Point.Z()), cursorSize*0.6, toColor(color))
}

func toColor(c core.ColorRGB) rl.Color {
	return rl.NewColor(uint8(c.R*255), uint8(c.G*255), uint8(c.B*255), 255)
}

// drawMinimap draws the preview raster downsampled in the corner. It is
// resampled every few frames.
func (r *renderer) drawMinimap(view gpu.View) {
	cols, rows := minimapW/minimapCell, minimapH/minimapCell
	if r.frame%6 == 0 || len(r.minimap) != cols*rows {
		r.minimap = r.minimap[:0]
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				u := (float64(x) + 0.5) / float64(cols)
				v := (float64(y) + 0.5) / float64(rows)
				r.minimap = append(r.minimap, view.Sample(u, v))
			}
		}
	}
	r.frame++

	left := int32(rl.GetScreenWidth() - minimapW - 10)
	top := int32(10)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			rl.DrawRectangle(left+int32(x*minimapCell), top+int32(y*minimapCell),
				minimapCell, minimapCell, r.terrainColor(r.minimap[y*cols+x]))
		}
	}
	rl.DrawRectangleLines(left, top, minimapW, minimapH, rl.Gray)
}

func (r *renderer) drawStatus(res session.FrameResult, pending int, status string) {
	tick := res.Tick
	line := fmt.Sprintf("%s  %d/%d  %.1f%%", tick.State, tick.Replayed, tick.Total, tick.Progress)
	rl.DrawText(line, 10, 10, 20, rl.RayWhite)
	rl.DrawText(fmt.Sprintf("pending %d  peers %d", pending, len(res.Cursors)), 10, 34, 16, rl.LightGray)
	if status != "" {
		rl.DrawText(status, 10, 54, 16, rl.Yellow)
	}
	rl.DrawText("LMB raise  Shift+LMB lower  RMB/Alt orbit  F12 export", 10, int32(rl.GetScreenHeight()-24), 14, rl.Gray)
}
