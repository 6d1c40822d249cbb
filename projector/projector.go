package projector

import "planetsync/core"

// DefaultBaseStrength is the magnitude of one edit before the kernel's
// strength scale
const DefaultBaseStrength = 1.0

// Input is the pointer state sampled for one frame
type Input struct {
	X, Y       float32
	ButtonHeld bool
	Invert     bool // lower instead of raise
	Navigate   bool // camera navigation; no edits this frame
}

// Projector casts the pointer onto the surface every frame and queues an
// edit candidate while the button is held
type Projector struct {
	surface      Surface
	baseStrength float64
	queue        []core.EditEntry
}

func New(surface Surface, baseStrength float64) *Projector {
	if baseStrength == 0 {
		baseStrength = DefaultBaseStrength
	}
	return &Projector{surface: surface, baseStrength: baseStrength}
}

// SetSurface swaps what the pointer is cast against
func (p *Projector) SetSurface(surface Surface) {
	p.surface = surface
}

// Frame returns the hover hit, if any. A miss is not an error: nothing is
// queued and presence simply has no hover.
func (p *Projector) Frame(in Input, cam Camera) (Hit, bool) {
	origin, dir, ok := cam.Ray(in.X, in.Y)
	if !ok || p.surface == nil {
		return Hit{}, false
	}
	hit, ok := p.surface.Intersect(origin, dir)
	if !ok {
		return Hit{}, false
	}

	if in.ButtonHeld && !in.Navigate {
		strength := p.baseStrength
		if in.Invert {
			strength = -strength
		}
		p.queue = append(p.queue, core.EditEntry{UV: hit.UV, Strength: strength})
	}
	return hit, true
}

// Flush hands over the queued candidates in production order
func (p *Projector) Flush() []core.EditEntry {
	out := p.queue
	p.queue = nil
	return out
}

// Pending is the number of queued candidates
func (p *Projector) Pending() int { return len(p.queue) }

// HoverOf converts a hit to the presence package's vector type
func HoverOf(hit Hit) (position, normal core.Vec3) {
	return core.Vec3{X: hit.Point[0], Y: hit.Point[1], Z: hit.Point[2]},
		core.Vec3{X: hit.Normal[0], Y: hit.Normal[1], Z: hit.Normal[2]}
}
