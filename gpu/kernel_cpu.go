package gpu

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"planetsync/core"
)

// CPUKernel implements Kernel using CPU parallelization over rows.
// Every cell is computed independently so the result does not depend
// on the worker count.
type CPUKernel struct {
	numWorkers int
}

// NewCPUKernel creates a CPU backend. workers <= 0 uses every CPU.
func NewCPUKernel(workers int) *CPUKernel {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUKernel{numWorkers: workers}
}

func (c *CPUKernel) Name() string { return "CPU" }

func (c *CPUKernel) Capabilities() Capabilities {
	return Capabilities{FloatBuffers: true}
}

// Cleanup releases CPU resources
func (c *CPUKernel) Cleanup() {}

// Deform applies one edit over the full raster extent
func (c *CPUKernel) Deform(dst, src []float32, width, height int, entry core.EditEntry, params KernelParams) error {
	if len(src) != width*height || len(dst) != width*height {
		return fmt.Errorf("deform: buffers hold %d/%d cells, want %d", len(src), len(dst), width*height)
	}

	// Cells outside the brush keep their value; only rows the brush can
	// reach are recomputed.
	copy(dst, src)

	delta := entry.Strength * params.StrengthScale
	if delta == 0 || params.BrushRadius <= 0 {
		return nil
	}

	first, last := affectedRows(entry.UV.Y, params.BrushRadius, height)
	if first > last {
		return nil
	}

	c.parallelForEachRow(first, last, func(y int) {
		cellV := (float64(y) + 0.5) / float64(height)
		row := y * width
		for x := 0; x < width; x++ {
			cell := core.Vec2{X: (float64(x) + 0.5) / float64(width), Y: cellV}
			f := Falloff(core.UVDistance(cell, entry.UV, params.WrapU), params.BrushRadius)
			if f <= 0 {
				continue
			}
			dst[row+x] = Clamp(src[row+x]+float32(delta*f), 0, params.MaxHeight)
		}
	})
	return nil
}

// affectedRows returns the inclusive row range whose centres lie within
// radius of v
func affectedRows(v, radius float64, height int) (int, int) {
	first := int(math.Floor((v-radius)*float64(height) - 0.5))
	last := int(math.Ceil((v+radius)*float64(height) - 0.5))
	if first < 0 {
		first = 0
	}
	if last > height-1 {
		last = height - 1
	}
	return first, last
}

// parallelForEachRow executes fn for each row in [first, last] in parallel
func (c *CPUKernel) parallelForEachRow(first, last int, fn func(y int)) {
	rows := last - first + 1
	workers := c.numWorkers
	if workers > rows {
		workers = rows
	}
	if workers <= 1 {
		for y := first; y <= last; y++ {
			fn(y)
		}
		return
	}

	// Create work queue
	work := make(chan int, rows)
	for y := first; y <= last; y++ {
		work <- y
	}
	close(work)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for y := range work {
				fn(y)
			}
		}()
	}

	wg.Wait()
}
