package gpu

import (
	"errors"
	"fmt"
	"sync"

	"planetsync/config"
	"planetsync/core"
)

var (
	// ErrApplyInProgress is returned by readers that would observe a slot mid-write
	ErrApplyInProgress = errors.New("gpu: raster apply in progress")
	// ErrInvalidEntry is returned for entries outside the uv square or with non-finite strength
	ErrInvalidEntry = errors.New("gpu: invalid edit entry")
)

// RasterStore holds the height field as a two-slot arena. Exactly one slot
// is active (readable); Apply writes the other one and flips the index.
// The store is owned by a single scheduler; the mutex only keeps the
// out-of-band export from reading a slot mid-write.
type RasterStore struct {
	mu         sync.Mutex
	width      int
	height     int
	slots      [2][]float32
	active     int
	generation uint64
	kernel     Kernel
	params     KernelParams
}

// NewRasterStore allocates both slots filled with initial
func NewRasterStore(width, height int, initial float32, kernel Kernel, params KernelParams) (*RasterStore, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raster size must be positive, got %dx%d", width, height)
	}
	if kernel == nil {
		return nil, errors.New("raster store needs a kernel")
	}
	if params.MaxHeight <= 0 {
		return nil, fmt.Errorf("maxHeight must be positive, got %f", params.MaxHeight)
	}
	initial = Clamp(initial, 0, params.MaxHeight)

	s := &RasterStore{
		width:  width,
		height: height,
		kernel: kernel,
		params: params,
	}
	for i := range s.slots {
		s.slots[i] = make([]float32, width*height)
		for c := range s.slots[i] {
			s.slots[i][c] = initial
		}
	}
	return s, nil
}

// Apply deforms the inactive slot from the active one and swaps roles
func (s *RasterStore) Apply(entry core.EditEntry) error {
	if !entry.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidEntry, entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.slots[s.active]
	dst := s.slots[1-s.active]
	if err := s.kernel.Deform(dst, src, s.width, s.height, entry, s.params); err != nil {
		return fmt.Errorf("%s kernel: %w", s.kernel.Name(), err)
	}
	s.active = 1 - s.active
	s.generation++
	return nil
}

// ActiveIndex returns which slot is currently readable
func (s *RasterStore) ActiveIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Generation counts successful applies since construction or the last Load
func (s *RasterStore) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Active returns a read-only view of the active slot. The view aliases
// the slot and is only valid until the next Apply.
func (s *RasterStore) Active() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{width: s.width, height: s.height, data: s.slots[s.active]}
}

// CopyActive copies the active slot into dst, growing it when needed
func (s *RasterStore) CopyActive(dst []float32) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cap(dst) < len(s.slots[s.active]) {
		dst = make([]float32, len(s.slots[s.active]))
	}
	dst = dst[:len(s.slots[s.active])]
	copy(dst, s.slots[s.active])
	return dst
}

// Load replaces the active slot contents, e.g. from a snapshot
func (s *RasterStore) Load(heights []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(heights) != s.width*s.height {
		return fmt.Errorf("load: got %d cells, want %d", len(heights), s.width*s.height)
	}
	for i, h := range heights {
		s.slots[s.active][i] = Clamp(h, 0, s.params.MaxHeight)
	}
	s.generation = 0
	return nil
}

func (s *RasterStore) Width() int           { return s.width }
func (s *RasterStore) Height() int          { return s.height }
func (s *RasterStore) Params() KernelParams { return s.params }
func (s *RasterStore) Kernel() Kernel       { return s.kernel }

// Scratch is a pair of buffers for composing edits outside the arena
type Scratch struct {
	bufs [2][]float32
}

// Compose applies entries on top of the active slot into scratch buffers.
// The arena itself is left untouched.
func (s *RasterStore) Compose(entries []core.EditEntry, scratch *Scratch) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.width * s.height
	for i := range scratch.bufs {
		if len(scratch.bufs[i]) != n {
			scratch.bufs[i] = make([]float32, n)
		}
	}

	cur := 0
	copy(scratch.bufs[cur], s.slots[s.active])
	for _, entry := range entries {
		if !entry.Valid() {
			continue
		}
		if err := s.kernel.Deform(scratch.bufs[1-cur], scratch.bufs[cur], s.width, s.height, entry, s.params); err != nil {
			return View{}, fmt.Errorf("%s kernel: %w", s.kernel.Name(), err)
		}
		cur = 1 - cur
	}
	return View{width: s.width, height: s.height, data: scratch.bufs[cur]}, nil
}

// NewRasterFromSettings builds a store with a CPU kernel configured from
// the raster section of the settings
func NewRasterFromSettings(r config.RasterSettings) (*RasterStore, error) {
	params := KernelParams{
		BrushRadius:   r.BrushRadius,
		StrengthScale: r.StrengthScale,
		MaxHeight:     r.MaxHeight,
		WrapU:         r.WrapU,
	}
	return NewRasterStore(r.Width, r.Height, r.InitialHeight, NewCPUKernel(r.Workers), params)
}
