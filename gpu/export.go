package gpu

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPrecisionUnsupported means the backend cannot hold float heights, so
// a readback would not be meaningful
var ErrPrecisionUnsupported = errors.New("gpu: backend lacks float buffer support")

// Legend describes one exported slot
type Legend struct {
	Slot   int
	Active bool
	Width  int
	Height int
	Format string
	Min    float32
	Max    float32
}

func (l Legend) String() string {
	state := "inactive"
	if l.Active {
		state = "active"
	}
	return fmt.Sprintf("slot %d (%s): %dx%d %s min=%.6f max=%.6f",
		l.Slot, state, l.Width, l.Height, l.Format, l.Min, l.Max)
}

// ExportSlot writes one slot as a min/max-normalized grayscale PNG.
// It refuses to run while an Apply holds the store.
func (s *RasterStore) ExportSlot(w io.Writer, slot int) (Legend, error) {
	if slot != 0 && slot != 1 {
		return Legend{}, fmt.Errorf("export: slot %d out of range", slot)
	}
	if !s.kernel.Capabilities().FloatBuffers {
		return Legend{}, ErrPrecisionUnsupported
	}
	if !s.mu.TryLock() {
		return Legend{}, ErrApplyInProgress
	}
	defer s.mu.Unlock()

	view := View{width: s.width, height: s.height, data: s.slots[slot]}
	lo, hi := view.MinMax()
	legend := Legend{
		Slot:   slot,
		Active: slot == s.active,
		Width:  s.width,
		Height: s.height,
		Format: "float32 R",
		Min:    lo,
		Max:    hi,
	}

	img := grayscale(view, lo, hi)
	if err := png.Encode(w, img); err != nil {
		return Legend{}, fmt.Errorf("export slot %d: %w", slot, err)
	}
	return legend, nil
}

// ExportDir writes slot-0.png, slot-1.png and legend.txt into dir
func (s *RasterStore) ExportDir(dir string) ([]Legend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var legends []Legend
	for slot := 0; slot < 2; slot++ {
		path := filepath.Join(dir, fmt.Sprintf("slot-%d.png", slot))
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		legend, err := s.ExportSlot(f, slot)
		closeErr := f.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
		legends = append(legends, legend)
	}

	var b strings.Builder
	for _, l := range legends {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, "legend.txt"), []byte(b.String()), 0o644); err != nil {
		return nil, err
	}
	return legends, nil
}

func grayscale(view View, lo, hi float32) *image.Gray {
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	img := image.NewGray(image.Rect(0, 0, view.width, view.height))
	for y := 0; y < view.height; y++ {
		for x := 0; x < view.width; x++ {
			n := Clamp((view.At(x, y)-lo)/span, 0, 1)
			img.SetGray(x, y, color.Gray{Y: uint8(n*255 + 0.5)})
		}
	}
	return img
}
