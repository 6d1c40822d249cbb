package gpu

import "math"

// View is a read-only window over one raster buffer, shared between the
// replay side and whatever renders or exports it
type View struct {
	width  int
	height int
	data   []float32
}

// NewView wraps heights laid out row-major
func NewView(width, height int, data []float32) View {
	return View{width: width, height: height, data: data}
}

func (v View) Width() int  { return v.width }
func (v View) Height() int { return v.height }

// Len is the number of cells, zero for an empty view
func (v View) Len() int { return len(v.data) }

// At returns the height of cell (x, y); x wraps, y clamps
func (v View) At(x, y int) float32 {
	if len(v.data) == 0 {
		return 0
	}
	x %= v.width
	if x < 0 {
		x += v.width
	}
	if y < 0 {
		y = 0
	}
	if y >= v.height {
		y = v.height - 1
	}
	return v.data[y*v.width+x]
}

// Sample bilinearly interpolates the height at uv using cell centres
func (v View) Sample(u, w float64) float32 {
	if len(v.data) == 0 {
		return 0
	}
	fx := u*float64(v.width) - 0.5
	fy := w*float64(v.height) - 0.5
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	tx := float32(fx - float64(x0))
	ty := float32(fy - float64(y0))

	h00 := v.At(x0, y0)
	h10 := v.At(x0+1, y0)
	h01 := v.At(x0, y0+1)
	h11 := v.At(x0+1, y0+1)

	top := h00 + (h10-h00)*tx
	bottom := h01 + (h11-h01)*tx
	return top + (bottom-top)*ty
}

// MinMax returns the value range of the view
func (v View) MinMax() (float32, float32) {
	if len(v.data) == 0 {
		return 0, 0
	}
	lo, hi := v.data[0], v.data[0]
	for _, h := range v.data[1:] {
		if h < lo {
			lo = h
		}
		if h > hi {
			hi = h
		}
	}
	return lo, hi
}

// CopyTo copies the cells into dst, growing it when needed
func (v View) CopyTo(dst []float32) []float32 {
	if cap(dst) < len(v.data) {
		dst = make([]float32, len(v.data))
	}
	dst = dst[:len(v.data)]
	copy(dst, v.data)
	return dst
}
