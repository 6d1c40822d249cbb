package gpu

import (
	"bytes"
	"errors"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"planetsync/core"
)

var testParams = KernelParams{
	BrushRadius:   0.1,
	StrengthScale: 0.1,
	MaxHeight:     1,
	WrapU:         true,
}

func newTestStore(t *testing.T, workers int) *RasterStore {
	t.Helper()
	store, err := NewRasterStore(32, 16, 0.5, NewCPUKernel(workers), testParams)
	if err != nil {
		t.Fatalf("NewRasterStore: %v", err)
	}
	return store
}

func testEntries() []core.EditEntry {
	return []core.EditEntry{
		{UV: core.Vec2{X: 0.5, Y: 0.5}, Strength: 1},
		{UV: core.Vec2{X: 0.01, Y: 0.3}, Strength: 2},
		{UV: core.Vec2{X: 0.99, Y: 0.3}, Strength: -1},
		{UV: core.Vec2{X: 0.25, Y: 0.9}, Strength: 0.5},
		{UV: core.Vec2{X: 0.52, Y: 0.48}, Strength: -3},
		{UV: core.Vec2{X: 0, Y: 0}, Strength: 1},
		{UV: core.Vec2{X: 1, Y: 1}, Strength: 1},
	}
}

func applyAll(t *testing.T, store *RasterStore, entries []core.EditEntry) {
	t.Helper()
	for i, e := range entries {
		if err := store.Apply(e); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
}

func TestApplyFlipsActiveSlot(t *testing.T) {
	store := newTestStore(t, 1)
	if store.ActiveIndex() != 0 {
		t.Fatalf("initial active slot: got %d", store.ActiveIndex())
	}
	applyAll(t, store, testEntries()[:1])
	if store.ActiveIndex() != 1 {
		t.Errorf("after one apply: got slot %d, want 1", store.ActiveIndex())
	}
	applyAll(t, store, testEntries()[:1])
	if store.ActiveIndex() != 0 {
		t.Errorf("after two applies: got slot %d, want 0", store.ActiveIndex())
	}
	if store.Generation() != 2 {
		t.Errorf("generation: got %d", store.Generation())
	}
}

func TestApplyRejectsInvalidEntry(t *testing.T) {
	store := newTestStore(t, 1)
	err := store.Apply(core.EditEntry{UV: core.Vec2{X: 1.5, Y: 0.5}, Strength: 1})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("got %v, want ErrInvalidEntry", err)
	}
	if store.ActiveIndex() != 0 {
		t.Error("failed apply must not flip the active slot")
	}
}

func TestReplayDeterministic(t *testing.T) {
	a := newTestStore(t, 1)
	b := newTestStore(t, 1)
	applyAll(t, a, testEntries())
	applyAll(t, b, testEntries())

	ha := a.CopyActive(nil)
	hb := b.CopyActive(nil)
	for i := range ha {
		if math.Float32bits(ha[i]) != math.Float32bits(hb[i]) {
			t.Fatalf("cell %d differs: %v vs %v", i, ha[i], hb[i])
		}
	}
}

func TestSplitReplay(t *testing.T) {
	entries := testEntries()
	whole := newTestStore(t, 2)
	applyAll(t, whole, entries)
	want := whole.CopyActive(nil)

	for k := 0; k <= len(entries); k++ {
		store := newTestStore(t, 2)
		applyAll(t, store, entries[:k])
		mid := store.CopyActive(nil)

		resumed := newTestStore(t, 2)
		if err := resumed.Load(mid); err != nil {
			t.Fatalf("k=%d load: %v", k, err)
		}
		applyAll(t, resumed, entries[k:])
		got := resumed.CopyActive(nil)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("k=%d cell %d: got %v, want %v", k, i, got[i], want[i])
			}
		}
	}
}

func TestWorkerCountDoesNotChangeResult(t *testing.T) {
	single := newTestStore(t, 1)
	many := newTestStore(t, 8)
	applyAll(t, single, testEntries())
	applyAll(t, many, testEntries())

	a := single.CopyActive(nil)
	b := many.CopyActive(nil)
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			t.Fatalf("cell %d differs between worker counts", i)
		}
	}
}

func TestCancellationRoundTrip(t *testing.T) {
	store := newTestStore(t, 1)
	before := store.Active().Sample(0.5, 0.5)
	applyAll(t, store, []core.EditEntry{
		{UV: core.Vec2{X: 0.5, Y: 0.5}, Strength: 1},
		{UV: core.Vec2{X: 0.5, Y: 0.5}, Strength: -1},
	})
	after := store.Active().Sample(0.5, 0.5)
	if math.Abs(float64(after-before)) > 1e-5 {
		t.Errorf("height at centre: got %v, want %v", after, before)
	}
}

func TestHeightsStayInBounds(t *testing.T) {
	tests := []struct {
		name     string
		strength float64
	}{
		{"raise past max", 100},
		{"lower past zero", -100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t, 4)
			for i := 0; i < 3; i++ {
				applyAll(t, store, []core.EditEntry{{UV: core.Vec2{X: 0.5, Y: 0.5}, Strength: tc.strength}})
			}
			lo, hi := store.Active().MinMax()
			if lo < 0 || hi > testParams.MaxHeight {
				t.Errorf("range [%v, %v] escapes [0, %v]", lo, hi, testParams.MaxHeight)
			}
		})
	}
}

func TestBrushWrapsAcrossSeam(t *testing.T) {
	store := newTestStore(t, 1)
	applyAll(t, store, []core.EditEntry{{UV: core.Vec2{X: 0.001, Y: 0.5}, Strength: 1}})
	view := store.Active()
	if view.At(view.Width()-1, 8) <= 0.5 {
		t.Error("brush at u=0 should raise the last column when wrapping")
	}
}

func TestComposeLeavesArenaUntouched(t *testing.T) {
	store := newTestStore(t, 1)
	before := store.CopyActive(nil)
	gen := store.Generation()

	var scratch Scratch
	preview, err := store.Compose(testEntries()[:3], &scratch)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	expected := newTestStore(t, 1)
	applyAll(t, expected, testEntries()[:3])
	want := expected.CopyActive(nil)
	got := preview.CopyTo(nil)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("preview cell %d: got %v, want %v", i, got[i], want[i])
		}
	}

	after := store.CopyActive(nil)
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("compose modified the active slot")
		}
	}
	if store.Generation() != gen {
		t.Error("compose bumped the generation")
	}
}

func TestExportSlot(t *testing.T) {
	store := newTestStore(t, 1)
	applyAll(t, store, testEntries())

	var buf bytes.Buffer
	legend, err := store.ExportSlot(&buf, store.ActiveIndex())
	if err != nil {
		t.Fatalf("ExportSlot: %v", err)
	}
	if !legend.Active || legend.Width != 32 || legend.Height != 16 {
		t.Errorf("legend: %+v", legend)
	}
	lo, hi := store.Active().MinMax()
	if legend.Min != lo || legend.Max != hi {
		t.Errorf("legend range [%v, %v], want [%v, %v]", legend.Min, legend.Max, lo, hi)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Errorf("image bounds: %v", b)
	}

	if _, err := store.ExportSlot(&buf, 2); err == nil {
		t.Error("expected error for slot 2")
	}
}

func TestExportDir(t *testing.T) {
	store := newTestStore(t, 1)
	dir := filepath.Join(t.TempDir(), "dump")
	legends, err := store.ExportDir(dir)
	if err != nil {
		t.Fatalf("ExportDir: %v", err)
	}
	if len(legends) != 2 {
		t.Fatalf("legends: got %d", len(legends))
	}
	for _, name := range []string{"slot-0.png", "slot-1.png", "legend.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

type fixedKernel struct {
	*CPUKernel
	caps    Capabilities
	entered chan struct{}
	release chan struct{}
}

func (k *fixedKernel) Capabilities() Capabilities { return k.caps }

func (k *fixedKernel) Deform(dst, src []float32, width, height int, entry core.EditEntry, params KernelParams) error {
	if k.entered != nil {
		k.entered <- struct{}{}
		<-k.release
	}
	return k.CPUKernel.Deform(dst, src, width, height, entry, params)
}

func TestExportRequiresFloatBuffers(t *testing.T) {
	kernel := &fixedKernel{CPUKernel: NewCPUKernel(1)}
	store, err := NewRasterStore(8, 8, 0.5, kernel, testParams)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := store.ExportSlot(&buf, 0); !errors.Is(err, ErrPrecisionUnsupported) {
		t.Fatalf("got %v, want ErrPrecisionUnsupported", err)
	}
}

func TestExportRefusesDuringApply(t *testing.T) {
	kernel := &fixedKernel{
		CPUKernel: NewCPUKernel(1),
		caps:      Capabilities{FloatBuffers: true},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	store, err := NewRasterStore(8, 8, 0.5, kernel, testParams)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- store.Apply(core.EditEntry{UV: core.Vec2{X: 0.5, Y: 0.5}, Strength: 1})
	}()
	<-kernel.entered

	var buf bytes.Buffer
	if _, err := store.ExportSlot(&buf, 0); !errors.Is(err, ErrApplyInProgress) {
		t.Errorf("got %v, want ErrApplyInProgress", err)
	}

	close(kernel.release)
	if err := <-done; err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := store.ExportSlot(&buf, 0); err != nil {
		t.Errorf("export after apply: %v", err)
	}
}

func TestViewSample(t *testing.T) {
	view := NewView(2, 2, []float32{0, 1, 0, 1})
	if got := view.Sample(0.5, 0.5); math.Abs(float64(got-0.5)) > 1e-6 {
		t.Errorf("Sample centre: got %v, want 0.5", got)
	}
	if got := view.At(-1, 0); got != 1 {
		t.Errorf("At(-1,0) should wrap to the last column, got %v", got)
	}
	if got := view.At(0, 5); got != 0 {
		t.Errorf("At(0,5) should clamp to the last row, got %v", got)
	}
}
