package simulation

import (
	"context"
	"testing"

	"planetsync/core"
	"planetsync/editlog"
)

// delayedLog accepts appends but only commits them when released, like a
// remote log whose echo has not arrived yet
type delayedLog struct {
	*editlog.MemoryLog
	queued []core.LogRecord
}

func (d *delayedLog) Append(ctx context.Context, rec core.LogRecord) error {
	d.queued = append(d.queued, rec)
	return nil
}

func (d *delayedLog) release() {
	for _, rec := range d.queued {
		d.MemoryLog.Commit(rec)
	}
	d.queued = nil
}

func TestOptimisticEcho(t *testing.T) {
	l := &delayedLog{MemoryLog: editlog.NewMemoryLog()}
	s := NewScheduler(l, newRaster(t), Options{Origin: "me"})
	s.Tick()

	entry := core.EditEntry{UV: core.Vec2{X: 0.5, Y: 0.5}, Strength: 1}
	rec := s.Pending().Issue(entry)
	if err := l.Append(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	s.Tick()

	before := s.Raster().Active().Sample(0.5, 0.5)
	preview, err := s.Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	echoed := preview.Sample(0.5, 0.5)
	if echoed <= before {
		t.Fatalf("preview should show the pending edit: %v <= %v", echoed, before)
	}
	if s.Raster().Generation() != 0 {
		t.Fatal("pending edit reached the authoritative raster")
	}

	l.release()
	s.Tick()
	if s.Pending().Len() != 0 {
		t.Errorf("pending after echo: %d", s.Pending().Len())
	}
	if got := s.Raster().Active().Sample(0.5, 0.5); got != echoed {
		t.Errorf("authoritative height %v, preview showed %v", got, echoed)
	}
	if s.Raster().Generation() != 1 {
		t.Errorf("edit applied %d times", s.Raster().Generation())
	}
}

func TestPendingConfirm(t *testing.T) {
	p := NewPending("me")
	entry := core.EditEntry{UV: core.Vec2{X: 0.5, Y: 0.5}, Strength: 1}
	r1 := p.Issue(entry)
	r2 := p.Issue(entry)
	r3 := p.Issue(entry)

	if p.Confirm(core.LogRecord{Origin: "other", OriginSeq: 2}) {
		t.Error("another origin must not confirm")
	}
	if !p.Confirm(r2) {
		t.Error("r2 should be confirmed")
	}
	// r1 was issued before r2 and never echoed, so it is gone too
	if p.Len() != 1 {
		t.Fatalf("pending: %d", p.Len())
	}
	p.Drop(r3)
	if p.Len() != 0 {
		t.Errorf("pending after drop: %d", p.Len())
	}
	if r1.OriginSeq != 1 || r3.OriginSeq != 3 || r1.Origin != "me" {
		t.Errorf("sequence stamping: %+v %+v", r1, r3)
	}
}
