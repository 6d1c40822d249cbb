package simulation

import (
	"fmt"

	"planetsync/editlog"
	"planetsync/gpu"
)

// Snapshot captures the replayed prefix. Call it between ticks.
func (s *Scheduler) Snapshot() editlog.Snapshot {
	origins := make(map[string]uint64, len(s.origins))
	for k, v := range s.origins {
		origins[k] = v
	}
	return editlog.Snapshot{
		Count:   uint64(s.replayed),
		Width:   s.raster.Width(),
		Height:  s.raster.Height(),
		Heights: s.raster.CopyActive(nil),
		Origins: origins,
	}
}

// Restore loads snap into raster and returns a scheduler that resumes
// replay at snap.Count
func Restore(l editlog.Log, raster *gpu.RasterStore, snap editlog.Snapshot, opts Options) (*Scheduler, error) {
	if snap.Width != raster.Width() || snap.Height != raster.Height() {
		return nil, fmt.Errorf("snapshot is %dx%d, raster is %dx%d", snap.Width, snap.Height, raster.Width(), raster.Height())
	}
	if int(snap.Count) > l.Length() {
		return nil, fmt.Errorf("snapshot covers %d entries, log has %d", snap.Count, l.Length())
	}
	if err := raster.Load(snap.Heights); err != nil {
		return nil, err
	}
	s := NewScheduler(l, raster, opts)
	s.replayed = int(snap.Count)
	for k, v := range snap.Origins {
		s.origins[k] = v
	}
	return s, nil
}
