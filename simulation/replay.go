package simulation

import (
	"errors"
	"fmt"
	"io"
	"log"

	"planetsync/core"
	"planetsync/editlog"
	"planetsync/gpu"
)

// DefaultBatchSize caps how many log entries one tick replays
const DefaultBatchSize = 5

// State of the replay scheduler
type State int

const (
	StateIdle State = iota
	StateCatchingUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCatchingUp:
		return "catching-up"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Scheduler
type Options struct {
	BatchSize int
	// Origin enables optimistic local echo for edits issued under this
	// peer session id
	Origin string
	// AttachLength is the log length known to exist when the scheduler
	// attached. A replica that is still being filled may report less;
	// completion waits until this many entries are replayed.
	AttachLength int
	Logger       *log.Logger
	OnProgress func(percent float64)
	OnComplete func()
}

// TickResult reports what one Tick did
type TickResult struct {
	Applied   int // entries written into the raster
	Skipped   int // entries counted as replayed without touching the raster
	Replayed  int // replayedCount after the tick
	Total     int // log length sampled at the start of the tick, at least the attach length
	Progress  float64
	Completed bool // the one-shot completion fired during this tick
	State     State
	Err       error
}

// Scheduler turns a growing edit log into raster state, a bounded batch
// per tick. It owns the raster store: nothing else may Apply to it.
type Scheduler struct {
	log       editlog.Log
	raster    *gpu.RasterStore
	batchSize int
	attach    int
	logger    *log.Logger

	onProgress func(float64)
	onComplete func()

	replayed  int
	completed bool
	state     State
	origins   map[string]uint64

	pending *Pending
	scratch gpu.Scratch
}

// NewScheduler attaches to l with replayedCount 0
func NewScheduler(l editlog.Log, raster *gpu.RasterStore, opts Options) *Scheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	s := &Scheduler{
		log:        l,
		raster:     raster,
		batchSize:  opts.BatchSize,
		attach:     opts.AttachLength,
		logger:     opts.Logger,
		onProgress: opts.OnProgress,
		onComplete: opts.OnComplete,
		origins:    make(map[string]uint64),
	}
	if opts.Origin != "" {
		s.pending = NewPending(opts.Origin)
	}
	return s
}

// Tick replays at most BatchSize entries. It never blocks on the log and
// never abandons a selected batch except on a read or kernel failure, in
// which case replayedCount stops at the failing entry and the next tick
// retries it.
func (s *Scheduler) Tick() TickResult {
	total := s.log.Length()
	target := max(total, s.attach)
	res := TickResult{Total: target}

	if total > s.replayed {
		batchEnd := min(s.replayed+s.batchSize, total)

		for i := s.replayed; i < batchEnd; i++ {
			rec, err := s.log.Entry(i)
			if err != nil {
				res.Err = fmt.Errorf("read entry %d: %w", i, err)
				break
			}
			applied, err := s.apply(rec)
			if err != nil {
				res.Err = fmt.Errorf("apply entry %d: %w", i, err)
				break
			}
			if applied {
				res.Applied++
			} else {
				res.Skipped++
			}
			s.replayed = i + 1
		}

		if res.Err != nil {
			s.logger.Printf("replay stopped at %d/%d: %v", s.replayed, total, res.Err)
		}
		res.Progress = 100 * float64(s.replayed) / float64(target)
		if s.onProgress != nil {
			s.onProgress(res.Progress)
		}
	} else if target > 0 {
		res.Progress = 100 * float64(s.replayed) / float64(target)
	}

	if s.replayed < target {
		s.state = StateCatchingUp
	} else {
		s.state = StateIdle
		if !s.completed {
			s.completed = true
			res.Completed = true
			s.logger.Printf("caught up at %d entries", s.replayed)
			if s.onComplete != nil {
				s.onComplete()
			}
		}
	}

	res.Replayed = s.replayed
	res.State = s.state
	return res
}

// apply reports false for records that count as replayed but leave the
// raster alone: duplicates of an already applied append, and entries no
// client could apply.
func (s *Scheduler) apply(rec core.LogRecord) (bool, error) {
	if s.pending != nil {
		s.pending.Confirm(rec)
	}

	tracked := rec.Origin != "" && rec.OriginSeq > 0
	if tracked && rec.OriginSeq <= s.origins[rec.Origin] {
		return false, nil
	}

	applied := true
	if err := s.raster.Apply(rec.Entry); err != nil {
		if !errors.Is(err, gpu.ErrInvalidEntry) {
			return false, err
		}
		s.logger.Printf("skipping entry %d: %v", rec.Index, err)
		applied = false
	}
	if tracked {
		s.origins[rec.Origin] = rec.OriginSeq
	}
	return applied, nil
}

func (s *Scheduler) Replayed() int   { return s.replayed }
func (s *Scheduler) State() State    { return s.state }
func (s *Scheduler) Completed() bool { return s.completed }

// Raster returns the store the scheduler writes
func (s *Scheduler) Raster() *gpu.RasterStore { return s.raster }

// Pending returns the local echo queue, nil when no origin was configured
func (s *Scheduler) Pending() *Pending { return s.pending }

// Preview is the authoritative raster with every unconfirmed local edit
// composed on top. Without pending edits it is the active slot itself.
func (s *Scheduler) Preview() (gpu.View, error) {
	if s.pending == nil || s.pending.Len() == 0 {
		return s.raster.Active(), nil
	}
	return s.raster.Compose(s.pending.Entries(), &s.scratch)
}
