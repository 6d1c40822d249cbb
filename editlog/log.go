// Package editlog holds the replicated, append-only edit log of each world
// and the backends it can be stored in.
package editlog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"planetsync/core"
)

var (
	ErrOutOfRange   = errors.New("editlog: index out of range")
	ErrUnknownWorld = errors.New("editlog: unknown world")
	ErrWorldExists  = errors.New("editlog: world already exists")
	ErrNoSnapshot   = errors.New("editlog: no snapshot stored")
	ErrClosed       = errors.New("editlog: log closed")
)

// Log is the view of one world's log the replay engine works against.
// Append may commit asynchronously: a successful return does not mean the
// record is visible through Length yet.
type Log interface {
	Append(ctx context.Context, rec core.LogRecord) error
	Length() int
	Entry(i int) (core.LogRecord, error)
}

// Store persists the logs and latest snapshots of many worlds. Append
// assigns the record's Index and returns the committed record.
type Store interface {
	CreateWorld(ctx context.Context, world string) error
	WorldExists(ctx context.Context, world string) (bool, error)
	Append(ctx context.Context, world string, rec core.LogRecord) (core.LogRecord, error)
	Length(ctx context.Context, world string) (uint64, error)
	Range(ctx context.Context, world string, from, to uint64) ([]core.LogRecord, error)
	SaveSnapshot(ctx context.Context, world string, snap Snapshot) error
	LoadSnapshot(ctx context.Context, world string) (Snapshot, error)
	Close() error
}

// MemoryLog is an in-process log. Appends are visible immediately.
type MemoryLog struct {
	mu      sync.RWMutex
	records []core.LogRecord
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append assigns the next index and commits rec
func (l *MemoryLog) Append(ctx context.Context, rec core.LogRecord) error {
	l.Commit(rec)
	return nil
}

// Commit is Append returning the committed record
func (l *MemoryLog) Commit(rec core.LogRecord) core.LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.Index = uint64(len(l.records))
	l.records = append(l.records, rec)
	return rec
}

// Push adds a record that already carries its index. Records must arrive
// in order without gaps.
func (l *MemoryLog) Push(rec core.LogRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Index != uint64(len(l.records)) {
		return fmt.Errorf("push index %d: log has %d records", rec.Index, len(l.records))
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *MemoryLog) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *MemoryLog) Entry(i int) (core.LogRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.records) {
		return core.LogRecord{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(l.records))
	}
	return l.records[i], nil
}

// Slice copies records [from, to), clipped to the log length
func (l *MemoryLog) Slice(from, to uint64) []core.LogRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := uint64(len(l.records))
	if to > n {
		to = n
	}
	if from >= to {
		return nil
	}
	out := make([]core.LogRecord, to-from)
	copy(out, l.records[from:to])
	return out
}

// MemoryStore keeps every world in memory; nothing survives a restart
type MemoryStore struct {
	mu        sync.RWMutex
	worlds    map[string]*MemoryLog
	snapshots map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		worlds:    make(map[string]*MemoryLog),
		snapshots: make(map[string]Snapshot),
	}
}

func (s *MemoryStore) CreateWorld(ctx context.Context, world string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.worlds[world]; ok {
		return fmt.Errorf("%w: %s", ErrWorldExists, world)
	}
	s.worlds[world] = NewMemoryLog()
	return nil
}

func (s *MemoryStore) WorldExists(ctx context.Context, world string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.worlds[world]
	return ok, nil
}

func (s *MemoryStore) world(world string) (*MemoryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.worlds[world]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorld, world)
	}
	return l, nil
}

func (s *MemoryStore) Append(ctx context.Context, world string, rec core.LogRecord) (core.LogRecord, error) {
	l, err := s.world(world)
	if err != nil {
		return core.LogRecord{}, err
	}
	return l.Commit(rec), nil
}

func (s *MemoryStore) Length(ctx context.Context, world string) (uint64, error) {
	l, err := s.world(world)
	if err != nil {
		return 0, err
	}
	return uint64(l.Length()), nil
}

func (s *MemoryStore) Range(ctx context.Context, world string, from, to uint64) ([]core.LogRecord, error) {
	l, err := s.world(world)
	if err != nil {
		return nil, err
	}
	return l.Slice(from, to), nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, world string, snap Snapshot) error {
	if _, err := s.world(world); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[world] = snap.Clone()
	return nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, world string) (Snapshot, error) {
	if _, err := s.world(world); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[world]
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	return snap.Clone(), nil
}

func (s *MemoryStore) Close() error { return nil }
