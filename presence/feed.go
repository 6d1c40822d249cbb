// Package presence shares each peer's latest cursor on the planet surface.
// A feed holds one slot per peer session; readers see the newest value of
// every slot, never a history.
package presence

import (
	"context"
	"sync"
	"time"

	"planetsync/core"
)

// Entry is a peer's latest cursor and when it was published
type Entry struct {
	Cursor   core.CursorEntry
	LastSeen time.Time
}

// Feed is the per-world presence map
type Feed interface {
	Publish(ctx context.Context, peer string, cursor core.CursorEntry) error
	Snapshot(ctx context.Context) (map[string]Entry, error)
	Remove(ctx context.Context, peer string) error
}

// MemoryFeed is a Feed held in process
type MemoryFeed struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{entries: make(map[string]Entry), now: time.Now}
}

func (f *MemoryFeed) Publish(ctx context.Context, peer string, cursor core.CursorEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[peer] = Entry{Cursor: cursor, LastSeen: f.now()}
	return nil
}

// Put stores an entry with an explicit timestamp
func (f *MemoryFeed) Put(peer string, e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[peer] = e
}

func (f *MemoryFeed) Snapshot(ctx context.Context) (map[string]Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Entry, len(f.entries))
	for k, v := range f.entries {
		out[k] = v
	}
	return out, nil
}

func (f *MemoryFeed) Remove(ctx context.Context, peer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, peer)
	return nil
}

// Updates converts a snapshot to wire form
func Updates(entries map[string]Entry) map[string]core.PresenceUpdate {
	out := make(map[string]core.PresenceUpdate, len(entries))
	for peer, e := range entries {
		out[peer] = core.PresenceUpdate{Peer: peer, Cursor: e.Cursor, LastSeen: e.LastSeen.UnixMilli()}
	}
	return out
}
