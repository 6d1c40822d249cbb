package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"planetsync/config"
	"planetsync/core"
	"planetsync/editlog"
	"planetsync/gpu"
	"planetsync/presence"
	"planetsync/simulation"
)

// ErrInvalidEntry is reported to a peer whose append cannot be applied
var ErrInvalidEntry = errors.New("relay: invalid edit entry")

// storeSyncInterval is how often a world looks for records other relay
// processes committed to a shared store
const storeSyncInterval = 200 * time.Millisecond

// World is one live world on the relay: the writer of its log for this
// process, the fan-out point for its subscribers and a headless replica
// that produces snapshots for joiners. The store assigns indexes, so
// several relays may share one store; each backfills what the others
// committed.
type World struct {
	id       string
	store    editlog.Store
	feed     presence.Feed
	reader   *presence.Reader
	logger   *log.Logger
	settings config.Settings

	mu      sync.Mutex // serialises appends and the subscriber set
	replica *editlog.MemoryLog
	subs    map[*subscriber]struct{}

	// owned by the server's tick loop
	scheduler    *simulation.Scheduler
	lastSnapshot uint64
	lastSweep    time.Time
	lastSync     time.Time
}

func openWorld(ctx context.Context, id string, store editlog.Store, feed presence.Feed, settings config.Settings, logger *log.Logger) (*World, error) {
	ok, err := store.WorldExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", editlog.ErrUnknownWorld, id)
	}

	n, err := store.Length(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := store.Range(ctx, id, 0, n)
	if err != nil {
		return nil, fmt.Errorf("load world %s: %w", id, err)
	}
	replica := editlog.NewMemoryLog()
	for _, rec := range records {
		if err := replica.Push(rec); err != nil {
			return nil, fmt.Errorf("load world %s: %w", id, err)
		}
	}

	raster, err := gpu.NewRasterFromSettings(settings.Raster)
	if err != nil {
		return nil, err
	}
	opts := simulation.Options{BatchSize: settings.Replay.BatchSize, Logger: logger}
	scheduler := simulation.NewScheduler(replica, raster, opts)
	var lastSnapshot uint64

	snap, err := store.LoadSnapshot(ctx, id)
	switch {
	case err == nil:
		restored, restoreErr := simulation.Restore(replica, raster, snap, opts)
		if restoreErr != nil {
			logger.Printf("world %s: ignoring snapshot: %v", id, restoreErr)
			break
		}
		scheduler = restored
		lastSnapshot = snap.Count
	case !errors.Is(err, editlog.ErrNoSnapshot):
		logger.Printf("world %s: snapshot unreadable, replaying from 0: %v", id, err)
	}

	logger.Printf("world %s opened: %d entries, snapshot at %d", id, n, lastSnapshot)
	return &World{
		id:           id,
		store:        store,
		feed:         feed,
		reader:       presence.NewReader(feed, "", settings.Presence.PresenceTTL()),
		logger:       logger,
		settings:     settings,
		replica:      replica,
		subs:         make(map[*subscriber]struct{}),
		scheduler:    scheduler,
		lastSnapshot: lastSnapshot,
	}, nil
}

func (w *World) ID() string { return w.id }

func (w *World) Length() uint64 {
	return uint64(w.replica.Length())
}

// Append commits rec on behalf of peer and wakes every subscriber
func (w *World) Append(ctx context.Context, peer string, rec core.LogRecord) (core.LogRecord, error) {
	if !rec.Entry.Valid() {
		return core.LogRecord{}, fmt.Errorf("%w: %+v", ErrInvalidEntry, rec.Entry)
	}
	rec.Origin = peer

	w.mu.Lock()
	defer w.mu.Unlock()
	committed, err := w.store.Append(ctx, w.id, rec)
	if err != nil {
		return core.LogRecord{}, err
	}
	if err := w.backfill(ctx, committed.Index); err != nil {
		return core.LogRecord{}, err
	}
	if err := w.replica.Push(committed); err != nil {
		return core.LogRecord{}, err
	}
	for sub := range w.subs {
		sub.wake()
	}
	return committed, nil
}

// backfill copies records [len(replica), upto) from the store. Caller
// holds w.mu.
func (w *World) backfill(ctx context.Context, upto uint64) error {
	have := uint64(w.replica.Length())
	if upto <= have {
		return nil
	}
	records, err := w.store.Range(ctx, w.id, have, upto)
	if err != nil {
		return fmt.Errorf("backfill world %s: %w", w.id, err)
	}
	for _, rec := range records {
		if err := w.replica.Push(rec); err != nil {
			return fmt.Errorf("backfill world %s: %w", w.id, err)
		}
	}
	for sub := range w.subs {
		sub.wake()
	}
	return nil
}

// sync picks up records appended to the store by other relay processes
func (w *World) sync(ctx context.Context) error {
	n, err := w.store.Length(ctx, w.id)
	if err != nil {
		return fmt.Errorf("sync world %s: %w", w.id, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.backfill(ctx, n)
}

// Publish stores a peer's cursor and forwards it to everyone else
func (w *World) Publish(ctx context.Context, peer string, cursor core.CursorEntry) error {
	if err := w.feed.Publish(ctx, peer, cursor); err != nil {
		return err
	}
	w.broadcast(peer, core.Message{
		Type:     core.MsgPresence,
		World:    w.id,
		Presence: &core.PresenceUpdate{Peer: peer, Cursor: cursor, LastSeen: time.Now().UnixMilli()},
	})
	return nil
}

func (w *World) subscribe(ctx context.Context, sub *subscriber) {
	w.mu.Lock()
	w.subs[sub] = struct{}{}
	w.mu.Unlock()

	entries, err := w.feed.Snapshot(ctx)
	if err != nil {
		w.logger.Printf("world %s: presence snapshot: %v", w.id, err)
	} else {
		delete(entries, sub.peer)
		sub.enqueue(core.Message{Type: core.MsgPresenceSnapshot, World: w.id, Cursors: presence.Updates(entries)})
	}
	sub.wake()
}

func (w *World) unsubscribe(ctx context.Context, sub *subscriber) {
	w.mu.Lock()
	delete(w.subs, sub)
	w.mu.Unlock()

	if err := w.feed.Remove(ctx, sub.peer); err != nil {
		w.logger.Printf("world %s: remove presence for %s: %v", w.id, sub.peer, err)
	}
	w.broadcast(sub.peer, core.Message{Type: core.MsgPresenceLeave, World: w.id, Peer: sub.peer})
}

// broadcast queues msg for every subscriber except the one for peer.
// Subscribers that cannot keep up are disconnected.
func (w *World) broadcast(except string, msg core.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for sub := range w.subs {
		if sub.peer == except {
			continue
		}
		if !sub.enqueue(msg) {
			w.logger.Printf("world %s: peer %s too slow, disconnecting", w.id, sub.peer)
			delete(w.subs, sub)
			sub.close()
		}
	}
}

func (w *World) subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// tick advances the headless replica one step, saves a snapshot when one
// is due and evicts stale presence. Only the server's tick loop calls it.
func (w *World) tick(ctx context.Context) {
	if now := time.Now(); now.Sub(w.lastSync) >= storeSyncInterval {
		w.lastSync = now
		if err := w.sync(ctx); err != nil {
			w.logger.Printf("%v", err)
		}
	}

	res := w.scheduler.Tick()
	if res.Err != nil {
		w.logger.Printf("world %s: %v", w.id, res.Err)
	}

	interval := uint64(max(w.settings.Replay.SnapshotInterval, 1))
	if replayed := uint64(w.scheduler.Replayed()); replayed >= w.lastSnapshot+interval {
		if err := w.store.SaveSnapshot(ctx, w.id, w.scheduler.Snapshot()); err != nil {
			w.logger.Printf("world %s: save snapshot: %v", w.id, err)
		} else {
			w.lastSnapshot = replayed
			w.logger.Printf("world %s: snapshot at %d", w.id, replayed)
		}
	}

	if now := time.Now(); now.Sub(w.lastSweep) >= time.Second {
		w.lastSweep = now
		evicted, err := w.reader.Sweep(ctx)
		if err != nil {
			w.logger.Printf("world %s: presence sweep: %v", w.id, err)
		}
		for _, peer := range evicted {
			w.broadcast(peer, core.Message{Type: core.MsgPresenceLeave, World: w.id, Peer: peer})
		}
	}
}
