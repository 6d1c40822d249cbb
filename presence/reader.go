package presence

import (
	"context"
	"sort"
	"time"
)

// DefaultTTL is how long a peer's cursor lives without a fresh publish
const DefaultTTL = 30 * time.Second

// Indicator is one peer cursor to draw this frame
type Indicator struct {
	Peer string
	Entry
}

// Reader turns a feed into the per-frame set of live peer cursors
type Reader struct {
	feed Feed
	self string
	ttl  time.Duration
	now  func() time.Time
}

// NewReader skips the session's own peer id. ttl <= 0 takes DefaultTTL.
func NewReader(feed Feed, self string, ttl time.Duration) *Reader {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reader{feed: feed, self: self, ttl: ttl, now: time.Now}
}

// Frame returns every other peer's latest cursor that is younger than the
// TTL, ordered by peer id
func (r *Reader) Frame(ctx context.Context) ([]Indicator, error) {
	entries, err := r.feed.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := r.now().Add(-r.ttl)
	out := make([]Indicator, 0, len(entries))
	for peer, e := range entries {
		if peer == r.self || e.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, Indicator{Peer: peer, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out, nil
}

// Sweep removes entries older than the TTL from the feed and returns the
// evicted peer ids
func (r *Reader) Sweep(ctx context.Context) ([]string, error) {
	entries, err := r.feed.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := r.now().Add(-r.ttl)
	var evicted []string
	for peer, e := range entries {
		if !e.LastSeen.Before(cutoff) {
			continue
		}
		if err := r.feed.Remove(ctx, peer); err != nil {
			return evicted, err
		}
		evicted = append(evicted, peer)
	}
	sort.Strings(evicted)
	return evicted, nil
}
