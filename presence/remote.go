package presence

import (
	"context"
	"errors"

	"planetsync/core"
)

// Sender forwards this session's cursor to the relay
type Sender interface {
	SendPresence(ctx context.Context, cursor core.CursorEntry) error
}

// RemoteFeed mirrors a relay's presence map on the client. Publish goes
// out through the Sender; the mirror is filled from relay messages.
type RemoteFeed struct {
	*MemoryFeed
	sender Sender
}

func NewRemoteFeed(sender Sender) *RemoteFeed {
	return &RemoteFeed{MemoryFeed: NewMemoryFeed(), sender: sender}
}

func (f *RemoteFeed) Publish(ctx context.Context, peer string, cursor core.CursorEntry) error {
	if f.sender == nil {
		return errors.New("remote presence feed has no sender")
	}
	return f.sender.SendPresence(ctx, cursor)
}

// Apply stores one update received from the relay. The entry is aged from
// local receive time; the relay's clock is not comparable with ours.
func (f *RemoteFeed) Apply(u core.PresenceUpdate) {
	f.Put(u.Peer, Entry{Cursor: u.Cursor, LastSeen: f.now()})
}

// Replace swaps the mirror for a full snapshot
func (f *RemoteFeed) Replace(updates map[string]core.PresenceUpdate) {
	f.mu.Lock()
	f.entries = make(map[string]Entry, len(updates))
	f.mu.Unlock()
	for peer, u := range updates {
		u.Peer = peer
		f.Apply(u)
	}
}

// Leave drops a peer the relay reported gone
func (f *RemoteFeed) Leave(peer string) {
	f.Remove(context.Background(), peer)
}
