package presence

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"planetsync/core"
)

const (
	DefaultMoveEpsilon = 0.001
	DefaultLiftOffset  = 0.01
)

// Hover is the surface point under the local pointer
type Hover struct {
	Position core.Vec3
	Normal   core.Vec3
}

// Broadcaster publishes the local cursor when the hover target changes
type Broadcaster struct {
	feed    Feed
	peer    string
	color   core.ColorRGB
	epsilon float32
	lift    float32

	hovering bool
	last     core.Vec3

	keepAlive time.Duration
	now       func() time.Time
	published bool
	cursor    core.CursorEntry
	sentAt    time.Time
}

// NewBroadcaster publishes for peer with its session colour. Zero epsilon
// and lift take the defaults.
func NewBroadcaster(feed Feed, peer string, epsilon, lift float32) *Broadcaster {
	if epsilon <= 0 {
		epsilon = DefaultMoveEpsilon
	}
	if lift <= 0 {
		lift = DefaultLiftOffset
	}
	return &Broadcaster{
		feed:    feed,
		peer:    peer,
		color:   SessionColor(peer),
		epsilon: epsilon,
		lift:    lift,
		now:     time.Now,
	}
}

// KeepAlive makes Observe republish the last cursor when nothing was
// published for the given interval, so readers evicting by age keep seeing
// a peer that is connected but idle. Zero disables it.
func (b *Broadcaster) KeepAlive(every time.Duration) {
	b.keepAlive = every
}

func (b *Broadcaster) Color() core.ColorRGB { return b.color }

// Observe is called once per frame. It publishes when the pointer regains
// the surface or moves further than epsilon, and reports whether it did.
// Losing the surface publishes nothing; the last value stays in the feed.
// Between changes only the keep-alive republishes.
func (b *Broadcaster) Observe(ctx context.Context, hover Hover, ok bool) (bool, error) {
	if !ok {
		b.hovering = false
		return b.refresh(ctx)
	}
	moved := hover.Position.Add(b.last.Scale(-1)).Length() > b.epsilon
	if b.hovering && !moved {
		return b.refresh(ctx)
	}

	normal := hover.Normal.Normalize()
	cursor := core.CursorEntry{
		Position: hover.Position.Add(normal.Scale(b.lift)),
		Normal:   normal,
		Color:    b.color,
	}
	if err := b.feed.Publish(ctx, b.peer, cursor); err != nil {
		return false, err
	}
	b.hovering = true
	b.last = hover.Position
	b.published = true
	b.cursor = cursor
	b.sentAt = b.now()
	return true, nil
}

func (b *Broadcaster) refresh(ctx context.Context) (bool, error) {
	if b.keepAlive <= 0 || !b.published || b.now().Sub(b.sentAt) < b.keepAlive {
		return false, nil
	}
	if err := b.feed.Publish(ctx, b.peer, b.cursor); err != nil {
		return false, err
	}
	b.sentAt = b.now()
	return true, nil
}

// SessionColor derives a bright random colour from a peer session id. The
// same id always maps to the same colour.
func SessionColor(peer string) core.ColorRGB {
	h := fnv.New64a()
	h.Write([]byte(peer))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	channel := func() float32 { return 0.25 + 0.75*rng.Float32() }
	return core.ColorRGB{R: channel(), G: channel(), B: channel()}
}
