package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"planetsync/core"
)

type countingFeed struct {
	*MemoryFeed
	publishes int
}

func (c *countingFeed) Publish(ctx context.Context, peer string, cursor core.CursorEntry) error {
	c.publishes++
	return c.MemoryFeed.Publish(ctx, peer, cursor)
}

func TestBroadcasterPublishesOnChangeOnly(t *testing.T) {
	feed := &countingFeed{MemoryFeed: NewMemoryFeed()}
	b := NewBroadcaster(feed, "me", 0.01, 0.01)
	ctx := context.Background()
	up := core.Vec3{Y: 1}

	steps := []struct {
		name    string
		hover   Hover
		ok      bool
		publish bool
	}{
		{"first hover", Hover{Position: core.Vec3{Y: 1}, Normal: up}, true, true},
		{"same point", Hover{Position: core.Vec3{Y: 1}, Normal: up}, true, false},
		{"jitter below epsilon", Hover{Position: core.Vec3{X: 0.001, Y: 1}, Normal: up}, true, false},
		{"real move", Hover{Position: core.Vec3{X: 0.2, Y: 0.98}, Normal: up}, true, true},
		{"off surface", Hover{}, false, false},
		{"regained at same point", Hover{Position: core.Vec3{X: 0.2, Y: 0.98}, Normal: up}, true, true},
	}
	for _, step := range steps {
		published, err := b.Observe(ctx, step.hover, step.ok)
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if published != step.publish {
			t.Errorf("%s: published=%v, want %v", step.name, published, step.publish)
		}
	}
	if feed.publishes != 3 {
		t.Errorf("publishes: %d", feed.publishes)
	}

	entries, _ := feed.Snapshot(ctx)
	cursor := entries["me"].Cursor
	if cursor.Position.Y < 0.98+0.0099 {
		t.Errorf("cursor should be lifted along the normal: %+v", cursor.Position)
	}
	if cursor.Color != SessionColor("me") {
		t.Errorf("colour: %+v", cursor.Color)
	}
}

func TestSessionColorStable(t *testing.T) {
	a := SessionColor("peer-1")
	if a != SessionColor("peer-1") {
		t.Error("colour changed for the same session")
	}
	if a == SessionColor("peer-2") {
		t.Error("different sessions should get different colours")
	}
	for _, c := range []float32{a.R, a.G, a.B} {
		if c < 0.25 || c > 1 {
			t.Errorf("channel %v out of range", c)
		}
	}
}

func TestReaderTTL(t *testing.T) {
	feed := NewMemoryFeed()
	now := time.Unix(1000, 0)
	feed.Put("me", Entry{LastSeen: now})
	feed.Put("fresh", Entry{LastSeen: now.Add(-5 * time.Second)})
	feed.Put("stale", Entry{LastSeen: now.Add(-time.Minute)})

	r := NewReader(feed, "me", 30*time.Second)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	frame, err := r.Frame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != 1 || frame[0].Peer != "fresh" {
		t.Fatalf("frame: %+v", frame)
	}

	evicted, err := r.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Errorf("evicted: %v", evicted)
	}
	entries, _ := feed.Snapshot(ctx)
	if _, ok := entries["stale"]; ok {
		t.Error("stale entry still in feed")
	}
	if len(entries) != 2 {
		t.Errorf("entries left: %d", len(entries))
	}
}

type captureSender struct {
	cursors []core.CursorEntry
}

func (c *captureSender) SendPresence(ctx context.Context, cursor core.CursorEntry) error {
	c.cursors = append(c.cursors, cursor)
	return nil
}

func TestRemoteFeed(t *testing.T) {
	sender := &captureSender{}
	feed := NewRemoteFeed(sender)
	ctx := context.Background()

	if err := feed.Publish(ctx, "me", core.CursorEntry{}); err != nil {
		t.Fatal(err)
	}
	if len(sender.cursors) != 1 {
		t.Errorf("sent: %d", len(sender.cursors))
	}

	local := time.Unix(5000, 0)
	feed.now = func() time.Time { return local }

	// the relay clock runs an hour behind ours
	relaySeen := local.Add(-time.Hour).UnixMilli()
	feed.Replace(map[string]core.PresenceUpdate{
		"a": {LastSeen: relaySeen},
		"b": {LastSeen: relaySeen},
	})
	feed.Apply(core.PresenceUpdate{Peer: "c", LastSeen: relaySeen})
	feed.Leave("a")

	entries, _ := feed.Snapshot(ctx)
	if len(entries) != 2 {
		t.Fatalf("entries: %v", entries)
	}
	for peer, e := range entries {
		if !e.LastSeen.Equal(local) {
			t.Errorf("%s: last seen %v, want local receive time", peer, e.LastSeen)
		}
	}

	r := NewReader(feed, "me", 30*time.Second)
	r.now = func() time.Time { return local.Add(time.Second) }
	frame, err := r.Frame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != 2 {
		t.Errorf("skewed relay clock hid cursors: %+v", frame)
	}
}

func TestIdlePeerStaysVisible(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	feed := &countingFeed{MemoryFeed: NewMemoryFeed()}
	feed.now = clock
	ttl := 5 * time.Second

	alice := NewBroadcaster(feed, "alice", 0, 0)
	alice.now = clock
	alice.KeepAlive(ttl / 2)
	bob := NewReader(feed, "bob", ttl)
	bob.now = clock

	ctx := context.Background()
	still := Hover{Position: core.Vec3{Y: 1}, Normal: core.Vec3{Y: 1}}
	lastSweep := now
	for frame := 0; frame < 600; frame++ {
		if _, err := alice.Observe(ctx, still, true); err != nil {
			t.Fatal(err)
		}
		if now.Sub(lastSweep) >= time.Second {
			lastSweep = now
			if _, err := bob.Sweep(ctx); err != nil {
				t.Fatal(err)
			}
		}
		now = now.Add(time.Second / 60)
	}

	cursors, err := bob.Frame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cursors) != 1 || cursors[0].Peer != "alice" {
		t.Errorf("idle peer lost: %+v", cursors)
	}
	if feed.publishes < 2 || feed.publishes > 6 {
		t.Errorf("publishes over 10s: %d, want keep-alives only", feed.publishes)
	}
}

func TestRedisFeed(t *testing.T) {
	addr := os.Getenv("PLANETSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PLANETSYNC_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	feed := NewRedisFeed(client, uuid.NewString(), time.Minute)
	cursor := core.CursorEntry{Position: core.Vec3{X: 1}, Color: core.ColorRGB{R: 1}}
	if err := feed.Publish(ctx, "p1", cursor); err != nil {
		t.Fatal(err)
	}
	if err := feed.Publish(ctx, "p2", cursor); err != nil {
		t.Fatal(err)
	}
	entries, err := feed.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries["p1"].Cursor != cursor {
		t.Errorf("entries: %+v", entries)
	}
	if err := feed.Remove(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	entries, _ = feed.Snapshot(ctx)
	if _, ok := entries["p1"]; ok {
		t.Error("p1 not removed")
	}
}
