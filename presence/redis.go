package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"planetsync/core"
)

// RedisFeed keeps a world's presence in one Redis hash, field per peer.
// Relays sharing the Redis instance share presence.
type RedisFeed struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	now    func() time.Time
}

type redisEntry struct {
	Cursor   core.CursorEntry `json:"cursor"`
	LastSeen int64            `json:"lastSeen"`
}

// NewRedisFeed binds a feed to world. The hash expires ttl after its last
// write so abandoned worlds do not linger.
func NewRedisFeed(client *redis.Client, world string, ttl time.Duration) *RedisFeed {
	return &RedisFeed{
		client: client,
		key:    "presence:" + world,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (f *RedisFeed) Publish(ctx context.Context, peer string, cursor core.CursorEntry) error {
	value, err := json.Marshal(redisEntry{Cursor: cursor, LastSeen: f.now().UnixMilli()})
	if err != nil {
		return err
	}
	pipe := f.client.TxPipeline()
	pipe.HSet(ctx, f.key, peer, value)
	if f.ttl > 0 {
		pipe.Expire(ctx, f.key, f.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish presence for %s: %w", peer, err)
	}
	return nil
}

func (f *RedisFeed) Snapshot(ctx context.Context) (map[string]Entry, error) {
	fields, err := f.client.HGetAll(ctx, f.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(fields))
	for peer, raw := range fields {
		var e redisEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// a malformed slot is treated as absent
			continue
		}
		out[peer] = Entry{Cursor: e.Cursor, LastSeen: time.UnixMilli(e.LastSeen)}
	}
	return out, nil
}

func (f *RedisFeed) Remove(ctx context.Context, peer string) error {
	return f.client.HDel(ctx, f.key, peer).Err()
}
