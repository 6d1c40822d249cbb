package editlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"planetsync/core"
)

var snapshotBucket = []byte("snapshots")

// BoltStore keeps each world's log in its own bbolt bucket, keyed by the
// big-endian record index. The bucket sequence is the log length.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func worldBucket(world string) []byte {
	return []byte("world:" + world)
}

func indexKey(i uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], i)
	return k[:]
}

func (s *BoltStore) CreateWorld(ctx context.Context, world string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket(worldBucket(world))
		if errors.Is(err, bolt.ErrBucketExists) {
			return fmt.Errorf("%w: %s", ErrWorldExists, world)
		}
		return err
	})
}

func (s *BoltStore) WorldExists(ctx context.Context, world string) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(worldBucket(world)) != nil
		return nil
	})
	return exists, err
}

// Append commits rec under the next bucket sequence. bbolt serialises
// writers, so indices are gap-free.
func (s *BoltStore) Append(ctx context.Context, world string, rec core.LogRecord) (core.LogRecord, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(worldBucket(world))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownWorld, world)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.Index = seq - 1
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(indexKey(rec.Index), value)
	})
	if err != nil {
		return core.LogRecord{}, err
	}
	return rec, nil
}

func (s *BoltStore) Length(ctx context.Context, world string) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(worldBucket(world))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownWorld, world)
		}
		n = b.Sequence()
		return nil
	})
	return n, err
}

func (s *BoltStore) Range(ctx context.Context, world string, from, to uint64) ([]core.LogRecord, error) {
	var records []core.LogRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(worldBucket(world))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownWorld, world)
		}
		c := b.Cursor()
		for k, v := c.Seek(indexKey(from)); k != nil; k, v = c.Next() {
			if binary.BigEndian.Uint64(k) >= to {
				break
			}
			var rec core.LogRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func (s *BoltStore) SaveSnapshot(ctx context.Context, world string, snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(worldBucket(world)) == nil {
			return fmt.Errorf("%w: %s", ErrUnknownWorld, world)
		}
		return tx.Bucket(snapshotBucket).Put([]byte(world), data)
	})
}

func (s *BoltStore) LoadSnapshot(ctx context.Context, world string) (Snapshot, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(worldBucket(world)) == nil {
			return fmt.Errorf("%w: %s", ErrUnknownWorld, world)
		}
		v := tx.Bucket(snapshotBucket).Get([]byte(world))
		if v == nil {
			return ErrNoSnapshot
		}
		// v is only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return DecodeSnapshot(data)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
