package editlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"planetsync/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS worlds (
	id         TEXT PRIMARY KEY,
	length     BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS edit_log (
	world_id   TEXT NOT NULL REFERENCES worlds(id),
	idx        BIGINT NOT NULL,
	origin     TEXT NOT NULL DEFAULT '',
	origin_seq BIGINT NOT NULL DEFAULT 0,
	u          DOUBLE PRECISION NOT NULL,
	v          DOUBLE PRECISION NOT NULL,
	strength   DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (world_id, idx)
);
CREATE TABLE IF NOT EXISTS world_snapshots (
	world_id TEXT PRIMARY KEY REFERENCES worlds(id),
	count    BIGINT NOT NULL,
	data     BYTEA NOT NULL
);`

// PostgresStore keeps every world in shared tables. The index is taken
// from the world's length counter, whose row lock serialises appends to
// one world across relay processes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and makes sure the schema exists
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateWorld(ctx context.Context, world string) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO worlds (id) VALUES ($1) ON CONFLICT DO NOTHING`, world)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrWorldExists, world)
	}
	return nil
}

func (s *PostgresStore) WorldExists(ctx context.Context, world string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM worlds WHERE id = $1)`, world).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Append(ctx context.Context, world string, rec core.LogRecord) (core.LogRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.LogRecord{}, err
	}
	defer tx.Rollback(ctx)

	var length int64
	err = tx.QueryRow(ctx, `UPDATE worlds SET length = length + 1 WHERE id = $1 RETURNING length`, world).Scan(&length)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.LogRecord{}, fmt.Errorf("%w: %s", ErrUnknownWorld, world)
	}
	if err != nil {
		return core.LogRecord{}, err
	}
	rec.Index = uint64(length - 1)

	_, err = tx.Exec(ctx,
		`INSERT INTO edit_log (world_id, idx, origin, origin_seq, u, v, strength) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		world, int64(rec.Index), rec.Origin, int64(rec.OriginSeq), rec.Entry.UV.X, rec.Entry.UV.Y, rec.Entry.Strength)
	if err != nil {
		return core.LogRecord{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return core.LogRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) Length(ctx context.Context, world string) (uint64, error) {
	var length int64
	err := s.pool.QueryRow(ctx, `SELECT length FROM worlds WHERE id = $1`, world).Scan(&length)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownWorld, world)
	}
	return uint64(length), err
}

func (s *PostgresStore) Range(ctx context.Context, world string, from, to uint64) ([]core.LogRecord, error) {
	if ok, err := s.WorldExists(ctx, world); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorld, world)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT idx, origin, origin_seq, u, v, strength FROM edit_log
		 WHERE world_id = $1 AND idx >= $2 AND idx < $3 ORDER BY idx`,
		world, int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []core.LogRecord
	for rows.Next() {
		var (
			idx, seq int64
			rec      core.LogRecord
		)
		if err := rows.Scan(&idx, &rec.Origin, &seq, &rec.Entry.UV.X, &rec.Entry.UV.Y, &rec.Entry.Strength); err != nil {
			return nil, err
		}
		rec.Index = uint64(idx)
		rec.OriginSeq = uint64(seq)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, world string, snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO world_snapshots (world_id, count, data) VALUES ($1, $2, $3)
		 ON CONFLICT (world_id) DO UPDATE SET count = EXCLUDED.count, data = EXCLUDED.data`,
		world, int64(snap.Count), data)
	return err
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, world string) (Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM world_snapshots WHERE world_id = $1`, world).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		if ok, existsErr := s.WorldExists(ctx, world); existsErr == nil && !ok {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownWorld, world)
		}
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, err
	}
	return DecodeSnapshot(data)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
