// Package store persists treasury state. The engine exports its indices as
// flat (kind, key, value) pairs at checkpoint boundaries; this package saves
// them to Postgres and reloads them on start so a restart rebuilds identical
// indices.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save replaces the stored snapshot atomically: the previous rows and the
// new ones never coexist, so a load always sees one consistent checkpoint.
func (s *SnapshotStore) Save(ctx context.Context, pairs []Pair) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM treasury_state`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, p := range pairs {
		batch.Queue(
			`INSERT INTO treasury_state (kind, key, value, saved_at) VALUES ($1, $2, $3, $4)`,
			p.Kind, p.Key, p.Value, now,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range pairs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("write snapshot row: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("flush snapshot batch: %w", err)
	}
	return tx.Commit(ctx)
}

// Load reads the stored snapshot ordered by (kind, key).
func (s *SnapshotStore) Load(ctx context.Context) ([]Pair, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, key, value FROM treasury_state ORDER BY kind, key`)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Kind, &p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
