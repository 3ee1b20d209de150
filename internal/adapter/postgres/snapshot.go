package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/orchestrator/internal/port/statestore"
)

// SnapshotStore keeps the orchestrator snapshot in the single-row
// orchestrator_snapshots table.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Load returns the stored snapshot document, or statestore.ErrNoSnapshot.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM orchestrator_snapshots WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, statestore.ErrNoSnapshot
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return data, nil
}

// Save upserts the snapshot document. The schema version is copied into
// its own column so operators can query it without parsing the document.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO orchestrator_snapshots (id, version, data, updated_at)
		 VALUES (1, $1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		head.Version, data)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
