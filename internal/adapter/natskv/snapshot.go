// Package natskv implements the snapshot storage port on a NATS JetStream
// KeyValue bucket.
package natskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/orchestrator/internal/port/statestore"
)

// SnapshotKey is the bucket key holding the encoded snapshot.
const SnapshotKey = "snapshot"

// SnapshotStore keeps the orchestrator snapshot in a JetStream KV bucket.
// The bucket history gives operators the last few snapshots for free.
type SnapshotStore struct {
	kv jetstream.KeyValue
}

// New creates a KV-backed snapshot store.
func New(kv jetstream.KeyValue) *SnapshotStore {
	return &SnapshotStore{kv: kv}
}

// Load returns the stored snapshot, or statestore.ErrNoSnapshot.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	entry, err := s.kv.Get(ctx, SnapshotKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, statestore.ErrNoSnapshot
		}
		return nil, fmt.Errorf("natskv get %s: %w", SnapshotKey, err)
	}
	return entry.Value(), nil
}

// Save replaces the stored snapshot.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if _, err := s.kv.Put(ctx, SnapshotKey, data); err != nil {
		return fmt.Errorf("natskv put %s: %w", SnapshotKey, err)
	}
	return nil
}
