package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cfotel "github.com/Strob0t/orchestrator/internal/adapter/otel"
	"github.com/Strob0t/orchestrator/internal/domain/handoff"
	"github.com/Strob0t/orchestrator/internal/domain/snapshot"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
	"github.com/Strob0t/orchestrator/internal/port/statestore"
)

// parseFailureLogged is process-wide: a corrupted snapshot is reported once
// no matter how many stores read it.
var parseFailureLogged atomic.Bool

// StateStore caches the persisted snapshot in memory and writes the full
// snapshot through to the backend on every mutation.
//
// Durability is at-most-once: write failures are logged and swallowed, and
// the cache stays at its pre-write state. The services keep their own current
// state, so the next successful write catches the snapshot up.
//
// A nil backend means no durable storage is available; the store then only
// caches in memory and never does I/O.
type StateStore struct {
	backend statestore.Backend
	metrics *cfotel.Metrics
	now     func() time.Time

	mu    sync.Mutex
	cache *snapshot.State
}

// NewStateStore creates a StateStore on the given backend (nil allowed).
func NewStateStore(backend statestore.Backend) *StateStore {
	return &StateStore{backend: backend, now: time.Now}
}

// SetMetrics attaches metric instruments for failed writes.
func (s *StateStore) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Load returns a copy of the cached snapshot, reading the backend on first use.
func (s *StateStore) Load(ctx context.Context) snapshot.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx).Clone()
}

// Reload drops the cache and reads the backend again.
func (s *StateStore) Reload(ctx context.Context) snapshot.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	return s.loadLocked(ctx).Clone()
}

// PersistWorkflows replaces the workflows of the snapshot and writes it.
func (s *StateStore) PersistWorkflows(ctx context.Context, workflows []workflow.FeatureWorkflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.loadLocked(ctx).Clone()
	next.Workflows = snapshot.CloneWorkflows(workflows)
	next.UpdatedAt = s.now()
	s.commitLocked(ctx, next, "workflows")
}

// PersistHandoffs replaces the handoff ledger of the snapshot and writes it.
func (s *StateStore) PersistHandoffs(ctx context.Context, handoffs map[string][]handoff.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.loadLocked(ctx).Clone()
	next.Handoffs = snapshot.CloneHandoffs(handoffs)
	next.UpdatedAt = s.now()
	s.commitLocked(ctx, next, "handoffs")
}

// PersistState overwrites the whole snapshot and writes it.
func (s *StateStore) PersistState(ctx context.Context, state snapshot.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := state.Clone()
	next.Normalize()
	s.commitLocked(ctx, next, "state")
}

// loadLocked must be called with s.mu held.
func (s *StateStore) loadLocked(ctx context.Context) *snapshot.State {
	if s.cache != nil {
		return s.cache
	}
	st := s.read(ctx)
	s.cache = &st
	return s.cache
}

func (s *StateStore) read(ctx context.Context) snapshot.State {
	if s.backend == nil {
		return snapshot.Empty(s.now())
	}

	data, err := s.backend.Load(ctx)
	if err != nil {
		if !errors.Is(err, statestore.ErrNoSnapshot) {
			slog.WarnContext(ctx, "snapshot read failed, starting empty", "error", err)
		}
		return snapshot.Empty(s.now())
	}

	var st snapshot.State
	if err := json.Unmarshal(data, &st); err != nil {
		if parseFailureLogged.CompareAndSwap(false, true) {
			slog.ErrorContext(ctx, "snapshot is corrupted, starting empty", "error", err)
		}
		return snapshot.Empty(s.now())
	}
	st.Normalize()
	return st
}

// commitLocked writes next and makes it the cached snapshot once the write
// succeeds. A failed write leaves the cache as it was. Must be called with
// s.mu held.
func (s *StateStore) commitLocked(ctx context.Context, next snapshot.State, kind string) {
	if s.backend == nil {
		s.cache = &next
		return
	}

	ctx, span := cfotel.StartPersistSpan(ctx, kind)
	var err error
	defer func() { cfotel.EndSpan(span, err) }()

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "snapshot encode failed", "kind", kind, "error", err)
		return
	}
	if err = s.backend.Save(ctx, data); err != nil {
		slog.ErrorContext(ctx, "snapshot write failed", "kind", kind, "error", err)
		if s.metrics != nil {
			s.metrics.PersistFailures.Add(ctx, 1)
		}
		return
	}
	s.cache = &next
}
