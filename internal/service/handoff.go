package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cfotel "github.com/Strob0t/orchestrator/internal/adapter/otel"
	"github.com/Strob0t/orchestrator/internal/domain"
	"github.com/Strob0t/orchestrator/internal/domain/event"
	"github.com/Strob0t/orchestrator/internal/domain/handoff"
	"github.com/Strob0t/orchestrator/internal/domain/snapshot"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
	"github.com/Strob0t/orchestrator/internal/port/eventbus"
	"github.com/Strob0t/orchestrator/internal/port/registry"
)

// handoffStore is the part of StateStore the handoff manager writes through to.
type handoffStore interface {
	Load(ctx context.Context) snapshot.State
	PersistHandoffs(ctx context.Context, handoffs map[string][]handoff.Record)
}

// HandoffService records transfers of work between the agents of a feature
// workflow. It checks the transfer rules against the registry, drives the
// target agent's status, emits events and persists the ledger.
//
// A single mutex serialises validation, mutation and persistence, so two
// concurrent handoffs on the same workflow never validate against stale
// agent state. Events are emitted after the lock is released.
type HandoffService struct {
	registry registry.Registry
	bus      eventbus.Bus
	store    handoffStore
	metrics  *cfotel.Metrics
	now      func() time.Time
	newID    func() string

	mu     sync.Mutex
	ledger map[string][]handoff.Record
}

// NewHandoffService creates a handoff manager with an empty ledger. Call
// Restore to seed it from the persisted snapshot.
func NewHandoffService(reg registry.Registry, bus eventbus.Bus, store handoffStore) *HandoffService {
	return &HandoffService{
		registry: reg,
		bus:      bus,
		store:    store,
		now:      time.Now,
		newID:    handoff.NewID,
		ledger:   make(map[string][]handoff.Record),
	}
}

// SetMetrics attaches metric instruments.
func (s *HandoffService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Restore replaces the ledger with the handoffs of the persisted snapshot.
func (s *HandoffService) Restore(ctx context.Context) int {
	st := s.store.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = st.Handoffs
	n := 0
	for _, records := range s.ledger {
		n += len(records)
	}
	return n
}

// Create attempts a handoff. An unknown workflow is an error; a handoff that
// breaks the transfer rules is not: it is recorded as failed, the target
// agent is parked in Waiting, and handoff.failed is emitted.
func (s *HandoffService) Create(ctx context.Context, req handoff.CreateRequest) (handoff.Record, error) {
	ctx, span := cfotel.StartHandoffSpan(ctx, "create", req.FeatureID, "")
	var err error
	defer func() { cfotel.EndSpan(span, err) }()

	s.mu.Lock()

	wf, err := s.workflow(ctx, req.FeatureID)
	if err != nil {
		s.mu.Unlock()
		return handoff.Record{}, err
	}

	now := s.now()
	rec := handoff.Record{
		ID:        s.newID(),
		FeatureID: req.FeatureID,
		FromAgent: req.FromAgent,
		ToAgent:   req.ToAgent,
		CreatedAt: now,
		Payload:   req.Payload,
	}

	var (
		patch   workflow.AgentPatch
		payload event.Payload
	)
	if errs := handoff.Validate(wf, req.FromAgent, req.ToAgent); len(errs) > 0 {
		completed := now
		rec.Status = handoff.StatusFailed
		rec.CompletedAt = &completed
		rec.ValidationErrors = errs
		patch = workflow.Wait(strings.Join(errs, "; "))
		payload = event.HandoffFailed{
			FeatureID:        rec.FeatureID,
			HandoffID:        rec.ID,
			FromAgent:        rec.FromAgent,
			ToAgent:          rec.ToAgent,
			ValidationErrors: append([]string(nil), errs...),
		}
	} else {
		rec.Status = handoff.StatusPending
		if req.AutoActivate {
			patch = workflow.Activate()
		} else {
			patch = workflow.Queue()
		}
		payload = event.HandoffPending{
			FeatureID: rec.FeatureID,
			HandoffID: rec.ID,
			FromAgent: rec.FromAgent,
			ToAgent:   rec.ToAgent,
		}
	}

	s.ledger[req.FeatureID] = append(s.ledger[req.FeatureID], rec)
	s.updateAgent(ctx, req.FeatureID, req.ToAgent, patch)
	s.persistLocked(ctx)
	out := rec.Clone()
	s.mu.Unlock()

	cfotel.AnnotateHandoff(span, out.ID)
	s.bus.Emit(ctx, event.New(payload, now))
	if s.metrics != nil {
		s.metrics.RecordHandoffCreated(ctx, string(out.Status))
	}
	slog.InfoContext(ctx, "handoff created",
		"feature_id", out.FeatureID,
		"handoff_id", out.ID,
		"from", out.FromAgent,
		"to", out.ToAgent,
		"status", out.Status,
	)
	return out, nil
}

// Complete resolves a pending handoff. Unless AutoActivate is explicitly
// false the target agent is activated with zero progress. A nil payload
// keeps the payload given at creation.
func (s *HandoffService) Complete(ctx context.Context, req handoff.CompleteRequest) (handoff.Record, error) {
	ctx, span := cfotel.StartHandoffSpan(ctx, "complete", req.FeatureID, req.HandoffID)
	var err error
	defer func() { cfotel.EndSpan(span, err) }()

	s.mu.Lock()

	if _, err = s.workflow(ctx, req.FeatureID); err != nil {
		s.mu.Unlock()
		return handoff.Record{}, err
	}
	var rec *handoff.Record
	if rec, err = s.findLocked(req.FeatureID, req.HandoffID); err != nil {
		s.mu.Unlock()
		return handoff.Record{}, err
	}
	if !rec.CanComplete() {
		err = fmt.Errorf("complete %s (%s): %w", rec.ID, rec.Status, handoff.ErrResolved)
		s.mu.Unlock()
		return handoff.Record{}, err
	}

	now := s.now()
	rec.Complete(req.Payload, now)
	if req.ShouldActivate() {
		s.updateAgent(ctx, req.FeatureID, rec.ToAgent, workflow.Activate())
	}
	s.persistLocked(ctx)
	out := rec.Clone()
	s.mu.Unlock()

	s.bus.Emit(ctx, event.New(event.HandoffCompleted{
		FeatureID: out.FeatureID,
		HandoffID: out.ID,
		ToAgent:   out.ToAgent,
	}, now))
	if s.metrics != nil {
		s.metrics.HandoffsCompleted.Add(ctx, 1)
	}
	slog.InfoContext(ctx, "handoff completed", "feature_id", out.FeatureID, "handoff_id", out.ID, "to", out.ToAgent)
	return out, nil
}

// Fail marks a handoff as failed with reason and parks the target agent in
// Waiting. Failing an already failed handoff appends the reason. The
// workflow itself is not looked up.
func (s *HandoffService) Fail(ctx context.Context, req handoff.FailRequest) (handoff.Record, error) {
	ctx, span := cfotel.StartHandoffSpan(ctx, "fail", req.FeatureID, req.HandoffID)
	var err error
	defer func() { cfotel.EndSpan(span, err) }()

	s.mu.Lock()

	var rec *handoff.Record
	if rec, err = s.findLocked(req.FeatureID, req.HandoffID); err != nil {
		s.mu.Unlock()
		return handoff.Record{}, err
	}
	if !rec.CanFail() {
		err = fmt.Errorf("fail %s (%s): %w", rec.ID, rec.Status, handoff.ErrResolved)
		s.mu.Unlock()
		return handoff.Record{}, err
	}

	now := s.now()
	rec.Fail(req.Reason, now)
	s.updateAgent(ctx, req.FeatureID, rec.ToAgent, workflow.Wait(req.Reason))
	s.persistLocked(ctx)
	out := rec.Clone()
	s.mu.Unlock()

	s.bus.Emit(ctx, event.New(event.HandoffFailed{
		FeatureID: out.FeatureID,
		HandoffID: out.ID,
		Reason:    req.Reason,
	}, now))
	if s.metrics != nil {
		s.metrics.HandoffsFailed.Add(ctx, 1)
	}
	slog.InfoContext(ctx, "handoff failed", "feature_id", out.FeatureID, "handoff_id", out.ID, "reason", req.Reason)
	return out, nil
}

// List returns copies of all handoffs of a feature in creation order.
func (s *HandoffService) List(featureID string) []handoff.Record {
	return s.filter(featureID, func(*handoff.Record) bool { return true })
}

// ListActive returns copies of the pending handoffs of a feature in creation order.
func (s *HandoffService) ListActive(featureID string) []handoff.Record {
	return s.filter(featureID, func(r *handoff.Record) bool { return r.Status == handoff.StatusPending })
}

func (s *HandoffService) filter(featureID string, keep func(*handoff.Record) bool) []handoff.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.ledger[featureID]
	out := make([]handoff.Record, 0, len(records))
	for i := range records {
		if keep(&records[i]) {
			out = append(out, records[i].Clone())
		}
	}
	return out
}

// workflow fetches the workflow, mapping a missing one to ErrWorkflowNotFound.
func (s *HandoffService) workflow(ctx context.Context, featureID string) (*workflow.FeatureWorkflow, error) {
	wf, err := s.registry.Get(ctx, featureID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", handoff.ErrWorkflowNotFound, featureID)
		}
		return nil, fmt.Errorf("get workflow %s: %w", featureID, err)
	}
	return wf, nil
}

// findLocked must be called with s.mu held. The returned pointer aliases the ledger.
func (s *HandoffService) findLocked(featureID, handoffID string) (*handoff.Record, error) {
	records, ok := s.ledger[featureID]
	if !ok {
		return nil, fmt.Errorf("%w: feature %s", handoff.ErrNoHandoffs, featureID)
	}
	for i := range records {
		if records[i].ID == handoffID {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", handoff.ErrHandoffNotFound, handoffID)
}

// updateAgent applies a status side effect. The handoff is already recorded,
// so a registry failure is logged rather than returned.
func (s *HandoffService) updateAgent(ctx context.Context, featureID, agentID string, patch workflow.AgentPatch) {
	if err := s.registry.UpdateAgentStatus(ctx, featureID, agentID, patch); err != nil {
		slog.WarnContext(ctx, "agent status update skipped", "feature_id", featureID, "agent_id", agentID, "error", err)
	}
}

// persistLocked must be called with s.mu held.
func (s *HandoffService) persistLocked(ctx context.Context) {
	s.store.PersistHandoffs(ctx, s.ledger)
}
