package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/orchestrator/internal/domain"
	"github.com/Strob0t/orchestrator/internal/domain/quality"
	"github.com/Strob0t/orchestrator/internal/domain/snapshot"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
)

// workflowStore is the part of StateStore the registry writes through to.
type workflowStore interface {
	Load(ctx context.Context) snapshot.State
	PersistWorkflows(ctx context.Context, workflows []workflow.FeatureWorkflow)
}

// WorkflowService is the workflow registry. It owns the feature workflows
// and their agents, and persists every change through the state store.
type WorkflowService struct {
	store workflowStore
	now   func() time.Time

	mu        sync.RWMutex
	workflows []workflow.FeatureWorkflow
}

// NewWorkflowService creates an empty registry. Call Restore to load the
// persisted workflows.
func NewWorkflowService(store workflowStore) *WorkflowService {
	return &WorkflowService{store: store, now: time.Now}
}

// Restore replaces the registry contents with the persisted workflows.
func (s *WorkflowService) Restore(ctx context.Context) int {
	st := s.store.Load(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows = st.Workflows
	return len(s.workflows)
}

// Register validates and adds a new workflow.
func (s *WorkflowService) Register(ctx context.Context, req workflow.CreateRequest) (*workflow.FeatureWorkflow, error) {
	wf := req.Build(s.now())
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("register workflow: %w: %w", domain.ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(wf.ID) >= 0 {
		return nil, fmt.Errorf("register workflow %s: %w", wf.ID, domain.ErrConflict)
	}
	s.workflows = append(s.workflows, wf)
	s.store.PersistWorkflows(ctx, s.workflows)

	slog.InfoContext(ctx, "workflow registered", "feature_id", wf.ID, "agents", len(wf.Agents))
	out := wf.Clone()
	return &out, nil
}

// Get returns a copy of the workflow.
func (s *WorkflowService) Get(_ context.Context, featureID string) (*workflow.FeatureWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(featureID)
	if i < 0 {
		return nil, fmt.Errorf("workflow %s: %w", featureID, domain.ErrNotFound)
	}
	out := s.workflows[i].Clone()
	return &out, nil
}

// List returns copies of all workflows in registration order.
func (s *WorkflowService) List(_ context.Context) []workflow.FeatureWorkflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot.CloneWorkflows(s.workflows)
}

// UpdateAgentStatus applies patch to one agent and persists the workflows.
func (s *WorkflowService) UpdateAgentStatus(ctx context.Context, featureID, agentID string, patch workflow.AgentPatch) error {
	if patch.Status != nil && !workflow.ValidState(string(*patch.Status)) {
		return fmt.Errorf("agent status %q: %w", *patch.Status, domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(featureID)
	if i < 0 {
		return fmt.Errorf("workflow %s: %w", featureID, domain.ErrNotFound)
	}
	wf := &s.workflows[i]
	agent, ok := wf.Agent(agentID)
	if !ok {
		return fmt.Errorf("agent %s in workflow %s: %w", agentID, featureID, domain.ErrNotFound)
	}
	patch.Apply(agent)
	wf.UpdatedAt = s.now()
	s.store.PersistWorkflows(ctx, s.workflows)

	slog.DebugContext(ctx, "agent status updated", "feature_id", featureID, "agent_id", agentID, "status", agent.Status)
	return nil
}

// RecordGateStatus stores a quality gate verdict on the workflow.
func (s *WorkflowService) RecordGateStatus(ctx context.Context, featureID string, st quality.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(featureID)
	if i < 0 {
		return fmt.Errorf("workflow %s: %w", featureID, domain.ErrNotFound)
	}
	s.workflows[i].RecordGate(st)
	s.workflows[i].UpdatedAt = s.now()
	s.store.PersistWorkflows(ctx, s.workflows)
	return nil
}

// Seed registers the given workflows, skipping ids that already exist.
// It returns how many were added.
func (s *WorkflowService) Seed(ctx context.Context, reqs []workflow.CreateRequest) (int, error) {
	added := 0
	for i := range reqs {
		_, err := s.Register(ctx, reqs[i])
		switch {
		case err == nil:
			added++
		case errors.Is(err, domain.ErrConflict):
			slog.DebugContext(ctx, "seed workflow already registered", "feature_id", reqs[i].ID)
		default:
			return added, fmt.Errorf("seed workflow %s: %w", reqs[i].ID, err)
		}
	}
	return added, nil
}

// indexLocked must be called with s.mu held.
func (s *WorkflowService) indexLocked(id string) int {
	for i := range s.workflows {
		if s.workflows[i].ID == id {
			return i
		}
	}
	return -1
}

// seedFile is the layout of the workflow seed file.
type seedFile struct {
	Workflows []workflow.CreateRequest `yaml:"workflows"`
}

// ReadSeedFile parses a YAML file of workflows to register at startup.
func ReadSeedFile(path string) ([]workflow.CreateRequest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return f.Workflows, nil
}
