// Package registry defines the port for looking up and mutating feature workflows.
package registry

import (
	"context"

	"github.com/Strob0t/orchestrator/internal/domain/workflow"
)

// Registry is the workflow collaborator consumed by the handoff manager.
type Registry interface {
	// Get returns a copy of the workflow. Missing workflows yield an error
	// matching domain.ErrNotFound.
	Get(ctx context.Context, featureID string) (*workflow.FeatureWorkflow, error)

	// UpdateAgentStatus applies patch to one agent of the workflow.
	UpdateAgentStatus(ctx context.Context, featureID, agentID string, patch workflow.AgentPatch) error
}
