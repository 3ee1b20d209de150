// Package snapshot defines the durable representation of all workflows and
// handoffs at a point in time.
package snapshot

import (
	"time"

	"github.com/Strob0t/orchestrator/internal/domain/handoff"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 1

// State is the persisted snapshot. Timestamps encode as RFC 3339 strings and
// decode back into time.Time.
type State struct {
	Version   int                         `json:"version"`
	Workflows []workflow.FeatureWorkflow  `json:"workflows"`
	Handoffs  map[string][]handoff.Record `json:"handoffs"`
	UpdatedAt time.Time                   `json:"updatedAt"`
}

// Empty returns the default snapshot used when nothing has been persisted.
func Empty(now time.Time) State {
	return State{
		Version:   CurrentVersion,
		Workflows: []workflow.FeatureWorkflow{},
		Handoffs:  map[string][]handoff.Record{},
		UpdatedAt: now,
	}
}

// Normalize fills in the fields an older or hand-edited snapshot may lack.
func (s *State) Normalize() {
	if s.Version == 0 {
		s.Version = CurrentVersion
	}
	if s.Workflows == nil {
		s.Workflows = []workflow.FeatureWorkflow{}
	}
	if s.Handoffs == nil {
		s.Handoffs = map[string][]handoff.Record{}
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() State {
	c := State{
		Version:   s.Version,
		Workflows: CloneWorkflows(s.Workflows),
		Handoffs:  CloneHandoffs(s.Handoffs),
		UpdatedAt: s.UpdatedAt,
	}
	return c
}

// CloneWorkflows deep-copies a workflow list.
func CloneWorkflows(in []workflow.FeatureWorkflow) []workflow.FeatureWorkflow {
	out := make([]workflow.FeatureWorkflow, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// CloneHandoffs deep-copies a feature id → records mapping.
func CloneHandoffs(in map[string][]handoff.Record) map[string][]handoff.Record {
	out := make(map[string][]handoff.Record, len(in))
	for feature, records := range in {
		cp := make([]handoff.Record, len(records))
		for i := range records {
			cp[i] = records[i].Clone()
		}
		out[feature] = cp
	}
	return out
}
