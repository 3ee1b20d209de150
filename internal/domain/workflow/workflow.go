// Package workflow defines feature workflows and the agents that collaborate
// on them.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/orchestrator/internal/domain/quality"
)

// State is the lifecycle state of an agent inside a workflow.
type State string

const (
	StateActive   State = "Active"
	StateComplete State = "Complete"
	StateQueued   State = "Queued"
	StateWaiting  State = "Waiting"
	StateError    State = "Error"
)

// ValidState reports whether s is a known agent state.
func ValidState(s string) bool {
	switch State(s) {
	case StateActive, StateComplete, StateQueued, StateWaiting, StateError:
		return true
	}
	return false
}

// AgentStatus is one agent's unit of work within a feature workflow.
type AgentStatus struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name,omitempty" yaml:"name"`
	Status       State    `json:"status" yaml:"status"`
	Progress     int      `json:"progress" yaml:"progress"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
	Outputs      []string `json:"outputs" yaml:"outputs"`
	Error        string   `json:"error,omitempty" yaml:"error"`
}

// FeatureWorkflow groups the agents working on one product feature.
type FeatureWorkflow struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Agents       []AgentStatus    `json:"agents"`
	QualityGates []quality.Status `json:"qualityGates,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Agent returns a pointer to the agent with the given id, or false.
func (w *FeatureWorkflow) Agent(id string) (*AgentStatus, bool) {
	for i := range w.Agents {
		if w.Agents[i].ID == id {
			return &w.Agents[i], true
		}
	}
	return nil, false
}

// OverallQuality returns the unweighted mean of the recorded gate scores.
func (w *FeatureWorkflow) OverallQuality() int {
	return quality.OverallScore(w.QualityGates)
}

// RecordGate stores a gate verdict, replacing an earlier verdict for the same gate.
func (w *FeatureWorkflow) RecordGate(st quality.Status) {
	for i := range w.QualityGates {
		if w.QualityGates[i].GateID == st.GateID {
			w.QualityGates[i] = st
			return
		}
	}
	w.QualityGates = append(w.QualityGates, st)
}

// Clone returns a deep copy that shares no slices with w.
func (w *FeatureWorkflow) Clone() FeatureWorkflow {
	c := *w
	c.Agents = make([]AgentStatus, len(w.Agents))
	for i, a := range w.Agents {
		a.Dependencies = append([]string(nil), a.Dependencies...)
		a.Outputs = append([]string(nil), a.Outputs...)
		c.Agents[i] = a
	}
	if w.QualityGates != nil {
		c.QualityGates = make([]quality.Status, len(w.QualityGates))
		for i, g := range w.QualityGates {
			cr := make(map[string]float64, len(g.CriteriaResults))
			for k, v := range g.CriteriaResults {
				cr[k] = v
			}
			g.CriteriaResults = cr
			c.QualityGates[i] = g
		}
	}
	return c
}

// Validate checks the structural rules of a workflow: a non-empty id, unique
// agent ids, and dependencies that point at other agents of the same workflow.
func (w *FeatureWorkflow) Validate() error {
	if w.ID == "" {
		return errors.New("workflow id is required")
	}
	if len(w.Agents) == 0 {
		return errors.New("at least one agent is required")
	}

	seen := make(map[string]bool, len(w.Agents))
	for _, a := range w.Agents {
		if a.ID == "" {
			return errors.New("agent id is required")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id: %s", a.ID)
		}
		if a.Status != "" && !ValidState(string(a.Status)) {
			return fmt.Errorf("agent %s has invalid status %q", a.ID, a.Status)
		}
		seen[a.ID] = true
	}
	for _, a := range w.Agents {
		for _, dep := range a.Dependencies {
			if dep == a.ID {
				return fmt.Errorf("agent %s depends on itself", a.ID)
			}
			if !seen[dep] {
				return fmt.Errorf("agent %s depends on unknown agent %s", a.ID, dep)
			}
		}
	}
	return nil
}

// AgentPatch is a partial update of an AgentStatus. Nil fields are left unchanged.
type AgentPatch struct {
	Status   *State   `json:"status,omitempty"`
	Progress *int     `json:"progress,omitempty"`
	Error    *string  `json:"error,omitempty"`
	Outputs  []string `json:"outputs,omitempty"`
}

// Apply writes the non-nil fields of p onto a. Progress is clamped into [0, 100].
func (p AgentPatch) Apply(a *AgentStatus) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Progress != nil {
		a.Progress = clampProgress(*p.Progress)
	}
	if p.Error != nil {
		a.Error = *p.Error
	}
	if p.Outputs != nil {
		a.Outputs = append([]string(nil), p.Outputs...)
	}
}

// Activate returns the patch that puts an agent to work from scratch.
func Activate() AgentPatch {
	s, progress := StateActive, 0
	return AgentPatch{Status: &s, Progress: &progress}
}

// Queue returns the patch that parks an agent until it is activated.
func Queue() AgentPatch {
	s := StateQueued
	return AgentPatch{Status: &s}
}

// Wait returns the patch that blocks an agent with the given reason.
func Wait(reason string) AgentPatch {
	s := StateWaiting
	return AgentPatch{Status: &s, Error: &reason}
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// CreateRequest holds the fields needed to register a workflow.
type CreateRequest struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Agents      []AgentStatus `json:"agents" yaml:"agents"`
}

// Build turns the request into a workflow stamped with now. Agents without a
// status start Queued.
func (r *CreateRequest) Build(now time.Time) FeatureWorkflow {
	wf := FeatureWorkflow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Agents:      make([]AgentStatus, len(r.Agents)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, a := range r.Agents {
		if a.Status == "" {
			a.Status = StateQueued
		}
		a.Progress = clampProgress(a.Progress)
		if a.Dependencies == nil {
			a.Dependencies = []string{}
		}
		if a.Outputs == nil {
			a.Outputs = []string{}
		}
		wf.Agents[i] = a
	}
	if wf.Name == "" {
		wf.Name = wf.ID
	}
	return wf
}
