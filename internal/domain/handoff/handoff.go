// Package handoff defines the record of a work transfer between two agents of
// a feature workflow, and the rules that decide whether the transfer may happen.
package handoff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/orchestrator/internal/domain"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
)

// IDPrefix starts every handoff id.
const IDPrefix = "handoff_"

// Status is the resolution state of a handoff.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Lookup errors. All of them match domain.ErrNotFound with errors.Is.
var (
	ErrWorkflowNotFound = fmt.Errorf("workflow %w", domain.ErrNotFound)
	ErrNoHandoffs       = fmt.Errorf("handoff list %w", domain.ErrNotFound)
	ErrHandoffNotFound  = fmt.Errorf("handoff %w", domain.ErrNotFound)
)

// ErrResolved is returned when a transition would move a record out of a
// final state. It matches domain.ErrConflict.
var ErrResolved = fmt.Errorf("handoff already resolved: %w", domain.ErrConflict)

// Record is one attempted transfer of work between two agents.
type Record struct {
	ID               string          `json:"id"`
	FeatureID        string          `json:"featureId"`
	FromAgent        string          `json:"fromAgent"`
	ToAgent          string          `json:"toAgent"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ValidationErrors []string        `json:"validationErrors,omitempty"`
}

// NewID returns a fresh handoff id.
func NewID() string {
	return IDPrefix + uuid.NewString()
}

// Clone returns a copy that shares no slices with r.
func (r *Record) Clone() Record {
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	if r.ValidationErrors != nil {
		c.ValidationErrors = append([]string(nil), r.ValidationErrors...)
	}
	return c
}

// CanComplete reports whether the record may still be completed.
func (r *Record) CanComplete() bool {
	return r.Status == StatusPending
}

// CanFail reports whether the record may be failed. Failed records accept
// further failures, which append reasons.
func (r *Record) CanFail() bool {
	return r.Status != StatusComplete
}

// Complete marks a pending record as done. An absent or JSON null payload
// keeps the existing one.
func (r *Record) Complete(payload json.RawMessage, now time.Time) {
	r.Status = StatusComplete
	r.CompletedAt = &now
	if supplied(payload) {
		r.Payload = payload
	}
}

func supplied(payload json.RawMessage) bool {
	return len(bytes.TrimSpace(payload)) > 0 && string(bytes.TrimSpace(payload)) != "null"
}

// Fail marks the record as failed and appends reason to its validation errors.
func (r *Record) Fail(reason string, now time.Time) {
	r.Status = StatusFailed
	r.CompletedAt = &now
	r.ValidationErrors = append(r.ValidationErrors, reason)
}

// Validate applies the transfer rules for moving work from fromID to toID
// inside wf. Every rule runs; the returned list holds one message per
// violation and is empty when the handoff may proceed.
func Validate(wf *workflow.FeatureWorkflow, fromID, toID string) []string {
	var errs []string

	from, hasFrom := wf.Agent(fromID)
	to, hasTo := wf.Agent(toID)

	if !hasFrom {
		errs = append(errs, "Source agent missing in workflow")
	}
	if !hasTo {
		errs = append(errs, "Target agent missing in workflow")
	}
	if hasFrom && from.Status != workflow.StateComplete {
		errs = append(errs, fmt.Sprintf("Source agent %s is not complete", from.ID))
	}
	if hasTo {
		for _, dep := range to.Dependencies {
			d, ok := wf.Agent(dep)
			if !ok || d.Status != workflow.StateComplete {
				errs = append(errs, fmt.Sprintf("Dependency %s for agent %s is not satisfied", dep, to.ID))
			}
		}
	}
	return errs
}

// CreateRequest asks for work to move from one agent to another.
type CreateRequest struct {
	FeatureID    string          `json:"featureId"`
	FromAgent    string          `json:"fromAgent"`
	ToAgent      string          `json:"toAgent"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	AutoActivate bool            `json:"autoActivate,omitempty"`
}

// CompleteRequest resolves a pending handoff. AutoActivate defaults to true
// when nil, unlike CreateRequest where the zero value queues the target.
type CompleteRequest struct {
	FeatureID    string          `json:"featureId"`
	HandoffID    string          `json:"handoffId"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	AutoActivate *bool           `json:"autoActivate,omitempty"`
}

// ShouldActivate reports whether completing the handoff activates the target agent.
func (r *CompleteRequest) ShouldActivate() bool {
	return r.AutoActivate == nil || *r.AutoActivate
}

// FailRequest marks a handoff as failed with a reason.
type FailRequest struct {
	FeatureID string `json:"featureId"`
	HandoffID string `json:"handoffId"`
	Reason    string `json:"reason"`
}
