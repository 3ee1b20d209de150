package handoff_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/orchestrator/internal/domain"
	"github.com/Strob0t/orchestrator/internal/domain/handoff"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
)

func testWorkflow() *workflow.FeatureWorkflow {
	return &workflow.FeatureWorkflow{
		ID: "f1",
		Agents: []workflow.AgentStatus{
			{ID: "A", Status: workflow.StateComplete},
			{ID: "B", Status: workflow.StateComplete},
			{ID: "C", Status: workflow.StateQueued, Dependencies: []string{"B"}},
			{ID: "D", Status: workflow.StateActive},
		},
	}
}

func TestValidateAccumulatesMissingAgents(t *testing.T) {
	errs := handoff.Validate(testWorkflow(), "X", "Y")
	want := []string{"Source agent missing in workflow", "Target agent missing in workflow"}
	if !reflect.DeepEqual(errs, want) {
		t.Fatalf("errs = %v, want %v", errs, want)
	}
}

func TestValidateDependencyGating(t *testing.T) {
	wf := testWorkflow()
	if errs := handoff.Validate(wf, "A", "C"); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	b, _ := wf.Agent("B")
	b.Status = workflow.StateActive
	errs := handoff.Validate(wf, "A", "C")
	if len(errs) != 1 || errs[0] != "Dependency B for agent C is not satisfied" {
		t.Fatalf("errs = %v", errs)
	}
}

func TestValidateIncompleteSourceAndDependency(t *testing.T) {
	wf := testWorkflow()
	b, _ := wf.Agent("B")
	b.Status = workflow.StateWaiting

	errs := handoff.Validate(wf, "D", "C")
	want := []string{
		"Source agent D is not complete",
		"Dependency B for agent C is not satisfied",
	}
	if !reflect.DeepEqual(errs, want) {
		t.Fatalf("errs = %v, want %v", errs, want)
	}
}

func TestValidateUnknownDependencyCountsAsUnsatisfied(t *testing.T) {
	wf := testWorkflow()
	c, _ := wf.Agent("C")
	c.Dependencies = []string{"B", "ghost"}

	errs := handoff.Validate(wf, "A", "C")
	if len(errs) != 1 || !strings.Contains(errs[0], "ghost") {
		t.Fatalf("errs = %v", errs)
	}
}

func TestRecordTransitions(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r := handoff.Record{ID: handoff.NewID(), Status: handoff.StatusPending, Payload: json.RawMessage(`{"a":1}`)}

	r.Complete(nil, now)
	if r.Status != handoff.StatusComplete || r.CompletedAt == nil || !r.CompletedAt.Equal(now) {
		t.Fatalf("after Complete: %+v", r)
	}
	if string(r.Payload) != `{"a":1}` {
		t.Errorf("nil payload must keep the existing one, got %s", r.Payload)
	}

	f := handoff.Record{Status: handoff.StatusFailed, ValidationErrors: []string{"first"}}
	f.Fail("second", now)
	if !reflect.DeepEqual(f.ValidationErrors, []string{"first", "second"}) {
		t.Fatalf("Fail must append, got %v", f.ValidationErrors)
	}
}

func TestNewIDPrefix(t *testing.T) {
	id := handoff.NewID()
	if !strings.HasPrefix(id, handoff.IDPrefix) {
		t.Fatalf("id %q missing prefix", id)
	}
	if id == handoff.NewID() {
		t.Fatal("ids must be unique")
	}
}

func TestCompleteRequestDefaultsToActivate(t *testing.T) {
	var req handoff.CompleteRequest
	if !req.ShouldActivate() {
		t.Fatal("nil AutoActivate must activate")
	}
	off := false
	req.AutoActivate = &off
	if req.ShouldActivate() {
		t.Fatal("explicit false must not activate")
	}
}

func TestLookupErrorsMatchNotFound(t *testing.T) {
	for _, err := range []error{handoff.ErrWorkflowNotFound, handoff.ErrNoHandoffs, handoff.ErrHandoffNotFound} {
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("%v should match domain.ErrNotFound", err)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now()
	r := handoff.Record{CompletedAt: &now, ValidationErrors: []string{"x"}}
	c := r.Clone()
	c.ValidationErrors[0] = "y"
	*c.CompletedAt = now.Add(time.Hour)
	if r.ValidationErrors[0] != "x" || !r.CompletedAt.Equal(now) {
		t.Fatal("clone aliases the original")
	}
}

func TestTransitionGuards(t *testing.T) {
	pending := handoff.Record{Status: handoff.StatusPending}
	complete := handoff.Record{Status: handoff.StatusComplete}
	failed := handoff.Record{Status: handoff.StatusFailed}

	if !pending.CanComplete() || !pending.CanFail() {
		t.Error("pending records can be resolved either way")
	}
	if complete.CanComplete() || complete.CanFail() {
		t.Error("complete records are immutable")
	}
	if failed.CanComplete() {
		t.Error("failed records cannot be completed")
	}
	if !failed.CanFail() {
		t.Error("failed records accept further failures")
	}
	if !errors.Is(handoff.ErrResolved, domain.ErrConflict) {
		t.Error("ErrResolved should match domain.ErrConflict")
	}
}

func TestCompleteKeepsPayloadUnlessSupplied(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		payload json.RawMessage
		want    string
	}{
		{"absent", nil, `{"k":1}`},
		{"empty", json.RawMessage{}, `{"k":1}`},
		{"json null", json.RawMessage("null"), `{"k":1}`},
		{"padded null", json.RawMessage(" null "), `{"k":1}`},
		{"replacement", json.RawMessage(`{"k":2}`), `{"k":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := handoff.Record{Status: handoff.StatusPending, Payload: json.RawMessage(`{"k":1}`)}
			r.Complete(tt.payload, now)
			if string(r.Payload) != tt.want {
				t.Errorf("payload = %s, want %s", r.Payload, tt.want)
			}
		})
	}
}
