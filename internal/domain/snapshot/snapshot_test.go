package snapshot_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/orchestrator/internal/domain/handoff"
	"github.com/Strob0t/orchestrator/internal/domain/snapshot"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
)

func TestEmpty(t *testing.T) {
	now := time.Now()
	s := snapshot.Empty(now)
	if s.Version != 1 || len(s.Workflows) != 0 || len(s.Handoffs) != 0 {
		t.Fatalf("unexpected empty snapshot: %+v", s)
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"workflows":[]`) || !strings.Contains(string(data), `"handoffs":{}`) {
		t.Fatalf("empty collections must encode as [] and {}: %s", data)
	}
}

func TestJSONLayout(t *testing.T) {
	completed := time.Date(2026, 4, 5, 6, 7, 8, 123000000, time.UTC)
	s := snapshot.Empty(completed)
	s.Workflows = []workflow.FeatureWorkflow{{ID: "f1", Agents: []workflow.AgentStatus{{ID: "A"}}}}
	s.Handoffs["f1"] = []handoff.Record{{ID: "handoff_1", Status: handoff.StatusComplete, CompletedAt: &completed}}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"version":1`, `"updatedAt":"2026-04-05T06:07:08.123Z"`, `"completedAt":"2026-04-05T06:07:08.123Z"`, `"handoffs":{"f1":[`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("encoded snapshot missing %s: %s", key, data)
		}
	}

	var back snapshot.State
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	got := back.Handoffs["f1"][0].CompletedAt
	if got == nil || !got.Equal(completed) {
		t.Fatalf("completedAt = %v, want %v", got, completed)
	}
}

func TestNormalize(t *testing.T) {
	var s snapshot.State
	s.Normalize()
	if s.Version != snapshot.CurrentVersion || s.Workflows == nil || s.Handoffs == nil {
		t.Fatalf("Normalize left gaps: %+v", s)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := snapshot.Empty(time.Now())
	s.Handoffs["f"] = []handoff.Record{{ID: "h", ValidationErrors: []string{"a"}}}
	c := s.Clone()
	c.Handoffs["f"][0].ValidationErrors[0] = "b"
	c.Handoffs["g"] = nil
	if s.Handoffs["f"][0].ValidationErrors[0] != "a" {
		t.Fatal("clone shares records")
	}
	if _, ok := s.Handoffs["g"]; ok {
		t.Fatal("clone shares the map")
	}
}
