package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/orchestrator/internal/domain/event"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
	"github.com/Strob0t/orchestrator/internal/port/messagequeue"
	"github.com/Strob0t/orchestrator/internal/port/statestore"
)

// memBackend implements statestore.Backend in memory.
type memBackend struct {
	mu      sync.Mutex
	data    []byte
	saveErr error
	loads   int
	saves   int
}

func (b *memBackend) Load(context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	if b.data == nil {
		return nil, statestore.ErrNoSnapshot
	}
	return append([]byte(nil), b.data...), nil
}

func (b *memBackend) Save(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	if b.saveErr != nil {
		return b.saveErr
	}
	b.data = append([]byte(nil), data...)
	return nil
}

// recordingBus implements eventbus.Bus and keeps every event.
type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBus) Emit(_ context.Context, ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) last(t *testing.T) event.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		t.Fatal("no events emitted")
	}
	return b.events[len(b.events)-1]
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// recordingHub implements broadcast.Broadcaster.
type recordingHub struct {
	mu   sync.Mutex
	sent []struct{ featureID, eventType string }
}

func (h *recordingHub) BroadcastEvent(_ context.Context, featureID, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, struct{ featureID, eventType string }{featureID, eventType})
}

func (h *recordingHub) ConnectionCount() int { return 0 }

var errBackendDown = errors.New("backend down")

// fixedClock returns a clock starting at a fixed instant that advances one
// millisecond per call.
func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

// sequentialIDs returns handoff ids handoff_1, handoff_2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "handoff_" + strconv.Itoa(n)
	}
}

// fixture wires the services the way cmd/orchestrator does, on an in-memory backend.
type fixture struct {
	backend   *memBackend
	store     *StateStore
	workflows *WorkflowService
	handoffs  *HandoffService
	bus       *recordingBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{backend: &memBackend{}, bus: &recordingBus{}}
	f.store = NewStateStore(f.backend)
	f.store.now = fixedClock()
	f.workflows = NewWorkflowService(f.store)
	f.workflows.now = fixedClock()
	f.handoffs = NewHandoffService(f.workflows, f.bus, f.store)
	f.handoffs.now = fixedClock()
	f.handoffs.newID = sequentialIDs()
	return f
}

// registerPipeline registers workflow "feat" with agents
// A (Complete), B (Complete), C (Queued, depends on B).
func (f *fixture) registerPipeline(t *testing.T) {
	t.Helper()
	_, err := f.workflows.Register(context.Background(), workflow.CreateRequest{
		ID:   "feat",
		Name: "Invoice export",
		Agents: []workflow.AgentStatus{
			{ID: "A", Status: workflow.StateComplete, Progress: 100},
			{ID: "B", Status: workflow.StateComplete, Progress: 100},
			{ID: "C", Status: workflow.StateQueued, Dependencies: []string{"B"}},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
}

func (f *fixture) agent(t *testing.T, id string) workflow.AgentStatus {
	t.Helper()
	wf, err := f.workflows.Get(context.Background(), "feat")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	a, ok := wf.Agent(id)
	if !ok {
		t.Fatalf("agent %s missing", id)
	}
	return *a
}

func (f *fixture) setStatus(t *testing.T, id string, s workflow.State) {
	t.Helper()
	if err := f.workflows.UpdateAgentStatus(context.Background(), "feat", id, workflow.AgentPatch{Status: &s}); err != nil {
		t.Fatalf("set status: %v", err)
	}
}
