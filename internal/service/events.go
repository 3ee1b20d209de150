package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	cfotel "github.com/Strob0t/orchestrator/internal/adapter/otel"
	"github.com/Strob0t/orchestrator/internal/domain/event"
	"github.com/Strob0t/orchestrator/internal/port/broadcast"
	"github.com/Strob0t/orchestrator/internal/port/messagequeue"
	"github.com/Strob0t/orchestrator/internal/resilience"
)

// EventPublisher is the event bus. Each event is fanned out to in-process
// subscribers, the WebSocket hub and the message queue (subject = event
// type). Delivery is fire-and-forget: failures are logged, never returned.
type EventPublisher struct {
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	breaker *resilience.Breaker
	metrics *cfotel.Metrics

	mu     sync.RWMutex
	nextID int
	subs   map[int]func(event.Event)
}

// NewEventPublisher creates a publisher. queue and hub may be nil.
func NewEventPublisher(queue messagequeue.Queue, hub broadcast.Broadcaster) *EventPublisher {
	return &EventPublisher{
		queue: queue,
		hub:   hub,
		subs:  make(map[int]func(event.Event)),
	}
}

// SetBreaker guards queue publishing with a circuit breaker.
func (p *EventPublisher) SetBreaker(b *resilience.Breaker) { p.breaker = b }

// SetMetrics attaches metric instruments for dropped events.
func (p *EventPublisher) SetMetrics(m *cfotel.Metrics) { p.metrics = m }

// Subscribe registers fn for every emitted event. The returned function
// removes the subscription.
func (p *EventPublisher) Subscribe(fn func(event.Event)) (cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Emit delivers ev to all sinks. Subscribers and the queue publish run
// inline; the hub queues the event for its own delivery goroutine.
func (p *EventPublisher) Emit(ctx context.Context, ev event.Event) {
	p.mu.RLock()
	subs := make([]func(event.Event), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.RUnlock()

	for _, fn := range subs {
		p.deliver(ctx, ev, fn)
	}

	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, featureOf(ev.Payload), string(ev.Type), ev)
	}

	if p.queue != nil {
		p.publish(ctx, ev)
	}
}

// deliver isolates the bus from a panicking subscriber.
func (p *EventPublisher) deliver(ctx context.Context, ev event.Event, fn func(event.Event)) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event subscriber panicked", "type", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

func (p *EventPublisher) publish(ctx context.Context, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.ErrorContext(ctx, "event encode failed", "type", ev.Type, "error", err)
		return
	}

	send := func(ctx context.Context) error {
		return p.queue.Publish(ctx, string(ev.Type), data)
	}
	if p.breaker != nil {
		err = p.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err == nil {
		return
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		slog.DebugContext(ctx, "event dropped, queue breaker open", "type", ev.Type)
	} else {
		slog.WarnContext(ctx, "event publish failed", "type", ev.Type, "error", err)
	}
	if p.metrics != nil {
		p.metrics.EventsDropped.Add(ctx, 1)
	}
}

func featureOf(p event.Payload) string {
	switch v := p.(type) {
	case event.HandoffPending:
		return v.FeatureID
	case event.HandoffCompleted:
		return v.FeatureID
	case event.HandoffFailed:
		return v.FeatureID
	case event.GateEvaluated:
		return v.FeatureID
	}
	return ""
}
