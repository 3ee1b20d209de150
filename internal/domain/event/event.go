// Package event defines the orchestrator events published when handoffs and
// quality gates change state.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of orchestrator event.
type Type string

const (
	TypeHandoffPending   Type = "handoff.pending"
	TypeHandoffCompleted Type = "handoff.completed"
	TypeHandoffFailed    Type = "handoff.failed"
	TypeGateEvaluated    Type = "gate.evaluated"
)

// Payload is implemented by every event payload. The set is closed: one
// struct per event type.
type Payload interface {
	EventType() Type
}

// HandoffPending is emitted when a handoff passes validation.
type HandoffPending struct {
	FeatureID string `json:"featureId"`
	HandoffID string `json:"handoffId"`
	FromAgent string `json:"fromAgent"`
	ToAgent   string `json:"toAgent"`
}

// HandoffCompleted is emitted when a pending handoff is completed.
type HandoffCompleted struct {
	FeatureID string `json:"featureId"`
	HandoffID string `json:"handoffId"`
	ToAgent   string `json:"toAgent"`
}

// HandoffFailed is emitted when a handoff fails validation at creation
// (ValidationErrors set) or is failed explicitly (Reason set).
type HandoffFailed struct {
	FeatureID        string   `json:"featureId"`
	HandoffID        string   `json:"handoffId"`
	FromAgent        string   `json:"fromAgent,omitempty"`
	ToAgent          string   `json:"toAgent,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
	Reason           string   `json:"reason,omitempty"`
}

// GateEvaluated is emitted after a quality gate verdict is recorded.
type GateEvaluated struct {
	FeatureID string `json:"featureId"`
	GateID    string `json:"gateId"`
	State     string `json:"state"`
	Score     int    `json:"score"`
}

func (HandoffPending) EventType() Type   { return TypeHandoffPending }
func (HandoffCompleted) EventType() Type { return TypeHandoffCompleted }
func (HandoffFailed) EventType() Type    { return TypeHandoffFailed }
func (GateEvaluated) EventType() Type    { return TypeGateEvaluated }

// Event is the envelope handed to the event bus.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// New wraps payload in an envelope stamped with now.
func New(payload Payload, now time.Time) Event {
	return Event{Type: payload.EventType(), Timestamp: now, Payload: payload}
}

// Decode parses an encoded envelope and revives the typed payload.
func Decode(data []byte) (Event, error) {
	var raw struct {
		Type      Type            `json:"type"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	var p Payload
	switch raw.Type {
	case TypeHandoffPending:
		p = decodeAs[HandoffPending](raw.Payload)
	case TypeHandoffCompleted:
		p = decodeAs[HandoffCompleted](raw.Payload)
	case TypeHandoffFailed:
		p = decodeAs[HandoffFailed](raw.Payload)
	case TypeGateEvaluated:
		p = decodeAs[GateEvaluated](raw.Payload)
	default:
		return Event{}, fmt.Errorf("decode event: unknown type %q", raw.Type)
	}
	if p == nil {
		return Event{}, fmt.Errorf("decode event %s: malformed payload", raw.Type)
	}
	return Event{Type: raw.Type, Timestamp: raw.Timestamp, Payload: p}, nil
}

// decodeAs returns nil when data does not decode into T.
func decodeAs[T Payload](data json.RawMessage) Payload {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
