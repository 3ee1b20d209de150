package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// BroadcastEvent marshals payload and queues it for the clients watching
// featureID (and for unfiltered clients). It returns without waiting for
// any client write.
func (h *Hub) BroadcastEvent(_ context.Context, featureID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.enqueue(Message{
		Type:      eventType,
		FeatureID: featureID,
		Payload:   json.RawMessage(data),
	})
}
