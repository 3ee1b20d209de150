// Package broadcast defines the port for pushing orchestrator events to
// connected dashboard clients.
package broadcast

import "context"

// Broadcaster sends real-time events to connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to the clients watching featureID.
	// It must not block on client I/O; it runs on the emitting request.
	BroadcastEvent(ctx context.Context, featureID, eventType string, payload any)

	// ConnectionCount reports how many clients are currently attached.
	ConnectionCount() int
}
