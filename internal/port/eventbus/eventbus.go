// Package eventbus defines the port for publishing orchestrator events.
package eventbus

import (
	"context"

	"github.com/Strob0t/orchestrator/internal/domain/event"
)

// Bus accepts events fire-and-forget. Delivery failures are the bus's
// concern and never reach the emitter.
type Bus interface {
	Emit(ctx context.Context, ev event.Event)
}
