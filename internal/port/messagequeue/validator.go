package messagequeue

import (
	"fmt"

	"github.com/Strob0t/orchestrator/internal/domain/event"
)

// Validate checks that data is an orchestrator event envelope whose type
// matches the subject it travels on.
func Validate(subject string, data []byte) error {
	ev, err := event.Decode(data)
	if err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if string(ev.Type) != subject {
		return fmt.Errorf("event type %s published on subject %s", ev.Type, subject)
	}
	return nil
}
