package messagequeue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Strob0t/orchestrator/internal/domain/event"
)

func TestValidate(t *testing.T) {
	data, err := json.Marshal(event.New(event.HandoffPending{FeatureID: "f", HandoffID: "h"}, time.Now()))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		subject string
		data    []byte
		wantErr bool
	}{
		{"matching subject", "handoff.pending", data, false},
		{"wrong subject", "handoff.failed", data, true},
		{"invalid json", "handoff.pending", []byte("{"), true},
		{"unknown type", "invoice.paid", []byte(`{"type":"invoice.paid","payload":{}}`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
