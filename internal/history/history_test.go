package history

import (
	"testing"
	"time"

	"github.com/kael-dev/sentryd/internal/store"
)

func TestEvent_Creation(t *testing.T) {
	rec := store.Record{Name: "test-process", PID: 12345, StartedAt: time.Now()}
	event := Event{Type: EventStart, OccurredAt: time.Now(), Record: rec}

	if event.Type != EventStart {
		t.Errorf("expected event type %s, got %s", EventStart, event.Type)
	}
	if event.Record.Name != "test-process" {
		t.Errorf("expected process name test-process, got %s", event.Record.Name)
	}
	if event.Record.PID != 12345 {
		t.Errorf("expected PID 12345, got %d", event.Record.PID)
	}
}

func TestEvent_Types(t *testing.T) {
	for _, et := range []EventType{EventStart, EventStop} {
		rec := store.Record{Name: "test-process", PID: 12345, StartedAt: time.Now()}
		event := Event{Type: et, OccurredAt: time.Now(), Record: rec}
		if event.Type != et {
			t.Errorf("expected event type %s, got %s", et, event.Type)
		}
	}
}

func TestEvent_Validation(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		valid bool
	}{
		{"valid start", Event{Type: EventStart, OccurredAt: time.Now(), Record: store.Record{Name: "p"}}, true},
		{"valid stop", Event{Type: EventStop, OccurredAt: time.Now(), Record: store.Record{Name: "p"}}, true},
		{"empty type", Event{Type: "", OccurredAt: time.Now(), Record: store.Record{Name: "p"}}, false},
		{"zero time", Event{Type: EventStart, OccurredAt: time.Time{}, Record: store.Record{Name: "p"}}, false},
		{"empty name", Event{Type: EventStart, OccurredAt: time.Now(), Record: store.Record{Name: ""}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isValid := tc.event.Type != "" && !tc.event.OccurredAt.IsZero() && tc.event.Record.Name != ""
			if isValid != tc.valid {
				t.Errorf("expected valid=%v, got %v", tc.valid, isValid)
			}
		})
	}
}
