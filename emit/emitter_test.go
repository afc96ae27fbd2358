package emit

import (
	"context"
	"testing"
)

func TestEmitter_InterfaceContract(t *testing.T) {
	var _ Emitter = (*mockEmitter)(nil)
}

// mockEmitter is a minimal Emitter implementation for testing call patterns
// against the interface rather than any specific backend.
type mockEmitter struct {
	events []Event
}

func (m *mockEmitter) Emit(event Event) {
	m.events = append(m.events, event)
}

func (m *mockEmitter) EmitBatch(_ context.Context, events []Event) error {
	m.events = append(m.events, events...)
	return nil
}

func (m *mockEmitter) Flush(_ context.Context) error {
	return nil
}

func TestEmitter_Emit(t *testing.T) {
	t.Run("emit single event", func(t *testing.T) {
		emitter := &mockEmitter{}

		emitter.Emit(Event{Kind: KindCheckin, FwID: 7, Meta: map[string]interface{}{"state": "COMPLETED"}})

		if len(emitter.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(emitter.events))
		}
		if emitter.events[0].Kind != KindCheckin {
			t.Errorf("expected Kind = KindCheckin, got %q", emitter.events[0].Kind)
		}
	})

	t.Run("emit multiple events preserves fw_id order", func(t *testing.T) {
		emitter := &mockEmitter{}

		for fwID := 1; fwID <= 3; fwID++ {
			emitter.Emit(Event{Kind: KindReserve, FwID: fwID})
		}

		if len(emitter.events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(emitter.events))
		}
		for i, event := range emitter.events {
			if event.FwID != i+1 {
				t.Errorf("event %d: expected FwID = %d, got %d", i, i+1, event.FwID)
			}
		}
	})

	t.Run("emit with metadata", func(t *testing.T) {
		emitter := &mockEmitter{}

		emitter.Emit(Event{
			Kind: KindJanitorRecovered,
			FwID: 42,
			Meta: map[string]interface{}{"reason": "unreserved"},
		})

		if emitter.events[0].Meta["reason"] != "unreserved" {
			t.Errorf("expected reason = 'unreserved', got %v", emitter.events[0].Meta["reason"])
		}
	})

	t.Run("emit zero value event", func(t *testing.T) {
		emitter := &mockEmitter{}
		emitter.Emit(Event{})
		if len(emitter.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(emitter.events))
		}
	})
}

func TestEmitter_EmitBatch(t *testing.T) {
	emitter := &mockEmitter{}

	events := []Event{
		{Kind: KindReserve, FwID: 1},
		{Kind: KindCheckin, FwID: 1},
		{Kind: KindRefreshFailed, FwID: 1},
	}

	if err := emitter.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if len(emitter.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(emitter.events))
	}
}
