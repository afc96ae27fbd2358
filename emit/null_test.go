package emit

import (
	"context"
	"testing"
)

func TestNullEmitter_NoOp(t *testing.T) {
	t.Run("emits events without error", func(t *testing.T) {
		emitter := NewNullEmitter()

		events := []Event{
			{Kind: KindReserve, FwID: 1},
			{Kind: KindCheckin, FwID: 1},
			{Kind: KindRefreshFailed, FwID: 2, Meta: map[string]interface{}{"error": "test"}},
		}
		for _, event := range events {
			emitter.Emit(event)
		}
	})

	t.Run("can emit with nil meta", func(t *testing.T) {
		emitter := NewNullEmitter()
		emitter.Emit(Event{Kind: KindReset, Meta: nil})
	})

	t.Run("EmitBatch and Flush are no-ops", func(t *testing.T) {
		emitter := NewNullEmitter()
		if err := emitter.EmitBatch(context.Background(), []Event{{Kind: KindReserve, FwID: 1}}); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
		if err := emitter.Flush(context.Background()); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})
}

func TestNullEmitter_InterfaceContract(t *testing.T) {
	var _ Emitter = NewNullEmitter()
}
