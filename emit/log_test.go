package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_TextOutput(t *testing.T) {
	t.Run("emits event with all fields", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{
			Kind: KindCheckin,
			FwID: 7,
			Meta: map[string]interface{}{"state": "COMPLETED"},
		})

		output := buf.String()
		if !strings.Contains(output, "checkin") {
			t.Errorf("expected output to contain Kind 'checkin', got: %s", output)
		}
		if !strings.Contains(output, "fw_id=7") {
			t.Errorf("expected output to contain fw_id=7, got: %s", output)
		}
	})

	t.Run("omits fw_id and wf_name when zero/empty", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{Kind: KindReset})

		output := buf.String()
		if strings.Contains(output, "fw_id=") {
			t.Errorf("expected no fw_id in output, got: %s", output)
		}
		if strings.Contains(output, "wf_name=") {
			t.Errorf("expected no wf_name in output, got: %s", output)
		}
	})

	t.Run("emits multiple events on separate lines", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{Kind: KindReserve, FwID: 1})
		emitter.Emit(Event{Kind: KindCheckin, FwID: 1})

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Errorf("expected 2 lines of output, got %d", len(lines))
		}
	})
}

func TestLogEmitter_JSONFormatting(t *testing.T) {
	t.Run("emits valid JSON when JSON mode enabled", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, true)

		emitter.Emit(Event{
			Kind:      KindRerun,
			FwID:      9,
			LaunchIdx: 2,
			Meta:      map[string]interface{}{"status": "success"},
		})

		output := buf.String()
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(output), &parsed); err != nil {
			t.Fatalf("expected valid JSON, got error: %v\nOutput: %s", err, output)
		}

		if parsed["kind"] != "rerun" {
			t.Errorf("expected kind 'rerun', got %v", parsed["kind"])
		}
		if parsed["fwID"] != float64(9) {
			t.Errorf("expected fwID 9, got %v", parsed["fwID"])
		}
		if parsed["launchIdx"] != float64(2) {
			t.Errorf("expected launchIdx 2, got %v", parsed["launchIdx"])
		}

		meta, ok := parsed["meta"].(map[string]interface{})
		if !ok {
			t.Fatal("expected meta to be a map")
		}
		if meta["status"] != "success" {
			t.Errorf("expected status 'success', got %v", meta["status"])
		}
	})

	t.Run("emits multiple JSON events on separate lines", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, true)

		emitter.Emit(Event{Kind: KindReserve, FwID: 1})
		emitter.Emit(Event{Kind: KindCheckin, FwID: 1})

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines of JSON, got %d", len(lines))
		}
		for i, line := range lines {
			var parsed map[string]interface{}
			if err := json.Unmarshal([]byte(line), &parsed); err != nil {
				t.Errorf("line %d: expected valid JSON, got error: %v\nLine: %s", i, err, line)
			}
		}
	})
}

func TestLogEmitter_InterfaceContract(t *testing.T) {
	var buf bytes.Buffer
	var _ Emitter = NewLogEmitter(&buf, false)
}
