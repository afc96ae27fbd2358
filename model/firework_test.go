package model

import (
	"testing"
)

func TestNewFirework(t *testing.T) {
	fw := NewFirework("build-job", map[string]interface{}{"x": 1}, []interface{}{"task-a"})

	if fw.FwID != -1 {
		t.Errorf("FwID = %d, want -1", fw.FwID)
	}
	if fw.LaunchIdx != 1 {
		t.Errorf("LaunchIdx = %d, want 1", fw.LaunchIdx)
	}
	if fw.State != StateWaiting {
		t.Errorf("State = %q, want WAITING", fw.State)
	}
	if len(fw.StateHistory) != 1 {
		t.Fatalf("len(StateHistory) = %d, want 1", len(fw.StateHistory))
	}
}

func TestFirework_Touch(t *testing.T) {
	fw := NewFirework("build-job", nil, nil)
	fw.Touch(StateReserved, "res-1")

	if fw.State != StateReserved {
		t.Errorf("State = %q, want RESERVED", fw.State)
	}
	if len(fw.StateHistory) != 2 {
		t.Fatalf("len(StateHistory) = %d, want 2", len(fw.StateHistory))
	}
	if got := fw.LastReservationID(); got != "res-1" {
		t.Errorf("LastReservationID() = %q, want res-1", got)
	}
	if _, ok := fw.LastReservationUpdate(); !ok {
		t.Error("LastReservationUpdate() ok = false, want true")
	}
}

func TestFirework_ToDictFromDict_RoundTrip(t *testing.T) {
	fw := NewFirework("build-job", map[string]interface{}{"x": float64(1)}, []interface{}{"task-a"})
	fw.FwID = 42
	fw.Touch(StateReady, "")

	dict, err := fw.ToDict()
	if err != nil {
		t.Fatalf("ToDict() error: %v", err)
	}

	back, err := FireworkFromDict(dict)
	if err != nil {
		t.Fatalf("FireworkFromDict() error: %v", err)
	}

	if back.FwID != fw.FwID || back.Name != fw.Name || back.State != fw.State {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, fw)
	}
	if len(back.StateHistory) != len(fw.StateHistory) {
		t.Errorf("StateHistory length mismatch: got %d, want %d", len(back.StateHistory), len(fw.StateHistory))
	}
}

func TestFirework_Clone(t *testing.T) {
	fw := NewFirework("build-job", map[string]interface{}{"x": float64(1)}, nil)
	fw.FwID = 7

	clone, err := fw.Clone()
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	if clone.FwID != fw.FwID {
		t.Errorf("clone FwID = %d, want %d", clone.FwID, fw.FwID)
	}

	clone.Spec["x"] = float64(2)
	if fw.Spec["x"] == clone.Spec["x"] {
		t.Error("mutating clone.Spec affected the original")
	}
}

func TestFirework_LastReservationID_None(t *testing.T) {
	fw := NewFirework("build-job", nil, nil)
	if got := fw.LastReservationID(); got != "" {
		t.Errorf("LastReservationID() = %q, want empty", got)
	}
}
