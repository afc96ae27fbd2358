package model

import "testing"

func TestWorkflow_ComputeState(t *testing.T) {
	cases := []struct {
		name     string
		fwStates map[int]State
		want     State
	}{
		{"all completed", map[int]State{1: StateCompleted, 2: StateCompleted}, StateCompleted},
		{"one running", map[int]State{1: StateCompleted, 2: StateRunning}, StateRunning},
		{"one ready none running", map[int]State{1: StateWaiting, 2: StateReady}, StateReady},
		{"all waiting", map[int]State{1: StateWaiting, 2: StateWaiting}, StateWaiting},
		{"fizzled with no escape", map[int]State{1: StateCompleted, 2: StateFizzled}, StateFizzled},
		{"fizzled but sibling still waiting", map[int]State{1: StateWaiting, 2: StateFizzled}, StateWaiting},
		{"empty", map[int]State{}, StateWaiting},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			wf := NewWorkflow("wf", []int{1, 2}, nil, c.fwStates, nil)
			if wf.State != c.want {
				t.Errorf("ComputeState() = %q, want %q", wf.State, c.want)
			}
		})
	}
}

func TestWorkflow_ParentsAndChildren(t *testing.T) {
	links := map[int][]int{1: {2, 3}, 2: {4}}
	wf := NewWorkflow("wf", []int{1, 2, 3, 4}, links, nil, nil)

	if got := wf.Children(1); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("Children(1) = %v, want [2 3]", got)
	}

	parents := wf.Parents(4)
	if len(parents) != 1 || parents[0] != 2 {
		t.Errorf("Parents(4) = %v, want [2]", parents)
	}
}

func TestWorkflow_Refresh(t *testing.T) {
	wf := NewWorkflow("wf", []int{1}, nil, map[int]State{1: StateWaiting}, nil)
	wf.FwStates[1] = StateCompleted
	before := wf.UpdatedOn
	wf.Refresh()

	if wf.State != StateCompleted {
		t.Errorf("State after Refresh = %q, want COMPLETED", wf.State)
	}
	if !wf.UpdatedOn.After(before) && wf.UpdatedOn != before {
		t.Error("Refresh did not update UpdatedOn")
	}
}

func TestWorkflow_ToDictFromDict_RoundTrip(t *testing.T) {
	wf := NewWorkflow("wf", []int{1, 2}, map[int][]int{1: {2}}, map[int]State{1: StateCompleted, 2: StateReady}, map[string]interface{}{"owner": "alice"})

	dict, err := wf.ToDict()
	if err != nil {
		t.Fatalf("ToDict() error: %v", err)
	}

	back, err := WorkflowFromDict(dict)
	if err != nil {
		t.Fatalf("WorkflowFromDict() error: %v", err)
	}

	if back.Name != wf.Name || back.State != wf.State {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, wf)
	}
	if len(back.Nodes) != len(wf.Nodes) {
		t.Errorf("Nodes length mismatch: got %d, want %d", len(back.Nodes), len(wf.Nodes))
	}
}
