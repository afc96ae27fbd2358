package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Workflow is a named DAG of fireworks with an aggregate state (spec §3).
type Workflow struct {
	Nodes []int         `json:"nodes"`
	Links map[int][]int `json:"links"`

	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`

	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`

	// FwStates caches the current latest-launch state of every node, kept
	// in sync by the checkin/refresh pipeline (invariant §3.c).
	FwStates map[int]State `json:"fw_states"`

	State State `json:"state"`

	// Locked is present (true) only while a WFLock holder is mutating
	// this workflow (spec §4.2).
	Locked bool `json:"locked,omitempty"`
}

// NewWorkflow builds a Workflow over nodes connected by links, with every
// node's cached state seeded from fwStates.
func NewWorkflow(name string, nodes []int, links map[int][]int, fwStates map[int]State, metadata map[string]interface{}) *Workflow {
	now := Now()
	if links == nil {
		links = map[int][]int{}
	}
	if fwStates == nil {
		fwStates = map[int]State{}
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	wf := &Workflow{
		Nodes:     nodes,
		Links:     links,
		Name:      name,
		Metadata:  metadata,
		CreatedOn: now,
		UpdatedOn: now,
		FwStates:  fwStates,
	}
	wf.State = wf.ComputeState()
	return wf
}

// Parents returns the ids of nodes that list fwID as a child, i.e. the
// direct parents of fwID in the DAG.
func (w *Workflow) Parents(fwID int) []int {
	var parents []int
	for parent, children := range w.Links {
		for _, c := range children {
			if c == fwID {
				parents = append(parents, parent)
				break
			}
		}
	}
	sort.Ints(parents)
	return parents
}

// Children returns the ordered sequence of fwID's direct children.
func (w *Workflow) Children(fwID int) []int {
	return w.Links[fwID]
}

// ComputeState derives the workflow's aggregate state from FwStates
// following spec §4.5:
//
//	COMPLETED iff all nodes COMPLETED
//	FIZZLED   iff any terminal FIZZLED and no ready path to completion
//	RUNNING   iff any node RUNNING
//	READY     iff any node READY and none RUNNING
//	else WAITING
//
// "no ready path to completion" is approximated, as the original system
// does, by the absence of any WAITING or READY node once a FIZZLED node
// exists: if every other node already reached a terminal state, nothing
// can still unblock the fizzled branch.
func (w *Workflow) ComputeState() State {
	if len(w.FwStates) == 0 {
		return StateWaiting
	}

	allCompleted := true
	anyRunning := false
	anyReady := false
	anyFizzled := false
	anyWaitingOrReady := false

	for _, s := range w.FwStates {
		if s != StateCompleted {
			allCompleted = false
		}
		switch s {
		case StateRunning:
			anyRunning = true
		case StateReady:
			anyReady = true
			anyWaitingOrReady = true
		case StateWaiting:
			anyWaitingOrReady = true
		case StateFizzled:
			anyFizzled = true
		}
	}

	switch {
	case allCompleted:
		return StateCompleted
	case anyFizzled && !anyWaitingOrReady && !anyRunning:
		return StateFizzled
	case anyRunning:
		return StateRunning
	case anyReady:
		return StateReady
	default:
		return StateWaiting
	}
}

// Refresh recomputes State from FwStates and bumps UpdatedOn. Callers
// must hold the workflow's WFLock before calling this.
func (w *Workflow) Refresh() {
	w.State = w.ComputeState()
	w.UpdatedOn = Now()
}

// ToDict serializes the Workflow to a generic string-keyed map (spec §6).
func (w *Workflow) ToDict() (map[string]interface{}, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// WorkflowFromDict parses a generic string-keyed document into a
// Workflow.
func WorkflowFromDict(m map[string]interface{}) (*Workflow, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
