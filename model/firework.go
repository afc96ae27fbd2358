package model

import (
	"encoding/json"
	"time"
)

// TimeLayout is the ISO-8601 layout (with microsecond precision) used for
// every created_on/updated_on timestamp, so they remain string-comparable
// for range queries against the store.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Now returns the current UTC time truncated to the precision TimeLayout
// can round-trip, so a Firework serialized and reparsed compares equal to
// the in-memory value.
func Now() time.Time {
	return time.Now().UTC().Round(time.Microsecond)
}

// StateHistoryEntry records one transition in a Firework's lifecycle.
type StateHistoryEntry struct {
	State         State                  `json:"state"`
	UpdatedOn     time.Time              `json:"updated_on"`
	ReservationID string                 `json:"reservation_id,omitempty"`
	Checkpoint    map[string]interface{} `json:"checkpoint,omitempty"`
}

// Firework is a single unit of schedulable work: one node of a Workflow
// DAG. See spec §3 for the full data model and its invariants.
type Firework struct {
	// FwID is positive once assigned by the id assigner. A negative value
	// marks a firework not yet inserted into the store, to be replaced on
	// insert (spec §3, §4.3).
	FwID int `json:"fw_id"`

	// LaunchIdx is the attempt index. -1 in a query means "the highest
	// launch_idx present for this fw_id."
	LaunchIdx int `json:"launch_idx"`

	Name  string                 `json:"name"`
	Spec  map[string]interface{} `json:"spec"`
	Tasks []interface{}          `json:"tasks"`
	State State                  `json:"state"`

	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`

	StateHistory []StateHistoryEntry `json:"state_history"`
	Trackers     []interface{}       `json:"trackers,omitempty"`

	LaunchDir string   `json:"launch_dir,omitempty"`
	Action    *FWAction `json:"action,omitempty"`

	// Duplicates holds the fw_ids this firework has been linked to by the
	// duplicate engine (spec §4.6).
	Duplicates []int `json:"duplicates,omitempty"`
}

// NewFirework constructs a Firework in state WAITING with a fresh
// state_history entry, ready for insertion (the id assigner will replace
// FwID if it is non-positive).
func NewFirework(name string, spec map[string]interface{}, tasks []interface{}) *Firework {
	now := Now()
	if spec == nil {
		spec = map[string]interface{}{}
	}
	return &Firework{
		FwID:      -1,
		LaunchIdx: 1,
		Name:      name,
		Spec:      spec,
		Tasks:     tasks,
		State:     StateWaiting,
		CreatedOn: now,
		UpdatedOn: now,
		StateHistory: []StateHistoryEntry{
			{State: StateWaiting, UpdatedOn: now},
		},
	}
}

// Touch appends a new state_history entry and sets State and UpdatedOn. A
// non-empty reservationID is recorded on the entry.
func (f *Firework) Touch(state State, reservationID string) {
	now := Now()
	f.State = state
	f.UpdatedOn = now
	f.StateHistory = append(f.StateHistory, StateHistoryEntry{
		State:         state,
		UpdatedOn:     now,
		ReservationID: reservationID,
	})
}

// LastReservationUpdate returns the updated_on timestamp of the most
// recent state_history entry whose state is RESERVED, used by the janitor
// to detect expired reservations (spec §4.7).
func (f *Firework) LastReservationUpdate() (time.Time, bool) {
	for i := len(f.StateHistory) - 1; i >= 0; i-- {
		if f.StateHistory[i].State == StateReserved {
			return f.StateHistory[i].UpdatedOn, true
		}
	}
	return time.Time{}, false
}

// LastReservationID returns the reservation_id of the most recent RESERVED
// state_history entry, if any.
func (f *Firework) LastReservationID() string {
	for i := len(f.StateHistory) - 1; i >= 0; i-- {
		if f.StateHistory[i].State == StateReserved && f.StateHistory[i].ReservationID != "" {
			return f.StateHistory[i].ReservationID
		}
	}
	return ""
}

// ToDict serializes the Firework to a generic string-keyed map, the
// on-the-wire document shape described in spec §6. Round-tripping through
// ToDict and FromDict is an identity (spec §8).
func (f *Firework) ToDict() (map[string]interface{}, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FireworkFromDict parses a generic string-keyed document (as read back
// from the store) into a Firework.
func FireworkFromDict(m map[string]interface{}) (*Firework, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var f Firework
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Clone returns a deep copy of the Firework via a JSON round-trip, used
// where a caller must mutate a copy without affecting the cached original
// (e.g. Rerun building a new launch, or MemStore handing out copies).
func (f *Firework) Clone() (*Firework, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var clone Firework
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}
