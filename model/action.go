package model

// ModOperation is one operator in the mod_spec operator language applied
// to a Firework's spec during Checkin (spec §3, §4.5). It mirrors the
// handful of update operators the original system supports, e.g.
// {"_push": {"results": 42}} appends 42 to spec["results"].
type ModOperation struct {
	// Op is the operator name: "_push", "_push_all", "_pull", "_set",
	// "_inc", or "_unset".
	Op string `json:"op"`

	// Key is the dotted path into spec the operator applies to.
	Key string `json:"key"`

	// Val is the operator's argument. Its shape depends on Op: a scalar
	// for "_push"/"_set"/"_inc", a slice for "_push_all", the value to
	// remove for "_pull", and unused for "_unset".
	Val interface{} `json:"val"`
}

// FWAction is the result a worker reports back through Checkin (spec §3).
type FWAction struct {
	// UpdateSpec replaces (merges into) the firework's spec wholesale.
	UpdateSpec map[string]interface{} `json:"update_spec,omitempty"`

	// ModSpec is an ordered sequence of operators applied to spec, for
	// incremental updates that don't require shipping the whole spec.
	ModSpec []ModOperation `json:"mod_spec,omitempty"`

	// Additions are new fireworks to attach as children of the firework
	// that produced this action.
	Additions []*Firework `json:"additions,omitempty"`

	// Detours are branches inserted before the firework's existing
	// children: the detour fireworks become children of this firework,
	// and the firework's original children become children of the
	// detours' leaves.
	Detours []*Firework `json:"detours,omitempty"`

	// DefuseChildren marks this firework's children DEFUSED instead of
	// letting them become READY when their parents complete.
	DefuseChildren bool `json:"defuse_children,omitempty"`

	// DefuseWorkflow marks every other firework in the enclosing workflow
	// DEFUSED.
	DefuseWorkflow bool `json:"defuse_workflow,omitempty"`

	// StoredData is opaque worker-reported output, persisted verbatim.
	StoredData map[string]interface{} `json:"stored_data,omitempty"`

	// Exit halts propagation to this firework's children even though it
	// completed successfully.
	Exit bool `json:"exit,omitempty"`

	// SpilloverID is set in place of the full action payload when the
	// serialized action exceeded the store's per-document limit and was
	// redirected to the blob store (spec §3, §4.5).
	SpilloverID string `json:"spillover_id,omitempty"`
}

// IsEmpty reports whether the action carries no payload at all, the
// condition spec §7 uses to decide whether a DocumentTooLarge error can be
// recovered by spilling (an empty action can never be the cause of an
// oversize document).
func (a *FWAction) IsEmpty() bool {
	if a == nil {
		return true
	}
	return len(a.UpdateSpec) == 0 && len(a.ModSpec) == 0 && len(a.Additions) == 0 &&
		len(a.Detours) == 0 && !a.DefuseChildren && !a.DefuseWorkflow &&
		len(a.StoredData) == 0 && !a.Exit && a.SpilloverID == ""
}
