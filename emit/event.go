package emit

// EventKind identifies which LaunchPad operation raised an Event. Unlike a
// free-text message, it is a closed set a filter or dashboard can switch on.
type EventKind string

const (
	// KindReset fires once when Reset finishes dropping every workflow and
	// rewinding the fw_id counter.
	KindReset EventKind = "reset"
	// KindAddWorkflow fires when AddWF inserts a new workflow.
	KindAddWorkflow EventKind = "add_workflow"
	// KindReserve fires when Reserve hands back a firework, whether or not
	// checkout persisted a reservation id.
	KindReserve EventKind = "reserve"
	// KindCheckin fires when Checkin finishes applying a worker's result.
	KindCheckin EventKind = "checkin"
	// KindCancelReservation fires when CancelReservation returns a
	// RESERVED firework to READY.
	KindCancelReservation EventKind = "cancel_reservation"
	// KindRerun fires when Rerun starts a fresh launch of a terminal
	// firework.
	KindRerun EventKind = "rerun"
	// KindDeleteWorkflow fires when DeleteWF removes a workflow.
	KindDeleteWorkflow EventKind = "delete_workflow"
	// KindRefreshFailed fires when a workflow refresh errors badly enough
	// that the firework and workflow are force-fizzled (fizzleOnRefreshFailure).
	KindRefreshFailed EventKind = "refresh_failed"
	// KindJanitorRecovered fires once per firework the janitor's sweep
	// reclaims, via DetectUnreserved or DetectLostRuns.
	KindJanitorRecovered EventKind = "janitor_recovered"
)

// Severe reports whether kind represents a failure or recovery a monitoring
// backend should surface distinctly from routine scheduling activity, as
// opposed to filtering on ad hoc message substrings.
func (k EventKind) Severe() bool {
	switch k {
	case KindRefreshFailed, KindJanitorRecovered:
		return true
	default:
		return false
	}
}

// Event is an observability event raised by a LaunchPad operation.
//
// Events are handed to an Emitter, which may log them, buffer them for
// inspection, export them as OpenTelemetry spans, or discard them.
type Event struct {
	// Kind identifies the operation that raised the event.
	Kind EventKind

	// FwID is the firework the event concerns, or zero for
	// launchpad-level events with no single subject (KindReset).
	FwID int

	// WfName is the workflow name the event concerns, set only by
	// KindAddWorkflow (AddWF is the one operation that knows a workflow's
	// name before it has any fw_id to key off).
	WfName string

	// LaunchIdx is the launch_idx the event concerns, when relevant
	// (KindRerun's newly started launch). Zero otherwise.
	LaunchIdx int

	// Meta carries event-specific structured data, e.g. "checkout",
	// "state", "delete_dirs", "reason".
	Meta map[string]interface{}
}
