// Package emit provides event emission and observability for LaunchPad
// scheduler operations.
package emit

import "context"

// Emitter receives Events raised by LaunchPad operations: Reserve, Checkin,
// CancelReservation, Rerun, workflow lifecycle, and janitor recoveries.
//
// Implementations should be non-blocking and safe for concurrent use — they
// are called inline from the operation they describe, never from a side
// goroutine, so a slow Emit stalls the caller.
type Emitter interface {
	// Emit sends a single event to the configured backend. It must not
	// panic; a backend failure should be swallowed internally.
	Emit(event Event)

	// EmitBatch sends events in order, amortizing per-event overhead for
	// backends where that matters (e.g. span export, network writes).
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any buffered events have been sent, or ctx is
	// done. Call it before shutdown so buffered emitters don't lose their
	// tail.
	Flush(ctx context.Context) error
}
