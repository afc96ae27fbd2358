// Package idassigner provides the monotonic fw_id allocator (spec §4.3).
package idassigner

import (
	"context"
	"fmt"
)

// Counter is the persistence surface the assigner needs: a single
// atomically-incrementable counter document. store.Store satisfies this.
type Counter interface {
	NextFwIDs(ctx context.Context, n int) (int, error)
	ResetFwIDCounter(ctx context.Context, v int) error
}

// Assigner hands out contiguous ranges of fw_id from a persistent
// counter. It holds no in-process cache beyond what a single NextID call
// reserves (spec §9 "Global counter"): every call round-trips to the
// store, so ids are never reused even across process restarts.
type Assigner struct {
	counter Counter
}

// New wraps counter as an Assigner.
func New(counter Counter) *Assigner {
	return &Assigner{counter: counter}
}

// NextID atomically reserves n contiguous fw_ids and returns the first
// one; the reserved range is [first, first+n). n must be positive.
func (a *Assigner) NextID(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("idassigner: NextID count must be positive, got %d", n)
	}
	return a.counter.NextFwIDs(ctx, n)
}

// Reset replaces the counter document with v, the next id NextID will
// hand out. Used by LaunchPad.Reset to wipe a deployment back to a clean
// slate.
func (a *Assigner) Reset(ctx context.Context, v int) error {
	return a.counter.ResetFwIDCounter(ctx, v)
}
