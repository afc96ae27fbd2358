// Package wflock implements the cooperative, time-bounded workflow mutex
// (spec §4.2). It serializes every mutation to a workflow's links,
// fw_states, and node state, keyed by any fw_id belonging to that
// workflow.
package wflock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/dshills/launchpad-go/errs"
)

// Locker is the persistence surface WFLock needs. store.Store satisfies
// this directly.
type Locker interface {
	// AcquireWorkflowLock attempts the CAS: find the workflow containing
	// fwID with locked unset, and set locked = true. Returns false (no
	// error) if the workflow exists but is already locked.
	AcquireWorkflowLock(ctx context.Context, fwID int) (acquired bool, err error)

	// ReleaseWorkflowLock unsets locked on the workflow containing fwID.
	ReleaseWorkflowLock(ctx context.Context, fwID int) error

	// ForceWorkflowLock unconditionally sets locked = true, used by the
	// kill fallback when the expected holder appears to have crashed.
	ForceWorkflowLock(ctx context.Context, fwID int) error
}

// DefaultExpireSecs is the default acquisition timeout (spec §4.2).
const DefaultExpireSecs = 300.0

// Options configures a single Acquire call.
type Options struct {
	// ExpireSecs bounds how long Acquire backs off before giving up (or
	// killing, if Kill is set). Defaults to DefaultExpireSecs when zero.
	ExpireSecs float64

	// Kill forcibly takes the lock once ExpireSecs has elapsed instead of
	// returning errs.LockedWorkflow, so progress is made even against a
	// crashed holder. LaunchPad sets it from Config.WFLockExpirationKill,
	// which defaults to false.
	Kill bool
}

// WFLock acquires and releases the workflow lock against a Locker. A
// single WFLock is shared across concurrent callers; Acquire is safe to
// call from multiple goroutines at once.
type WFLock struct {
	store Locker
}

// New wraps store as a WFLock.
func New(store Locker) *WFLock {
	return &WFLock{store: store}
}

// Handle represents a held lock; call Release when the critical section
// is done.
type Handle struct {
	lock *WFLock
	fwID int
}

// Acquire blocks (with backoff) until the workflow containing fwID is
// locked on this call's behalf, ExpireSecs elapses, or ctx is canceled.
//
// On contention it backs off with sleep = attempt/10 + jitter_in_hundredths
// seconds, matching the source system's schedule, and accumulates the
// waited time against opts.ExpireSecs.
func (l *WFLock) Acquire(ctx context.Context, fwID int, opts Options) (*Handle, error) {
	expireSecs := opts.ExpireSecs
	if expireSecs <= 0 {
		expireSecs = DefaultExpireSecs
	}

	start := time.Now()
	attempt := 0
	for {
		acquired, err := l.store.AcquireWorkflowLock(ctx, fwID)
		if err != nil {
			return nil, fmt.Errorf("wflock: acquire fw_id=%d: %w", fwID, err)
		}
		if acquired {
			return &Handle{lock: l, fwID: fwID}, nil
		}

		waited := time.Since(start).Seconds()
		if waited >= expireSecs {
			if opts.Kill {
				if err := l.store.ForceWorkflowLock(ctx, fwID); err != nil {
					return nil, fmt.Errorf("wflock: force-acquire fw_id=%d: %w", fwID, err)
				}
				return &Handle{lock: l, fwID: fwID}, nil
			}
			return nil, &errs.LockedWorkflow{WfID: fwID, WaitedSeconds: waited}
		}

		attempt++
		backoff := time.Duration(float64(attempt)/10*float64(time.Second)) + l.jitter()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// jitter returns a pseudo-random duration in [0, 100ms) in 10ms steps,
// matching the source system's "jitter_in_hundredths" of a second.
// math/rand's package-level functions are safe for concurrent use, so
// multiple Acquire calls can share this without their own *rand.Rand.
func (l *WFLock) jitter() time.Duration {
	return time.Duration(rand.Intn(10)) * 10 * time.Millisecond
}

// Release unsets locked on the workflow this handle was acquired for.
func (h *Handle) Release(ctx context.Context) error {
	if err := h.lock.store.ReleaseWorkflowLock(ctx, h.fwID); err != nil {
		return fmt.Errorf("wflock: release fw_id=%d: %w", h.fwID, err)
	}
	return nil
}
