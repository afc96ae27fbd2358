package wflock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/launchpad-go/errs"
)

type fakeLocker struct {
	mu     sync.Mutex
	locked bool
	forced int
}

func (f *fakeLocker) AcquireWorkflowLock(_ context.Context, _ int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return false, nil
	}
	f.locked = true
	return true, nil
}

func (f *fakeLocker) ReleaseWorkflowLock(_ context.Context, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = false
	return nil
}

func (f *fakeLocker) ForceWorkflowLock(_ context.Context, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = true
	f.forced++
	return nil
}

func TestWFLock_AcquireRelease(t *testing.T) {
	locker := &fakeLocker{}
	lock := New(locker)

	h, err := lock.Acquire(context.Background(), 1, Options{})
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !locker.locked {
		t.Error("expected locker.locked = true after Acquire")
	}

	if err := h.Release(context.Background()); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if locker.locked {
		t.Error("expected locker.locked = false after Release")
	}
}

func TestWFLock_ContentionTimesOutWithLockedWorkflow(t *testing.T) {
	locker := &fakeLocker{locked: true}
	lock := New(locker)

	_, err := lock.Acquire(context.Background(), 7, Options{ExpireSecs: 0.1})
	var lockedErr *errs.LockedWorkflow
	if !errors.As(err, &lockedErr) {
		t.Fatalf("Acquire() error = %v, want *errs.LockedWorkflow", err)
	}
	if lockedErr.WfID != 7 {
		t.Errorf("WfID = %d, want 7", lockedErr.WfID)
	}
}

func TestWFLock_KillForciblyTakesLock(t *testing.T) {
	locker := &fakeLocker{locked: true}
	lock := New(locker)

	start := time.Now()
	h, err := lock.Acquire(context.Background(), 3, Options{ExpireSecs: 0.05, Kill: true})
	if err != nil {
		t.Fatalf("Acquire() with Kill error: %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("expected Acquire to wait at least ExpireSecs before killing")
	}
	if locker.forced != 1 {
		t.Errorf("forced = %d, want 1", locker.forced)
	}
	if h == nil {
		t.Fatal("expected non-nil handle")
	}
}

func TestWFLock_AcquireRespectsContextCancellation(t *testing.T) {
	locker := &fakeLocker{locked: true}
	lock := New(locker)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := lock.Acquire(ctx, 9, Options{ExpireSecs: 10})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}
