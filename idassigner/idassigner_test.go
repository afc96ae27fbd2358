package idassigner

import (
	"context"
	"testing"
)

type fakeCounter struct {
	value int
}

func (f *fakeCounter) NextFwIDs(_ context.Context, n int) (int, error) {
	prev := f.value
	f.value += n
	return prev, nil
}

func (f *fakeCounter) ResetFwIDCounter(_ context.Context, v int) error {
	f.value = v
	return nil
}

func TestAssigner_NextID(t *testing.T) {
	counter := &fakeCounter{value: 1}
	a := New(counter)
	ctx := context.Background()

	first, err := a.NextID(ctx, 3)
	if err != nil {
		t.Fatalf("NextID() error: %v", err)
	}
	if first != 1 {
		t.Errorf("first = %d, want 1", first)
	}

	second, err := a.NextID(ctx, 1)
	if err != nil {
		t.Fatalf("second NextID() error: %v", err)
	}
	if second != 4 {
		t.Errorf("second = %d, want 4", second)
	}
}

func TestAssigner_NextID_RejectsNonPositive(t *testing.T) {
	a := New(&fakeCounter{value: 1})
	if _, err := a.NextID(context.Background(), 0); err == nil {
		t.Error("expected error for n=0")
	}
	if _, err := a.NextID(context.Background(), -1); err == nil {
		t.Error("expected error for n=-1")
	}
}

func TestAssigner_Reset(t *testing.T) {
	counter := &fakeCounter{value: 50}
	a := New(counter)

	if err := a.Reset(context.Background(), 1000); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}

	first, err := a.NextID(context.Background(), 1)
	if err != nil {
		t.Fatalf("NextID() error: %v", err)
	}
	if first != 1000 {
		t.Errorf("first after Reset = %d, want 1000", first)
	}
}
