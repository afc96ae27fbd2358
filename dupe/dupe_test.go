package dupe

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/launchpad-go/model"
	"github.com/dshills/launchpad-go/store"
)

type fakeStore struct {
	matches  []*model.Firework
	findErr  error
	replaced map[int]*model.Firework
}

func newFakeStore(matches ...*model.Firework) *fakeStore {
	return &fakeStore{matches: matches, replaced: make(map[int]*model.Firework)}
}

func (f *fakeStore) FindFireworks(_ context.Context, _ store.FireworkFilter, _ store.SortPolicy) ([]*model.Firework, error) {
	return f.matches, f.findErr
}

func (f *fakeStore) ReplaceFirework(_ context.Context, fw *model.Firework, _ bool) error {
	f.replaced[fw.FwID] = fw
	return nil
}

type exactFinder struct{}

func (exactFinder) Query(spec map[string]interface{}) (store.FireworkFilter, error) {
	return store.FireworkFilter{SpecEquals: map[string]interface{}{"key": spec["key"]}}, nil
}

type verifyingFinder struct {
	verifyResult bool
}

func (verifyingFinder) Query(spec map[string]interface{}) (store.FireworkFilter, error) {
	return store.FireworkFilter{SpecEquals: map[string]interface{}{"key": spec["key"]}}, nil
}

func (v verifyingFinder) Verify(_, _ map[string]interface{}) bool {
	return v.verifyResult
}

func TestEngine_Check_NoDupefinderConfigured(t *testing.T) {
	st := newFakeStore()
	e := New(NewRegistry(), st)

	candidate := &model.Firework{FwID: 1, Spec: map[string]interface{}{}}
	stolen, err := e.Check(context.Background(), candidate)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if stolen {
		t.Error("expected stolen = false when spec has no _dupefinder")
	}
}

func TestEngine_Check_UnregisteredNameErrors(t *testing.T) {
	st := newFakeStore()
	e := New(NewRegistry(), st)

	candidate := &model.Firework{FwID: 1, Spec: map[string]interface{}{SpecKeyDupefinder: "missing"}}
	_, err := e.Check(context.Background(), candidate)
	if err == nil {
		t.Fatal("expected error for unregistered dupefinder name")
	}
}

func TestEngine_Check_NoVerifyAcceptsAllMatches(t *testing.T) {
	other := &model.Firework{FwID: 2, Spec: map[string]interface{}{"key": "x"}}
	st := newFakeStore(other)
	reg := NewRegistry()
	reg.Register("exact", exactFinder{})
	e := New(reg, st)

	candidate := &model.Firework{FwID: 1, Spec: map[string]interface{}{SpecKeyDupefinder: "exact", "key": "x"}}
	stolen, err := e.Check(context.Background(), candidate)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if !stolen {
		t.Fatal("expected stolen = true")
	}
	if len(candidate.Duplicates) != 1 || candidate.Duplicates[0] != 2 {
		t.Errorf("candidate.Duplicates = %v, want [2]", candidate.Duplicates)
	}
	if len(other.Duplicates) != 1 || other.Duplicates[0] != 1 {
		t.Errorf("other.Duplicates = %v, want [1]", other.Duplicates)
	}
	if _, ok := st.replaced[1]; !ok {
		t.Error("expected candidate to be persisted")
	}
	if _, ok := st.replaced[2]; !ok {
		t.Error("expected other to be persisted")
	}
}

func TestEngine_Check_VerifyRejectsMatch(t *testing.T) {
	other := &model.Firework{FwID: 2, Spec: map[string]interface{}{"key": "x"}}
	st := newFakeStore(other)
	reg := NewRegistry()
	reg.Register("picky", verifyingFinder{verifyResult: false})
	e := New(reg, st)

	candidate := &model.Firework{FwID: 1, Spec: map[string]interface{}{SpecKeyDupefinder: "picky", "key": "x"}}
	stolen, err := e.Check(context.Background(), candidate)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if stolen {
		t.Error("expected stolen = false when Verify rejects the only match")
	}
	if len(candidate.Duplicates) != 0 {
		t.Errorf("candidate.Duplicates = %v, want empty", candidate.Duplicates)
	}
}

func TestEngine_Check_FindErrorPropagates(t *testing.T) {
	st := newFakeStore()
	st.findErr = errors.New("boom")
	reg := NewRegistry()
	reg.Register("exact", exactFinder{})
	e := New(reg, st)

	candidate := &model.Firework{FwID: 1, Spec: map[string]interface{}{SpecKeyDupefinder: "exact"}}
	if _, err := e.Check(context.Background(), candidate); err == nil {
		t.Fatal("expected error to propagate from FindFireworks")
	}
}

func TestDuplicates_ExcludesSelfAndDedupes(t *testing.T) {
	fw := &model.Firework{FwID: 5, Duplicates: []int{5, 6, 6, 7}}
	got := Duplicates(fw)
	want := []int{6, 7}
	if len(got) != len(want) {
		t.Fatalf("Duplicates() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Duplicates()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
