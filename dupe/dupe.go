// Package dupe implements the duplicate-detection engine (spec §4.6):
// candidate matching against a per-firework policy, optional
// verification, and bidirectional linking.
package dupe

import (
	"context"
	"fmt"

	"github.com/dshills/launchpad-go/model"
	"github.com/dshills/launchpad-go/store"
)

// SpecKeyDupefinder is the reserved spec key naming which registered
// Dupefinder applies to a firework (spec §3, §9: tagged variant with a
// registry keyed by a name string).
const SpecKeyDupefinder = "_dupefinder"

// Dupefinder computes the candidate filter for a firework's duplicate
// search. Query receives the firework's full spec (not just the
// dupefinder's own configuration) so it can key off arbitrary fields.
type Dupefinder interface {
	Query(spec map[string]interface{}) (store.FireworkFilter, error)
}

// VerifyingDupefinder is a Dupefinder that additionally confirms a
// candidate match with a second, more expensive check. Not every
// Dupefinder needs this — one whose Query filter is already exact can
// omit it — so Engine type-asserts for it rather than requiring it on
// every registration, mirroring the source system's duck-typed probe for
// whether verify is implemented.
type VerifyingDupefinder interface {
	Dupefinder
	Verify(specSelf, specCandidate map[string]interface{}) bool
}

// Registry maps dupefinder names (as found in spec._dupefinder) to
// implementations. The core never depends on a concrete Dupefinder type.
type Registry struct {
	finders map[string]Dupefinder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{finders: make(map[string]Dupefinder)}
}

// Register adds (or replaces) the Dupefinder known by name.
func (r *Registry) Register(name string, finder Dupefinder) {
	r.finders[name] = finder
}

// Lookup returns the Dupefinder registered under name, if any.
func (r *Registry) Lookup(name string) (Dupefinder, bool) {
	f, ok := r.finders[name]
	return f, ok
}

// FireworkStore is the persistence surface Engine needs.
type FireworkStore interface {
	FindFireworks(ctx context.Context, filter store.FireworkFilter, sort store.SortPolicy) ([]*model.Firework, error)
	ReplaceFirework(ctx context.Context, fw *model.Firework, upsert bool) error
}

// Engine runs the duplicate-detection procedure against a Registry and a
// store.
type Engine struct {
	registry *Registry
	store    FireworkStore
}

// New builds an Engine over registry and st.
func New(registry *Registry, st FireworkStore) *Engine {
	return &Engine{registry: registry, store: st}
}

// Check runs spec §4.6 against candidate: if candidate's spec names a
// registered dupefinder, it scans for matches (optionally verifying
// each), links any confirmed duplicate bidirectionally, and persists
// both sides. It reports whether candidate was linked to at least one
// duplicate ("stolen"), signaling the caller (the dispatcher) that it
// must re-run reservation against the refreshed workflow rather than
// hand candidate out directly.
func (e *Engine) Check(ctx context.Context, candidate *model.Firework) (stolen bool, err error) {
	name, _ := candidate.Spec[SpecKeyDupefinder].(string)
	if name == "" {
		return false, nil
	}

	finder, ok := e.registry.Lookup(name)
	if !ok {
		return false, fmt.Errorf("dupe: no dupefinder registered for %q", name)
	}

	filter, err := finder.Query(candidate.Spec)
	if err != nil {
		return false, fmt.Errorf("dupe: query for fw_id=%d: %w", candidate.FwID, err)
	}
	filter.ExcludeFwIDs = append(filter.ExcludeFwIDs, candidate.FwID)

	matches, err := e.store.FindFireworks(ctx, filter, store.SortPolicy{})
	if err != nil {
		return false, fmt.Errorf("dupe: scan for fw_id=%d: %w", candidate.FwID, err)
	}
	if len(matches) == 0 {
		return false, nil
	}

	verifier, verifies := finder.(VerifyingDupefinder)

	for _, other := range matches {
		if verifies && !verifier.Verify(candidate.Spec, other.Spec) {
			continue
		}

		if !linked(candidate.Duplicates, other.FwID) {
			candidate.Duplicates = append(candidate.Duplicates, other.FwID)
		}
		if !linked(other.Duplicates, candidate.FwID) {
			other.Duplicates = append(other.Duplicates, candidate.FwID)
		}
		if err := e.store.ReplaceFirework(ctx, other, false); err != nil {
			return false, fmt.Errorf("dupe: persist fw_id=%d: %w", other.FwID, err)
		}
		stolen = true
	}

	if stolen {
		if err := e.store.ReplaceFirework(ctx, candidate, false); err != nil {
			return false, fmt.Errorf("dupe: persist fw_id=%d: %w", candidate.FwID, err)
		}
	}
	return stolen, nil
}

func linked(duplicates []int, fwID int) bool {
	for _, d := range duplicates {
		if d == fwID {
			return true
		}
	}
	return false
}

// Duplicates returns the deduplicated set of ids in fw's duplicates
// field, excluding fw's own id. This resolves spec §9's flagged defect
// in `_get_duplicates`, which referenced an undefined local.
func Duplicates(fw *model.Firework) []int {
	seen := make(map[int]bool, len(fw.Duplicates))
	var out []int
	for _, id := range fw.Duplicates {
		if id == fw.FwID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
