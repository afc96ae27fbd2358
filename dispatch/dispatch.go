// Package dispatch implements ReserveReady, the dispatcher's selection
// and checkout procedure (spec §4.4).
package dispatch

import (
	"context"
	"fmt"

	"github.com/dshills/launchpad-go/model"
	"github.com/dshills/launchpad-go/store"
)

// SpecKeyPriority is the reserved spec key the dispatcher sorts on.
const SpecKeyPriority = "_priority"

// CreatedOnPolicy picks the tie-break direction for the created_on sort
// key, the last of the three keys ReserveReady orders by.
type CreatedOnPolicy int

const (
	// FIFO orders by created_on ascending: among equal-priority,
	// equal-launch_idx candidates, the oldest goes first.
	FIFO CreatedOnPolicy = iota
	// FILO orders by created_on descending.
	FILO
)

// DuplicateChecker runs the duplicate-detection procedure (spec §4.6)
// against a freshly-reserved candidate. dupe.Engine satisfies this.
type DuplicateChecker interface {
	Check(ctx context.Context, candidate *model.Firework) (stolen bool, err error)
}

// Store is the persistence surface ReserveReady needs.
type Store interface {
	ReserveReady(ctx context.Context, filter store.FireworkFilter, sort store.SortPolicy) (*model.Firework, error)
	FindFireworks(ctx context.Context, filter store.FireworkFilter, sort store.SortPolicy) ([]*model.Firework, error)
}

// Dispatcher selects and checks out ready work (spec §4.4).
type Dispatcher struct {
	store Store
	dupe  DuplicateChecker
}

// New builds a Dispatcher over st, consulting dupe for duplicate
// detection after every checkout. dupe may be nil to skip duplicate
// checking entirely (e.g. in a deployment with no fireworks carrying
// _dupefinder).
func New(st Store, dupe DuplicateChecker) *Dispatcher {
	return &Dispatcher{store: st, dupe: dupe}
}

// Query is the caller-supplied narrowing criteria ReserveReady ANDs with
// the dispatcher's own state requirement (spec §4.4 step 1).
type Query struct {
	SpecEquals map[string]interface{}
	Category   string
	Policy     CreatedOnPolicy
}

// ReserveReady runs spec §4.4's selection procedure. fwID, when positive,
// overrides query to target exactly that firework (in state READY or
// RESERVED) rather than scanning for any match. checkout controls whether
// the match is atomically claimed (state → RESERVED) or returned as a
// read-only view for queue-length estimation. It returns (nil, nil) when
// nothing matches.
func (d *Dispatcher) ReserveReady(ctx context.Context, query Query, fwID int, checkout bool) (*model.Firework, error) {
	for {
		filter := buildFilter(query, fwID)
		sort := sortPolicy(query.Policy)

		var fw *model.Firework
		var err error
		if checkout {
			fw, err = d.store.ReserveReady(ctx, filter, sort)
		} else {
			fw, err = firstMatch(ctx, d.store, filter, sort)
		}
		if err == store.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("dispatch: reserve_ready: %w", err)
		}
		if fw == nil {
			return nil, nil
		}

		if !checkout || d.dupe == nil {
			return fw, nil
		}

		stolen, err := d.dupe.Check(ctx, fw)
		if err != nil {
			return nil, fmt.Errorf("dispatch: duplicate check fw_id=%d: %w", fw.FwID, err)
		}
		if !stolen {
			return fw, nil
		}
		// The candidate was absorbed into another firework's duplicate
		// set; loop back to step 3 against the refreshed workflow.
	}
}

func buildFilter(query Query, fwID int) store.FireworkFilter {
	if fwID > 0 {
		return store.FireworkFilter{
			FwID:    fwID,
			HasFwID: true,
			States:  []model.State{model.StateReady, model.StateReserved},
		}
	}
	return store.FireworkFilter{
		States:     []model.State{model.StateReady},
		SpecEquals: query.SpecEquals,
		Category:   query.Category,
	}
}

func sortPolicy(policy CreatedOnPolicy) store.SortPolicy {
	createdOnDir := store.Ascending
	if policy == FILO {
		createdOnDir = store.Descending
	}
	return store.SortPolicy{
		Fields: []store.SortField{
			{Field: "spec._priority", Direction: store.Descending},
			{Field: "launch_idx", Direction: store.Descending},
			{Field: "created_on", Direction: createdOnDir},
		},
	}
}

func firstMatch(ctx context.Context, st Store, filter store.FireworkFilter, sort store.SortPolicy) (*model.Firework, error) {
	matches, err := st.FindFireworks(ctx, filter, sort)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}
