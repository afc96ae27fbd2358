// Package janitor implements the periodic maintenance sweep (spec §4.7):
// reclaiming expired reservations, fizzling lost runs, and index upkeep.
package janitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/launchpad-go/model"
	"github.com/dshills/launchpad-go/store"
)

// WorkflowRefresher recomputes and persists a workflow's aggregate state
// after one of its fireworks changed state.
type WorkflowRefresher interface {
	RefreshWorkflow(ctx context.Context, fwID int) error
}

// Store is the persistence surface the janitor needs.
type Store interface {
	FindFireworks(ctx context.Context, filter store.FireworkFilter, sort store.SortPolicy) ([]*model.Firework, error)
	ReplaceFirework(ctx context.Context, fw *model.Firework, upsert bool) error
	Tuneup(ctx context.Context, background bool) error
}

// Janitor runs spec §4.7's maintenance operations against a Store.
type Janitor struct {
	store   Store
	refresh WorkflowRefresher
}

// New builds a Janitor over st, calling refresh whenever a sweep changes
// a firework's state.
func New(st Store, refresh WorkflowRefresher) *Janitor {
	return &Janitor{store: st, refresh: refresh}
}

// RecoveredReservation describes one reservation the sweep reclaimed.
type RecoveredReservation struct {
	FwID int
}

// DetectUnreserved finds fireworks RESERVED for longer than expiry and,
// when rerun is true, cancels the reservation (state → READY) and
// refreshes the enclosing workflow. It returns every firework it found
// expired, regardless of rerun.
func (j *Janitor) DetectUnreserved(ctx context.Context, expiry time.Duration, rerun bool) ([]RecoveredReservation, error) {
	candidates, err := j.store.FindFireworks(ctx, store.FireworkFilter{
		States: []model.State{model.StateReserved},
	}, store.SortPolicy{})
	if err != nil {
		return nil, fmt.Errorf("janitor: detect_unreserved scan: %w", err)
	}

	cutoff := time.Now().Add(-expiry)
	var recovered []RecoveredReservation
	for _, fw := range candidates {
		reservedAt, ok := fw.LastReservationUpdate()
		if !ok || reservedAt.After(cutoff) {
			continue
		}
		recovered = append(recovered, RecoveredReservation{FwID: fw.FwID})

		if !rerun {
			continue
		}
		fw.Touch(model.StateReady, "")
		if err := j.store.ReplaceFirework(ctx, fw, false); err != nil {
			return recovered, fmt.Errorf("janitor: cancel reservation fw_id=%d: %w", fw.FwID, err)
		}
		if err := j.refresh.RefreshWorkflow(ctx, fw.FwID); err != nil {
			return recovered, fmt.Errorf("janitor: refresh after cancel fw_id=%d: %w", fw.FwID, err)
		}
	}
	return recovered, nil
}

// LostRun describes one RUNNING firework the sweep found abandoned.
type LostRun struct {
	FwID int
}

// DetectLostRuns finds RUNNING fireworks whose latest tracker tick
// predates expiry, marks them FIZZLED, and refreshes their workflow. A
// FIZZLED parent is never COMPLETED, so its children simply stay WAITING
// forever under the refresh's normal WAITING→READY rule; no separate
// defuse_children handling is needed here.
func (j *Janitor) DetectLostRuns(ctx context.Context, expiry time.Duration) ([]LostRun, error) {
	candidates, err := j.store.FindFireworks(ctx, store.FireworkFilter{
		States: []model.State{model.StateRunning},
	}, store.SortPolicy{})
	if err != nil {
		return nil, fmt.Errorf("janitor: detect_lost_runs scan: %w", err)
	}

	cutoff := time.Now().Add(-expiry)
	var lost []LostRun
	for _, fw := range candidates {
		if lastTrackerTick(fw).After(cutoff) {
			continue
		}
		lost = append(lost, LostRun{FwID: fw.FwID})

		fw.Touch(model.StateFizzled, "")
		if err := j.store.ReplaceFirework(ctx, fw, false); err != nil {
			return lost, fmt.Errorf("janitor: fizzle lost run fw_id=%d: %w", fw.FwID, err)
		}
		if err := j.refresh.RefreshWorkflow(ctx, fw.FwID); err != nil {
			return lost, fmt.Errorf("janitor: refresh after fizzle fw_id=%d: %w", fw.FwID, err)
		}
	}
	return lost, nil
}

// lastTrackerTick returns the timestamp of fw's most recent tracker
// entry, falling back to UpdatedOn if trackers carry no recognizable
// timestamp field (the tracker payload is opaque per spec §3).
func lastTrackerTick(fw *model.Firework) time.Time {
	if len(fw.Trackers) == 0 {
		return fw.UpdatedOn
	}
	last, ok := fw.Trackers[len(fw.Trackers)-1].(map[string]interface{})
	if !ok {
		return fw.UpdatedOn
	}
	raw, ok := last["timestamp"].(string)
	if !ok {
		return fw.UpdatedOn
	}
	ts, err := time.Parse(model.TimeLayout, raw)
	if err != nil {
		return fw.UpdatedOn
	}
	return ts
}

// SweepResult reports what a concurrent Sweep found.
type SweepResult struct {
	Unreserved []RecoveredReservation
	LostRuns   []LostRun
}

// Sweep runs DetectUnreserved and DetectLostRuns concurrently, matching
// spec §4.7's periodic maintenance pass.
func (j *Janitor) Sweep(ctx context.Context, reservationExpiry, runExpiry time.Duration, rerun bool) (SweepResult, error) {
	var result SweepResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		recovered, err := j.DetectUnreserved(gctx, reservationExpiry, rerun)
		result.Unreserved = recovered
		return err
	})
	g.Go(func() error {
		lost, err := j.DetectLostRuns(gctx, runExpiry)
		result.LostRuns = lost
		return err
	})

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// Tuneup ensures every required index exists, optionally compacting.
func (j *Janitor) Tuneup(ctx context.Context, background bool) error {
	if err := j.store.Tuneup(ctx, background); err != nil {
		return fmt.Errorf("janitor: tuneup: %w", err)
	}
	return nil
}
