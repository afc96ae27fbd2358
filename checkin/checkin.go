// Package checkin implements the result-ingestion pipeline (spec §4.5):
// applying a worker's FWAction to a Firework, persisting it with blob
// spillover on oversize documents, and propagating refresh to duplicates.
package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/launchpad-go/dupe"
	"github.com/dshills/launchpad-go/errs"
	"github.com/dshills/launchpad-go/model"
	"github.com/dshills/launchpad-go/specdoc"
	"github.com/dshills/launchpad-go/store"
)

// WorkflowRefresher recomputes and persists a workflow's aggregate state
// (spec §4.4's ComputeState, driven by the enclosing LaunchPad façade).
// It is invoked once per duplicate sibling after a successful checkin.
type WorkflowRefresher interface {
	RefreshWorkflow(ctx context.Context, fwID int) error
}

// Store is the persistence surface Checkin needs.
type Store interface {
	ReplaceFirework(ctx context.Context, fw *model.Firework, upsert bool) error
	Blob() store.BlobStore
}

// Pipeline runs spec §4.5's checkin procedure.
type Pipeline struct {
	store   Store
	refresh WorkflowRefresher
}

// New builds a Pipeline over st, calling refresh for every duplicate
// sibling of a checked-in firework.
func New(st Store, refresh WorkflowRefresher) *Pipeline {
	return &Pipeline{store: st, refresh: refresh}
}

// Checkin applies action to fw, sets fw's state, persists the result
// (spilling action to the blob store on ErrDocumentTooLarge), and
// refreshes every workflow containing a firework duplicated with fw.
func (p *Pipeline) Checkin(ctx context.Context, fw *model.Firework, action *model.FWAction, state model.State) error {
	if err := applyAction(fw, action); err != nil {
		return fmt.Errorf("checkin: apply action fw_id=%d: %w", fw.FwID, err)
	}
	fw.Touch(state, "")
	fw.Action = action

	if err := p.persist(ctx, fw); err != nil {
		return err
	}

	for _, dupFwID := range dupe.Duplicates(fw) {
		if err := p.refresh.RefreshWorkflow(ctx, dupFwID); err != nil {
			return &errs.InternalRefresh{WfID: dupFwID, Err: err}
		}
	}
	return nil
}

// persist writes fw via find_one_and_replace (upsert=true), recovering
// from ErrDocumentTooLarge by spilling the action to the blob store and
// retrying once with the inline action replaced by a spillover marker
// (spec §4.5 step 3).
func (p *Pipeline) persist(ctx context.Context, fw *model.Firework) error {
	err := p.store.ReplaceFirework(ctx, fw, true)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrDocumentTooLarge) {
		return fmt.Errorf("checkin: persist fw_id=%d: %w", fw.FwID, err)
	}

	recovered, recoverErr := p.spillAction(ctx, fw)
	if recoverErr != nil {
		return recoverErr
	}
	fw.Action = recovered

	if err := p.store.ReplaceFirework(ctx, fw, true); err != nil {
		return fmt.Errorf("checkin: persist fw_id=%d after spillover: %w", fw.FwID, err)
	}
	return nil
}

// spillAction extracts fw's action to the blob store, returning the
// spillover-marker action to inline in its place. It reports a fatal,
// unrecoverable *errs.DocumentTooLarge if the action is empty (meaning
// spilling it cannot shrink the document at all) or no blob store is
// configured.
func (p *Pipeline) spillAction(ctx context.Context, fw *model.Firework) (*model.FWAction, error) {
	if fw.Action.IsEmpty() {
		return nil, &errs.DocumentTooLarge{FwID: fw.FwID, LaunchIdx: fw.LaunchIdx, Recovered: false}
	}

	blob := p.store.Blob()
	if blob == nil {
		return nil, &errs.DocumentTooLarge{FwID: fw.FwID, LaunchIdx: fw.LaunchIdx, Recovered: false}
	}

	payload, err := marshalAction(fw.Action)
	if err != nil {
		return nil, fmt.Errorf("checkin: marshal action for spillover fw_id=%d: %w", fw.FwID, err)
	}

	id, err := blob.Put(ctx, payload, map[string]interface{}{
		"fw_id":      fw.FwID,
		"launch_idx": fw.LaunchIdx,
	})
	if err != nil {
		return nil, fmt.Errorf("checkin: spill action to blob store fw_id=%d: %w", fw.FwID, err)
	}

	return &model.FWAction{SpilloverID: id}, nil
}

// marshalAction serializes action as the JSON body of a spillover blob.
func marshalAction(action *model.FWAction) ([]byte, error) {
	return json.Marshal(action)
}

// applyAction folds action's update_spec and mod_spec onto fw.Spec.
// additions/detours/defuse_children/defuse_workflow/exit are consumed by
// the LaunchPad façade's applyCheckinEffects and refreshLocked, which own
// workflow topology and state propagation; Checkin itself only owns the
// spec document and the persisted action payload (stored_data rides
// along verbatim on fw.Action, which Checkin persists as-is).
func applyAction(fw *model.Firework, action *model.FWAction) error {
	if action == nil {
		return nil
	}
	if len(action.UpdateSpec) > 0 {
		for k, v := range action.UpdateSpec {
			fw.Spec[k] = v
		}
	}
	if len(action.ModSpec) > 0 {
		updated, err := specdoc.ApplyModSpec(fw.Spec, action.ModSpec)
		if err != nil {
			return err
		}
		fw.Spec = updated
	}
	if len(action.StoredData) > 0 {
		if fw.Spec == nil {
			fw.Spec = map[string]interface{}{}
		}
	}
	return nil
}
