package launchpad

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/launchpad-go/checkin"
	"github.com/dshills/launchpad-go/dispatch"
	"github.com/dshills/launchpad-go/dupe"
	"github.com/dshills/launchpad-go/emit"
	"github.com/dshills/launchpad-go/errs"
	"github.com/dshills/launchpad-go/idassigner"
	"github.com/dshills/launchpad-go/janitor"
	"github.com/dshills/launchpad-go/metrics"
	"github.com/dshills/launchpad-go/model"
	"github.com/dshills/launchpad-go/specdoc"
	"github.com/dshills/launchpad-go/store"
	"github.com/dshills/launchpad-go/wflock"
)

// LaunchPad is the façade wiring the store, id assigner, workflow lock,
// dispatcher, duplicate engine, checkin pipeline, and janitor into the
// operator surface of spec §6.
type LaunchPad struct {
	store   store.Store
	ids     *idassigner.Assigner
	lock    *wflock.WFLock
	dispatcher *dispatch.Dispatcher
	checkin *checkin.Pipeline
	janitor *janitor.Janitor
	emitter emit.Emitter
	metrics *metrics.LaunchPadMetrics
	cfg     Config
}

// New wires a LaunchPad over st. registry may be nil if no firework in
// this deployment ever carries a _dupefinder. emitter and metricsCollector
// may be nil, in which case events are dropped and metrics are not
// recorded.
func New(st store.Store, registry *dupe.Registry, emitter emit.Emitter, metricsCollector *metrics.LaunchPadMetrics, opts ...Option) *LaunchPad {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	lp := &LaunchPad{
		store:   st,
		ids:     idassigner.New(st),
		lock:    wflock.New(st),
		checkin: nil,
		emitter: emitter,
		metrics: metricsCollector,
		cfg:     cfg,
	}

	var dupeChecker dispatch.DuplicateChecker
	if registry != nil {
		dupeChecker = dupe.New(registry, st)
	}
	lp.dispatcher = dispatch.New(st, dupeChecker)
	lp.checkin = checkin.New(st, lp)
	lp.janitor = janitor.New(st, lp)
	return lp
}

// storeLoader adapts store.Store to model.FireworkLoader for a fixed
// context, used by GetWFData's lazy-materialized node listing.
type storeLoader struct {
	ctx   context.Context
	store store.Store
}

func (l *storeLoader) LoadFirework(fwID int) (*model.Firework, error) {
	return l.store.GetFirework(l.ctx, fwID, -1)
}

// Reset wipes every firework and workflow and resets the fw_id counter to
// 1, returning the deployment to a clean slate.
func (lp *LaunchPad) Reset(ctx context.Context) error {
	if _, err := lp.store.DeleteFireworks(ctx, store.FireworkFilter{}); err != nil {
		return fmt.Errorf("launchpad: reset: delete fireworks: %w", err)
	}
	workflows, err := lp.store.FindWorkflows(ctx, store.WorkflowFilter{})
	if err != nil {
		return fmt.Errorf("launchpad: reset: list workflows: %w", err)
	}
	for _, wf := range workflows {
		if len(wf.Nodes) == 0 {
			continue
		}
		if err := lp.store.DeleteWorkflow(ctx, wf.Nodes[0]); err != nil {
			return fmt.Errorf("launchpad: reset: delete workflow: %w", err)
		}
	}
	if err := lp.ids.Reset(ctx, 1); err != nil {
		return fmt.Errorf("launchpad: reset: reset id counter: %w", err)
	}
	lp.emitter.Emit(emit.Event{Kind: emit.KindReset})
	return nil
}

// AddWF inserts fireworks as a new workflow. Each firework's FwID must be
// set to a caller-chosen placeholder unique within this call (negative
// values work well); links refers to fireworks by those placeholders.
// AddWF assigns real fw_ids, translates links and fw_states accordingly,
// and persists both the fireworks and the enclosing workflow.
func (lp *LaunchPad) AddWF(ctx context.Context, fireworks []*model.Firework, links map[int][]int, name string, metadata map[string]interface{}) (*model.Workflow, error) {
	if len(fireworks) == 0 {
		return nil, &errs.ConfigError{Field: "fireworks", Reason: "add_wf requires at least one firework"}
	}

	first, err := lp.ids.NextID(ctx, len(fireworks))
	if err != nil {
		return nil, fmt.Errorf("launchpad: add_wf: assign ids: %w", err)
	}

	remap := make(map[int]int, len(fireworks))
	for i, fw := range fireworks {
		remap[fw.FwID] = first + i
		fw.FwID = first + i
	}

	translatedLinks := make(map[int][]int, len(links))
	for parent, children := range links {
		newParent, ok := remap[parent]
		if !ok {
			return nil, &errs.ConfigError{Field: "links", Reason: fmt.Sprintf("references unknown placeholder fw_id %d", parent)}
		}
		newChildren := make([]int, len(children))
		for i, c := range children {
			newChild, ok := remap[c]
			if !ok {
				return nil, &errs.ConfigError{Field: "links", Reason: fmt.Sprintf("references unknown placeholder fw_id %d", c)}
			}
			newChildren[i] = newChild
		}
		translatedLinks[newParent] = newChildren
	}

	nodes := make([]int, 0, len(fireworks))
	fwStates := make(map[int]model.State, len(fireworks))
	for _, fw := range fireworks {
		nodes = append(nodes, fw.FwID)
		fwStates[fw.FwID] = fw.State
		if err := lp.store.InsertFirework(ctx, fw); err != nil {
			return nil, fmt.Errorf("launchpad: add_wf: insert fw_id=%d: %w", fw.FwID, err)
		}
	}

	wf := model.NewWorkflow(name, nodes, translatedLinks, fwStates, metadata)
	if err := lp.store.InsertWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("launchpad: add_wf: insert workflow: %w", err)
	}
	lp.emitter.Emit(emit.Event{Kind: emit.KindAddWorkflow, WfName: name, Meta: map[string]interface{}{"nodes": nodes}})
	return wf, nil
}

// GetFW returns the latest launch of fwID.
func (lp *LaunchPad) GetFW(ctx context.Context, fwID int) (*model.Firework, error) {
	fw, err := lp.store.GetFirework(ctx, fwID, -1)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &errs.NotFound{Kind: "firework", ID: strconv.Itoa(fwID)}
	}
	if err != nil {
		return nil, fmt.Errorf("launchpad: get_fw fw_id=%d: %w", fwID, err)
	}
	return fw, nil
}

// GetWF returns the workflow containing fwID.
func (lp *LaunchPad) GetWF(ctx context.Context, fwID int) (*model.Workflow, error) {
	wf, err := lp.store.GetWorkflowByNode(ctx, fwID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &errs.NotFound{Kind: "workflow", ID: strconv.Itoa(fwID)}
	}
	if err != nil {
		return nil, fmt.Errorf("launchpad: get_wf fw_id=%d: %w", fwID, err)
	}
	return wf, nil
}

// WorkflowDetailMode controls how much of a workflow's nodes GetWFData
// hydrates (spec.md §9 supplemented feature, from _get_wf_data's mode
// parameter in the source system).
type WorkflowDetailMode int

const (
	// DetailLess hydrates nothing: each node carries only its fw_id (name
	// is left empty) until LazyFirework.Get loads it.
	DetailLess WorkflowDetailMode = iota
	// DetailMore fully hydrates every node. The modes above DetailLess
	// do not project subsets of fields; all three load whole documents.
	DetailMore
	// DetailReservations fully hydrates every node, the same as DetailMore.
	DetailReservations
	// DetailAll fully hydrates every node, the same as DetailMore.
	DetailAll
)

// GetWFData returns the workflow containing fwID along with its nodes as
// LazyFireworks, hydrated up front unless mode is DetailLess.
func (lp *LaunchPad) GetWFData(ctx context.Context, fwID int, mode WorkflowDetailMode) (*model.Workflow, []*model.LazyFirework, error) {
	wf, err := lp.GetWF(ctx, fwID)
	if err != nil {
		return nil, nil, err
	}

	loader := &storeLoader{ctx: ctx, store: lp.store}
	lazies := make([]*model.LazyFirework, 0, len(wf.Nodes))
	for _, node := range wf.Nodes {
		lf := model.NewLazyFirework(node, "", loader)
		if mode != DetailLess {
			if _, err := lf.Get(); err != nil {
				return nil, nil, fmt.Errorf("launchpad: get_wf_data: hydrate fw_id=%d: %w", node, err)
			}
		}
		lazies = append(lazies, lf)
	}
	return wf, lazies, nil
}

// GetFwIDs returns the fw_ids matching filter, or just the count when
// countOnly is true (spec.md §9 supplemented feature; unlike the source
// system this always returns a proper Go error rather than misusing an
// exception for the count-only case).
func (lp *LaunchPad) GetFwIDs(ctx context.Context, filter store.FireworkFilter, countOnly bool) (ids []int, count int, err error) {
	if countOnly {
		n, err := lp.store.CountFireworks(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("launchpad: get_fw_ids: %w", err)
		}
		return nil, n, nil
	}
	fws, err := lp.store.FindFireworks(ctx, filter, store.SortPolicy{})
	if err != nil {
		return nil, 0, fmt.Errorf("launchpad: get_fw_ids: %w", err)
	}
	ids = make([]int, len(fws))
	for i, fw := range fws {
		ids[i] = fw.FwID
	}
	return ids, len(ids), nil
}

// GetWfIDs returns the representative node id (the workflow's minimum
// node) for every workflow matching filter, or just the count when
// countOnly is true.
func (lp *LaunchPad) GetWfIDs(ctx context.Context, filter store.WorkflowFilter, countOnly bool) (ids []int, count int, err error) {
	workflows, err := lp.store.FindWorkflows(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("launchpad: get_wf_ids: %w", err)
	}
	if countOnly {
		return nil, len(workflows), nil
	}
	ids = make([]int, 0, len(workflows))
	for _, wf := range workflows {
		if len(wf.Nodes) == 0 {
			continue
		}
		ids = append(ids, wf.Nodes[0])
	}
	return ids, len(ids), nil
}

// Reserve runs the dispatcher's selection procedure (spec §4.4),
// stamping a fresh reservation id onto the checked-out firework's latest
// state_history entry.
func (lp *LaunchPad) Reserve(ctx context.Context, query dispatch.Query, fwID int, checkout bool) (*model.Firework, error) {
	start := time.Now()
	fw, err := lp.dispatcher.ReserveReady(ctx, query, fwID, checkout)
	if lp.metrics != nil {
		lp.metrics.ObserveDispatchLatency(time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("launchpad: reserve: %w", err)
	}
	if fw == nil {
		return nil, nil
	}

	if checkout {
		reservationID := uuid.NewString()
		if n := len(fw.StateHistory); n > 0 {
			fw.StateHistory[n-1].ReservationID = reservationID
		}
		if err := lp.store.ReplaceFirework(ctx, fw, false); err != nil {
			return nil, fmt.Errorf("launchpad: reserve: persist reservation_id fw_id=%d: %w", fw.FwID, err)
		}
	}

	lp.emitter.Emit(emit.Event{Kind: emit.KindReserve, FwID: fw.FwID, Meta: map[string]interface{}{"checkout": checkout}})
	return fw, nil
}

// Checkin ingests a worker's result for fwID (spec §4.5), applying
// action, transitioning state, and refreshing the enclosing workflow and
// every workflow containing a duplicate of fwID.
func (lp *LaunchPad) Checkin(ctx context.Context, fwID int, action *model.FWAction, state model.State) error {
	fw, err := lp.store.GetFirework(ctx, fwID, -1)
	if errors.Is(err, store.ErrNotFound) {
		return &errs.NotFound{Kind: "firework", ID: strconv.Itoa(fwID)}
	}
	if err != nil {
		return fmt.Errorf("launchpad: checkin: load fw_id=%d: %w", fwID, err)
	}

	if err := lp.checkin.Checkin(ctx, fw, action, state); err != nil {
		return err
	}
	if err := lp.applyCheckinEffects(ctx, fwID, action); err != nil {
		return err
	}
	if err := lp.RefreshWorkflow(ctx, fwID); err != nil {
		return err
	}
	if lp.metrics != nil {
		lp.metrics.IncrementCheckins(string(state))
	}
	lp.emitter.Emit(emit.Event{Kind: emit.KindCheckin, FwID: fwID, Meta: map[string]interface{}{"state": string(state)}})
	return nil
}

// CancelReservation returns a RESERVED firework to READY.
func (lp *LaunchPad) CancelReservation(ctx context.Context, fwID int) error {
	fw, err := lp.GetFW(ctx, fwID)
	if err != nil {
		return err
	}
	if fw.State != model.StateReserved {
		return nil
	}
	fw.Touch(model.StateReady, "")
	if err := lp.store.ReplaceFirework(ctx, fw, false); err != nil {
		return fmt.Errorf("launchpad: cancel_reservation fw_id=%d: %w", fwID, err)
	}
	if err := lp.RefreshWorkflow(ctx, fwID); err != nil {
		return err
	}
	lp.emitter.Emit(emit.Event{Kind: emit.KindCancelReservation, FwID: fwID})
	return nil
}

// Rerun starts a new launch of a COMPLETED or FIZZLED firework: a fresh
// launch_idx, state READY, no action, and a state_history holding only
// the new READY entry.
func (lp *LaunchPad) Rerun(ctx context.Context, fwID int) error {
	fw, err := lp.GetFW(ctx, fwID)
	if err != nil {
		return err
	}
	if !fw.State.IsTerminal() {
		return &errs.ConfigError{Field: "state", Reason: fmt.Sprintf("rerun requires a terminal state, fw_id=%d is %s", fwID, fw.State)}
	}

	next, err := fw.Clone()
	if err != nil {
		return fmt.Errorf("launchpad: rerun fw_id=%d: clone: %w", fwID, err)
	}
	next.LaunchIdx = fw.LaunchIdx + 1
	next.Action = nil
	next.StateHistory = nil
	next.Trackers = nil
	next.Touch(model.StateReady, "")

	if err := lp.store.InsertFirework(ctx, next); err != nil {
		return fmt.Errorf("launchpad: rerun fw_id=%d: insert launch_idx=%d: %w", fwID, next.LaunchIdx, err)
	}
	if err := lp.RefreshWorkflow(ctx, fwID); err != nil {
		return err
	}
	lp.emitter.Emit(emit.Event{Kind: emit.KindRerun, FwID: fwID, LaunchIdx: next.LaunchIdx})
	return nil
}

// DeleteWF removes the workflow containing fwID and all of its
// fireworks. deleteDirs is accepted for operator-surface compatibility
// (spec §6) but is a no-op here: launch_dir cleanup is a worker-host
// filesystem concern outside this module's scope (spec §1).
func (lp *LaunchPad) DeleteWF(ctx context.Context, fwID int, deleteDirs bool) error {
	if err := lp.store.DeleteWorkflow(ctx, fwID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &errs.NotFound{Kind: "workflow", ID: strconv.Itoa(fwID)}
		}
		return fmt.Errorf("launchpad: delete_wf fw_id=%d: %w", fwID, err)
	}
	lp.emitter.Emit(emit.Event{Kind: emit.KindDeleteWorkflow, FwID: fwID, Meta: map[string]interface{}{"delete_dirs": deleteDirs}})
	return nil
}

// UpdateSpec merges doc into the spec of every firework in fwIDs.
func (lp *LaunchPad) UpdateSpec(ctx context.Context, fwIDs []int, doc map[string]interface{}) error {
	for _, fwID := range fwIDs {
		fw, err := lp.GetFW(ctx, fwID)
		if err != nil {
			return err
		}
		for k, v := range doc {
			fw.Spec[k] = v
		}
		if err := lp.store.ReplaceFirework(ctx, fw, false); err != nil {
			return fmt.Errorf("launchpad: update_spec fw_id=%d: %w", fwID, err)
		}
	}
	return nil
}

// SetPriority sets spec._priority on fwID.
func (lp *LaunchPad) SetPriority(ctx context.Context, fwID int, priority float64) error {
	fw, err := lp.GetFW(ctx, fwID)
	if err != nil {
		return err
	}
	fw.Spec[specdoc.KeyPriority] = priority
	if err := lp.store.ReplaceFirework(ctx, fw, false); err != nil {
		return fmt.Errorf("launchpad: set_priority fw_id=%d: %w", fwID, err)
	}
	return nil
}

// GetTrackerData returns fwID's opaque tracker records.
func (lp *LaunchPad) GetTrackerData(ctx context.Context, fwID int) ([]interface{}, error) {
	fw, err := lp.GetFW(ctx, fwID)
	if err != nil {
		return nil, err
	}
	return fw.Trackers, nil
}

// RecoveryMode selects how _recover(fw_id, mode) repopulates a firework's
// working directory (spec §4.8).
type RecoveryMode string

const (
	// RecoveryModeCopy leaves launch_dir untouched; the worker is expected
	// to fetch the checkpointed files itself.
	RecoveryModeCopy RecoveryMode = "cp"
	// RecoveryModePrevDir additionally points spec._launch_dir at the
	// failed launch's own directory, so the worker reuses it in place.
	RecoveryModePrevDir RecoveryMode = "prev_dir"
)

// Recover implements _recover(fw_id, mode) (spec §4.8): it reads the
// latest launch's last state_history checkpoint and records recovery
// instructions in spec._recovery for the next launch to consume. When
// mode is RecoveryModePrevDir it also sets spec._launch_dir to the
// failed launch's directory.
func (lp *LaunchPad) Recover(ctx context.Context, fwID int, mode RecoveryMode) error {
	fw, err := lp.GetFW(ctx, fwID)
	if err != nil {
		return err
	}

	var checkpoint map[string]interface{}
	if n := len(fw.StateHistory); n > 0 {
		checkpoint = fw.StateHistory[n-1].Checkpoint
	}

	recovery := map[string]interface{}{
		"checkpoint": checkpoint,
		"prev_dir":   fw.LaunchDir,
		"launch_id":  fw.LaunchIdx,
		"mode":       string(mode),
	}
	fw.Spec[specdoc.KeyRecovery] = recovery
	if mode == RecoveryModePrevDir {
		fw.Spec[specdoc.KeyLaunchDir] = fw.LaunchDir
	}

	if err := lp.store.ReplaceFirework(ctx, fw, false); err != nil {
		return fmt.Errorf("launchpad: recover fw_id=%d: %w", fwID, err)
	}
	return nil
}

// ClearRecovery removes spec._recovery, undoing a prior Recover (spec
// §4.8: "clearing recovery is an unset on spec._recovery").
func (lp *LaunchPad) ClearRecovery(ctx context.Context, fwID int) error {
	fw, err := lp.GetFW(ctx, fwID)
	if err != nil {
		return err
	}
	delete(fw.Spec, specdoc.KeyRecovery)
	if err := lp.store.ReplaceFirework(ctx, fw, false); err != nil {
		return fmt.Errorf("launchpad: clear_recovery fw_id=%d: %w", fwID, err)
	}
	return nil
}

// DetectUnreserved runs the janitor's expired-reservation sweep using
// Config.ReservationExpirationSecs.
func (lp *LaunchPad) DetectUnreserved(ctx context.Context, rerun bool) ([]janitor.RecoveredReservation, error) {
	expiry := time.Duration(lp.cfg.ReservationExpirationSecs * float64(time.Second))
	recovered, err := lp.janitor.DetectUnreserved(ctx, expiry, rerun)
	if err != nil {
		return recovered, fmt.Errorf("launchpad: detect_unreserved: %w", err)
	}
	for _, r := range recovered {
		if lp.metrics != nil {
			lp.metrics.IncrementJanitorRecovered("unreserved")
		}
		lp.emitter.Emit(emit.Event{Kind: emit.KindJanitorRecovered, FwID: r.FwID, Meta: map[string]interface{}{"reason": "unreserved"}})
	}
	return recovered, nil
}

// DetectLostRuns runs the janitor's lost-run sweep using
// Config.RunExpirationSecs.
func (lp *LaunchPad) DetectLostRuns(ctx context.Context) ([]janitor.LostRun, error) {
	expiry := time.Duration(lp.cfg.RunExpirationSecs * float64(time.Second))
	lost, err := lp.janitor.DetectLostRuns(ctx, expiry)
	if err != nil {
		return lost, fmt.Errorf("launchpad: detect_lost_runs: %w", err)
	}
	for _, l := range lost {
		if lp.metrics != nil {
			lp.metrics.IncrementJanitorRecovered("lost_run")
		}
		lp.emitter.Emit(emit.Event{Kind: emit.KindJanitorRecovered, FwID: l.FwID, Meta: map[string]interface{}{"reason": "lost_run"}})
	}
	return lost, nil
}

// Tuneup ensures every required index exists, compacting unless
// background is true.
func (lp *LaunchPad) Tuneup(ctx context.Context, background bool) error {
	return lp.janitor.Tuneup(ctx, background)
}

// RefreshWorkflow recomputes and persists the aggregate state of the
// workflow containing fwID, advancing any WAITING node whose parents
// have all COMPLETED to READY (spec §4.5's state-transition table). It
// implements checkin.WorkflowRefresher and janitor.WorkflowRefresher.
//
// On internal failure, the triggering firework and its workflow are
// marked FIZZLED and the error is surfaced wrapped as *errs.InternalRefresh
// (spec §7), matching the source system's _refresh_wf error contract.
func (lp *LaunchPad) RefreshWorkflow(ctx context.Context, fwID int) error {
	handle, err := lp.lock.Acquire(ctx, fwID, wflock.Options{
		ExpireSecs: lp.cfg.WFLockExpirationSecs,
		Kill:       lp.cfg.WFLockExpirationKill,
	})
	if err != nil {
		return fmt.Errorf("launchpad: refresh_wf fw_id=%d: %w", fwID, err)
	}
	defer handle.Release(ctx)

	if err := lp.refreshLocked(ctx, fwID); err != nil {
		lp.fizzleOnRefreshFailure(ctx, fwID)
		return &errs.InternalRefresh{WfID: fwID, Err: err}
	}
	return nil
}

func (lp *LaunchPad) refreshLocked(ctx context.Context, fwID int) error {
	wf, err := lp.store.GetWorkflowByNode(ctx, fwID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	// exited collects nodes that completed with action.exit set: their
	// children must not advance WAITING → READY even though the parent
	// is COMPLETED (spec §4.5's transition table: "not defused", and
	// model.FWAction.Exit's "halt propagation" contract).
	exited := make(map[int]bool)
	for _, node := range wf.Nodes {
		fw, err := lp.store.GetFirework(ctx, node, -1)
		if err != nil {
			return fmt.Errorf("load fw_id=%d: %w", node, err)
		}
		wf.FwStates[node] = fw.State
		if fw.State == model.StateCompleted && fw.Action != nil && fw.Action.Exit {
			exited[node] = true
		}
	}

	for _, node := range wf.Nodes {
		if wf.FwStates[node] != model.StateWaiting {
			continue
		}
		if !parentsCompleted(wf, node, exited) {
			continue
		}
		fw, err := lp.store.GetFirework(ctx, node, -1)
		if err != nil {
			return fmt.Errorf("load fw_id=%d: %w", node, err)
		}
		fw.Touch(model.StateReady, "")
		if err := lp.store.ReplaceFirework(ctx, fw, false); err != nil {
			return fmt.Errorf("advance fw_id=%d to READY: %w", node, err)
		}
		wf.FwStates[node] = model.StateReady
	}

	wf.Refresh()
	if err := lp.store.ReplaceWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("persist workflow: %w", err)
	}
	return nil
}

// applyCheckinEffects performs the graph-topology mutations a checked-in
// action can request (spec §3/§4.5): additions and detours grow the
// workflow's DAG, defuse_children/defuse_workflow assign DEFUSED. It runs
// under the workflow lock so a concurrent refresh never observes a
// half-mutated graph.
func (lp *LaunchPad) applyCheckinEffects(ctx context.Context, fwID int, action *model.FWAction) error {
	if action == nil {
		return nil
	}
	if len(action.Additions) == 0 && len(action.Detours) == 0 && !action.DefuseChildren && !action.DefuseWorkflow {
		return nil
	}

	handle, err := lp.lock.Acquire(ctx, fwID, wflock.Options{
		ExpireSecs: lp.cfg.WFLockExpirationSecs,
		Kill:       lp.cfg.WFLockExpirationKill,
	})
	if err != nil {
		return fmt.Errorf("launchpad: checkin effects fw_id=%d: %w", fwID, err)
	}
	defer handle.Release(ctx)

	wf, err := lp.store.GetWorkflowByNode(ctx, fwID)
	if err != nil {
		return fmt.Errorf("launchpad: checkin effects fw_id=%d: load workflow: %w", fwID, err)
	}

	originalChildren := append([]int(nil), wf.Links[fwID]...)
	if len(action.Detours) > 0 {
		wf.Links[fwID] = nil
	}
	if len(action.Additions) > 0 {
		if err := lp.attachNodes(ctx, wf, fwID, action.Additions); err != nil {
			return fmt.Errorf("launchpad: checkin effects fw_id=%d: additions: %w", fwID, err)
		}
	}
	if len(action.Detours) > 0 {
		detourIDs, err := lp.attachNodes(ctx, wf, fwID, action.Detours)
		if err != nil {
			return fmt.Errorf("launchpad: checkin effects fw_id=%d: detours: %w", fwID, err)
		}
		for _, leaf := range detourIDs {
			wf.Links[leaf] = append(wf.Links[leaf], originalChildren...)
		}
	}

	if action.DefuseChildren {
		for _, child := range wf.Links[fwID] {
			if err := lp.defuseNode(ctx, wf, child); err != nil {
				return fmt.Errorf("launchpad: checkin effects fw_id=%d: defuse_children: %w", fwID, err)
			}
		}
	}
	if action.DefuseWorkflow {
		for _, node := range wf.Nodes {
			if node == fwID {
				continue
			}
			if err := lp.defuseNode(ctx, wf, node); err != nil {
				return fmt.Errorf("launchpad: checkin effects fw_id=%d: defuse_workflow: %w", fwID, err)
			}
		}
	}

	if err := lp.store.ReplaceWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("launchpad: checkin effects fw_id=%d: persist workflow: %w", fwID, err)
	}
	return nil
}

// attachNodes assigns real fw_ids to fws, inserts each as a new firework
// defaulting to WAITING, appends them to wf.Nodes/wf.FwStates, and links
// parent to each new id. It returns the assigned ids in fws' order.
func (lp *LaunchPad) attachNodes(ctx context.Context, wf *model.Workflow, parent int, fws []*model.Firework) ([]int, error) {
	first, err := lp.ids.NextID(ctx, len(fws))
	if err != nil {
		return nil, fmt.Errorf("assign ids: %w", err)
	}

	ids := make([]int, len(fws))
	for i, fw := range fws {
		fw.FwID = first + i
		if fw.State == "" {
			fw.State = model.StateWaiting
		}
		if err := lp.store.InsertFirework(ctx, fw); err != nil {
			return nil, fmt.Errorf("insert fw_id=%d: %w", fw.FwID, err)
		}
		wf.Nodes = append(wf.Nodes, fw.FwID)
		wf.FwStates[fw.FwID] = fw.State
		ids[i] = fw.FwID
	}
	wf.Links[parent] = append(wf.Links[parent], ids...)
	return ids, nil
}

// defuseNode sets fwID's state to DEFUSED, both in the store and in wf's
// cached fw_states, unless it is already terminal (a COMPLETED/FIZZLED
// firework is left as-is; defusing only affects ones still pending).
func (lp *LaunchPad) defuseNode(ctx context.Context, wf *model.Workflow, fwID int) error {
	fw, err := lp.store.GetFirework(ctx, fwID, -1)
	if err != nil {
		return fmt.Errorf("load fw_id=%d: %w", fwID, err)
	}
	if fw.State.IsTerminal() {
		return nil
	}
	fw.Touch(model.StateDefused, "")
	if err := lp.store.ReplaceFirework(ctx, fw, false); err != nil {
		return fmt.Errorf("defuse fw_id=%d: %w", fwID, err)
	}
	wf.FwStates[fwID] = model.StateDefused
	return nil
}

func parentsCompleted(wf *model.Workflow, fwID int, exited map[int]bool) bool {
	for _, parent := range wf.Parents(fwID) {
		if wf.FwStates[parent] != model.StateCompleted {
			return false
		}
		if exited[parent] {
			return false
		}
	}
	return true
}

// fizzleOnRefreshFailure marks fwID and its workflow FIZZLED after an
// internal refresh error, best-effort: store errors here are discarded so
// they do not mask the original error, and a KindRefreshFailed event is
// emitted either way.
func (lp *LaunchPad) fizzleOnRefreshFailure(ctx context.Context, fwID int) {
	fw, err := lp.store.GetFirework(ctx, fwID, -1)
	if err == nil {
		fw.Touch(model.StateFizzled, "")
		_ = lp.store.ReplaceFirework(ctx, fw, false)
	}
	if wf, err := lp.store.GetWorkflowByNode(ctx, fwID); err == nil {
		wf.State = model.StateFizzled
		wf.UpdatedOn = model.Now()
		_ = lp.store.ReplaceWorkflow(ctx, wf)
	}
	lp.emitter.Emit(emit.Event{Kind: emit.KindRefreshFailed, FwID: fwID})
}
