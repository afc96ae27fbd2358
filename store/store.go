// Package store provides persistence implementations for the LaunchPad
// scheduler's two collections (fireworks, workflows) and its blob
// side-store.
package store

import (
	"context"
	"errors"

	"github.com/dshills/launchpad-go/model"
)

// ErrNotFound is returned when a requested firework, workflow, or blob
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert or replace would violate the
// unique (fw_id, launch_idx) index, signaling a concurrent inserter
// (spec §7).
var ErrDuplicateKey = errors.New("duplicate key")

// ErrDocumentTooLarge is returned when a write exceeds the store's
// per-document size limit (spec §7). Checkin is responsible for
// recovering from this by spilling to the blob store.
var ErrDocumentTooLarge = errors.New("document too large")

// SortDirection picks ascending or descending order for a SortField.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

// SortField names one field in a multi-key sort, most significant first.
type SortField struct {
	Field     string
	Direction SortDirection
}

// FireworkFilter narrows a firework query. A zero-value field is treated
// as "don't filter on this." LaunchIdx and HasLaunchIdx are not read by
// matchesFilter or by any Store implementation in this package, so
// setting them does not narrow a query.
type FireworkFilter struct {
	FwID      int
	HasFwID   bool
	LaunchIdx int
	HasLaunchIdx bool

	States []model.State

	// SpecEquals restricts to fireworks whose spec contains all of these
	// key/value pairs (used by the duplicate engine's candidate scan and
	// by caller-supplied dispatch queries).
	SpecEquals map[string]interface{}

	// Category restricts to fireworks whose spec._category equals this
	// value, when non-empty.
	Category string

	// ExcludeFwIDs removes these ids from the result (used when probing
	// for duplicates, to exclude the firework itself).
	ExcludeFwIDs []int
}

// SortPolicy is the tie-break order the dispatcher and janitor use when
// scanning fireworks (spec §4.4).
type SortPolicy struct {
	// Fields are applied most-significant first. The dispatcher always
	// supplies priority desc, then launch_idx desc, then created_on in
	// the policy-selected direction.
	Fields []SortField
}

// WorkflowFilter narrows a workflow query.
type WorkflowFilter struct {
	Name    string
	HasNode int
	HasHasNode bool
}

// BlobStore is the side-channel for FWAction payloads too large for the
// fireworks collection's per-document limit (spec §3, §4.1).
type BlobStore interface {
	// Put stores data with metadata {fw_id, launch_idx} and returns an
	// opaque id suitable for FWAction.SpilloverID.
	Put(ctx context.Context, data []byte, metadata map[string]interface{}) (id string, err error)

	// Get retrieves a previously-put blob's body by id.
	Get(ctx context.Context, id string) ([]byte, error)
}

// Store is the persistence contract LaunchPad requires (spec §4.1, §6):
// atomic single-document find-and-modify over the fireworks and
// workflows collections, a monotonic fw_id counter, index maintenance,
// and an optional blob side-store. Implementations: MemStore (tests),
// SQLiteStore, MySQLStore.
type Store interface {
	// InsertFirework inserts fw, first rewriting a non-positive FwID to
	// the next id from the store's own fw_id counter. Returns ErrDuplicateKey if
	// (fw_id, launch_idx) already exists.
	InsertFirework(ctx context.Context, fw *model.Firework) error

	// GetFirework returns the firework at (fwID, launchIdx). launchIdx of
	// -1 selects the highest launch_idx on record for fwID. Returns
	// ErrNotFound if no match exists.
	GetFirework(ctx context.Context, fwID, launchIdx int) (*model.Firework, error)

	// ReplaceFirework performs find_one_and_replace keyed by
	// (fw.FwID, fw.LaunchIdx), inserting if upsert is true and no match
	// exists. Returns ErrDocumentTooLarge if fw's serialized size exceeds
	// the backend's limit (SQLite/MySQL backends compare the encoded
	// document's length against their configured maximum themselves).
	ReplaceFirework(ctx context.Context, fw *model.Firework, upsert bool) error

	// ReserveReady performs the dispatcher's atomic checkout (spec §4.4
	// step 3): among fireworks matching filter, sorted by sort, the
	// highest-ranked one has its state set to RESERVED and updated_on
	// bumped, and the updated document is returned. Returns ErrNotFound
	// if nothing matches.
	ReserveReady(ctx context.Context, filter FireworkFilter, sort SortPolicy) (*model.Firework, error)

	// FindFireworks returns every firework matching filter, in the order
	// sort describes (order is unspecified if sort is the zero value).
	FindFireworks(ctx context.Context, filter FireworkFilter, sort SortPolicy) ([]*model.Firework, error)

	// CountFireworks returns the number of fireworks matching filter
	// without hydrating them.
	CountFireworks(ctx context.Context, filter FireworkFilter) (int, error)

	// DeleteFireworks removes every firework matching filter and returns
	// the count removed.
	DeleteFireworks(ctx context.Context, filter FireworkFilter) (int64, error)

	// InsertWorkflow inserts wf. Every id in wf.Nodes must not already
	// belong to another workflow (caller's responsibility to check via
	// GetWorkflowByNode first).
	InsertWorkflow(ctx context.Context, wf *model.Workflow) error

	// GetWorkflowByNode returns the workflow whose Nodes contains fwID.
	// Returns ErrNotFound if none does.
	GetWorkflowByNode(ctx context.Context, fwID int) (*model.Workflow, error)

	// ReplaceWorkflow performs find_one_and_replace keyed by the
	// workflow's node set identity (matched via any member node, since a
	// node belongs to exactly one workflow).
	ReplaceWorkflow(ctx context.Context, wf *model.Workflow) error

	// AcquireWorkflowLock atomically finds the workflow containing fwID
	// with locked unset and sets locked = true, returning true. Returns
	// (false, nil) if the workflow exists but is already locked, and
	// ErrNotFound if no
	// workflow contains fwID at all.
	AcquireWorkflowLock(ctx context.Context, fwID int) (acquired bool, err error)

	// ReleaseWorkflowLock unsets locked on the workflow containing fwID.
	ReleaseWorkflowLock(ctx context.Context, fwID int) error

	// ForceWorkflowLock unconditionally sets locked = true regardless of
	// the current value (the WFLock "kill" fallback).
	ForceWorkflowLock(ctx context.Context, fwID int) error

	// DeleteWorkflow removes the workflow containing fwID and every
	// firework in its Nodes.
	DeleteWorkflow(ctx context.Context, fwID int) error

	// FindWorkflows returns every workflow matching filter.
	FindWorkflows(ctx context.Context, filter WorkflowFilter) ([]*model.Workflow, error)

	// NextFwIDs atomically increments the fw_id counter by n and returns
	// the pre-increment value; the reserved range is [prev, prev+n)
	// (spec §4.3).
	NextFwIDs(ctx context.Context, n int) (int, error)

	// ResetFwIDCounter replaces the counter document with v.
	ResetFwIDCounter(ctx context.Context, v int) error

	// Tuneup ensures every index required by spec §4.1 exists. When
	// background is false the backend may additionally run a blocking
	// compaction.
	Tuneup(ctx context.Context, background bool) error

	// Blob returns the blob side-store, or nil if none is configured.
	Blob() BlobStore
}
