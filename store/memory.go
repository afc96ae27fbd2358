package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dshills/launchpad-go/model"
)

// firework key is (fw_id, launch_idx).
type fwKey struct {
	fwID      int
	launchIdx int
}

// MemStore is an in-memory Store implementation.
//
// It keeps fireworks and workflows in maps guarded by a single mutex.
// Designed for:
//   - Unit tests
//   - Single-process development instances
//
// MemStore is thread-safe and supports concurrent access, but every
// operation takes the same lock, so it gives no real concurrency (unlike
// SQLiteStore/MySQLStore, where only a single workflow's writes
// contend). That tradeoff is fine for tests: MemStore exists to make the
// rest of the package testable without a database, not to exercise
// concurrency itself.
type MemStore struct {
	mu sync.Mutex

	fireworks map[fwKey]*model.Firework
	// latestLaunch tracks the highest known launch_idx per fw_id.
	latestLaunch map[int]int

	workflows map[int]*model.Workflow // keyed by the lowest fw_id in Nodes
	nodeIndex map[int]int             // fw_id -> workflow key

	blob *MemBlobStore

	nextFwID int
}

// NewMemStore creates an empty in-memory store with its own blob
// side-store.
func NewMemStore() *MemStore {
	return &MemStore{
		fireworks:    make(map[fwKey]*model.Firework),
		latestLaunch: make(map[int]int),
		workflows:    make(map[int]*model.Workflow),
		nodeIndex:    make(map[int]int),
		blob:         NewMemBlobStore(),
		nextFwID:     1,
	}
}

func (m *MemStore) Blob() BlobStore { return m.blob }

func (m *MemStore) InsertFirework(_ context.Context, fw *model.Firework) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fw.FwID <= 0 {
		fw.FwID = m.nextFwID
		m.nextFwID++
	}

	key := fwKey{fw.FwID, fw.LaunchIdx}
	if _, exists := m.fireworks[key]; exists {
		return ErrDuplicateKey
	}

	clone, err := fw.Clone()
	if err != nil {
		return err
	}
	m.fireworks[key] = clone
	if fw.LaunchIdx > m.latestLaunch[fw.FwID] {
		m.latestLaunch[fw.FwID] = fw.LaunchIdx
	}
	return nil
}

func (m *MemStore) resolveLaunchIdx(fwID, launchIdx int) int {
	if launchIdx >= 0 {
		return launchIdx
	}
	return m.latestLaunch[fwID]
}

func (m *MemStore) GetFirework(_ context.Context, fwID, launchIdx int) (*model.Firework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resolved := m.resolveLaunchIdx(fwID, launchIdx)
	fw, ok := m.fireworks[fwKey{fwID, resolved}]
	if !ok {
		return nil, ErrNotFound
	}
	return fw.Clone()
}

func (m *MemStore) ReplaceFirework(_ context.Context, fw *model.Firework, upsert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fwKey{fw.FwID, fw.LaunchIdx}
	if _, exists := m.fireworks[key]; !exists && !upsert {
		return ErrNotFound
	}

	clone, err := fw.Clone()
	if err != nil {
		return err
	}
	m.fireworks[key] = clone
	if fw.LaunchIdx > m.latestLaunch[fw.FwID] {
		m.latestLaunch[fw.FwID] = fw.LaunchIdx
	}
	return nil
}

// matches reports whether fw (at its current, i.e. latest, launch)
// satisfies filter.
func matchesFilter(fw *model.Firework, filter FireworkFilter) bool {
	if filter.HasFwID && fw.FwID != filter.FwID {
		return false
	}
	if len(filter.States) > 0 {
		ok := false
		for _, s := range filter.States {
			if fw.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, excl := range filter.ExcludeFwIDs {
		if fw.FwID == excl {
			return false
		}
	}
	if filter.Category != "" {
		cat, _ := fw.Spec["_category"].(string)
		if cat != filter.Category {
			return false
		}
	}
	for k, v := range filter.SpecEquals {
		if fw.Spec[k] != v {
			return false
		}
	}
	return true
}

// latestSnapshot returns the latest-launch firework for every distinct
// fw_id known to the store.
func (m *MemStore) latestSnapshot() []*model.Firework {
	var out []*model.Firework
	for fwID, idx := range m.latestLaunch {
		if fw, ok := m.fireworks[fwKey{fwID, idx}]; ok {
			out = append(out, fw)
		}
	}
	return out
}

func sortFireworks(fws []*model.Firework, policy SortPolicy) {
	if len(policy.Fields) == 0 {
		return
	}
	sort.SliceStable(fws, func(i, j int) bool {
		for _, f := range policy.Fields {
			a, b := sortKey(fws[i], f.Field), sortKey(fws[j], f.Field)
			if a == b {
				continue
			}
			less := a < b
			if f.Direction == Descending {
				return !less
			}
			return less
		}
		return false
	})
}

func sortKey(fw *model.Firework, field string) float64 {
	switch field {
	case "spec._priority":
		if p, ok := fw.Spec["_priority"].(float64); ok {
			return p
		}
		return 0
	case "launch_idx":
		return float64(fw.LaunchIdx)
	case "created_on":
		return float64(fw.CreatedOn.UnixNano())
	default:
		return 0
	}
}

func (m *MemStore) ReserveReady(_ context.Context, filter FireworkFilter, sort SortPolicy) (*model.Firework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.latestSnapshot()
	var matched []*model.Firework
	for _, fw := range candidates {
		if matchesFilter(fw, filter) {
			matched = append(matched, fw)
		}
	}
	if len(matched) == 0 {
		return nil, ErrNotFound
	}
	sortFireworks(matched, sort)

	winner := matched[0]
	winner.Touch(model.StateReserved, "")
	m.fireworks[fwKey{winner.FwID, winner.LaunchIdx}] = winner
	return winner.Clone()
}

func (m *MemStore) FindFireworks(_ context.Context, filter FireworkFilter, policy SortPolicy) ([]*model.Firework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*model.Firework
	for _, fw := range m.latestSnapshot() {
		if matchesFilter(fw, filter) {
			c, err := fw.Clone()
			if err != nil {
				return nil, err
			}
			matched = append(matched, c)
		}
	}
	sortFireworks(matched, policy)
	return matched, nil
}

func (m *MemStore) CountFireworks(ctx context.Context, filter FireworkFilter) (int, error) {
	fws, err := m.FindFireworks(ctx, filter, SortPolicy{})
	if err != nil {
		return 0, err
	}
	return len(fws), nil
}

func (m *MemStore) DeleteFireworks(_ context.Context, filter FireworkFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, fw := range m.fireworks {
		if matchesFilter(fw, filter) {
			delete(m.fireworks, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemStore) InsertWorkflow(_ context.Context, wf *model.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(wf.Nodes) == 0 {
		return nil
	}
	key := minInt(wf.Nodes)
	clone, err := wf.ToDict()
	if err != nil {
		return err
	}
	stored, err := model.WorkflowFromDict(clone)
	if err != nil {
		return err
	}
	m.workflows[key] = stored
	for _, n := range wf.Nodes {
		m.nodeIndex[n] = key
	}
	return nil
}

func minInt(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func (m *MemStore) GetWorkflowByNode(_ context.Context, fwID int) (*model.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.nodeIndex[fwID]
	if !ok {
		return nil, ErrNotFound
	}
	wf := m.workflows[key]
	dict, err := wf.ToDict()
	if err != nil {
		return nil, err
	}
	return model.WorkflowFromDict(dict)
}

func (m *MemStore) ReplaceWorkflow(_ context.Context, wf *model.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(wf.Nodes) == 0 {
		return ErrNotFound
	}
	var key int
	found := false
	for _, n := range wf.Nodes {
		if k, ok := m.nodeIndex[n]; ok {
			key, found = k, true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	dict, err := wf.ToDict()
	if err != nil {
		return err
	}
	stored, err := model.WorkflowFromDict(dict)
	if err != nil {
		return err
	}

	delete(m.workflows, key)
	for n := range m.nodeIndex {
		if m.nodeIndex[n] == key {
			delete(m.nodeIndex, n)
		}
	}
	newKey := minInt(wf.Nodes)
	m.workflows[newKey] = stored
	for _, n := range wf.Nodes {
		m.nodeIndex[n] = newKey
	}
	return nil
}

func (m *MemStore) AcquireWorkflowLock(_ context.Context, fwID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.nodeIndex[fwID]
	if !ok {
		return false, ErrNotFound
	}
	wf := m.workflows[key]
	if wf.Locked {
		return false, nil
	}
	wf.Locked = true
	return true, nil
}

func (m *MemStore) ReleaseWorkflowLock(_ context.Context, fwID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.nodeIndex[fwID]
	if !ok {
		return ErrNotFound
	}
	m.workflows[key].Locked = false
	return nil
}

func (m *MemStore) ForceWorkflowLock(_ context.Context, fwID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.nodeIndex[fwID]
	if !ok {
		return ErrNotFound
	}
	m.workflows[key].Locked = true
	return nil
}

func (m *MemStore) DeleteWorkflow(_ context.Context, fwID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.nodeIndex[fwID]
	if !ok {
		return ErrNotFound
	}
	wf := m.workflows[key]
	for _, n := range wf.Nodes {
		delete(m.nodeIndex, n)
		for launchIdx := 0; launchIdx <= m.latestLaunch[n]; launchIdx++ {
			delete(m.fireworks, fwKey{n, launchIdx})
		}
		delete(m.latestLaunch, n)
	}
	delete(m.workflows, key)
	return nil
}

func (m *MemStore) FindWorkflows(_ context.Context, filter WorkflowFilter) ([]*model.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Workflow
	for _, wf := range m.workflows {
		if filter.Name != "" && wf.Name != filter.Name {
			continue
		}
		if filter.HasHasNode {
			present := false
			for _, n := range wf.Nodes {
				if n == filter.HasNode {
					present = true
					break
				}
			}
			if !present {
				continue
			}
		}
		dict, err := wf.ToDict()
		if err != nil {
			return nil, err
		}
		wfCopy, err := model.WorkflowFromDict(dict)
		if err != nil {
			return nil, err
		}
		out = append(out, wfCopy)
	}
	return out, nil
}

func (m *MemStore) NextFwIDs(_ context.Context, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.nextFwID
	m.nextFwID += n
	return prev, nil
}

func (m *MemStore) ResetFwIDCounter(_ context.Context, v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextFwID = v
	return nil
}

// Tuneup is a no-op on MemStore: there are no real indexes to build.
func (m *MemStore) Tuneup(_ context.Context, _ bool) error {
	return nil
}

// MemBlobStore is an in-memory BlobStore, used by MemStore and available
// standalone for tests that only need spillover behavior.
type MemBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	nextSeq int
}

func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{blobs: make(map[string][]byte)}
}

func (b *MemBlobStore) Put(_ context.Context, data []byte, _ map[string]interface{}) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	id := blobID(b.nextSeq)
	cp := make([]byte, len(data))
	copy(cp, data)
	b.blobs[id] = cp
	return id, nil
}

func (b *MemBlobStore) Get(_ context.Context, id string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func blobID(seq int) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 8)
	v := uint32(seq)
	for i := 7; i >= 0; i-- {
		buf[i] = hex[v&0xf]
		v >>= 4
	}
	return "blob-" + string(buf)
}
