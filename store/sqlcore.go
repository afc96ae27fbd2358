package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/launchpad-go/model"
)

func newBlobID() string {
	return uuid.NewString()
}

// sqlCore is the shared implementation of Store behind both SQLiteStore
// and MySQLStore. The two backends differ only in driver name, DSN
// handling, a couple of DDL statements, and how they classify
// driver-specific errors (duplicate key, row-too-large) into this
// package's sentinel errors — everything else is plain database/sql
// against a schema the two dialects can both express.
type sqlCore struct {
	db *sql.DB

	// lockClause is appended to a SELECT that is immediately followed by
	// an UPDATE in the same transaction, to take a row lock ahead of the
	// write. MySQL uses " FOR UPDATE"; SQLite relies on BEGIN IMMEDIATE
	// serializing the whole transaction instead, so its lockClause is
	// empty.
	lockClause string

	// maxDocumentBytes is the simulated per-document size limit that
	// triggers ErrDocumentTooLarge on ReplaceFirework (spec §7). Real
	// document stores enforce this server-side; SQL TEXT/BLOB columns
	// don't, so the backends enforce it in application code, which also
	// makes it convenient to exercise checkin's spillover path in tests
	// with a small configured limit.
	maxDocumentBytes int

	// translateInsertErr maps a driver-specific insert failure into
	// ErrDuplicateKey when it recognizes a unique-constraint violation,
	// or returns err unchanged otherwise. Supplied by each backend, since
	// the two drivers report this differently.
	translateInsertErr func(error) error

	blob *sqlBlobStore
}

const defaultMaxDocumentBytes = 16 * 1024 * 1024

func newSQLCore(db *sql.DB, lockClause string, maxDocumentBytes int, translateInsertErr func(error) error) *sqlCore {
	if maxDocumentBytes <= 0 {
		maxDocumentBytes = defaultMaxDocumentBytes
	}
	return &sqlCore{
		db:                  db,
		lockClause:          lockClause,
		maxDocumentBytes:    maxDocumentBytes,
		translateInsertErr:  translateInsertErr,
		blob:                &sqlBlobStore{db: db},
	}
}

func (s *sqlCore) Blob() BlobStore { return s.blob }

func encodeFirework(fw *model.Firework) (string, error) {
	dict, err := fw.ToDict()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(dict)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeFirework(doc string) (*model.Firework, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, err
	}
	return model.FireworkFromDict(m)
}

func priorityOf(fw *model.Firework) float64 {
	if p, ok := fw.Spec["_priority"].(float64); ok {
		return p
	}
	return 0
}

func categoryOf(fw *model.Firework) string {
	cat, _ := fw.Spec["_category"].(string)
	return cat
}

func (s *sqlCore) InsertFirework(ctx context.Context, fw *model.Firework) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if fw.FwID <= 0 {
		id, err := s.nextFwIDsTx(ctx, tx, 1)
		if err != nil {
			return err
		}
		fw.FwID = id
	}

	doc, err := encodeFirework(fw)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO fireworks (fw_id, launch_idx, name, state, category, priority, created_on, updated_on, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fw.FwID, fw.LaunchIdx, fw.Name, string(fw.State), categoryOf(fw), priorityOf(fw),
		fw.CreatedOn.Format(model.TimeLayout), fw.UpdatedOn.Format(model.TimeLayout), doc)
	if err != nil {
		return s.translateInsertErr(err)
	}

	if err := s.bumpLatestTx(ctx, tx, fw.FwID, fw.LaunchIdx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqlCore) bumpLatestTx(ctx context.Context, tx *sql.Tx, fwID, launchIdx int) error {
	var current int
	err := tx.QueryRowContext(ctx, `SELECT launch_idx FROM fw_latest WHERE fw_id = ?`, fwID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `INSERT INTO fw_latest (fw_id, launch_idx) VALUES (?, ?)`, fwID, launchIdx)
		return err
	case err != nil:
		return err
	case launchIdx > current:
		_, err = tx.ExecContext(ctx, `UPDATE fw_latest SET launch_idx = ? WHERE fw_id = ?`, launchIdx, fwID)
		return err
	default:
		return nil
	}
}

func (s *sqlCore) resolveLaunchIdx(ctx context.Context, fwID, launchIdx int) (int, error) {
	if launchIdx >= 0 {
		return launchIdx, nil
	}
	var latest int
	err := s.db.QueryRowContext(ctx, `SELECT launch_idx FROM fw_latest WHERE fw_id = ?`, fwID).Scan(&latest)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return latest, err
}

func (s *sqlCore) GetFirework(ctx context.Context, fwID, launchIdx int) (*model.Firework, error) {
	resolved, err := s.resolveLaunchIdx(ctx, fwID, launchIdx)
	if err != nil {
		return nil, err
	}

	var doc string
	err = s.db.QueryRowContext(ctx, `SELECT doc FROM fireworks WHERE fw_id = ? AND launch_idx = ?`, fwID, resolved).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeFirework(doc)
}

func (s *sqlCore) ReplaceFirework(ctx context.Context, fw *model.Firework, upsert bool) error {
	doc, err := encodeFirework(fw)
	if err != nil {
		return err
	}
	if len(doc) > s.maxDocumentBytes {
		return ErrDocumentTooLarge
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM fireworks WHERE fw_id = ? AND launch_idx = ?`, fw.FwID, fw.LaunchIdx).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		if !upsert {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO fireworks (fw_id, launch_idx, name, state, category, priority, created_on, updated_on, doc)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fw.FwID, fw.LaunchIdx, fw.Name, string(fw.State), categoryOf(fw), priorityOf(fw),
			fw.CreatedOn.Format(model.TimeLayout), fw.UpdatedOn.Format(model.TimeLayout), doc)
	case err != nil:
		return err
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE fireworks SET name=?, state=?, category=?, priority=?, updated_on=?, doc=? WHERE fw_id=? AND launch_idx=?`,
			fw.Name, string(fw.State), categoryOf(fw), priorityOf(fw), fw.UpdatedOn.Format(model.TimeLayout), doc,
			fw.FwID, fw.LaunchIdx)
	}
	if err != nil {
		return err
	}

	if err := s.bumpLatestTx(ctx, tx, fw.FwID, fw.LaunchIdx); err != nil {
		return err
	}
	return tx.Commit()
}

// scanLatestCandidates loads the latest-launch document for every fw_id
// whose state is in states (or every fw_id if states is empty), holding
// the configured row lock so a concurrent ReserveReady can't select the
// same candidate.
func (s *sqlCore) scanLatestCandidates(ctx context.Context, tx *sql.Tx, states []model.State) ([]*model.Firework, error) {
	query := `SELECT f.doc FROM fireworks f
	          JOIN fw_latest l ON f.fw_id = l.fw_id AND f.launch_idx = l.launch_idx`
	args := []interface{}{}
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, st := range states {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE f.state IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += s.lockClause

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Firework
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		fw, err := decodeFirework(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, fw)
	}
	return out, rows.Err()
}

func (s *sqlCore) ReserveReady(ctx context.Context, filter FireworkFilter, sortPolicy SortPolicy) (*model.Firework, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	candidates, err := s.scanLatestCandidates(ctx, tx, filter.States)
	if err != nil {
		return nil, err
	}

	var matched []*model.Firework
	for _, fw := range candidates {
		if matchesFilter(fw, filter) {
			matched = append(matched, fw)
		}
	}
	if len(matched) == 0 {
		return nil, ErrNotFound
	}
	sortFireworks(matched, sortPolicy)

	winner := matched[0]
	winner.Touch(model.StateReserved, "")
	doc, err := encodeFirework(winner)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE fireworks SET state=?, updated_on=?, doc=? WHERE fw_id=? AND launch_idx=?`,
		string(winner.State), winner.UpdatedOn.Format(model.TimeLayout), doc, winner.FwID, winner.LaunchIdx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return winner, nil
}

func (s *sqlCore) FindFireworks(ctx context.Context, filter FireworkFilter, sortPolicy SortPolicy) ([]*model.Firework, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT f.doc FROM fireworks f JOIN fw_latest l ON f.fw_id = l.fw_id AND f.launch_idx = l.launch_idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matched []*model.Firework
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		fw, err := decodeFirework(doc)
		if err != nil {
			return nil, err
		}
		if matchesFilter(fw, filter) {
			matched = append(matched, fw)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortFireworks(matched, sortPolicy)
	return matched, nil
}

func (s *sqlCore) CountFireworks(ctx context.Context, filter FireworkFilter) (int, error) {
	fws, err := s.FindFireworks(ctx, filter, SortPolicy{})
	if err != nil {
		return 0, err
	}
	return len(fws), nil
}

func (s *sqlCore) DeleteFireworks(ctx context.Context, filter FireworkFilter) (int64, error) {
	matched, err := s.FindFireworks(ctx, filter, SortPolicy{})
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var removed int64
	affected := map[int]bool{}
	for _, fw := range matched {
		res, err := tx.ExecContext(ctx, `DELETE FROM fireworks WHERE fw_id=? AND launch_idx=?`, fw.FwID, fw.LaunchIdx)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		removed += n
		affected[fw.FwID] = true
	}
	for fwID := range affected {
		var maxIdx sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT MAX(launch_idx) FROM fireworks WHERE fw_id=?`, fwID).Scan(&maxIdx)
		if err != nil {
			return 0, err
		}
		if maxIdx.Valid {
			if _, err := tx.ExecContext(ctx, `UPDATE fw_latest SET launch_idx=? WHERE fw_id=?`, maxIdx.Int64, fwID); err != nil {
				return 0, err
			}
		} else if _, err := tx.ExecContext(ctx, `DELETE FROM fw_latest WHERE fw_id=?`, fwID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

func encodeWorkflow(wf *model.Workflow) (string, error) {
	dict, err := wf.ToDict()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(dict)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeWorkflow(doc string) (*model.Workflow, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, err
	}
	return model.WorkflowFromDict(m)
}

func (s *sqlCore) InsertWorkflow(ctx context.Context, wf *model.Workflow) error {
	if len(wf.Nodes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	key := minInt(wf.Nodes)
	doc, err := encodeWorkflow(wf)
	if err != nil {
		return err
	}

	locked := 0
	if wf.Locked {
		locked = 1
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO workflows (wf_key, name, doc, locked) VALUES (?, ?, ?, ?)`, key, wf.Name, doc, locked); err != nil {
		return err
	}
	for _, n := range wf.Nodes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO workflow_nodes (fw_id, wf_key) VALUES (?, ?)`, n, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlCore) GetWorkflowByNode(ctx context.Context, fwID int) (*model.Workflow, error) {
	var key int
	err := s.db.QueryRowContext(ctx, `SELECT wf_key FROM workflow_nodes WHERE fw_id = ?`, fwID).Scan(&key)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc string
	err = s.db.QueryRowContext(ctx, `SELECT doc FROM workflows WHERE wf_key = ?`, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeWorkflow(doc)
}

func (s *sqlCore) ReplaceWorkflow(ctx context.Context, wf *model.Workflow) error {
	if len(wf.Nodes) == 0 {
		return ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var oldKey int
	found := false
	for _, n := range wf.Nodes {
		err := tx.QueryRowContext(ctx, `SELECT wf_key FROM workflow_nodes WHERE fw_id = ?`, n).Scan(&oldKey)
		if err == nil {
			found = true
			break
		}
		if err != sql.ErrNoRows {
			return err
		}
	}
	if !found {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_nodes WHERE wf_key = ?`, oldKey); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE wf_key = ?`, oldKey); err != nil {
		return err
	}

	newKey := minInt(wf.Nodes)
	doc, err := encodeWorkflow(wf)
	if err != nil {
		return err
	}
	locked := 0
	if wf.Locked {
		locked = 1
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO workflows (wf_key, name, doc, locked) VALUES (?, ?, ?, ?)`, newKey, wf.Name, doc, locked); err != nil {
		return err
	}
	for _, n := range wf.Nodes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO workflow_nodes (fw_id, wf_key) VALUES (?, ?)`, n, newKey); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlCore) AcquireWorkflowLock(ctx context.Context, fwID int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var key, locked int
	query := `SELECT w.wf_key, w.locked FROM workflows w
	          JOIN workflow_nodes n ON w.wf_key = n.wf_key
	          WHERE n.fw_id = ?` + s.lockClause
	err = tx.QueryRowContext(ctx, query, fwID).Scan(&key, &locked)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if locked != 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE workflows SET locked = 1 WHERE wf_key = ?`, key); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *sqlCore) ReleaseWorkflowLock(ctx context.Context, fwID int) error {
	return s.setLock(ctx, fwID, false)
}

func (s *sqlCore) ForceWorkflowLock(ctx context.Context, fwID int) error {
	return s.setLock(ctx, fwID, true)
}

func (s *sqlCore) setLock(ctx context.Context, fwID int, locked bool) error {
	var key int
	err := s.db.QueryRowContext(ctx, `SELECT wf_key FROM workflow_nodes WHERE fw_id = ?`, fwID).Scan(&key)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	v := 0
	if locked {
		v = 1
	}
	_, err = s.db.ExecContext(ctx, `UPDATE workflows SET locked = ? WHERE wf_key = ?`, v, key)
	return err
}

func (s *sqlCore) DeleteWorkflow(ctx context.Context, fwID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var key int
	err = tx.QueryRowContext(ctx, `SELECT wf_key FROM workflow_nodes WHERE fw_id = ?`, fwID).Scan(&key)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `SELECT fw_id FROM workflow_nodes WHERE wf_key = ?`, key)
	if err != nil {
		return err
	}
	var nodeIDs []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return err
		}
		nodeIDs = append(nodeIDs, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, n := range nodeIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fireworks WHERE fw_id = ?`, n); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fw_latest WHERE fw_id = ?`, n); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_nodes WHERE wf_key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE wf_key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlCore) FindWorkflows(ctx context.Context, filter WorkflowFilter) ([]*model.Workflow, error) {
	query := `SELECT doc FROM workflows`
	var args []interface{}
	if filter.Name != "" {
		query += ` WHERE name = ?`
		args = append(args, filter.Name)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		wf, err := decodeWorkflow(doc)
		if err != nil {
			return nil, err
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
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *sqlCore) nextFwIDsTx(ctx context.Context, tx *sql.Tx, n int) (int, error) {
	var prev int
	query := `SELECT value FROM counters WHERE name = 'fw_id'` + s.lockClause
	err := tx.QueryRowContext(ctx, query).Scan(&prev)
	if err == sql.ErrNoRows {
		prev = 1
		if _, err := tx.ExecContext(ctx, `INSERT INTO counters (name, value) VALUES ('fw_id', ?)`, prev+n); err != nil {
			return 0, err
		}
		return prev, nil
	}
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE counters SET value = value + ? WHERE name = 'fw_id'`, n); err != nil {
		return 0, err
	}
	return prev, nil
}

func (s *sqlCore) NextFwIDs(ctx context.Context, n int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	prev, err := s.nextFwIDsTx(ctx, tx, n)
	if err != nil {
		return 0, err
	}
	return prev, tx.Commit()
}

func (s *sqlCore) ResetFwIDCounter(ctx context.Context, v int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE counters SET value = ? WHERE name = 'fw_id'`, v)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.db.ExecContext(ctx, `INSERT INTO counters (name, value) VALUES ('fw_id', ?)`, v)
	}
	return err
}

func (s *sqlCore) createIndexes(ctx context.Context) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_fireworks_state ON fireworks (state)`,
		`CREATE INDEX IF NOT EXISTS idx_fireworks_category ON fireworks (category)`,
		`CREATE INDEX IF NOT EXISTS idx_fireworks_created_on ON fireworks (created_on)`,
		`CREATE INDEX IF NOT EXISTS idx_fireworks_updated_on ON fireworks (updated_on)`,
		`CREATE INDEX IF NOT EXISTS idx_fireworks_name ON fireworks (name)`,
		`CREATE INDEX IF NOT EXISTS idx_fireworks_dispatch ON fireworks (state, priority, created_on)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_name ON workflows (name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("launchpad: tuneup index %q: %w", stmt, err)
		}
	}
	return nil
}

type sqlBlobStore struct {
	db *sql.DB
}

func (b *sqlBlobStore) Put(ctx context.Context, data []byte, metadata map[string]interface{}) (string, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	id := newBlobID()
	_, err = b.db.ExecContext(ctx, `INSERT INTO blobs (id, data, metadata) VALUES (?, ?, ?)`, id, data, string(meta))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (b *sqlBlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return data, err
}
