package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fireworks (
	fw_id      INTEGER NOT NULL,
	launch_idx INTEGER NOT NULL,
	name       TEXT NOT NULL,
	state      TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	priority   REAL NOT NULL DEFAULT 0,
	created_on TEXT NOT NULL,
	updated_on TEXT NOT NULL,
	doc        TEXT NOT NULL,
	PRIMARY KEY (fw_id, launch_idx)
);

CREATE TABLE IF NOT EXISTS fw_latest (
	fw_id      INTEGER PRIMARY KEY,
	launch_idx INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workflows (
	wf_key INTEGER PRIMARY KEY,
	name   TEXT NOT NULL,
	doc    TEXT NOT NULL,
	locked INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS workflow_nodes (
	fw_id  INTEGER PRIMARY KEY,
	wf_key INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blobs (
	id       TEXT PRIMARY KEY,
	data     BLOB NOT NULL,
	metadata TEXT NOT NULL
);
`

// SQLiteStore is a Store implementation backed by modernc.org/sqlite, the
// default embedded single-process backend (spec §4.1, §6).
type SQLiteStore struct {
	*sqlCore
	db *sql.DB
}

// SQLiteOption configures a SQLiteStore at construction.
type SQLiteOption func(*sqliteConfig)

type sqliteConfig struct {
	maxDocumentBytes int
}

// WithSQLiteMaxDocumentBytes overrides the simulated per-document size
// limit that triggers ErrDocumentTooLarge on ReplaceFirework. Tests use a
// small value to exercise checkin's blob-spillover path without writing
// a genuinely huge action.
func WithSQLiteMaxDocumentBytes(n int) SQLiteOption {
	return func(c *sqliteConfig) { c.maxDocumentBytes = n }
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at dsn
// and migrates its schema. dsn is passed to modernc.org/sqlite verbatim,
// so ":memory:" and file paths both work.
func NewSQLiteStore(dsn string, opts ...SQLiteOption) (*SQLiteStore, error) {
	cfg := sqliteConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("launchpad: open sqlite store: %w", err)
	}
	// SQLite allows only one writer at a time; cap the pool so
	// database/sql doesn't fan write transactions out across connections
	// and hit SQLITE_BUSY immediately instead of queuing.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		return nil, fmt.Errorf("launchpad: enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		return nil, fmt.Errorf("launchpad: set busy_timeout: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return nil, fmt.Errorf("launchpad: enable foreign_keys: %w", err)
	}

	for _, stmt := range strings.Split(sqliteSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("launchpad: migrate sqlite schema: %w", err)
		}
	}

	core := newSQLCore(db, "", cfg.maxDocumentBytes, translateSQLiteInsertErr)
	return &SQLiteStore{sqlCore: core, db: db}, nil
}

// Tuneup ensures every index spec §4.1 requires exists. When background
// is false it also runs VACUUM to reclaim space and defragment.
func (s *SQLiteStore) Tuneup(ctx context.Context, background bool) error {
	if err := s.createIndexes(ctx); err != nil {
		return err
	}
	if !background {
		if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
			return fmt.Errorf("launchpad: vacuum: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func translateSQLiteInsertErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateKey
	}
	return err
}
