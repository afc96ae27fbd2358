package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS fireworks (
	fw_id      INT NOT NULL,
	launch_idx INT NOT NULL,
	name       VARCHAR(255) NOT NULL,
	state      VARCHAR(32) NOT NULL,
	category   VARCHAR(255) NOT NULL DEFAULT '',
	priority   DOUBLE NOT NULL DEFAULT 0,
	created_on VARCHAR(32) NOT NULL,
	updated_on VARCHAR(32) NOT NULL,
	doc        LONGTEXT NOT NULL,
	PRIMARY KEY (fw_id, launch_idx),
	INDEX idx_fireworks_state (state),
	INDEX idx_fireworks_category (category),
	INDEX idx_fireworks_created_on (created_on),
	INDEX idx_fireworks_updated_on (updated_on),
	INDEX idx_fireworks_name (name),
	INDEX idx_fireworks_dispatch (state, priority, created_on)
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS fw_latest (
	fw_id      INT PRIMARY KEY,
	launch_idx INT NOT NULL
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS workflows (
	wf_key INT PRIMARY KEY,
	name   VARCHAR(255) NOT NULL,
	doc    LONGTEXT NOT NULL,
	locked TINYINT NOT NULL DEFAULT 0,
	INDEX idx_workflows_name (name)
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS workflow_nodes (
	fw_id  INT PRIMARY KEY,
	wf_key INT NOT NULL
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS counters (
	name  VARCHAR(64) PRIMARY KEY,
	value BIGINT NOT NULL
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS blobs (
	id       VARCHAR(64) PRIMARY KEY,
	data     LONGBLOB NOT NULL,
	metadata TEXT NOT NULL
) ENGINE=InnoDB;
`

// MySQLStore is a Store implementation backed by go-sql-driver/mysql, for
// multi-process production deployments where SQLite's single-writer
// model is insufficient (spec §4.1, §5).
type MySQLStore struct {
	*sqlCore
	db *sql.DB
}

// MySQLOption configures a MySQLStore at construction.
type MySQLOption func(*mysqlConfig)

type mysqlConfig struct {
	maxDocumentBytes int
}

// WithMySQLMaxDocumentBytes overrides the simulated per-document size
// limit that triggers ErrDocumentTooLarge on ReplaceFirework.
func WithMySQLMaxDocumentBytes(n int) MySQLOption {
	return func(c *mysqlConfig) { c.maxDocumentBytes = n }
}

// NewMySQLStore opens a connection pool against dsn (a
// go-sql-driver/mysql DSN, e.g. "user:pass@tcp(host:3306)/launchpad") and
// migrates its schema.
func NewMySQLStore(dsn string, opts ...MySQLOption) (*MySQLStore, error) {
	cfg := mysqlConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("launchpad: open mysql store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("launchpad: ping mysql store: %w", err)
	}

	for _, stmt := range strings.Split(mysqlSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("launchpad: migrate mysql schema: %w", err)
		}
	}

	core := newSQLCore(db, " FOR UPDATE", cfg.maxDocumentBytes, translateMySQLInsertErr)
	return &MySQLStore{sqlCore: core, db: db}, nil
}

// Tuneup ensures every index spec §4.1 requires exists (MySQL creates
// them inline in its DDL, so this mainly matters for databases migrated
// before an index was added) and, when background is false, runs
// OPTIMIZE TABLE on both collections.
//
// Unlike SQLite, MySQL's CREATE INDEX has no IF NOT EXISTS clause, so a
// "duplicate key name" error (1061) here just means the index already
// exists and is ignored rather than propagated.
func (s *MySQLStore) Tuneup(ctx context.Context, background bool) error {
	stmts := map[string]string{
		"idx_fireworks_state":      `CREATE INDEX idx_fireworks_state ON fireworks (state)`,
		"idx_fireworks_category":   `CREATE INDEX idx_fireworks_category ON fireworks (category)`,
		"idx_fireworks_created_on": `CREATE INDEX idx_fireworks_created_on ON fireworks (created_on)`,
		"idx_fireworks_updated_on": `CREATE INDEX idx_fireworks_updated_on ON fireworks (updated_on)`,
		"idx_fireworks_name":       `CREATE INDEX idx_fireworks_name ON fireworks (name)`,
		"idx_fireworks_dispatch":   `CREATE INDEX idx_fireworks_dispatch ON fireworks (state, priority, created_on)`,
		"idx_workflows_name":       `CREATE INDEX idx_workflows_name ON workflows (name)`,
	}
	for name, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			var mysqlErr *mysql.MySQLError
			if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateKeyName {
				continue
			}
			return fmt.Errorf("launchpad: tuneup index %s: %w", name, err)
		}
	}
	if !background {
		for _, tbl := range []string{"fireworks", "workflows"} {
			if _, err := s.db.ExecContext(ctx, `OPTIMIZE TABLE `+tbl); err != nil {
				return fmt.Errorf("launchpad: optimize table %s: %w", tbl, err)
			}
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

const (
	mysqlErrDuplicateEntry   = 1062
	mysqlErrDuplicateKeyName = 1061
)

func translateMySQLInsertErr(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
		return ErrDuplicateKey
	}
	return err
}
