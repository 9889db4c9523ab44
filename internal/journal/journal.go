// Package journal provides the SQLite-backed persistence layer: block
// contents and versions, pre-overwrite snapshots, and terminal job records.
package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blocks (
	doc_key    TEXT NOT NULL,
	block_id   TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL DEFAULT 1,
	tombstoned INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (doc_key, block_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	doc_key          TEXT NOT NULL,
	block_id         TEXT NOT NULL,
	previous_content TEXT NOT NULL DEFAULT '',
	captured_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (doc_key, block_id)
);

CREATE TABLE IF NOT EXISTS jobs (
	job_id      TEXT PRIMARY KEY,
	doc_key     TEXT NOT NULL,
	host_kind   TEXT NOT NULL,
	source_id   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_doc ON jobs(doc_key);
CREATE INDEX IF NOT EXISTS idx_jobs_source ON jobs(source_id);
`

// Store defines the journal operations. Consumers should depend on this
// interface rather than the concrete *DB type to facilitate testing.
type Store interface {
	GetBlock(docKey, blockID string) (*BlockRow, error)
	PutBlock(row BlockRow) error
	TombstoneBlock(docKey, blockID string) error
	ListBlocks(docKey string) ([]BlockRow, error)
	GetSnapshot(docKey, blockID string) (*SnapshotRow, error)
	PutSnapshot(row SnapshotRow) error
	DeleteSnapshot(docKey, blockID string) error
	RecordJob(row JobRow) error
	ListJobs(docKey, sourceID, status string, limit int) ([]JobRow, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

// DB wraps a sql.DB with journal operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite journal and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
