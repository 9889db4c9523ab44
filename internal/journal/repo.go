package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/raido/internal/apperr"
)

// BlockRow is a row in the blocks table. Checksum is the SHA-256 of
// Content; identical re-applies are detected by comparing it.
type BlockRow struct {
	DocKey     string    `json:"doc_key"`
	BlockID    string    `json:"block_id"`
	Content    string    `json:"content"`
	Checksum   string    `json:"checksum"`
	Version    int       `json:"version"`
	Tombstoned bool      `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SnapshotRow is the single retained pre-overwrite snapshot for a block.
type SnapshotRow struct {
	DocKey          string
	BlockID         string
	PreviousContent string
	CapturedAt      time.Time
}

// JobRow is a persisted job record for observability.
type JobRow struct {
	JobID      string
	DocKey     string
	HostKind   string
	SourceID   string
	Status     string
	Detail     string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// GetBlock returns a block row, or apperr.ErrNotFound.
func (db *DB) GetBlock(docKey, blockID string) (*BlockRow, error) {
	var row BlockRow
	var tomb int
	err := db.conn.QueryRow(`
		SELECT doc_key, block_id, content, checksum, version, tombstoned, created_at, updated_at
		FROM blocks WHERE doc_key = ? AND block_id = ?
	`, docKey, blockID).Scan(&row.DocKey, &row.BlockID, &row.Content, &row.Checksum, &row.Version, &tomb, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal: get block: %w", err)
	}
	row.Tombstoned = tomb != 0
	return &row, nil
}

// PutBlock inserts or replaces a block row.
func (db *DB) PutBlock(row BlockRow) error {
	tomb := 0
	if row.Tombstoned {
		tomb = 1
	}
	_, err := db.conn.Exec(`
		INSERT INTO blocks (doc_key, block_id, content, checksum, version, tombstoned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_key, block_id) DO UPDATE SET
			content    = excluded.content,
			checksum   = excluded.checksum,
			version    = excluded.version,
			tombstoned = excluded.tombstoned,
			updated_at = excluded.updated_at
	`, row.DocKey, row.BlockID, row.Content, row.Checksum, row.Version, tomb, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("journal: put block: %w", err)
	}
	return nil
}

// TombstoneBlock marks a block deleted without dropping the row. Any
// retained snapshot is discarded with it: a tombstoned block has nothing
// to roll back to.
func (db *DB) TombstoneBlock(docKey, blockID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	res, err := tx.Exec(`
		UPDATE blocks SET tombstoned = 1, updated_at = ? WHERE doc_key = ? AND block_id = ?
	`, time.Now().UTC(), docKey, blockID)
	if err != nil {
		return fmt.Errorf("journal: tombstone block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	_, _ = tx.Exec(`DELETE FROM snapshots WHERE doc_key = ? AND block_id = ?`, docKey, blockID)

	return tx.Commit()
}

// ListBlocks returns every live (non-tombstoned) block for a document.
func (db *DB) ListBlocks(docKey string) ([]BlockRow, error) {
	rows, err := db.conn.Query(`
		SELECT doc_key, block_id, content, checksum, version, tombstoned, created_at, updated_at
		FROM blocks WHERE doc_key = ? AND tombstoned = 0 ORDER BY block_id
	`, docKey)
	if err != nil {
		return nil, fmt.Errorf("journal: list blocks: %w", err)
	}
	defer rows.Close()

	var out []BlockRow
	for rows.Next() {
		var r BlockRow
		var tomb int
		if err := rows.Scan(&r.DocKey, &r.BlockID, &r.Content, &r.Checksum, &r.Version, &tomb, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Tombstoned = tomb != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSnapshot returns the retained snapshot for a block, or apperr.ErrNotFound.
func (db *DB) GetSnapshot(docKey, blockID string) (*SnapshotRow, error) {
	var row SnapshotRow
	err := db.conn.QueryRow(`
		SELECT doc_key, block_id, previous_content, captured_at
		FROM snapshots WHERE doc_key = ? AND block_id = ?
	`, docKey, blockID).Scan(&row.DocKey, &row.BlockID, &row.PreviousContent, &row.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal: get snapshot: %w", err)
	}
	return &row, nil
}

// PutSnapshot replaces the retained snapshot for a block; at most one is
// kept per (doc_key, block_id).
func (db *DB) PutSnapshot(row SnapshotRow) error {
	_, err := db.conn.Exec(`
		INSERT INTO snapshots (doc_key, block_id, previous_content, captured_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_key, block_id) DO UPDATE SET
			previous_content = excluded.previous_content,
			captured_at      = excluded.captured_at
	`, row.DocKey, row.BlockID, row.PreviousContent, row.CapturedAt)
	if err != nil {
		return fmt.Errorf("journal: put snapshot: %w", err)
	}
	return nil
}

// DeleteSnapshot drops the retained snapshot after a rollback consumed it.
func (db *DB) DeleteSnapshot(docKey, blockID string) error {
	if _, err := db.conn.Exec(`DELETE FROM snapshots WHERE doc_key = ? AND block_id = ?`, docKey, blockID); err != nil {
		return fmt.Errorf("journal: delete snapshot: %w", err)
	}
	return nil
}

// RecordJob upserts a job record; the scheduler writes one at enqueue and
// again at each terminal transition.
func (db *DB) RecordJob(row JobRow) error {
	var finished any
	if !row.FinishedAt.IsZero() {
		finished = row.FinishedAt
	}
	_, err := db.conn.Exec(`
		INSERT INTO jobs (job_id, doc_key, host_kind, source_id, status, detail, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status      = excluded.status,
			detail      = excluded.detail,
			finished_at = excluded.finished_at
	`, row.JobID, row.DocKey, row.HostKind, row.SourceID, row.Status, row.Detail, row.CreatedAt, finished)
	if err != nil {
		return fmt.Errorf("journal: record job: %w", err)
	}
	return nil
}

// ListJobs returns job records filtered by doc key, source and status, most
// recent first. Empty filters match everything.
func (db *DB) ListJobs(docKey, sourceID, status string, limit int) ([]JobRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.Query(`
		SELECT job_id, doc_key, host_kind, source_id, status, detail, created_at, finished_at
		FROM jobs
		WHERE (? = '' OR doc_key = ?)
		  AND (? = '' OR source_id = ?)
		  AND (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, docKey, docKey, sourceID, sourceID, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRow
	for rows.Next() {
		var r JobRow
		var finished sql.NullTime
		if err := rows.Scan(&r.JobID, &r.DocKey, &r.HostKind, &r.SourceID, &r.Status, &r.Detail, &r.CreatedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
