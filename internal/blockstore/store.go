// Package blockstore implements idempotent, backup-capable block writes
// with rollback. Content lands in the active document's named region and is
// mirrored in the journal; the journal copy is what snapshots are cut from.
//
// Callers must hold the scheduler's execution mutex: every operation takes
// the ActiveDocument handle that only the running job possesses.
package blockstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/journal"
)

// Mode selects the backup behavior of an upsert.
type Mode int

const (
	// ModeApply overwrites without capturing a snapshot.
	ModeApply Mode = iota
	// ModeApplyWithBackup captures the pre-overwrite content as the
	// block's single retained snapshot before writing.
	ModeApplyWithBackup
)

// Store coordinates block writes between the journal and the document.
type Store struct {
	j journal.Store
}

// New creates a Store over the given journal.
func New(j journal.Store) *Store {
	return &Store{j: j}
}

// Upsert creates or replaces a named block. Re-applying an identical
// (block_id, content) pair is a pure no-op: no version bump, no second
// snapshot, no duplicate artifact in the document. A tombstoned entry is
// revived as a fresh creation with no backup.
func (s *Store) Upsert(active host.ActiveDocument, blockID, content string, mode Mode) (*journal.BlockRow, error) {
	docKey := string(active.Document().Key)
	now := time.Now().UTC()
	sum := checksum.SumString(content)

	existing, err := s.j.GetBlock(docKey, blockID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	live := existing != nil && !existing.Tombstoned

	if live && existing.Checksum == sum {
		// Idempotent re-apply. Re-write the document region only if it
		// drifted from the journal; never touch the snapshot.
		if cur, ok, rerr := active.ReadBlock(blockID); rerr != nil {
			return nil, rerr
		} else if !ok || cur != content {
			if werr := active.WriteBlock(blockID, content); werr != nil {
				return nil, fmt.Errorf("blockstore: heal block %s: %w", blockID, werr)
			}
		}
		return existing, nil
	}

	if live && mode == ModeApplyWithBackup {
		if err := s.j.PutSnapshot(journal.SnapshotRow{
			DocKey:          docKey,
			BlockID:         blockID,
			PreviousContent: existing.Content,
			CapturedAt:      now,
		}); err != nil {
			return nil, err
		}
	}

	if err := active.WriteBlock(blockID, content); err != nil {
		return nil, fmt.Errorf("blockstore: write block %s: %w", blockID, err)
	}

	row := journal.BlockRow{
		DocKey:    docKey,
		BlockID:   blockID,
		Content:   content,
		Checksum:  sum,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if live {
		row.Version = existing.Version + 1
		row.CreatedAt = existing.CreatedAt
	}
	if err := s.j.PutBlock(row); err != nil {
		return nil, err
	}
	return &row, nil
}

// Delete tombstones a block and removes its document region. The journal
// row stays behind so a later upsert with the same id behaves as a fresh
// creation, and any retained snapshot is discarded with the tombstone.
func (s *Store) Delete(active host.ActiveDocument, blockID string) error {
	docKey := string(active.Document().Key)
	if err := s.j.TombstoneBlock(docKey, blockID); err != nil {
		return err
	}
	if err := active.RemoveBlock(blockID); err != nil {
		return fmt.Errorf("blockstore: remove block %s: %w", blockID, err)
	}
	return nil
}

// Rollback restores the retained snapshot and consumes it. It reports
// false when no snapshot exists ("nothing to roll back") rather than
// touching any state; only one snapshot is ever retained, so a second
// immediate rollback always reports false.
func (s *Store) Rollback(active host.ActiveDocument, blockID string) (bool, error) {
	docKey := string(active.Document().Key)
	snap, err := s.j.GetSnapshot(docKey, blockID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// The restore is itself an upsert, without backup capture: the snapshot
	// being restored is the one backup slot, and it is consumed below.
	if _, err := s.Upsert(active, blockID, snap.PreviousContent, ModeApply); err != nil {
		return false, err
	}
	if err := s.j.DeleteSnapshot(docKey, blockID); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every live block for a document from the journal.
func (s *Store) List(docKey host.DocKey) ([]journal.BlockRow, error) {
	return s.j.ListBlocks(string(docKey))
}
