// Package testutil provides shared test helpers for setting up journals and
// document hosts.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/journal"
)

// TestJournal creates a temporary SQLite journal that is automatically
// cleaned up.
func TestJournal(t *testing.T) *journal.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "raido-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := journal.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestTextHost creates a temporary text document root with an FSHost.
func TestTextHost(t *testing.T) (string, *host.FSHost) {
	t.Helper()
	root := t.TempDir()
	h, err := host.NewFSHost(host.KindText, root)
	if err != nil {
		t.Fatal(err)
	}
	return root, h
}
