// Package watcher tracks document availability on disk. When a file backing
// a registered document disappears, the document is marked unavailable so
// queued jobs against it fail fast; when it reappears it becomes idle again.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/registry"
)

// EventCallback is called after an availability change.
// status is one of "idle", "unavailable".
type EventCallback func(key host.DocKey, status, detail string)

// Roots maps each host kind to its document root directory.
type Roots map[host.Kind]string

// Watch starts an fsnotify watcher over every document root and processes
// file change events until ctx is cancelled. It calls cb (if non-nil) after
// each availability change.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a debounced reconciliation pass that compares
// the registry against the files actually on disk.
func Watch(ctx context.Context, roots Roots, reg *registry.Registry, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs := make(Roots, len(roots))
	for kind, root := range roots {
		a, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		abs[kind] = a
		if err := addDirsRecursive(w, a); err != nil {
			return err
		}
		logger.Info("watcher: started", slog.String("kind", string(kind)), slog.String("root", a))
	}

	// reconcileTimer debounces rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(abs, reg, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					continue
				}
			}

			// Temp files from atomic flushes and other dotfiles are noise.
			if strings.HasPrefix(filepath.Base(absPath), ".") {
				continue
			}

			key, ok := resolveKey(abs, absPath)
			if !ok {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				markAvailable(reg, key, logger, cb)

			case ev.Op&fsnotify.Remove != 0:
				markUnavailable(reg, key, "file removed", logger, cb)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only. The new path
				// arrives as a separate Create event if it stays inside a
				// watched root. Mark the old key unavailable now and let the
				// reconciliation pass catch stragglers.
				markUnavailable(reg, key, "file renamed away", logger, cb)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// resolveKey maps an absolute file path to the doc key of the root it lives
// under. Files outside every root are ignored.
func resolveKey(roots Roots, absPath string) (host.DocKey, bool) {
	for kind, root := range roots {
		rel, err := filepath.Rel(root, absPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		return host.KeyFromPath(kind, filepath.ToSlash(rel)), true
	}
	return "", false
}

// markAvailable flips a document back to idle, but only when the registry
// thought it was gone. Writeback statuses belong to the scheduler and are
// never overwritten here; our own atomic flushes also surface as Create.
func markAvailable(reg *registry.Registry, key host.DocKey, logger *slog.Logger, cb EventCallback) {
	if st, ok := reg.Document(key); !ok || st.Status != registry.StatusUnavailable {
		return
	}
	reg.SetDocument(key, registry.StatusIdle, "")
	logger.Debug("watcher: document available", slog.String("doc_key", string(key)))
	if cb != nil {
		cb(key, string(registry.StatusIdle), "")
	}
}

func markUnavailable(reg *registry.Registry, key host.DocKey, detail string, logger *slog.Logger, cb EventCallback) {
	reg.SetDocument(key, registry.StatusUnavailable, detail)
	logger.Debug("watcher: document unavailable",
		slog.String("doc_key", string(key)),
		slog.String("detail", detail))
	if cb != nil {
		cb(key, string(registry.StatusUnavailable), detail)
	}
}

// reconcile walks every root and settles registry entries whose files moved
// under a rename: keys with a file on disk become idle again, unavailable
// keys stay as they are.
func reconcile(roots Roots, reg *registry.Registry, logger *slog.Logger, cb EventCallback) {
	onDisk := make(map[host.DocKey]bool)
	for kind, root := range roots {
		_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil {
				return nil
			}
			onDisk[host.KeyFromPath(kind, filepath.ToSlash(rel))] = true
			return nil
		})
	}

	for _, st := range reg.Documents() {
		switch {
		case st.Status == registry.StatusUnavailable && onDisk[st.DocKey]:
			markAvailable(reg, st.DocKey, logger, cb)
		case st.Status != registry.StatusUnavailable && !onDisk[st.DocKey]:
			markUnavailable(reg, st.DocKey, "file missing after rename", logger, cb)
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
