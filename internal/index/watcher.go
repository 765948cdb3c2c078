package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/flashsync/internal/checksum"
	"github.com/starford/flashsync/internal/models"
	"github.com/starford/flashsync/internal/storage"
)

// EventKind names a watcher-driven index change.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
	EventRenamed EventKind = "renamed"
)

// Event describes one note change observed on disk. OldPath is set only
// for EventRenamed.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
}

// EventCallback is called after a watcher-driven index change.
type EventCallback func(Event)

const (
	// renamePairWindow bounds how long a Rename waits for the matching Create.
	renamePairWindow = 250 * time.Millisecond
	reconcileDelay   = 200 * time.Millisecond
)

// Watch starts an fsnotify watcher on the vault root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after
// each successful index mutation.
//
// fsnotify reports a move as Rename(old) followed by Create(new). The two
// are paired into a single EventRenamed when the Create arrives within
// renamePairWindow; otherwise the old path is reported as deleted. Folder
// moves are paired per contained note. New directories created at runtime
// are added to the watch list.
func Watch(ctx context.Context, db *DB, store storage.Provider, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, vaultRoot); err != nil {
		return err
	}

	w := &watcher{
		fw:     fw,
		db:     db,
		store:  store,
		root:   vaultRoot,
		logger: logger,
		cb:     cb,
	}
	logger.Info("watcher: started", slog.String("root", vaultRoot))

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			logger.Info("watcher: stopped")
			return nil

		case <-w.pairCh:
			w.expirePending()

		case <-w.reconcileCh:
			reconcileAfterRename(db, store, logger, cb)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// watcher holds the state of one Watch loop. It is only touched from that
// loop's goroutine.
type watcher struct {
	fw     *fsnotify.Watcher
	db     *DB
	store  storage.Provider
	root   string
	logger *slog.Logger
	cb     EventCallback

	pending   string // vault path of an unpaired Rename
	pairTimer *time.Timer
	pairCh    <-chan time.Time

	reconcileTimer *time.Timer
	reconcileCh    <-chan time.Time
}

func (w *watcher) emit(ev Event) {
	if w.cb != nil {
		w.cb(ev)
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	if isHidden(rel) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			w.createdDir(ev.Name, rel)
			return
		}
		if !models.IsNotePath(rel) {
			return
		}
		w.createdNote(rel)

	case ev.Op&fsnotify.Write != 0:
		if models.IsNotePath(rel) {
			w.index(rel, EventUpdated)
		}

	case ev.Op&fsnotify.Remove != 0:
		if !models.IsNotePath(rel) {
			w.scheduleReconcile()
			return
		}
		if delErr := w.db.DeleteNote(rel); delErr != nil {
			w.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
			return
		}
		w.logger.Debug("watcher: deleted", slog.String("path", rel))
		w.emit(Event{Kind: EventDeleted, Path: rel})

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the OLD path only. Hold it until the
		// matching Create arrives or the pair window expires.
		if !models.IsNotePath(rel) && !w.db.hasNotesUnder(rel) {
			return
		}
		if w.pending != "" {
			w.expirePending()
		}
		w.pending = rel
		if w.pairTimer == nil {
			w.pairTimer = time.NewTimer(renamePairWindow)
			w.pairCh = w.pairTimer.C
		} else {
			w.pairTimer.Reset(renamePairWindow)
		}
	}
}

// createdNote pairs a new note with a pending rename, or indexes it as new.
func (w *watcher) createdNote(rel string) {
	old := w.pending
	if old != "" && models.IsNotePath(old) && old != rel {
		if cs, _ := w.db.GetChecksum(rel); cs == "" {
			w.clearPending()
			w.renamed(old, rel)
			w.scheduleReconcile()
			return
		}
	}
	w.index(rel, EventCreated)
}

func (w *watcher) renamed(oldRel, newRel string) {
	data, err := w.store.Read(newRel)
	if err != nil {
		w.logger.Warn("watcher: read failed", slog.String("path", newRel), slog.String("error", err.Error()))
		return
	}
	if err := IndexFile(w.db, newRel, data); err != nil {
		w.logger.Warn("watcher: index failed", slog.String("path", newRel), slog.String("error", err.Error()))
		return
	}
	if err := w.db.DeleteNote(oldRel); err != nil {
		w.logger.Warn("watcher: rename delete failed", slog.String("path", oldRel), slog.String("error", err.Error()))
	}
	w.logger.Debug("watcher: renamed", slog.String("old", oldRel), slog.String("path", newRel))
	w.emit(Event{Kind: EventRenamed, Path: newRel, OldPath: oldRel})
}

// createdDir watches a new directory. When it is the target of a pending
// folder rename, each contained note is reported as renamed.
func (w *watcher) createdDir(abs, rel string) {
	if err := addDirsRecursive(w.fw, abs); err != nil {
		w.logger.Warn("watcher: add new dir failed", slog.String("path", abs), slog.String("error", err.Error()))
	} else {
		w.logger.Debug("watcher: watching new dir", slog.String("path", abs))
	}

	oldDir := w.pending
	if oldDir != "" && !models.IsNotePath(oldDir) {
		w.clearPending()
	} else {
		oldDir = ""
	}

	_ = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != abs && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !models.IsNotePath(p) {
			return nil
		}
		noteRel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return nil
		}
		noteRel = filepath.ToSlash(noteRel)
		if oldDir != "" {
			oldRel := path.Join(oldDir, strings.TrimPrefix(noteRel, rel+"/"))
			if cs, _ := w.db.GetChecksum(oldRel); cs != "" {
				w.renamed(oldRel, noteRel)
				return nil
			}
		}
		w.index(noteRel, EventCreated)
		return nil
	})

	if oldDir != "" {
		w.scheduleReconcile()
	}
}

// index reads rel and upserts it. Content identical to the indexed
// checksum is not reported again.
func (w *watcher) index(rel string, kind EventKind) {
	data, err := w.store.Read(rel)
	if err != nil {
		w.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if prev, _ := w.db.GetChecksum(rel); checksum.Matches(prev, data) {
		return
	}
	if err := IndexFile(w.db, rel, data); err != nil {
		w.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", string(kind)))
	w.emit(Event{Kind: kind, Path: rel})
}

// expirePending reports an unpaired rename. A note that left the vault is
// deleted; anything else is settled by a reconciliation pass.
func (w *watcher) expirePending() {
	old := w.pending
	w.clearPending()
	if old == "" {
		return
	}
	if models.IsNotePath(old) {
		if err := w.db.DeleteNote(old); err != nil {
			w.logger.Warn("watcher: rename delete failed", slog.String("path", old), slog.String("error", err.Error()))
		} else {
			w.logger.Debug("watcher: rename unpaired, deleted", slog.String("path", old))
			w.emit(Event{Kind: EventDeleted, Path: old})
		}
	}
	w.scheduleReconcile()
}

func (w *watcher) clearPending() {
	w.pending = ""
	if w.pairTimer != nil {
		w.pairTimer.Stop()
	}
}

func (w *watcher) scheduleReconcile() {
	if w.reconcileTimer == nil {
		w.reconcileTimer = time.NewTimer(reconcileDelay)
		w.reconcileCh = w.reconcileTimer.C
	} else {
		w.reconcileTimer.Reset(reconcileDelay)
	}
}

func (w *watcher) stopTimers() {
	if w.pairTimer != nil {
		w.pairTimer.Stop()
	}
	if w.reconcileTimer != nil {
		w.reconcileTimer.Stop()
	}
}

// reconcileAfterRename does a lightweight sync using batch lookups:
// finds index entries without a corresponding file on disk and removes them,
// and finds on-disk files that are not indexed and indexes them.
func reconcileAfterRename(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	metas, err := store.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if delErr := db.DeleteNote(p); delErr == nil {
			logger.Debug("reconcile: removed stale", slog.String("path", p))
			if cb != nil {
				cb(Event{Kind: EventDeleted, Path: p})
			}
		}
	}

	for p, cs := range disk {
		prev, known := checksums[p]
		if prev == cs {
			continue
		}
		data, readErr := store.Read(p)
		if readErr != nil {
			continue
		}
		if idxErr := IndexFile(db, p, data); idxErr != nil {
			continue
		}
		kind := EventCreated
		if known {
			kind = EventUpdated
		}
		logger.Debug("reconcile: indexed", slog.String("path", p), slog.String("op", string(kind)))
		if cb != nil {
			cb(Event{Kind: kind, Path: p})
		}
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

// isHidden reports whether any element of a vault path starts with a dot.
func isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
