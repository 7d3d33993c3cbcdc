package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ccengram/ccengram/internal/gitignore"
	"github.com/ccengram/ccengram/internal/indexer"
	"github.com/ccengram/ccengram/internal/scanner"
)

// Options configure a project watcher.
type Options struct {
	FileDebounce time.Duration
	PollInterval time.Duration
}

// Watcher runs the per-project watch loop: fsnotify events feed the
// debouncer; the loop drains ready changes, re-evaluates the gitignore
// rules hash once per window, and drives the indexer.
type Watcher struct {
	projectID string
	root      string

	indexer     *indexer.Indexer
	scanner     *scanner.Scanner
	coordinator *Coordinator
	debouncer   *Debouncer
	opts        Options
	logger      *slog.Logger

	cancel  atomic.Bool
	done    chan struct{}
	indexed atomic.Int64
}

// New creates a watcher. Start must still be called.
func New(projectID, root string, ix *indexer.Indexer, sc *scanner.Scanner, coord *Coordinator, opts Options, logger *slog.Logger) *Watcher {
	if opts.FileDebounce <= 0 {
		opts.FileDebounce = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		projectID:   projectID,
		root:        root,
		indexer:     ix,
		scanner:     sc,
		coordinator: coord,
		debouncer:   NewDebouncer(opts.FileDebounce),
		opts:        opts,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Start acquires the cross-process lock and launches the watch loop.
// When another live process already watches the project, Start logs and
// returns (false, nil) without spawning anything.
func (w *Watcher) Start(ctx context.Context) (bool, error) {
	acquired, err := w.coordinator.TryAcquire(w.projectID, w.root)
	if err != nil {
		return false, err
	}
	if !acquired {
		if lock, err := w.coordinator.ReadLock(w.root); err == nil {
			w.logger.Info("watcher already running",
				slog.String("project", w.projectID), slog.Int("holder_pid", lock.PID))
		}
		return false, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		_ = w.coordinator.Release(w.root)
		return false, err
	}
	if err := w.addRecursive(fsw, w.root); err != nil {
		_ = fsw.Close()
		_ = w.coordinator.Release(w.root)
		return false, err
	}

	go w.pump(ctx, fsw)
	go w.loop(ctx, fsw)
	return true, nil
}

// Stop sets the cancel flag and waits up to 5 s for the loop to drain.
func (w *Watcher) Stop() {
	w.cancel.Store(true)
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		w.logger.Warn("watcher stop timed out", slog.String("project", w.projectID))
	}
}

// IndexedFiles reports how many files this watcher has re-indexed.
func (w *Watcher) IndexedFiles() int64 { return w.indexed.Load() }

// pump translates fsnotify events into debouncer entries.
func (w *Watcher) pump(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			kind := KindModified
			switch {
			case event.Has(fsnotify.Create):
				kind = KindCreated
				// New directories need watches of their own.
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = w.addRecursive(fsw, event.Name)
				}
			case event.Has(fsnotify.Remove):
				kind = KindDeleted
			case event.Has(fsnotify.Rename):
				kind = KindRenamed
			}
			w.debouncer.Add(event.Name, kind)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

// loop is the blocking worker: drain ready changes, check gitignore rules,
// re-index, sleep, repeat. Per-file errors are logged and skipped; only
// coordinator failure ends the loop early.
func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)
	defer func() {
		_ = fsw.Close()
		if err := w.coordinator.Release(w.root); err != nil {
			w.logger.Warn("release watcher lock", slog.String("error", err.Error()))
		}
	}()

	rulesHash, _ := gitignore.RulesHash(w.root)

	for {
		if w.cancel.Load() || ctx.Err() != nil {
			return
		}

		if newHash, err := gitignore.RulesHash(w.root); err == nil && newHash != rulesHash {
			rulesHash = newHash
			// Surfaced only; a full re-index on rule change is reserved.
			w.logger.Info("gitignore rules changed", slog.String("project", w.projectID))
		}

		changes := w.debouncer.CollectReady()
		for _, change := range changes {
			if w.cancel.Load() {
				return
			}
			w.apply(ctx, change)
		}
		if len(changes) > 0 {
			if err := w.coordinator.UpdateActivity(w.root, int(w.indexed.Load())); err != nil {
				w.logger.Error("watcher lost its lock, stopping", slog.String("error", err.Error()))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

func (w *Watcher) apply(ctx context.Context, change Change) {
	rel, err := filepath.Rel(w.root, change.Path)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	isDelete := change.Kind == KindDeleted || change.Kind == KindRenamed
	if !isDelete && w.scanner.ShouldIgnore(w.root, rel, false) {
		return
	}

	if isDelete {
		if err := w.indexer.RemoveFile(ctx, rel); err != nil {
			w.logger.Warn("remove file from index failed",
				slog.String("path", rel), slog.String("error", err.Error()))
		}
		return
	}

	indexed, err := w.indexer.IndexFile(ctx, rel)
	if err != nil {
		w.logger.Warn("re-index failed",
			slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if indexed {
		w.indexed.Add(1)
		w.logger.Debug("re-indexed", slog.String("path", rel))
	}
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr == nil && rel != "." && w.scanner.ShouldIgnore(w.root, filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
