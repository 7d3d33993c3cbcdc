// Package registry maps canonical project paths to project ids, owns the
// per-project store handles, and manages watcher lifecycles. Everything
// else in the daemon borrows handles from here and never outlives it.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccengram/ccengram/internal/chunk"
	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/embed"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/indexer"
	"github.com/ccengram/ccengram/internal/scanner"
	"github.com/ccengram/ccengram/internal/store"
	"github.com/ccengram/ccengram/internal/watcher"
)

// ProjectInfo is the persisted metadata for a registered project.
type ProjectInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// WatcherStatus reports a project's watcher state.
type WatcherStatus struct {
	Running      bool  `json:"running"`
	IndexedFiles int64 `json:"indexed_files"`
	HolderPID    int   `json:"holder_pid,omitempty"`
}

type project struct {
	info    ProjectInfo
	store   *store.Store
	watcher *watcher.Watcher
	cancel  context.CancelFunc
}

// Registry is the project table. All maps are guarded by one RW lock;
// holders must not call back into the registry.
type Registry struct {
	dataRoot string
	cfg      *config.Config
	embedder embed.Provider
	scanner  *scanner.Scanner
	logger   *slog.Logger

	mu       sync.RWMutex
	projects map[string]*project // by project id
	byPath   map[string]string   // canonical path -> id
}

// New creates a registry.
func New(dataRoot string, cfg *config.Config, embedder embed.Provider, logger *slog.Logger) (*Registry, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dataRoot: dataRoot,
		cfg:      cfg,
		embedder: embedder,
		scanner:  sc,
		logger:   logger,
		projects: make(map[string]*project),
		byPath:   make(map[string]string),
	}, nil
}

// GetOrCreate canonicalizes path, opens (or returns the cached) store, and
// persists project.json on first open.
func (r *Registry) GetOrCreate(path string) (ProjectInfo, *store.Store, error) {
	canonical, err := canonicalize(path)
	if err != nil {
		return ProjectInfo{}, nil, ccerr.Validation("cwd", "cannot resolve project path: "+err.Error())
	}

	r.mu.RLock()
	if id, ok := r.byPath[canonical]; ok {
		p := r.projects[id]
		r.mu.RUnlock()
		return p.info, p.store, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPath[canonical]; ok {
		p := r.projects[id]
		return p.info, p.store, nil
	}

	id := core.ProjectIDFor(canonical)
	dir := config.ProjectDataDir(r.dataRoot, id)
	st, err := store.Open(dir, id, r.cfg.Embedding.Dimensions)
	if err != nil {
		return ProjectInfo{}, nil, err
	}

	info := ProjectInfo{
		ID:        id,
		Path:      canonical,
		Name:      filepath.Base(canonical),
		CreatedAt: time.Now().UTC(),
	}
	if loaded, err := readProjectInfo(dir); err == nil {
		info = *loaded
	} else if err := writeProjectInfo(dir, &info); err != nil {
		r.logger.Warn("persist project metadata", slog.String("error", err.Error()))
	}

	r.projects[id] = &project{info: info, store: st}
	r.byPath[canonical] = id
	return info, st, nil
}

// Get returns a registered project by id.
func (r *Registry) Get(id string) (ProjectInfo, *store.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return ProjectInfo{}, nil, ccerr.NotFound("project", id)
	}
	return p.info, p.store, nil
}

// List returns every registered project.
func (r *Registry) List() []ProjectInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProjectInfo, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p.info)
	}
	return out
}

// Close stops the project's watcher, flushes, and closes the store.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	p, ok := r.projects[id]
	if ok {
		delete(r.projects, id)
		delete(r.byPath, p.info.Path)
	}
	r.mu.Unlock()

	if !ok {
		return ccerr.NotFound("project", id)
	}
	r.stopProjectWatcher(p)
	return p.store.Close()
}

// CloseAll closes every project.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	projects := make([]*project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, p)
	}
	r.projects = make(map[string]*project)
	r.byPath = make(map[string]string)
	r.mu.Unlock()

	for _, p := range projects {
		r.stopProjectWatcher(p)
		if err := p.store.Close(); err != nil {
			r.logger.Warn("close store", slog.String("project", p.info.ID), slog.String("error", err.Error()))
		}
	}
}

// StartWatcher spins up the project's watcher. A watcher already running
// in this process is left alone; a lock held by another live process makes
// this a no-op that reports the holder.
func (r *Registry) StartWatcher(ctx context.Context, id string) (WatcherStatus, error) {
	r.mu.Lock()
	p, ok := r.projects[id]
	if !ok {
		r.mu.Unlock()
		return WatcherStatus{}, ccerr.NotFound("project", id)
	}
	if p.watcher != nil {
		status := WatcherStatus{Running: true, IndexedFiles: p.watcher.IndexedFiles()}
		r.mu.Unlock()
		return status, nil
	}

	coord := watcher.NewCoordinator(config.WatcherLocksDir(r.dataRoot))
	ix := indexer.New(p.store, r.scanner, chunk.New(chunk.Config{
		TargetLines: r.cfg.Chunker.TargetLines,
		MinLines:    r.cfg.Chunker.MinLines,
		MaxLines:    r.cfg.Chunker.MaxLines,
	}), r.embedder, p.info.Path, r.logger)

	w := watcher.New(id, p.info.Path, ix, r.scanner, coord, watcher.Options{
		FileDebounce: r.cfg.Watcher.FileDebounce,
		PollInterval: r.cfg.Watcher.PollInterval,
	}, r.logger)

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	started, err := w.Start(watchCtx)
	if err != nil {
		cancel()
		r.mu.Unlock()
		return WatcherStatus{}, err
	}
	if !started {
		cancel()
		status := WatcherStatus{Running: true}
		if lock, err := coord.ReadLock(p.info.Path); err == nil {
			status.HolderPID = lock.PID
			status.IndexedFiles = int64(lock.IndexedFiles)
		}
		r.mu.Unlock()
		return status, nil
	}

	p.watcher = w
	p.cancel = cancel
	r.mu.Unlock()
	return WatcherStatus{Running: true}, nil
}

// StopWatcher stops the in-process watcher for a project.
func (r *Registry) StopWatcher(id string) error {
	r.mu.Lock()
	p, ok := r.projects[id]
	r.mu.Unlock()
	if !ok {
		return ccerr.NotFound("project", id)
	}
	r.stopProjectWatcher(p)
	return nil
}

// Status reports the watcher state for a project, including locks held by
// other processes.
func (r *Registry) Status(id string) (WatcherStatus, error) {
	r.mu.RLock()
	p, ok := r.projects[id]
	r.mu.RUnlock()
	if !ok {
		return WatcherStatus{}, ccerr.NotFound("project", id)
	}
	if p.watcher != nil {
		return WatcherStatus{Running: true, IndexedFiles: p.watcher.IndexedFiles()}, nil
	}

	coord := watcher.NewCoordinator(config.WatcherLocksDir(r.dataRoot))
	if coord.HolderAlive(p.info.Path) {
		status := WatcherStatus{Running: true}
		if lock, err := coord.ReadLock(p.info.Path); err == nil {
			status.HolderPID = lock.PID
			status.IndexedFiles = int64(lock.IndexedFiles)
		}
		return status, nil
	}
	return WatcherStatus{}, nil
}

// StopAllWatchers stops every in-process watcher.
func (r *Registry) StopAllWatchers() {
	r.mu.RLock()
	projects := make([]*project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, p)
	}
	r.mu.RUnlock()
	for _, p := range projects {
		r.stopProjectWatcher(p)
	}
}

// NewIndexer builds an indexer for a registered project, for one-shot
// indexing runs outside the watcher.
func (r *Registry) NewIndexer(id string) (*indexer.Indexer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, ccerr.NotFound("project", id)
	}
	return indexer.New(p.store, r.scanner, chunk.New(chunk.Config{
		TargetLines: r.cfg.Chunker.TargetLines,
		MinLines:    r.cfg.Chunker.MinLines,
		MaxLines:    r.cfg.Chunker.MaxLines,
	}), r.embedder, p.info.Path, r.logger), nil
}

// Embedder exposes the shared embedding provider.
func (r *Registry) Embedder() embed.Provider { return r.embedder }

// DataRoot exposes the resolved data directory.
func (r *Registry) DataRoot() string { return r.dataRoot }

func (r *Registry) stopProjectWatcher(p *project) {
	r.mu.Lock()
	w, cancel := p.watcher, p.cancel
	p.watcher, p.cancel = nil, nil
	r.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

func readProjectInfo(dir string) (*ProjectInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, "project.json"))
	if err != nil {
		return nil, err
	}
	var info ProjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func writeProjectInfo(dir string, info *ProjectInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "project.json"), data, 0o644)
}
