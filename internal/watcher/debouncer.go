// Package watcher keeps a project's code index fresh: raw fsnotify events
// are debounced per path, a cross-process lock guarantees a single watcher
// per project, and the watch loop drives re-indexing through the file
// update protocol.
package watcher

import (
	"sync"
	"time"
)

// EventKind is the filesystem operation a change entry retains.
type EventKind int

const (
	KindCreated EventKind = iota
	KindModified
	KindRenamed
	KindDeleted
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindRenamed:
		return "renamed"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one debounced file change.
type Change struct {
	Path string
	Kind EventKind
}

type pendingChange struct {
	kind     EventKind
	deadline time.Time
}

// Debouncer coalesces raw events into a per-path map. Each entry keeps the
// latest kind and a deadline; CollectReady drains entries whose deadline
// has passed. Memory is bounded at one entry per path.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*pendingChange

	// now is swappable for tests.
	now func() time.Time
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingChange),
		now:     time.Now,
	}
}

// Add records a raw event, replacing any pending kind for the path and
// pushing the deadline out by one window. A delete after a create still
// records a delete: the watch loop treats deletes of unindexed paths as
// no-ops.
func (d *Debouncer) Add(path string, kind EventKind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline := d.now().Add(d.window)
	if entry, ok := d.pending[path]; ok {
		entry.kind = kind
		entry.deadline = deadline
		return
	}
	d.pending[path] = &pendingChange{kind: kind, deadline: deadline}
}

// CollectReady returns and removes entries whose deadline has passed.
func (d *Debouncer) CollectReady() []Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var ready []Change
	for path, entry := range d.pending {
		if !entry.deadline.After(now) {
			ready = append(ready, Change{Path: path, Kind: entry.kind})
			delete(d.pending, path)
		}
	}
	return ready
}

// PendingCount reports how many paths await their deadline.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
