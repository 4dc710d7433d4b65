// Package registry holds the process-wide mapping from session id to
// SessionEntry, protected by a single mutex (spec.md §4.7, Design Notes
// §9: "a single mutex around a hash map is sufficient because engine
// operations are already serial per session"). Its shape is grounded on the
// teacher's session.SessionManager, simplified from the teacher's
// RWMutex-protected map to a plain mutex since WithSession always needs
// exclusive access while an engine operation runs against the entry.
package registry

import (
	"sync"

	"browserd/internal/engine"
)

// Entry is one session's mutable state: its policy allowlist and its
// engine. The registry never inspects Engine beyond holding it; all engine
// operations happen inside the op passed to WithSession.
type Entry struct {
	ID        string
	Allowlist []string
	Engine    engine.Engine
}

// Registry is the single process-wide session table.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Insert adds entry, overwriting any existing entry with the same id.
func (r *Registry) Insert(entry *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID] = entry
}

// WithSession holds the registry lock for the duration of op, running it
// against the mutable entry for id. It reports false if no such session
// exists, in which case op is not called.
//
// Dispatching MUST hold this lock only for the duration of a single engine
// operation (spec.md §4.7): long operations (navigate, observe with frame,
// act) block the lock, intentionally serializing a session, but never span
// more than one op call.
func (r *Registry) WithSession(id string, op func(*Entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return false
	}
	op(entry)
	return true
}

// Remove deletes the session with id, reporting whether it existed.
func (r *Registry) Remove(id string) bool {
	_, ok := r.RemoveEntry(id)
	return ok
}

// RemoveEntry deletes and returns the session with id, reporting whether it
// existed. Unlike a WithSession-then-Remove pair, this is one atomic
// operation: nothing can reinsert id between reading the entry and
// deleting it.
func (r *Registry) RemoveEntry(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	return entry, true
}

// Count returns the number of currently registered sessions, mirroring the
// teacher's SessionManager.Count for parity in logging/stats.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// closer is implemented by engines that own a background worker needing an
// explicit shutdown signal (the real engine's mailbox goroutine); the
// reference engine has nothing to release and does not implement it.
type closer interface {
	Close()
}

// CloseAll removes every session, closing any engine that owns a
// background worker (spec.md §5's "Engine instances are ... dropped on
// CloseSession or registry teardown"). Intended for daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	for _, entry := range entries {
		if c, ok := entry.Engine.(closer); ok {
			c.Close()
		}
	}
}
