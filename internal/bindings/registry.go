package bindings

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Registry holds the active binding snapshot behind an atomically swapped
// pointer. Readers never block reloads and never observe a half-updated
// registry; in-flight requests keep the snapshot they resolved against.
type Registry struct {
	path     string
	active   atomic.Pointer[Snapshot]
	loadedAt atomic.Pointer[time.Time]
}

// NewRegistry wraps an initial snapshot. The path is retained for reloads and
// may be empty when the snapshot was built in memory.
func NewRegistry(path string, initial *Snapshot) *Registry {
	r := &Registry{path: path}
	r.swap(initial)
	return r
}

// OpenRegistry loads the registry file and wraps it.
func OpenRegistry(path string) (*Registry, error) {
	snapshot, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(path, snapshot), nil
}

// Active returns the current snapshot.
func (r *Registry) Active() *Snapshot {
	return r.active.Load()
}

// LoadedAt reports when the active snapshot was installed.
func (r *Registry) LoadedAt() time.Time {
	at := r.loadedAt.Load()
	if at == nil {
		return time.Time{}
	}
	return *at
}

// Reload loads a fresh snapshot from disk and atomically replaces the active
// one. On failure the previous snapshot stays active.
func (r *Registry) Reload() (*Snapshot, error) {
	if r.path == "" {
		return nil, fmt.Errorf("registry has no backing file to reload")
	}
	snapshot, err := Load(r.path)
	if err != nil {
		return nil, err
	}
	r.swap(snapshot)
	return snapshot, nil
}

func (r *Registry) swap(snapshot *Snapshot) {
	now := time.Now().UTC()
	r.active.Store(snapshot)
	r.loadedAt.Store(&now)
}
