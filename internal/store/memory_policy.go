package store

import (
	"context"
	"sync"
)

// MemoryPolicyDriver is a process-local, map-backed PolicyDriver usable for
// either the denylist or allowlist role.
type MemoryPolicyDriver struct {
	mu      sync.RWMutex
	entries map[string]PolicyEntry
}

// NewMemoryPolicyDriver constructs an empty in-process policy store.
func NewMemoryPolicyDriver(map[string]any) (PolicyDriver, error) {
	return &MemoryPolicyDriver{entries: make(map[string]PolicyEntry)}, nil
}

func (d *MemoryPolicyDriver) Get(_ context.Context, domain string) (PolicyEntry, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[domain]
	return e, ok, nil
}

func (d *MemoryPolicyDriver) All(_ context.Context) ([]PolicyEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PolicyEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	return out, nil
}

func (d *MemoryPolicyDriver) Add(_ context.Context, entry PolicyEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[entry.Domain]; exists {
		return ErrAlreadyExists
	}
	d.entries[entry.Domain] = entry
	return nil
}

func (d *MemoryPolicyDriver) Remove(_ context.Context, domain string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[domain]; !exists {
		return ErrNotFound
	}
	delete(d.entries, domain)
	return nil
}

func (d *MemoryPolicyDriver) Clear(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]PolicyEntry)
	return nil
}

func (d *MemoryPolicyDriver) Export(ctx context.Context) ([]PolicyEntry, error) {
	return d.All(ctx)
}

func (d *MemoryPolicyDriver) Import(_ context.Context, entries []PolicyEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range entries {
		d.entries[e.Domain] = e
	}
	return nil
}

func (d *MemoryPolicyDriver) Close() error { return nil }
