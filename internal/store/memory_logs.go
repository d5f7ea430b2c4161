package store

import (
	"context"
	"sync"
)

// MemoryLogsDriver is a process-local, ring-bounded LogsDriver. It keeps at
// most maxEntries, dropping the oldest on overflow, so a long-running
// process without a durable logs driver configured cannot grow unbounded.
type MemoryLogsDriver struct {
	mu         sync.RWMutex
	entries    []LogEntry
	maxEntries int
}

const defaultMemoryLogsCapacity = 10000

// NewMemoryLogsDriver constructs an in-process, capacity-bounded log store.
func NewMemoryLogsDriver(cfg map[string]any) (LogsDriver, error) {
	max := defaultMemoryLogsCapacity
	if v, ok := cfg["maxEntries"].(int); ok && v > 0 {
		max = v
	}
	return &MemoryLogsDriver{maxEntries: max}, nil
}

func (d *MemoryLogsDriver) Append(_ context.Context, entry LogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	if over := len(d.entries) - d.maxEntries; over > 0 {
		d.entries = d.entries[over:]
	}
	return nil
}

func (d *MemoryLogsDriver) Get(_ context.Context, filter LogFilter) ([]LogEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []LogEntry
	for i := len(d.entries) - 1; i >= 0; i-- {
		e := d.entries[i]
		if !matchesFilter(e, filter) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(e LogEntry, f LogFilter) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Domain != "" && e.Question != f.Domain {
		return false
	}
	if f.Provider != "" && (e.Processing == nil || e.Processing.Provider != f.Provider) {
		return false
	}
	if f.Success != nil && (e.Processing == nil || e.Processing.Success != *f.Success) {
		return false
	}
	return true
}

func (d *MemoryLogsDriver) Clear(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
	return nil
}

func (d *MemoryLogsDriver) Export(_ context.Context) ([]LogEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]LogEntry, len(d.entries))
	copy(out, d.entries)
	return out, nil
}

func (d *MemoryLogsDriver) Import(_ context.Context, entries []LogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entries...)
	if over := len(d.entries) - d.maxEntries; over > 0 {
		d.entries = d.entries[over:]
	}
	return nil
}

func (d *MemoryLogsDriver) Close() error { return nil }
