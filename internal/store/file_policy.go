package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FilePolicyDriver persists denylist/allowlist entries as one JSON object
// per line, keyed by domain, rewritten in full on every mutation.
type FilePolicyDriver struct {
	mu   sync.Mutex
	path string
	data map[string]PolicyEntry
}

// NewFilePolicyDriver opens (or creates) a JSON-lines policy file under
// cfg["path"].
func NewFilePolicyDriver(cfg map[string]any) (PolicyDriver, error) {
	path := stringOr(cfg, "path", filepath.Join("data", "policy", "entries.jsonl"))
	d := &FilePolicyDriver{path: path, data: make(map[string]PolicyEntry)}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *FilePolicyDriver) load() error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("store: create policy dir: %w", err)
	}
	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: open policy file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e PolicyEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("store: decode policy entry: %w", err)
		}
		d.data[e.Domain] = e
	}
	return scanner.Err()
}

func (d *FilePolicyDriver) persistLocked() error {
	tmp := d.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("store: create policy tmp file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range d.data {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return fmt.Errorf("store: encode policy entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

func (d *FilePolicyDriver) Get(_ context.Context, domain string) (PolicyEntry, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.data[domain]
	return e, ok, nil
}

func (d *FilePolicyDriver) All(context.Context) ([]PolicyEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PolicyEntry, 0, len(d.data))
	for _, e := range d.data {
		out = append(out, e)
	}
	return out, nil
}

func (d *FilePolicyDriver) Add(_ context.Context, entry PolicyEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.data[entry.Domain]; exists {
		return ErrAlreadyExists
	}
	d.data[entry.Domain] = entry
	return d.persistLocked()
}

func (d *FilePolicyDriver) Remove(_ context.Context, domain string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.data[domain]; !exists {
		return ErrNotFound
	}
	delete(d.data, domain)
	return d.persistLocked()
}

func (d *FilePolicyDriver) Clear(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = make(map[string]PolicyEntry)
	return d.persistLocked()
}

func (d *FilePolicyDriver) Export(ctx context.Context) ([]PolicyEntry, error) {
	return d.All(ctx)
}

func (d *FilePolicyDriver) Import(_ context.Context, entries []PolicyEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range entries {
		d.data[e.Domain] = e
	}
	return d.persistLocked()
}

func (d *FilePolicyDriver) Close() error { return nil }
