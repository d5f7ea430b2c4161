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

// FileLogsDriver appends log entries to a JSON-lines file, one entry per
// line, without ever rewriting prior lines -- the append-only log is
// expected to grow large, unlike the cache and policy roles.
type FileLogsDriver struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// NewFileLogsDriver opens (creating if absent) a JSON-lines log file under
// cfg["path"].
func NewFileLogsDriver(cfg map[string]any) (LogsDriver, error) {
	path := stringOr(cfg, "path", filepath.Join("data", "logs", "events.jsonl"))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create logs dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open logs file: %w", err)
	}
	return &FileLogsDriver{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (d *FileLogsDriver) Append(_ context.Context, entry LogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: encode log entry: %w", err)
	}
	b = append(b, '\n')
	if _, err := d.w.Write(b); err != nil {
		return err
	}
	return d.w.Flush()
}

func (d *FileLogsDriver) readAll() ([]LogEntry, error) {
	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []LogEntry
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("store: decode log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

func (d *FileLogsDriver) Get(_ context.Context, filter LogFilter) ([]LogEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	all, err := d.readAll()
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for i := len(all) - 1; i >= 0; i-- {
		if !matchesFilter(all[i], filter) {
			continue
		}
		out = append(out, all[i])
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (d *FileLogsDriver) Clear(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(d.path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	d.f = f
	d.w = bufio.NewWriter(f)
	return nil
}

func (d *FileLogsDriver) Export(_ context.Context) ([]LogEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readAll()
}

func (d *FileLogsDriver) Import(_ context.Context, entries []LogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		b = append(b, '\n')
		if _, err := d.w.Write(b); err != nil {
			return err
		}
	}
	return d.w.Flush()
}

func (d *FileLogsDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.w.Flush(); err != nil {
		return err
	}
	return d.f.Close()
}
