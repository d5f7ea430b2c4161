package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogsDriverAppendAndGet(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs.jsonl")

	d, err := NewFileLogsDriver(map[string]any{"path": path})
	require.NoError(t, err)
	require.NoError(t, d.Append(ctx, LogEntry{ID: "1", Kind: LogKindRequest, Question: "a.com"}))
	require.NoError(t, d.Close())

	reopened, err := NewFileLogsDriver(map[string]any{"path": path})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, LogFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.com", got[0].Question)
}

func TestFileLogsDriverGetAppliesLimit(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs.jsonl")
	d, err := NewFileLogsDriver(map[string]any{"path": path})
	require.NoError(t, err)
	defer d.Close()

	for i := range 5 {
		require.NoError(t, d.Append(ctx, LogEntry{ID: string(rune('a' + i))}))
	}

	got, err := d.Get(ctx, LogFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
