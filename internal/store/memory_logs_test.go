package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogsDriverAppendAndFilter(t *testing.T) {
	ctx := context.Background()
	d, err := NewMemoryLogsDriver(nil)
	require.NoError(t, err)

	require.NoError(t, d.Append(ctx, LogEntry{ID: "1", Kind: LogKindRequest, Question: "a.com"}))
	require.NoError(t, d.Append(ctx, LogEntry{ID: "2", Kind: LogKindResponse, Question: "b.com"}))

	got, err := d.Get(ctx, LogFilter{Kind: LogKindRequest})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.com", got[0].Question)
}

func TestMemoryLogsDriverCapsCapacity(t *testing.T) {
	ctx := context.Background()
	d, err := NewMemoryLogsDriver(map[string]any{"maxEntries": 2})
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, d.Append(ctx, LogEntry{ID: string(rune('a' + i))}))
	}

	all, err := d.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
