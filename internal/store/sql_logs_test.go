package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLLogsDriverAppendAndGet(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLLogsDriver(map[string]any{"db": db})
	require.NoError(t, err)

	entry := LogEntry{
		Timestamp:  time.Now(),
		Kind:       LogKindResponse,
		Level:      LevelInfo,
		Question:   "example.com",
		Client:     &ClientInfo{Addr: "203.0.113.1", Port: 5353, Transport: "udp"},
		Processing: &Processing{Provider: "cloudflare", Success: true, Cached: false},
	}
	require.NoError(t, d.Append(ctx, entry))

	got, err := d.Get(ctx, LogFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "example.com", got[0].Question)
	require.NotNil(t, got[0].Client)
	assert.Equal(t, "203.0.113.1", got[0].Client.Addr)
	require.NotNil(t, got[0].Processing)
	assert.Equal(t, "cloudflare", got[0].Processing.Provider)
}

func TestSQLLogsDriverFilterByKindLevelDomain(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLLogsDriver(map[string]any{"db": db})
	require.NoError(t, err)

	require.NoError(t, d.Append(ctx, LogEntry{Timestamp: time.Now(), Kind: LogKindRequest, Level: LevelInfo, Question: "a.com"}))
	require.NoError(t, d.Append(ctx, LogEntry{Timestamp: time.Now(), Kind: LogKindError, Level: LevelError, Question: "b.com"}))

	got, err := d.Get(ctx, LogFilter{Kind: LogKindError})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b.com", got[0].Question)

	got, err = d.Get(ctx, LogFilter{Domain: "a.com"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, LogKindRequest, got[0].Kind)
}

func TestSQLLogsDriverFilterBySuccessAndProvider(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLLogsDriver(map[string]any{"db": db})
	require.NoError(t, err)

	ok := true
	require.NoError(t, d.Append(ctx, LogEntry{
		Timestamp: time.Now(), Kind: LogKindResponse, Level: LevelInfo,
		Processing: &Processing{Provider: "google", Success: true},
	}))
	require.NoError(t, d.Append(ctx, LogEntry{
		Timestamp: time.Now(), Kind: LogKindResponse, Level: LevelInfo,
		Processing: &Processing{Provider: "cloudflare", Success: false},
	}))

	got, err := d.Get(ctx, LogFilter{Success: &ok})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "google", got[0].Processing.Provider)

	got, err = d.Get(ctx, LogFilter{Provider: "cloudflare"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Processing.Success)
}

func TestSQLLogsDriverLimit(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLLogsDriver(map[string]any{"db": db})
	require.NoError(t, err)

	for range 5 {
		require.NoError(t, d.Append(ctx, LogEntry{Timestamp: time.Now(), Kind: LogKindRequest, Level: LevelInfo}))
	}

	got, err := d.Get(ctx, LogFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLLogsDriverClearAndExportImport(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLLogsDriver(map[string]any{"db": db})
	require.NoError(t, err)

	require.NoError(t, d.Append(ctx, LogEntry{Timestamp: time.Now(), Kind: LogKindRequest, Level: LevelInfo, Question: "a.com"}))
	require.NoError(t, d.Append(ctx, LogEntry{Timestamp: time.Now(), Kind: LogKindRequest, Level: LevelInfo, Question: "b.com"}))

	exported, err := d.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, exported, 2)

	require.NoError(t, d.Clear(ctx))
	remaining, err := d.Get(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, remaining)

	require.NoError(t, d.Import(ctx, exported))
	remaining, err = d.Get(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
