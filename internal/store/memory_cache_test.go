package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheDriverSetGet(t *testing.T) {
	ctx := context.Background()
	d, err := NewMemoryCacheDriver(nil)
	require.NoError(t, err)

	_, ok, err := d.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := CachedResponse{Packet: []byte("packet"), CachedAt: time.Now().UnixMilli(), TTLSecs: 30}
	require.NoError(t, d.Set(ctx, "example.com:1:1", entry))

	got, ok, err := d.Get(ctx, "example.com:1:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Packet, got.Packet)
}

func TestMemoryCacheDriverRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	d, _ := NewMemoryCacheDriver(nil)
	require.NoError(t, d.Set(ctx, "k1", CachedResponse{}))
	require.NoError(t, d.Set(ctx, "k2", CachedResponse{}))

	require.NoError(t, d.Remove(ctx, "k1"))
	_, ok, _ := d.Get(ctx, "k1")
	assert.False(t, ok)

	require.NoError(t, d.Clear(ctx))
	exported, err := d.Export(ctx)
	require.NoError(t, err)
	assert.Empty(t, exported)
}

func TestMemoryCacheDriverImportExport(t *testing.T) {
	ctx := context.Background()
	d, _ := NewMemoryCacheDriver(nil)
	entries := map[string]CachedResponse{
		"a": {TTLSecs: 1},
		"b": {TTLSecs: 2},
	}
	require.NoError(t, d.Import(ctx, entries))

	exported, err := d.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, exported, 2)
	assert.Equal(t, 1, exported["a"].TTLSecs)
}
