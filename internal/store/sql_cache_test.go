package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLDB(t *testing.T) *SQLDB {
	t.Helper()
	db, err := OpenSQLDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLCacheDriverSetGetRemove(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLCacheDriver(map[string]any{"db": db})
	require.NoError(t, err)

	now := time.Now()
	entry := CachedResponse{
		Packet:    []byte{1, 2, 3},
		CachedAt:  now.UnixMilli(),
		TTLSecs:   30,
		ExpiresAt: now.Add(30 * time.Second).UnixMilli(),
	}
	require.NoError(t, d.Set(ctx, "example.com:1:1", entry))

	got, ok, err := d.Get(ctx, "example.com:1:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.TTLSecs, got.TTLSecs)
	assert.Equal(t, entry.Packet, got.Packet)

	require.NoError(t, d.Remove(ctx, "example.com:1:1"))
	_, ok, err = d.Get(ctx, "example.com:1:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLCacheDriverSetOverwritesOnConflict(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLCacheDriver(map[string]any{"db": db})
	require.NoError(t, err)

	require.NoError(t, d.Set(ctx, "k", CachedResponse{TTLSecs: 1}))
	require.NoError(t, d.Set(ctx, "k", CachedResponse{TTLSecs: 2}))

	got, ok, err := d.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.TTLSecs)
}

func TestSQLCacheDriverMissReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLCacheDriver(map[string]any{"db": db})
	require.NoError(t, err)

	_, ok, err := d.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLCacheDriverSharesSQLDBAcrossRoles(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)

	cacheDriver, err := NewSQLCacheDriver(map[string]any{"db": db})
	require.NoError(t, err)
	policyDriver, err := NewSQLPolicyDriver(map[string]any{"db": db, "role": "denylist"})
	require.NoError(t, err)

	require.NoError(t, cacheDriver.Set(ctx, "k", CachedResponse{TTLSecs: 1}))
	require.NoError(t, policyDriver.Add(ctx, PolicyEntry{Domain: "ads.example.com", AddedAt: time.Now()}))

	_, ok, err := cacheDriver.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = policyDriver.Get(ctx, "ads.example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}
