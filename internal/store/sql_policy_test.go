package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLPolicyDriverAddGetRemove(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLPolicyDriver(map[string]any{"db": db, "role": "denylist"})
	require.NoError(t, err)

	entry := PolicyEntry{Domain: "ads.example.com", AddedAt: time.Now(), Source: "manual", Category: "ads"}
	require.NoError(t, d.Add(ctx, entry))

	got, ok, err := d.Get(ctx, "ads.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "manual", got.Source)
	assert.Equal(t, "ads", got.Category)

	require.NoError(t, d.Remove(ctx, "ads.example.com"))
	_, ok, err = d.Get(ctx, "ads.example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLPolicyDriverAddDuplicateReturnsAlreadyExists(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLPolicyDriver(map[string]any{"db": db, "role": "denylist"})
	require.NoError(t, err)

	entry := PolicyEntry{Domain: "ads.example.com", AddedAt: time.Now()}
	require.NoError(t, d.Add(ctx, entry))
	err = d.Add(ctx, entry)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestSQLPolicyDriverRemoveMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLPolicyDriver(map[string]any{"db": db, "role": "denylist"})
	require.NoError(t, err)

	err = d.Remove(ctx, "absent.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLPolicyDriverRoleIsolation(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	deny, err := NewSQLPolicyDriver(map[string]any{"db": db, "role": "denylist"})
	require.NoError(t, err)
	allow, err := NewSQLPolicyDriver(map[string]any{"db": db, "role": "allowlist"})
	require.NoError(t, err)

	require.NoError(t, deny.Add(ctx, PolicyEntry{Domain: "shared.example.com", AddedAt: time.Now()}))

	_, ok, err := allow.Get(ctx, "shared.example.com")
	require.NoError(t, err)
	assert.False(t, ok, "allowlist must not see a denylist-only entry")

	require.NoError(t, allow.Add(ctx, PolicyEntry{Domain: "shared.example.com", AddedAt: time.Now()}))
	_, ok, err = allow.Get(ctx, "shared.example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLPolicyDriverClearAndExportImport(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLDB(t)
	d, err := NewSQLPolicyDriver(map[string]any{"db": db, "role": "allowlist"})
	require.NoError(t, err)

	require.NoError(t, d.Add(ctx, PolicyEntry{Domain: "a.example.com", AddedAt: time.Now()}))
	require.NoError(t, d.Add(ctx, PolicyEntry{Domain: "b.example.com", AddedAt: time.Now()}))

	exported, err := d.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, exported, 2)

	require.NoError(t, d.Clear(ctx))
	all, err := d.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, d.Import(ctx, exported))
	all, err = d.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
