package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePolicyDriverAddAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.jsonl")

	d, err := NewFilePolicyDriver(map[string]any{"path": path})
	require.NoError(t, err)
	require.NoError(t, d.Add(ctx, PolicyEntry{Domain: "ads.example.com", Source: "list"}))

	reopened, err := NewFilePolicyDriver(map[string]any{"path": path})
	require.NoError(t, err)
	entry, ok, err := reopened.Get(ctx, "ads.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "list", entry.Source)
}

func TestFilePolicyDriverAddDuplicateFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.jsonl")
	d, err := NewFilePolicyDriver(map[string]any{"path": path})
	require.NoError(t, err)

	require.NoError(t, d.Add(ctx, PolicyEntry{Domain: "a.com"}))
	err = d.Add(ctx, PolicyEntry{Domain: "a.com"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}
