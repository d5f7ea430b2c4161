package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuildUnknownName(t *testing.T) {
	r := NewRegistry[CacheDriver]()
	r.Register("memory", NewMemoryCacheDriver)

	_, err := r.Build("sql", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestRegistryBuildKnownName(t *testing.T) {
	r := NewRegistry[CacheDriver]()
	r.Register("memory", NewMemoryCacheDriver)

	d, err := r.Build("memory", nil)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry[CacheDriver]()
	r.Register("sql", NewSQLCacheDriver)
	r.Register("file", NewFileCacheDriver)
	r.Register("memory", NewMemoryCacheDriver)

	assert.Equal(t, []string{"file", "memory", "sql"}, r.Names())
}
