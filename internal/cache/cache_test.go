package cache

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elkhorn-labs/dnsward/internal/store"
	"github.com/elkhorn-labs/dnsward/internal/wire"
)

func buildResponse(t *testing.T, rcode wire.RCode, ttl uint32, withAnswer bool) []byte {
	t.Helper()
	h := wire.Header{ID: 1, Flags: wire.QRFlag | uint16(rcode), QDCount: 1}
	p := wire.Packet{
		Header:    h,
		Questions: []wire.Question{{Name: "example.com", Type: uint16(wire.TypeA), Class: uint16(wire.ClassIN)}},
	}
	if withAnswer {
		p.Answers = []wire.Record{{Name: "example.com", Type: uint16(wire.TypeA), Class: uint16(wire.ClassIN), TTL: ttl, Data: net.IPv4(1, 2, 3, 4)}}
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func TestEngineCachesPositiveResponseWithMinTTL(t *testing.T) {
	ctx := context.Background()
	driver, _ := store.NewMemoryCacheDriver(nil)
	e := NewEngine(driver, DefaultConfig())

	resp := buildResponse(t, wire.RCodeNoError, 120, true)

	var calls int32
	miss := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return resp, nil
	}

	out, fromCache, err := e.Lookup(ctx, "example.com:1:1", miss)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, resp, out)

	out2, fromCache2, err := e.Lookup(ctx, "example.com:1:1", miss)
	require.NoError(t, err)
	assert.True(t, fromCache2)
	assert.NotNil(t, out2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEngineDoesNotCacheServfail(t *testing.T) {
	ctx := context.Background()
	driver, _ := store.NewMemoryCacheDriver(nil)
	e := NewEngine(driver, DefaultConfig())

	resp := buildResponse(t, wire.RCodeServFail, 0, false)
	miss := func(context.Context) ([]byte, error) { return resp, nil }

	_, fromCache, err := e.Lookup(ctx, "k", miss)
	require.NoError(t, err)
	assert.False(t, fromCache)

	_, ok, err := driver.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineCachesNXDomainWithNegativeDefault(t *testing.T) {
	ctx := context.Background()
	driver, _ := store.NewMemoryCacheDriver(nil)
	cfg := DefaultConfig()
	e := NewEngine(driver, cfg)

	resp := buildResponse(t, wire.RCodeNXDomain, 0, false)
	miss := func(context.Context) ([]byte, error) { return resp, nil }

	_, _, err := e.Lookup(ctx, "missing.example.com:1:1", miss)
	require.NoError(t, err)

	entry, ok, err := driver.Get(ctx, "missing.example.com:1:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int(cfg.NegDefault.Seconds()), entry.TTLSecs)
}

func TestEngineSingleFlightDeduplicatesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	driver, _ := store.NewMemoryCacheDriver(nil)
	e := NewEngine(driver, DefaultConfig())

	resp := buildResponse(t, wire.RCodeNoError, 60, true)
	var calls int32
	miss := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return resp, nil
	}

	results := make(chan error, 5)
	for range 5 {
		go func() {
			_, _, err := e.Lookup(ctx, "shared-key", miss)
			results <- err
		}()
	}
	for range 5 {
		require.NoError(t, <-results)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestEngineInvalidateRemovesEntry(t *testing.T) {
	ctx := context.Background()
	driver, _ := store.NewMemoryCacheDriver(nil)
	e := NewEngine(driver, DefaultConfig())
	require.NoError(t, driver.Set(ctx, "k", store.CachedResponse{ExpiresAt: time.Now().Add(time.Minute).UnixMilli()}))

	require.NoError(t, e.Invalidate(ctx, "k"))
	_, ok, err := driver.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
