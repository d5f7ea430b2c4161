// Package cache implements the resolver's answer cache: TTL-aware storage
// of wire-format DNS responses behind a pluggable internal/store.CacheDriver,
// with single-flight deduplication of concurrent misses for the same
// question key.
//
// The TTL and negative-caching rules mirror RFC 2308 guidance as applied by
// this module's forwarding resolver: a positive response is stored for the
// minimum TTL among its answer records (clamped to [MinTTL, MaxTTL]); an
// NXDOMAIN or empty NOERROR response is stored using the authority
// section's SOA MINIMUM field, capped at NegCap, falling back to NegDefault
// when no SOA is present.
package cache

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/elkhorn-labs/dnsward/internal/store"
	"github.com/elkhorn-labs/dnsward/internal/wire"
)

// Config bounds the TTLs the engine will honor.
type Config struct {
	MinTTL     time.Duration
	MaxTTL     time.Duration
	NegDefault time.Duration
	NegCap     time.Duration
}

// DefaultConfig matches the defaults called out as implementation knobs.
func DefaultConfig() Config {
	return Config{
		MinTTL:     1 * time.Second,
		MaxTTL:     24 * time.Hour,
		NegDefault: 60 * time.Second,
		NegCap:     900 * time.Second,
	}
}

// Engine is the cache component wired between the resolver pipeline and a
// store.CacheDriver. The zero value is not usable; construct with
// NewEngine.
type Engine struct {
	mu     sync.RWMutex
	driver store.CacheDriver
	cfg    Config
	group  singleflight.Group
}

// NewEngine wraps driver with TTL bookkeeping and miss deduplication.
func NewEngine(driver store.CacheDriver, cfg Config) *Engine {
	return &Engine{driver: driver, cfg: cfg}
}

// SwapDriver atomically installs a new backend driver. In-flight Lookup
// calls already holding the old driver pointer complete against it; every
// subsequent call observes next.
func (e *Engine) SwapDriver(next store.CacheDriver) {
	e.mu.Lock()
	e.driver = next
	e.mu.Unlock()
}

func (e *Engine) currentDriver() store.CacheDriver {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.driver
}

// MissFunc resolves a question key on a cache miss, returning the raw
// wire-format response to both cache and return to the caller.
type MissFunc func(ctx context.Context) ([]byte, error)

// Lookup returns a cached response adjusted for time-in-cache, or invokes
// miss (at most once per key among concurrent callers) and stores its
// result. The boolean return reports whether the response came from cache.
func (e *Engine) Lookup(ctx context.Context, key string, miss MissFunc) ([]byte, bool, error) {
	if cached, age, ok, err := e.get(ctx, key); err == nil && ok {
		return adjustTTLs(cached, age), true, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		resp, err := miss(ctx)
		if err != nil {
			return nil, err
		}
		e.store(ctx, key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

func (e *Engine) get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	driver := e.currentDriver()
	entry, ok, err := driver.Get(ctx, key)
	if err != nil || !ok {
		return nil, 0, ok, err
	}
	now := time.Now()
	if entry.Expired(now) {
		_ = driver.Remove(ctx, key)
		return nil, 0, false, nil
	}
	age := now.Sub(time.UnixMilli(entry.CachedAt))
	return entry.Packet, age, true, nil
}

func (e *Engine) store(ctx context.Context, key string, respBytes []byte) {
	decision := e.analyzeCacheDecision(respBytes)
	if decision <= 0 {
		return
	}
	now := time.Now()
	_ = e.currentDriver().Set(ctx, key, store.CachedResponse{
		Packet:    respBytes,
		CachedAt:  now.UnixMilli(),
		TTLSecs:   int(decision.Seconds()),
		ExpiresAt: now.Add(decision).UnixMilli(),
	})
}

// Invalidate drops a cached entry, e.g. on an explicit driver clear call or
// upon a denylist/allowlist update that should take effect immediately.
func (e *Engine) Invalidate(ctx context.Context, key string) error {
	return e.currentDriver().Remove(ctx, key)
}

// analyzeCacheDecision determines the TTL to cache respBytes for, returning
// 0 when the response should not be cached at all (e.g. malformed, or an
// rcode other than NOERROR/NXDOMAIN).
func (e *Engine) analyzeCacheDecision(respBytes []byte) time.Duration {
	resp, err := wire.ParsePacket(respBytes)
	if err != nil {
		return 0
	}

	rcode := wire.RCodeFromFlags(resp.Header.Flags)

	switch rcode {
	case wire.RCodeNXDomain:
		return e.negativeTTL(resp)
	case wire.RCodeNoError:
		if len(resp.Answers) == 0 {
			return e.negativeTTL(resp)
		}
		ttl, ok := wire.MinimumTTL(resp.Answers)
		if !ok {
			return 0
		}
		return clamp(time.Duration(ttl)*time.Second, e.cfg.MinTTL, e.cfg.MaxTTL)
	default:
		return 0
	}
}

func (e *Engine) negativeTTL(resp wire.Packet) time.Duration {
	if min, ok := soaMinimum(resp.Authorities); ok {
		ttl := time.Duration(min) * time.Second
		if ttl > e.cfg.NegCap {
			return e.cfg.NegCap
		}
		if ttl <= 0 {
			return e.cfg.NegDefault
		}
		return ttl
	}
	return e.cfg.NegDefault
}

func soaMinimum(authorities []wire.Record) (uint32, bool) {
	for _, r := range authorities {
		if r.Type != uint16(wire.TypeSOA) {
			continue
		}
		soa, ok := r.Data.(wire.SOAData)
		if !ok {
			continue
		}
		return soa.Minimum, true
	}
	return 0, false
}

func clamp(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// adjustTTLs decrements every record TTL in respBytes by age, flooring at 1
// second, without a full packet re-parse. This mirrors the forwarding
// resolver's original wire-walking approach, since a parse-mutate-remarshal
// round trip would needlessly reallocate every section on every cache hit.
func adjustTTLs(respBytes []byte, age time.Duration) []byte {
	if len(respBytes) < wire.HeaderSize || age <= 0 {
		return respBytes
	}
	ageSeconds := uint32(age.Seconds())
	if ageSeconds == 0 {
		return respBytes
	}

	adjusted := make([]byte, len(respBytes))
	copy(adjusted, respBytes)

	qdcount := binary.BigEndian.Uint16(adjusted[4:6])
	ancount := binary.BigEndian.Uint16(adjusted[6:8])
	nscount := binary.BigEndian.Uint16(adjusted[8:10])
	arcount := binary.BigEndian.Uint16(adjusted[10:12])

	off := wire.HeaderSize
	for range qdcount {
		if _, err := wire.DecodeName(adjusted, &off); err != nil || off+4 > len(adjusted) {
			return respBytes
		}
		off += 4
	}

	total := int(ancount) + int(nscount) + int(arcount)
	for range total {
		if _, err := wire.DecodeName(adjusted, &off); err != nil || off+10 > len(adjusted) {
			return respBytes
		}
		off += 4 // TYPE + CLASS

		oldTTL := binary.BigEndian.Uint32(adjusted[off : off+4])
		newTTL := uint32(1)
		if oldTTL > ageSeconds {
			newTTL = max(uint32(1), oldTTL-ageSeconds)
		}
		binary.BigEndian.PutUint32(adjusted[off:off+4], newTTL)
		off += 4

		if off+2 > len(adjusted) {
			return respBytes
		}
		rdlen := int(binary.BigEndian.Uint16(adjusted[off : off+2]))
		off += 2
		if off+rdlen > len(adjusted) {
			return respBytes
		}
		off += rdlen
	}

	return adjusted
}
