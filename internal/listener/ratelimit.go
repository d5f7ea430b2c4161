package listener

import (
	"fmt"
	"math"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// This file implements pre-parse admission control using token bucket rate
// limiting, applied at three levels before a datagram ever reaches the
// resolver pipeline:
//
//   - Global:  overall listener-wide query rate
//   - Prefix:  per network prefix (/24 for IPv4, /64 for IPv6)
//   - IP:      per source IP
//
// A request must pass all three levels to be admitted.

// RateLimiter combines global, prefix, and per-IP token bucket limiters.
type RateLimiter struct {
	global *TokenBucketRateLimiter
	prefix *TokenBucketRateLimiter
	ip     *TokenBucketRateLimiter
}

// RateLimitSettings configures the three tiers explicitly, for callers
// (the supervisor) that already have these values from a loaded
// config.ServerConfiguration rather than the process environment.
type RateLimitSettings struct {
	CleanupSeconds   float64
	MaxIPEntries     int
	MaxPrefixEntries int
	GlobalQPS        float64
	GlobalBurst      int
	PrefixQPS        float64
	PrefixBurst      int
	IPQPS            float64
	IPBurst          int
}

// NewRateLimiter builds a RateLimiter from explicit settings.
func NewRateLimiter(s RateLimitSettings) *RateLimiter {
	cleanupInterval := time.Duration(math.Max(0.0, s.CleanupSeconds) * float64(time.Second))
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}

	return &RateLimiter{
		global: NewTokenBucketRateLimiter(TokenBucketConfig{Rate: s.GlobalQPS, Burst: s.GlobalBurst, CleanupInterval: cleanupInterval, MaxEntries: 1}),
		prefix: NewTokenBucketRateLimiter(TokenBucketConfig{Rate: s.PrefixQPS, Burst: s.PrefixBurst, CleanupInterval: cleanupInterval, MaxEntries: s.MaxPrefixEntries}),
		ip:     NewTokenBucketRateLimiter(TokenBucketConfig{Rate: s.IPQPS, Burst: s.IPBurst, CleanupInterval: cleanupInterval, MaxEntries: s.MaxIPEntries}),
	}
}

// NewRateLimiterFromEnv builds a RateLimiter configured via environment
// variables:
//
//   - DNSWARD_RL_CLEANUP_SECONDS: stale entry cleanup interval (default 60)
//   - DNSWARD_RL_MAX_IP_ENTRIES: max tracked IPs (default 65536)
//   - DNSWARD_RL_MAX_PREFIX_ENTRIES: max tracked prefixes (default 16384)
//   - DNSWARD_RL_GLOBAL_QPS / DNSWARD_RL_GLOBAL_BURST (default 100000/100000)
//   - DNSWARD_RL_PREFIX_QPS / DNSWARD_RL_PREFIX_BURST (default 10000/20000)
//   - DNSWARD_RL_IP_QPS / DNSWARD_RL_IP_BURST (default 3000/6000)
func NewRateLimiterFromEnv() *RateLimiter {
	return NewRateLimiter(RateLimitSettings{
		CleanupSeconds:   envFloat("DNSWARD_RL_CLEANUP_SECONDS", 60.0),
		MaxIPEntries:     envInt("DNSWARD_RL_MAX_IP_ENTRIES", 65_536),
		MaxPrefixEntries: envInt("DNSWARD_RL_MAX_PREFIX_ENTRIES", 16_384),
		GlobalQPS:        envFloat("DNSWARD_RL_GLOBAL_QPS", 100_000.0),
		GlobalBurst:      envInt("DNSWARD_RL_GLOBAL_BURST", 100_000),
		PrefixQPS:        envFloat("DNSWARD_RL_PREFIX_QPS", 10_000.0),
		PrefixBurst:      envInt("DNSWARD_RL_PREFIX_BURST", 20_000),
		IPQPS:            envFloat("DNSWARD_RL_IP_QPS", 3_000),
		IPBurst:          envInt("DNSWARD_RL_IP_BURST", 6_000),
	})
}

// Allow reports whether a request from srcIP passes all three levels.
func (r *RateLimiter) Allow(srcIP string) bool {
	if r == nil {
		return true
	}
	if !r.global.Allow("*") {
		return false
	}
	if !r.prefix.Allow(prefixKey(srcIP)) {
		return false
	}
	return r.ip.Allow(srcIP)
}

// AllowAddr is the allocation-light path for callers already holding a
// netip.Addr (the UDP receive path).
func (r *RateLimiter) AllowAddr(ip netip.Addr) bool {
	if r == nil {
		return true
	}
	if !r.global.Allow("*") {
		return false
	}
	if !r.prefix.Allow(prefixKeyFromAddr(ip)) {
		return false
	}
	return r.ip.Allow(ip.String())
}

func prefixKeyFromAddr(ip netip.Addr) string {
	if ip.Is4() {
		p, _ := ip.Prefix(24)
		return p.String()
	}
	p, _ := ip.Prefix(64)
	return p.String()
}

// TokenBucketConfig configures a token bucket rate limiter.
type TokenBucketConfig struct {
	Rate            float64
	Burst           int
	CleanupInterval time.Duration
	MaxEntries      int
}

// TokenBucketRateLimiter is a keyed token bucket: each key accrues tokens
// at Rate per second up to Burst, and a request consumes one.
type TokenBucketRateLimiter struct {
	rate            float64
	burst           float64
	cleanupInterval time.Duration
	maxEntries      int

	mu          sync.Mutex
	lastCleanup time.Time
	lastUpdate  map[string]time.Time
	tokens      map[string]float64
}

// NewTokenBucketRateLimiter builds a limiter. Rate or Burst <= 0 disables
// limiting (Allow always returns true).
func NewTokenBucketRateLimiter(cfg TokenBucketConfig) *TokenBucketRateLimiter {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1
	}
	ci := cfg.CleanupInterval
	if ci <= 0 {
		ci = 60 * time.Second
	}
	return &TokenBucketRateLimiter{
		rate:            cfg.Rate,
		burst:           float64(cfg.Burst),
		cleanupInterval: ci,
		maxEntries:      maxEntries,
		lastCleanup:     time.Now(),
		lastUpdate:      map[string]time.Time{},
		tokens:          map[string]float64{},
	}
}

// Allow consumes a token for key if one is available.
func (l *TokenBucketRateLimiter) Allow(key string) bool {
	if l == nil || l.rate <= 0.0 || l.burst <= 0.0 {
		return true
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.cleanupInterval {
		l.cleanupLocked(now)
	}

	last, exists := l.lastUpdate[key]
	if !exists {
		if len(l.lastUpdate) >= l.maxEntries {
			l.cleanupLocked(now)
			if len(l.lastUpdate) >= l.maxEntries {
				return false
			}
		}
		l.lastUpdate[key] = now
		l.tokens[key] = l.burst - 1.0
		return true
	}

	elapsed := now.Sub(last).Seconds()
	l.lastUpdate[key] = now

	tokens := l.tokens[key]
	if elapsed > 0 {
		tokens = math.Min(l.burst, tokens+(elapsed*l.rate))
	}

	if tokens >= 1.0 {
		l.tokens[key] = tokens - 1.0
		return true
	}
	l.tokens[key] = tokens
	return false
}

func (l *TokenBucketRateLimiter) cleanupLocked(now time.Time) {
	staleBefore := now.Add(-l.cleanupInterval)
	for k, last := range l.lastUpdate {
		if !last.After(staleBefore) {
			delete(l.lastUpdate, k)
			delete(l.tokens, k)
		}
	}
	l.lastCleanup = now
}

// prefixKey converts a string IP to its network prefix key: /24 for IPv4,
// /64 for IPv6.
func prefixKey(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "ip:" + ip
	}
	return prefixKeyFromAddr(addr)
}

func envFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func envInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// DescribeLimits returns a human-readable summary, used by the supervisor
// at startup to log effective rate-limit configuration.
func DescribeLimits(s RateLimitSettings) string {
	fmtLimiter := func(name string, rate float64, burst int) string {
		if rate <= 0.0 || burst <= 0 {
			return name + "=disabled"
		}
		return fmt.Sprintf("%s=%gqps/%d", name, rate, burst)
	}

	return fmt.Sprintf(
		"%s %s %s cleanup_s=%g max_ip=%d max_prefix=%d",
		fmtLimiter("global", s.GlobalQPS, s.GlobalBurst),
		fmtLimiter("prefix", s.PrefixQPS, s.PrefixBurst),
		fmtLimiter("ip", s.IPQPS, s.IPBurst),
		s.CleanupSeconds, s.MaxIPEntries, s.MaxPrefixEntries,
	)
}
