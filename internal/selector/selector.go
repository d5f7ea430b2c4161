// Package selector implements the provider selector: ordered fallback
// across upstream.Provider instances with per-provider health tracking,
// generalized from the teacher's raw-upstream-string failover bookkeeping
// in internal/resolvers/forwarding_resolver.go (upstreamFailedAt,
// canTryUpstream, findUpstreamIndex) to the provider abstraction of
// internal/upstream.
package selector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elkhorn-labs/dnsward/internal/upstream"
	"github.com/elkhorn-labs/dnsward/internal/wire"
)

// RecoveryDuration is how long a provider is skipped after a failed
// attempt before it is retried.
const RecoveryDuration = time.Hour

// AttemptTimeout bounds a single provider attempt, independent of any
// per-provider timeout the provider itself applies.
const AttemptTimeout = 5 * time.Second

const hourlyResetInterval = time.Hour

// Stats is a snapshot of one provider's health bookkeeping. TotalQueries
// and Failures accumulate for the provider's lifetime; HourlyQueries
// resets every hourlyResetInterval and exists alongside the cumulative
// counters rather than in place of them.
type Stats struct {
	TotalQueries    uint64
	Failures        uint64
	HourlyQueries   uint64
	LastQueryAt     time.Time
	LastHourResetAt time.Time
}

type providerState struct {
	provider        upstream.Provider
	failedAt        time.Time
	hasFailed       bool
	totalQueries    uint64
	failures        uint64
	hourlyQueries   uint64
	lastQueryAt     time.Time
	lastHourResetAt time.Time
}

// Selector dispatches a query to the first healthy provider in priority
// order, advancing past timeouts, transport errors, and parse failures,
// and synthesizing a SERVFAIL response (preserving the query id) once
// every provider has failed.
type Selector struct {
	mu    sync.Mutex
	order []*providerState
}

// New builds a selector over providers in priority order (primary,
// secondary, ...).
func New(providers ...upstream.Provider) *Selector {
	s := &Selector{}
	now := time.Now()
	for _, p := range providers {
		s.order = append(s.order, &providerState{provider: p, lastHourResetAt: now})
	}
	return s
}

// Resolve tries each healthy provider in order, returning the first
// successful response. If every provider fails, it synthesizes a SERVFAIL
// response preserving the original query id.
func (s *Selector) Resolve(ctx context.Context, queryBytes []byte) ([]byte, error) {
	req, parseErr := wire.ParseRequestBounded(queryBytes)

	s.mu.Lock()
	order := make([]*providerState, len(s.order))
	copy(order, s.order)
	s.mu.Unlock()

	var lastErr error
	for _, st := range order {
		if !s.canTry(st) {
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, AttemptTimeout)
		resp, err := st.provider.Resolve(attemptCtx, queryBytes)
		cancel()

		s.recordAttempt(st, err)
		if err != nil {
			lastErr = err
			s.markFailed(st)
			continue
		}
		s.markHealthy(st)
		return resp, nil
	}

	if parseErr != nil {
		return nil, fmt.Errorf("selector: all providers failed and query is unparseable: %w", lastErr)
	}
	return wire.BuildErrorResponse(req, wire.RCodeServFail).Marshal()
}

func (s *Selector) canTry(st *providerState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !st.hasFailed {
		return true
	}
	if time.Since(st.failedAt) >= RecoveryDuration {
		st.hasFailed = false
		return true
	}
	return false
}

func (s *Selector) markFailed(st *providerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !st.hasFailed {
		st.hasFailed = true
		st.failedAt = time.Now()
	}
}

func (s *Selector) markHealthy(st *providerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.hasFailed = false
}

func (s *Selector) recordAttempt(st *providerState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.Sub(st.lastHourResetAt) > hourlyResetInterval {
		st.hourlyQueries = 0
		st.lastHourResetAt = now
	}
	st.totalQueries++
	st.hourlyQueries++
	st.lastQueryAt = now
	if err != nil {
		st.failures++
	}
}

// StatsFor returns the current health snapshot for the named provider.
func (s *Selector) StatsFor(name string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.order {
		if st.provider.Name() == name {
			return Stats{
				TotalQueries:    st.totalQueries,
				Failures:        st.failures,
				HourlyQueries:   st.hourlyQueries,
				LastQueryAt:     st.lastQueryAt,
				LastHourResetAt: st.lastHourResetAt,
			}, true
		}
	}
	return Stats{}, false
}
