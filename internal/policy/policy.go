// Package policy implements the deny/allow matcher: given a normalized
// question name, it decides whether resolution should proceed, be
// short-circuited to a synthesized block response, or pass through with a
// log-only marker.
//
// The matcher's contract is intentionally pure: it performs at most one
// driver Get per candidate name (the exact name, then optionally its
// ancestors up to a capped depth), never a full list scan. This mirrors the
// teacher's trie-backed whitelist-before-blacklist evaluation in
// internal/filtering/policy.go, generalized to run against a
// store.PolicyDriver instead of an in-process DomainTrie so any registered
// backend (memory, file, sql) can serve it unchanged.
package policy

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/elkhorn-labs/dnsward/internal/store"
)

// Action is the matcher's verdict for a question name.
type Action int

const (
	// ActionAllow means resolution should proceed normally.
	ActionAllow Action = iota
	// ActionBlock means resolution must be short-circuited to a
	// synthesized block response.
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionBlock:
		return "block"
	default:
		return "allow"
	}
}

// Result carries the matcher's verdict plus which list and name matched,
// for logging.
type Result struct {
	Action      Action
	MatchedName string
	List        string // "allowlist" | "denylist" | ""
}

// Config controls matcher behavior.
type Config struct {
	// AllowlistEnabled, when true, makes an allowlist hit short-circuit a
	// denylist hit for the same name.
	AllowlistEnabled bool
	// AncestorDepth bounds how many parent labels are checked beyond the
	// exact name (0 disables ancestor walking).
	AncestorDepth int
}

// DefaultConfig matches the spec's "ancestor walk ... capped to the label
// depth" guidance with a conservative default.
func DefaultConfig() Config {
	return Config{AllowlistEnabled: false, AncestorDepth: 4}
}

// Matcher evaluates names against a denylist and allowlist driver pair. The
// zero value is not usable; construct with NewMatcher.
type Matcher struct {
	mu        sync.RWMutex
	denylist  store.PolicyDriver
	allowlist store.PolicyDriver
	cfg       Config
	logger    *slog.Logger
}

// NewMatcher builds a matcher over the given driver pair.
func NewMatcher(denylist, allowlist store.PolicyDriver, cfg Config, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{denylist: denylist, allowlist: allowlist, cfg: cfg, logger: logger}
}

// SwapDenylist atomically installs a new denylist driver.
func (m *Matcher) SwapDenylist(next store.PolicyDriver) {
	m.mu.Lock()
	m.denylist = next
	m.mu.Unlock()
}

// SwapAllowlist atomically installs a new allowlist driver.
func (m *Matcher) SwapAllowlist(next store.PolicyDriver) {
	m.mu.Lock()
	m.allowlist = next
	m.mu.Unlock()
}

// SetConfig atomically replaces the matcher's behavior config, e.g. to
// toggle allowlist evaluation on a live instance.
func (m *Matcher) SetConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Matcher) snapshot() (denylist, allowlist store.PolicyDriver, cfg Config) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.denylist, m.allowlist, m.cfg
}

// Evaluate runs the deny/allow decision for a normalized question name. A
// driver error is treated as no-match (fail-open for availability) per the
// matcher's error-handling contract, and logged as a warning.
func (m *Matcher) Evaluate(ctx context.Context, name string) Result {
	name = normalize(name)
	denylist, allowlist, cfg := m.snapshot()

	if cfg.AllowlistEnabled {
		if matched, ok := m.lookup(ctx, allowlist, name, cfg.AncestorDepth); ok {
			return Result{Action: ActionAllow, MatchedName: matched, List: "allowlist"}
		}
	}

	if matched, ok := m.lookup(ctx, denylist, name, cfg.AncestorDepth); ok {
		return Result{Action: ActionBlock, MatchedName: matched, List: "denylist"}
	}

	return Result{Action: ActionAllow}
}

// lookup checks the exact name, then walks ancestors (www.a.b -> a.b -> b)
// up to ancestorDepth additional candidates.
func (m *Matcher) lookup(ctx context.Context, driver store.PolicyDriver, name string, ancestorDepth int) (string, bool) {
	if driver == nil {
		return "", false
	}

	candidate := name
	for depth := 0; depth <= ancestorDepth; depth++ {
		if candidate == "" {
			return "", false
		}
		_, ok, err := driver.Get(ctx, candidate)
		if err != nil {
			m.logger.Warn("policy driver lookup failed, treating as no-match", "name", candidate, "error", err)
			return "", false
		}
		if ok {
			return candidate, true
		}

		next, hasParent := parent(candidate)
		if !hasParent {
			return "", false
		}
		candidate = next
	}
	return "", false
}

// parent returns the immediate parent domain of name ("www.a.b" -> "a.b"),
// or ("", false) if name has no further parent to walk to.
func parent(name string) (string, bool) {
	idx := strings.IndexByte(name, '.')
	if idx < 0 {
		return "", false
	}
	return name[idx+1:], true
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
