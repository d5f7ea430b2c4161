package store

import "context"

// CacheDriver is the pluggable backend for resolved-answer storage. Get/Set
// operate on a pre-computed cache key (see internal/wire Question.Key) so
// the driver never needs to understand DNS semantics.
type CacheDriver interface {
	Get(ctx context.Context, key string) (CachedResponse, bool, error)
	Set(ctx context.Context, key string, value CachedResponse) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Export(ctx context.Context) (map[string]CachedResponse, error)
	Import(ctx context.Context, entries map[string]CachedResponse) error
	Close() error
}

// PolicyDriver is the pluggable backend shared by the denylist and
// allowlist roles. Add reports ErrAlreadyExists for a duplicate domain
// rather than silently overwriting, so callers can distinguish a no-op from
// a genuine insert.
type PolicyDriver interface {
	Get(ctx context.Context, domain string) (PolicyEntry, bool, error)
	All(ctx context.Context) ([]PolicyEntry, error)
	Add(ctx context.Context, entry PolicyEntry) error
	Remove(ctx context.Context, domain string) error
	Clear(ctx context.Context) error
	Export(ctx context.Context) ([]PolicyEntry, error)
	Import(ctx context.Context, entries []PolicyEntry) error
	Close() error
}

// LogsDriver is the pluggable backend for the append-only event log. A
// failing LogsDriver must never block query resolution; callers are
// expected to fall back to a ConsoleLogsDriver rather than propagate Append
// errors into the resolver pipeline (spec §4.2, §7).
type LogsDriver interface {
	Append(ctx context.Context, entry LogEntry) error
	Get(ctx context.Context, filter LogFilter) ([]LogEntry, error)
	Clear(ctx context.Context) error
	Export(ctx context.Context) ([]LogEntry, error)
	Import(ctx context.Context, entries []LogEntry) error
	Close() error
}
