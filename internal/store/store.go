// Package store implements the driver plane: a uniform, pluggable-backend
// abstraction over four roles — logs, cache, denylist, allowlist — each with
// runtime-swappable implementations (memory, file, sql, and for logs an
// additional console sink).
//
// A driver operation set is shared conceptually across roles (get, set, add,
// remove, clear, import, export) but typed per role rather than expressed as
// one interface over `any` values, following this module's preference for
// concrete, idiomatic Go interfaces over reflection-heavy generality. Each
// role's CRUD shape is grounded in the corpus's own SQL-backed filtering
// storage (INSERT OR IGNORE / ON CONFLICT DO UPDATE / DELETE ... WHERE) and
// trie-backed in-memory domain matching.
package store

import (
	"errors"
	"time"
)

// ErrAlreadyExists is returned by Add when the key is already present.
var ErrAlreadyExists = errors.New("store: entry already exists")

// ErrNotFound is returned by a policy driver's Remove when the domain is
// absent. Get reports a missing key through its ok result instead.
var ErrNotFound = errors.New("store: entry not found")

// PolicyEntry is one denylist or allowlist row (spec §3 "Policy entry").
type PolicyEntry struct {
	Domain   string    `json:"domain"`
	AddedAt  time.Time `json:"addedAt"`
	Source   string    `json:"source,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Category string    `json:"category,omitempty"`
}

// CachedResponse is the value object the cache driver stores (spec §3
// "Cached response").
type CachedResponse struct {
	Packet    []byte    `json:"packet"` // wire-format response bytes
	CachedAt  int64     `json:"cachedAt"`
	TTLSecs   int       `json:"ttlSeconds"`
	ExpiresAt int64     `json:"expiresAt"`
	updatedAt time.Time // internal bookkeeping, not persisted
}

// Expired reports whether this entry is no longer a valid hit at now.
func (c CachedResponse) Expired(now time.Time) bool {
	return c.ExpiresAt <= now.UnixMilli()
}

// LogKind distinguishes DNS-traffic events from server lifecycle events.
type LogKind string

const (
	LogKindRequest  LogKind = "request"
	LogKindResponse LogKind = "response"
	LogKindError    LogKind = "error"
	LogKindServer   LogKind = "server_event"
)

// LogLevel mirrors slog's severities without requiring callers to import
// log/slog just to build a LogEntry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ClientInfo identifies the originating client of a DNS event.
type ClientInfo struct {
	Addr      string `json:"addr"`
	Port      int    `json:"port"`
	Transport string `json:"transport"` // udp | tcp | doh
}

// Processing carries the per-query outcome attached to a DNS log event.
type Processing struct {
	Provider       string `json:"provider,omitempty"`
	ResponseTimeMs int64  `json:"responseTimeMs,omitempty"`
	Cached         bool   `json:"cached"`
	Blocked        bool   `json:"blocked"`
	Whitelisted    bool   `json:"whitelisted"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// LogEntry is the tagged-variant log record of spec §3: either a DNS event
// or a server lifecycle event, distinguished by Kind.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      LogKind   `json:"kind"`
	Level     LogLevel  `json:"level"`

	// DNS event fields.
	Question   string      `json:"question,omitempty"`
	Packet     []byte      `json:"packet,omitempty"`
	Client     *ClientInfo `json:"client,omitempty"`
	Processing *Processing `json:"processing,omitempty"`

	// Server event fields.
	EventType string `json:"eventType,omitempty"` // started | stopped | crashed
	Message   string `json:"message,omitempty"`
	Port      int    `json:"port,omitempty"`
	Error     string `json:"error,omitempty"`
}

// LogFilter scopes a logs Get call (spec §4.2: "{kind, level, domain,
// provider, success, limit}").
type LogFilter struct {
	Kind     LogKind
	Level    LogLevel
	Domain   string
	Provider string
	Success  *bool
	Limit    int
}

// Role names the four driver roles a Registry is built for.
type Role string

const (
	RoleLogs      Role = "logs"
	RoleCache     Role = "cache"
	RoleDenylist  Role = "denylist"
	RoleAllowlist Role = "allowlist"
)
