// Package config loads and persists the supervisor's server configuration.
//
// Configuration is a JSON document (spec §3 "Server configuration", §6
// external interfaces) rather than the teacher's YAML+Viper-bound
// ServerConfig, since the external contract this module exposes is JSON
// throughout. The struct-per-concern layout (ServerConfiguration,
// DriverConfig, RateLimitConfig, ...) follows the teacher's
// internal/config shape; json tags replace its yaml/mapstructure tags.
package config

import (
	"strconv"
	"strings"
)

// SecondaryUpstream names the provider consulted when the system resolver
// is unavailable or as the configured second hop in the provider selector
// (spec §3, §4.6).
type SecondaryUpstream string

const (
	SecondaryCloudflare SecondaryUpstream = "cloudflare"
	SecondaryGoogle     SecondaryUpstream = "google"
	SecondaryOpenDNS    SecondaryUpstream = "opendns"
	SecondarySystem     SecondaryUpstream = "system"
)

// Valid reports whether s is one of the known secondary upstream names.
func (s SecondaryUpstream) Valid() bool {
	switch s {
	case SecondaryCloudflare, SecondaryGoogle, SecondaryOpenDNS, SecondarySystem:
		return true
	default:
		return false
	}
}

// DriverConfig names a driver implementation and carries its
// implementation-specific configuration (e.g. a SQL driver's DSN, a file
// driver's path). Config is opaque to everything except the named driver's
// constructor.
type DriverConfig struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// DriverConfigs is the full set of per-role driver selections (spec §3
// "driverConfigs{logs,cache,denylist,allowlist}").
type DriverConfigs struct {
	Logs      DriverConfig `json:"logs"`
	Cache     DriverConfig `json:"cache"`
	Denylist  DriverConfig `json:"denylist"`
	Allowlist DriverConfig `json:"allowlist"`
}

// RateLimitConfig controls the listener's three-tier token-bucket rate
// limiting, carried over from the teacher's rate_limit.go settings.
type RateLimitConfig struct {
	CleanupSeconds   float64 `json:"cleanupSeconds"`
	MaxIPEntries     int     `json:"maxIPEntries"`
	MaxPrefixEntries int     `json:"maxPrefixEntries"`
	GlobalQPS        float64 `json:"globalQPS"`
	GlobalBurst      int     `json:"globalBurst"`
	PrefixQPS        float64 `json:"prefixQPS"`
	PrefixBurst      int     `json:"prefixBurst"`
	IPQPS            float64 `json:"ipQPS"`
	IPBurst          int     `json:"ipBurst"`
}

// LoggingConfig controls the ambient slog handler (internal/logging.Config).
type LoggingConfig struct {
	Level            string            `json:"level"`
	Structured       bool              `json:"structured"`
	StructuredFormat string            `json:"structuredFormat"`
	IncludePID       bool              `json:"includePID"`
	ExtraFields      map[string]string `json:"extraFields,omitempty"`
}

// ServerConfiguration is the root configuration the Supervisor owns and
// mutates (spec §3 "Server configuration"). Mutation is serialized by the
// Supervisor; this type itself carries no synchronization.
type ServerConfiguration struct {
	Port              int               `json:"port"`
	EnableTCP         bool              `json:"enableTCP"`
	EnableWhitelist   bool              `json:"enableWhitelist"`
	SecondaryUpstream SecondaryUpstream `json:"secondaryUpstream"`
	NextDNSConfigID   string            `json:"nextdnsConfigId,omitempty"`
	DriverConfigs     DriverConfigs     `json:"driverConfigs"`
	RateLimit         RateLimitConfig   `json:"rateLimit"`
	Logging           LoggingConfig     `json:"logging"`
}

// Default returns the baseline configuration a fresh install starts from:
// in-memory cache, denylist and allowlist drivers, console logs, Cloudflare
// as the secondary upstream, whitelisting off, TCP on, and the unprivileged
// port 1053.
func Default() ServerConfiguration {
	return ServerConfiguration{
		Port:              1053,
		EnableTCP:         true,
		EnableWhitelist:   false,
		SecondaryUpstream: SecondaryCloudflare,
		DriverConfigs: DriverConfigs{
			Logs:      DriverConfig{Name: "console"},
			Cache:     DriverConfig{Name: "memory"},
			Denylist:  DriverConfig{Name: "memory"},
			Allowlist: DriverConfig{Name: "memory"},
		},
		RateLimit: RateLimitConfig{
			CleanupSeconds:   60,
			MaxIPEntries:     65536,
			MaxPrefixEntries: 16384,
			GlobalQPS:        100000,
			GlobalBurst:      100000,
			PrefixQPS:        10000,
			PrefixBurst:      20000,
			IPQPS:            3000,
			IPBurst:          6000,
		},
		Logging: LoggingConfig{
			Level:            "INFO",
			StructuredFormat: "json",
		},
	}
}

// parseBoolEnv mirrors the teacher's lenient viper bool parsing ("no",
// "false", "0" all count as false) rather than strconv.ParseBool's
// stricter grammar, since operators carry over config files and env
// conventions from the teacher's deployments.
func parseBoolEnv(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseIntEnv(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return n
}
