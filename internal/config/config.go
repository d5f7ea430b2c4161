package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ResolveConfigPath determines the config file path from flag or
// environment, flag taking precedence (spec §6: config is loaded once at
// startup and thereafter owned by the Supervisor).
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("DNSWARD_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load reads a JSON configuration document from path, falling back to
// Default() when path is empty, then applies DNSWARD_* environment
// overrides and validates the result.
//
// Priority (highest to lowest): environment variables, file, defaults.
func Load(path string) (*ServerConfiguration, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg as indented JSON to path.
func Save(path string, cfg *ServerConfiguration) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides layers DNSWARD_* environment variables over cfg,
// mirroring the teacher's HYDRADNS_* env-binding convention under the new
// module's name.
func applyEnvOverrides(cfg *ServerConfiguration) {
	if v := os.Getenv("DNSWARD_PORT"); v != "" {
		cfg.Port = parseIntEnv(v, cfg.Port)
	}
	if v := os.Getenv("DNSWARD_ENABLE_TCP"); v != "" {
		cfg.EnableTCP = parseBoolEnv(v, cfg.EnableTCP)
	}
	if v := os.Getenv("DNSWARD_ENABLE_WHITELIST"); v != "" {
		cfg.EnableWhitelist = parseBoolEnv(v, cfg.EnableWhitelist)
	}
	if v := strings.TrimSpace(os.Getenv("DNSWARD_SECONDARY_UPSTREAM")); v != "" {
		cfg.SecondaryUpstream = SecondaryUpstream(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("DNSWARD_NEXTDNS_CONFIG_ID")); v != "" {
		cfg.NextDNSConfigID = v
	}
	if v := strings.TrimSpace(os.Getenv("DNSWARD_LOGGING_LEVEL")); v != "" {
		cfg.Logging.Level = strings.ToUpper(v)
	}
}

// Validate checks invariants the Supervisor relies on before using cfg to
// start a listener (spec §3: "Server configuration ... owned by the
// Supervisor").
func Validate(cfg *ServerConfiguration) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.New("config: port must be 1..65535")
	}
	if cfg.SecondaryUpstream == "" {
		cfg.SecondaryUpstream = SecondaryCloudflare
	}
	if !cfg.SecondaryUpstream.Valid() {
		return fmt.Errorf("config: unknown secondaryUpstream %q", cfg.SecondaryUpstream)
	}
	if cfg.DriverConfigs.Logs.Name == "" {
		cfg.DriverConfigs.Logs.Name = "console"
	}
	if cfg.DriverConfigs.Cache.Name == "" {
		cfg.DriverConfigs.Cache.Name = "memory"
	}
	if cfg.DriverConfigs.Denylist.Name == "" {
		cfg.DriverConfigs.Denylist.Name = "memory"
	}
	if cfg.DriverConfigs.Allowlist.Name == "" {
		cfg.DriverConfigs.Allowlist.Name = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	return nil
}
