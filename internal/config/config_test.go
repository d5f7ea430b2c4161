package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		envValue string
		want     string
	}{
		{"flag takes precedence", "/path/from/flag", "/path/from/env", "/path/from/flag"},
		{"env when no flag", "", "/path/from/env", "/path/from/env"},
		{"empty when neither", "", "", ""},
		{"whitespace flag", "  ", "/path/from/env", "/path/from/env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DNSWARD_CONFIG", tt.envValue)
			assert.Equal(t, tt.want, ResolveConfigPath(tt.flag))
		})
	}
}

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1053, cfg.Port)
	assert.True(t, cfg.EnableTCP)
	assert.False(t, cfg.EnableWhitelist)
	assert.Equal(t, SecondaryCloudflare, cfg.SecondaryUpstream)
	assert.Equal(t, "memory", cfg.DriverConfigs.Cache.Name)
	assert.Equal(t, "console", cfg.DriverConfigs.Logs.Name)
}

func TestLoadFromFile(t *testing.T) {
	content := `{
		"port": 5353,
		"enableTCP": false,
		"enableWhitelist": true,
		"secondaryUpstream": "google",
		"driverConfigs": {
			"logs": {"name": "file", "config": {"path": "/tmp/logs.jsonl"}},
			"cache": {"name": "sql"},
			"denylist": {"name": "memory"},
			"allowlist": {"name": "memory"}
		},
		"logging": {"level": "DEBUG", "structured": true, "structuredFormat": "json"}
	}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5353, cfg.Port)
	assert.False(t, cfg.EnableTCP)
	assert.True(t, cfg.EnableWhitelist)
	assert.Equal(t, SecondaryGoogle, cfg.SecondaryUpstream)
	assert.Equal(t, "file", cfg.DriverConfigs.Logs.Name)
	assert.Equal(t, "/tmp/logs.jsonl", cfg.DriverConfigs.Logs.Config["path"])
	assert.Equal(t, "sql", cfg.DriverConfigs.Cache.Name)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.json")
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	assert.Error(t, Validate(&cfg))

	cfg.Port = 70000
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsUnknownSecondaryUpstream(t *testing.T) {
	cfg := Default()
	cfg.SecondaryUpstream = "not-a-real-provider"
	assert.Error(t, Validate(&cfg))
}

func TestValidateFillsMissingDriverNames(t *testing.T) {
	cfg := Default()
	cfg.DriverConfigs = DriverConfigs{}
	require.NoError(t, Validate(&cfg))
	assert.Equal(t, "console", cfg.DriverConfigs.Logs.Name)
	assert.Equal(t, "memory", cfg.DriverConfigs.Cache.Name)
	assert.Equal(t, "memory", cfg.DriverConfigs.Denylist.Name)
	assert.Equal(t, "memory", cfg.DriverConfigs.Allowlist.Name)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DNSWARD_PORT", "8053")
	t.Setenv("DNSWARD_ENABLE_TCP", "false")
	t.Setenv("DNSWARD_ENABLE_WHITELIST", "true")
	t.Setenv("DNSWARD_SECONDARY_UPSTREAM", "opendns")
	t.Setenv("DNSWARD_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8053, cfg.Port)
	assert.False(t, cfg.EnableTCP)
	assert.True(t, cfg.EnableWhitelist)
	assert.Equal(t, SecondaryOpenDNS, cfg.SecondaryUpstream)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestSaveRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Port = 9999

	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.NoError(t, Save(path, &cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Port)
}
