package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slighter12/rojo-bridge-go/reflection"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "localhost", cfg.Bridge.Host)
	assert.Equal(t, 34873, cfg.Bridge.Port)
	assert.Equal(t, 34872, cfg.Rojo.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.Rojo.ProbeTimeout())
	assert.Equal(t, time.Second, cfg.Rojo.LivenessInterval())
	assert.Equal(t, reflection.DefaultURL, cfg.Reflection.URL)
	assert.Equal(t, 30*time.Second, cfg.Reflection.FetchTimeout())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test_config.json")
	testConfig := `{
		"bridge": {"host": "127.0.0.1", "port": 8080, "debug": true},
		"rojo": {"port": 34000, "probe_timeout_ms": 250, "liveness_interval_ms": 2000},
		"reflection": {"path": "./dump.json", "watch": true},
		"logging": {"level": "DEBUG", "format": " text ", "path": "/tmp/bridge.log"}
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Bridge.Host)
	assert.Equal(t, 8080, cfg.Bridge.Port)
	assert.True(t, cfg.Bridge.Debug)
	assert.Equal(t, "localhost", cfg.Rojo.Host)
	assert.Equal(t, 34000, cfg.Rojo.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Rojo.ProbeTimeout())
	assert.Equal(t, "./dump.json", cfg.Reflection.Path)
	assert.True(t, cfg.Reflection.Watch)
	assert.Equal(t, reflection.DefaultURL, cfg.Reflection.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"bridge": {"port": 8080}}`), 0644))
	t.Setenv("ROJO_BRIDGE_BRIDGE_PORT", "9090")
	t.Setenv("ROJO_BRIDGE_ROJO_HOST", "10.0.0.2")
	t.Setenv("ROJO_BRIDGE_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Bridge.Port)
	assert.Equal(t, "10.0.0.2", cfg.Rojo.Host)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"bridge": {`), 0644))

	_, err := LoadConfig(configPath)
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("ROJO_BRIDGE_ROJO_PORT", "35000")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, 35000, cfg.Rojo.Port)
	assert.Equal(t, 34873, cfg.Bridge.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bridge port", func(c *Config) { c.Bridge.Port = 0 }},
		{"bridge host", func(c *Config) { c.Bridge.Host = "" }},
		{"rojo port", func(c *Config) { c.Rojo.Port = 70000 }},
		{"probe timeout", func(c *Config) { c.Rojo.ProbeTimeoutMS = 0 }},
		{"liveness below probe", func(c *Config) { c.Rojo.LivenessIntervalMS = 50 }},
		{"no reflection source", func(c *Config) { c.Reflection.URL = "" }},
		{"bad reflection url", func(c *Config) { c.Reflection.URL = "not a url" }},
		{"watch without path", func(c *Config) { c.Reflection.Watch = true }},
		{"fetch timeout", func(c *Config) { c.Reflection.FetchTimeoutSeconds = 301 }},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := NewConfig()
	cfg.Reflection.URL = ""
	cfg.Reflection.Path = "dump.json"
	assert.NoError(t, cfg.Validate())
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(EnvConfigPath, " /tmp/custom.json ")
	path, err := ResolveConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.json", path)

	t.Setenv(EnvConfigPath, "")
	path, err = ResolveConfigPath()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestSaveConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := NewConfig()
	cfg.Bridge.Port = 8181

	require.NoError(t, SaveConfig(cfg, configPath))
	loaded, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 8181, loaded.Bridge.Port)

	assert.Error(t, SaveConfig(nil, configPath))
	cfg.Logging.Level = "nope"
	assert.Error(t, SaveConfig(cfg, configPath))
}

func TestEnsureDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config", "rojo_bridge.json")
	require.NoError(t, EnsureDefaultConfig(configPath))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Bridge.Port, cfg.Bridge.Port)

	require.NoError(t, os.WriteFile(configPath, []byte(`{"bridge": {"port": 1234}}`), 0644))
	require.NoError(t, EnsureDefaultConfig(configPath))
	cfg, err = LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Bridge.Port)

	assert.Error(t, EnsureDefaultConfig("  "))
}
