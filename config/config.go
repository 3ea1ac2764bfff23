package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/slighter12/rojo-bridge-go/reflection"
)

const (
	EnvPrefix     = "ROJO_BRIDGE"
	EnvConfigPath = "ROJO_BRIDGE_CONFIG_PATH"
	localPath     = "config/rojo_bridge.json"
)

// Config represents the bridge configuration
type Config struct {
	Bridge     Bridge     `mapstructure:"bridge" json:"bridge"`
	Rojo       Rojo       `mapstructure:"rojo" json:"rojo"`
	Reflection Reflection `mapstructure:"reflection" json:"reflection"`
	Logging    Logging    `mapstructure:"logging" json:"logging"`
}

// Bridge is the local HTTP API.
type Bridge struct {
	Host  string `mapstructure:"host" json:"host"`
	Port  int    `mapstructure:"port" json:"port"`
	Debug bool   `mapstructure:"debug" json:"debug"`
}

// Rojo holds connection defaults and liveness timing.
type Rojo struct {
	Host               string `mapstructure:"host" json:"host"`
	Port               int    `mapstructure:"port" json:"port"`
	ProbeTimeoutMS     int    `mapstructure:"probe_timeout_ms" json:"probe_timeout_ms"`
	LivenessIntervalMS int    `mapstructure:"liveness_interval_ms" json:"liveness_interval_ms"`
}

func (r Rojo) ProbeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeoutMS) * time.Millisecond
}

func (r Rojo) LivenessInterval() time.Duration {
	return time.Duration(r.LivenessIntervalMS) * time.Millisecond
}

// Reflection selects where the API dump comes from. A non-empty Path wins
// over URL.
type Reflection struct {
	URL                 string `mapstructure:"url" json:"url"`
	Path                string `mapstructure:"path" json:"path"`
	Watch               bool   `mapstructure:"watch" json:"watch"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`
}

func (r Reflection) FetchTimeout() time.Duration {
	return time.Duration(r.FetchTimeoutSeconds) * time.Second
}

// Logging represents logging configuration
type Logging struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
	Path   string `mapstructure:"path" json:"path"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return &Config{
		Bridge: Bridge{
			Host: "localhost",
			Port: 34873,
		},
		Rojo: Rojo{
			Host:               "localhost",
			Port:               34872,
			ProbeTimeoutMS:     100,
			LivenessIntervalMS: 1000,
		},
		Reflection: Reflection{
			URL:                 reflection.DefaultURL,
			FetchTimeoutSeconds: 30,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Path:   filepath.Join(home, ".rojo-bridge", "logs", "bridge.log"),
		},
	}
}

func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	v.SetDefault("bridge.host", cfg.Bridge.Host)
	v.SetDefault("bridge.port", cfg.Bridge.Port)
	v.SetDefault("bridge.debug", cfg.Bridge.Debug)
	v.SetDefault("rojo.host", cfg.Rojo.Host)
	v.SetDefault("rojo.port", cfg.Rojo.Port)
	v.SetDefault("rojo.probe_timeout_ms", cfg.Rojo.ProbeTimeoutMS)
	v.SetDefault("rojo.liveness_interval_ms", cfg.Rojo.LivenessIntervalMS)
	v.SetDefault("reflection.url", cfg.Reflection.URL)
	v.SetDefault("reflection.path", cfg.Reflection.Path)
	v.SetDefault("reflection.watch", cfg.Reflection.Watch)
	v.SetDefault("reflection.fetch_timeout_seconds", cfg.Reflection.FetchTimeoutSeconds)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.path", cfg.Logging.Path)
	return v
}

// LoadConfig loads the configuration from a file, then applies
// ROJO_BRIDGE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %w", err)
	}

	cfg := NewConfig()
	v := newViper(cfg)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults plus
// environment overrides otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadConfig(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := NewConfig()
	if err := newViper(cfg).Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a file
func SaveConfig(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return writeJSON(cfg, path)
}

func writeJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Normalize canonicalizes config values so downstream validation and runtime
// logic operate on stable representations.
func (c *Config) Normalize() {
	c.Bridge.Host = strings.TrimSpace(c.Bridge.Host)
	c.Rojo.Host = strings.TrimSpace(c.Rojo.Host)
	if c.Rojo.Host == "" {
		c.Rojo.Host = "localhost"
	}
	c.Reflection.URL = strings.TrimSpace(c.Reflection.URL)
	c.Reflection.Path = strings.TrimSpace(c.Reflection.Path)
	if c.Reflection.FetchTimeoutSeconds == 0 {
		c.Reflection.FetchTimeoutSeconds = 30
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Path = strings.TrimSpace(c.Logging.Path)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return errors.New("invalid bridge port number")
	}
	if c.Bridge.Host == "" {
		return errors.New("bridge host cannot be empty")
	}
	if c.Rojo.Port <= 0 || c.Rojo.Port > 65535 {
		return errors.New("invalid rojo port number")
	}
	if c.Rojo.ProbeTimeoutMS <= 0 {
		return fmt.Errorf("invalid rojo probe timeout %dms: must be positive", c.Rojo.ProbeTimeoutMS)
	}
	if c.Rojo.LivenessIntervalMS < c.Rojo.ProbeTimeoutMS {
		return fmt.Errorf("invalid rojo liveness interval %dms: must be at least the probe timeout", c.Rojo.LivenessIntervalMS)
	}

	if c.Reflection.Path == "" {
		if c.Reflection.URL == "" {
			return errors.New("reflection url or path must be set")
		}
		if u, err := url.Parse(c.Reflection.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid reflection url %q", c.Reflection.URL)
		}
	}
	if c.Reflection.Watch && c.Reflection.Path == "" {
		return errors.New("reflection watch requires a reflection path")
	}
	if c.Reflection.FetchTimeoutSeconds < 1 || c.Reflection.FetchTimeoutSeconds > 300 {
		return fmt.Errorf("invalid reflection fetch timeout seconds %d: expected range 1..300", c.Reflection.FetchTimeoutSeconds)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.New("invalid log level")
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.New("invalid log format")
	}
	return nil
}

// ResolveConfigPath returns the path that should be used for configuration.
func ResolveConfigPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path, nil
	}
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".rojo-bridge", "config", "rojo_bridge.json"), nil
}

// EnsureDefaultConfig creates a default config file if one does not exist.
func EnsureDefaultConfig(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path cannot be empty")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := NewConfig()
	cfg.Normalize()
	return writeJSON(cfg, path)
}
