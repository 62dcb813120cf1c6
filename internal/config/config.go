// Package config loads ghostbridge configuration from TOML, JSON or YAML
// files with GHOSTBRIDGE_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete bridge configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Transport configures the engine connection.
	Transport TransportConfig `toml:"transport" json:"transport" yaml:"transport"`

	// Events configures channel event handling.
	Events EventsConfig `toml:"events" json:"events" yaml:"events"`

	// Coalesce configures declarative coalescer rules.
	Coalesce CoalesceConfig `toml:"coalesce" json:"coalesce" yaml:"coalesce"`

	// Journal configures the SQLite journal.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Logging configures the slog handler.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// TransportConfig holds connection settings.
type TransportConfig struct {
	// URL is the engine's websocket endpoint.
	URL string `toml:"url" json:"url" yaml:"url"`

	// Listen is the address the reference authority serves on.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`

	// WriteTimeoutMs bounds each frame write.
	WriteTimeoutMs int `toml:"write_timeout_ms" json:"write_timeout_ms" yaml:"write_timeout_ms"`

	// ReadLimit caps the size of an incoming frame in bytes. 0 means no limit.
	ReadLimit int64 `toml:"read_limit" json:"read_limit" yaml:"read_limit"`
}

// EventsConfig holds channel settings.
type EventsConfig struct {
	// SessionEnd is the broadcast name that resets the channel.
	SessionEnd string `toml:"session_end" json:"session_end" yaml:"session_end"`
}

// CoalesceConfig points at a CUE rules file.
type CoalesceConfig struct {
	// Rules is the path of the CUE rules file. Empty disables rules.
	Rules string `toml:"rules" json:"rules" yaml:"rules"`
}

// JournalConfig holds journal settings.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`

	// KeepSessions prunes all but the newest N sessions when the journal
	// is opened. Zero keeps everything.
	KeepSessions int `toml:"keep_sessions" json:"keep_sessions" yaml:"keep_sessions"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`
}

// DefaultConfig returns a configuration with defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Transport: TransportConfig{
			URL:            "ws://127.0.0.1:7878/bridge",
			Listen:         "127.0.0.1:7878",
			WriteTimeoutMs: 10000,
		},
		Events: EventsConfig{
			SessionEnd: "GHOST_SESSION_ENDED",
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "ghostbridge.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path. An empty path or a missing file
// yields defaults. The format follows the file extension; unknown
// extensions are decoded as TOML. Environment overrides are applied and
// relative paths resolved against the file's directory.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decode(path, data, cfg); err != nil {
				return nil, err
			}
			cfg.resolvePaths(filepath.Dir(path))
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	}
	return nil
}

func (c *Config) resolvePaths(dir string) {
	if c.Coalesce.Rules != "" && !filepath.IsAbs(c.Coalesce.Rules) {
		c.Coalesce.Rules = filepath.Join(dir, c.Coalesce.Rules)
	}
	if c.Journal.Path != "" && c.Journal.Path != ":memory:" && !filepath.IsAbs(c.Journal.Path) {
		c.Journal.Path = filepath.Join(dir, c.Journal.Path)
	}
}

// ApplyEnvOverrides applies GHOSTBRIDGE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GHOSTBRIDGE_URL"); v != "" {
		c.Transport.URL = v
	}
	if v := os.Getenv("GHOSTBRIDGE_LISTEN"); v != "" {
		c.Transport.Listen = v
	}
	if v := os.Getenv("GHOSTBRIDGE_SESSION_END"); v != "" {
		c.Events.SessionEnd = v
	}
	if v := os.Getenv("GHOSTBRIDGE_RULES"); v != "" {
		c.Coalesce.Rules = v
	}
	if v := os.Getenv("GHOSTBRIDGE_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
		c.Journal.Enabled = true
	}
	if v := os.Getenv("GHOSTBRIDGE_JOURNAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Journal.Enabled = b
		}
	}
	if v := os.Getenv("GHOSTBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GHOSTBRIDGE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// WriteTimeout returns the transport write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Transport.WriteTimeoutMs) * time.Millisecond
}

// SlogLevel parses Logging.Level. Unknown levels map to Info; Validate
// reports them.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
