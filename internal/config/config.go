// Package config loads the agent configuration from YAML, the environment and
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the agent configuration.
type Config struct {
	SocketPath   string `yaml:"socket_path"`
	SenderPrefix string `yaml:"sender_prefix"`
	SessionID    string `yaml:"session_id"`
	Codec        string `yaml:"codec"`

	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	EditDebounce      time.Duration `yaml:"edit_debounce"`
	ResolveTimeout    time.Duration `yaml:"resolve_timeout"`
	SendTimeout       time.Duration `yaml:"send_timeout"`

	AutoConnect bool `yaml:"auto_connect"`

	Watch WatchConfig `yaml:"watch"`
	Log   LogConfig   `yaml:"log"`
}

// WatchConfig selects the workspace files reported as file events.
type WatchConfig struct {
	// Root is the workspace directory. Empty disables the file watcher.
	Root string `yaml:"root"`
	// Exclude holds doublestar globs matched against paths relative to Root.
	Exclude []string `yaml:"exclude"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Environment variables that override the file. HARMONY_SOCKET_PATH wins
// over SOCKET_PATH.
const (
	EnvSocketPath        = "SOCKET_PATH"
	EnvHarmonySocketPath = "HARMONY_SOCKET_PATH"
	EnvSessionID         = "HARMONY_SESSION_ID"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath:        "/tmp/harmony.sock",
		SenderPrefix:      "harmony-vscode",
		Codec:             "json",
		ReconnectInterval: 5 * time.Second,
		PingInterval:      5 * time.Second,
		EditDebounce:      time.Second,
		ResolveTimeout:    5 * time.Second,
		SendTimeout:       5 * time.Second,
		AutoConnect:       true,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/harmony/agent.yaml, falling back to
// ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "harmony", "agent.yaml")
}

// Load reads configuration from configPath, applies environment overrides
// and defaults, and validates the result. A missing file yields defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvSocketPath); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv(EnvHarmonySocketPath); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv(EnvSessionID); v != "" {
		c.SessionID = v
	}
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.SocketPath == "" {
		c.SocketPath = defaults.SocketPath
	}
	if c.SenderPrefix == "" {
		c.SenderPrefix = defaults.SenderPrefix
	}
	if c.Codec == "" {
		c.Codec = defaults.Codec
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = defaults.ReconnectInterval
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.EditDebounce == 0 {
		c.EditDebounce = defaults.EditDebounce
	}
	if c.ResolveTimeout == 0 {
		c.ResolveTimeout = defaults.ResolveTimeout
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = defaults.SendTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
}

// SenderID identifies this agent instance to the desktop app.
func (c *Config) SenderID() string {
	return c.SenderPrefix + "-" + c.SessionID
}
