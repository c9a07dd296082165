// Package config loads beacon settings from a YAML or TOML file. Command-line
// flags override file values in cmd/beacon.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Dir is the per-user state directory under $HOME.
const Dir = ".beacon"

var ErrUnknownFormat = errors.New("unknown config format")

// Config is the full beacon configuration.
type Config struct {
	Log    LogConfig    `yaml:"log" toml:"log"`
	Server ServerConfig `yaml:"server" toml:"server"`
	Agent  AgentConfig  `yaml:"agent" toml:"agent"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`
	// Format is text or json.
	Format string `yaml:"format" toml:"format"`
	// File redirects logs away from stderr when set.
	File string `yaml:"file,omitempty" toml:"file,omitempty"`
}

// ServerConfig configures `beacon server`.
type ServerConfig struct {
	Listen        string `yaml:"listen" toml:"listen"`
	SessionLog    string `yaml:"session_log" toml:"session_log"`
	DB            string `yaml:"db" toml:"db"`
	MetricsListen string `yaml:"metrics_listen,omitempty" toml:"metrics_listen,omitempty"`
	// Plain forces the line console even on a terminal.
	Plain bool `yaml:"plain" toml:"plain"`
	// TUILogFile receives logs while the TUI owns the terminal.
	TUILogFile string `yaml:"tui_log_file" toml:"tui_log_file"`
}

// AgentConfig configures `beacon agent`.
type AgentConfig struct {
	ServerAddress string   `yaml:"server_address" toml:"server_address"`
	ServerPort    int      `yaml:"server_port" toml:"server_port"`
	ProxyAddress  string   `yaml:"proxy_address,omitempty" toml:"proxy_address,omitempty"`
	ProxyPort     int      `yaml:"proxy_port" toml:"proxy_port"`
	Interval      Duration `yaml:"interval" toml:"interval"`
	ExecTimeout   Duration `yaml:"exec_timeout" toml:"exec_timeout"`
}

// ServerURL is the base URL the agent polls.
func (a AgentConfig) ServerURL() string {
	return "http://" + net.JoinHostPort(a.ServerAddress, fmt.Sprint(a.ServerPort))
}

// ProxyURL returns host:port of the forward proxy, or "" when disabled.
func (a AgentConfig) ProxyURL() string {
	if a.ProxyAddress == "" {
		return ""
	}
	return net.JoinHostPort(a.ProxyAddress, fmt.Sprint(a.ProxyPort))
}

// Duration decodes "10s"-style strings from both YAML and TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Listen:     "0.0.0.0:9000",
			SessionLog: "session_log.json",
			DB:         filepath.Join(homeDir(), "beacon.db"),
			TUILogFile: filepath.Join(homeDir(), "server.log"),
		},
		Agent: AgentConfig{
			ServerAddress: "127.0.0.1",
			ServerPort:    9000,
			ProxyPort:     8080,
			Interval:      Duration(10 * time.Second),
			ExecTimeout:   Duration(25 * time.Second),
		},
	}
}

// Load reads path, choosing the decoder by extension (.yaml, .yml, .toml).
// A missing file yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromHome loads ~/.beacon/config.yaml, or ~/.beacon/config.toml when
// only that exists.
func LoadFromHome() (*Config, error) {
	yamlPath := filepath.Join(homeDir(), "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return Load(yamlPath)
	}
	return Load(filepath.Join(homeDir(), "config.toml"))
}

// Save writes cfg to path in the format implied by its extension, creating
// parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		data = out
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		data = buf.Bytes()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen: %w", err)
	}
	if c.Server.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(c.Server.MetricsListen); err != nil {
			return fmt.Errorf("server.metrics_listen: %w", err)
		}
	}
	if c.Server.SessionLog == "" {
		return fmt.Errorf("server.session_log must not be empty")
	}

	if c.Agent.ServerAddress == "" {
		return fmt.Errorf("agent.server_address must not be empty")
	}
	if c.Agent.ServerPort < 1 || c.Agent.ServerPort > 65535 {
		return fmt.Errorf("agent.server_port out of range: %d", c.Agent.ServerPort)
	}
	if c.Agent.ProxyAddress != "" && (c.Agent.ProxyPort < 1 || c.Agent.ProxyPort > 65535) {
		return fmt.Errorf("agent.proxy_port out of range: %d", c.Agent.ProxyPort)
	}
	if c.Agent.Interval < 0 {
		return fmt.Errorf("agent.interval must not be negative")
	}
	if c.Agent.ExecTimeout <= 0 {
		return fmt.Errorf("agent.exec_timeout must be positive")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return Dir
	}
	return filepath.Join(home, Dir)
}
