// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/perrito/internal/validate"
	perritoerrors "github.com/tombee/perrito/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Supervisor transports.
const (
	TransportWebSocket = "websocket"
	TransportStdio     = "stdio"
)

// Config represents the complete perrito configuration.
type Config struct {
	Log      LogConfig         `yaml:"log"`
	Daemon   DaemonConfig      `yaml:"daemon"`
	Defaults ServerDefaults    `yaml:"defaults"`
	Servers  []ServerSpec      `yaml:"servers,omitempty"`
	Presets  map[string]string `yaml:"presets,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: trace, debug, info, warn, error
	Level string `yaml:"level"`

	// Format: json or text
	Format string `yaml:"format"`

	AddSource bool `yaml:"add_source"`
}

// DaemonConfig configures perritod and how the CLI reaches it.
type DaemonConfig struct {
	// Transport is how the supervisor talks to the daemon: websocket or stdio.
	// Environment: PERRITO_TRANSPORT
	Transport string `yaml:"transport"`

	// Listen configures the websocket control endpoint.
	Listen ListenConfig `yaml:"listen,omitempty"`

	// AuthToken is required from control clients when set.
	// Environment: PERRITO_AUTH_TOKEN
	AuthToken string `yaml:"auth_token,omitempty"`

	// PIDFile is the path to the PID file. Empty means the default under
	// the config directory.
	// Environment: PERRITO_PID_FILE
	PIDFile string `yaml:"pid_file,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	// Environment: PERRITO_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// SendQueueSize is the outbound queue length per managed client.
	SendQueueSize int `yaml:"send_queue_size,omitempty"`

	// RateLimit limits control requests per connection.
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// ListenConfig configures the websocket control listener.
type ListenConfig struct {
	// TCPAddr, when set, is the exact control address (e.g. "127.0.0.1:9876").
	// Environment: PERRITO_CONTROL_ADDR
	TCPAddr string `yaml:"tcp_addr,omitempty"`

	// PortRange is scanned on 127.0.0.1 when TCPAddr is empty.
	PortRange [2]int `yaml:"port_range,omitempty"`

	// AllowRemote must be true to bind to non-loopback addresses.
	AllowRemote bool `yaml:"allow_remote"`
}

// RateLimitConfig configures the per-connection token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ServerDefaults fill in fields omitted from `perrito server start`.
type ServerDefaults struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Name string `yaml:"name"`

	// RandomizeName picks a random name instead of Name.
	RandomizeName bool `yaml:"randomize_name"`
}

// ServerSpec is a server started when the daemon boots.
type ServerSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			AddSource: false,
		},
		Daemon: DaemonConfig{
			Transport: TransportWebSocket,
			Listen: ListenConfig{
				PortRange:   [2]int{9876, 9899},
				AllowRemote: false,
			},
			ShutdownTimeout: 5 * time.Second,
			SendQueueSize:   256,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 50,
				Burst:             100,
			},
		},
		Defaults: ServerDefaults{
			Host:          "127.0.0.1",
			Port:          80,
			Name:          "My Server",
			RandomizeName: true,
		},
		Presets: map[string]string{},
	}
}

// Load loads configuration from a YAML file, then applies defaults and
// environment overrides. Environment variables take precedence over the
// file. If configPath is empty only defaults and environment are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &perritoerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &perritoerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// LoadDefault loads the config file from the XDG location if it exists.
func LoadDefault() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	return Load(path)
}

// applyDefaults fills zero values so minimal files work.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Daemon.Transport == "" {
		c.Daemon.Transport = defaults.Daemon.Transport
	}
	if c.Daemon.Listen.PortRange == [2]int{} {
		c.Daemon.Listen.PortRange = defaults.Daemon.Listen.PortRange
	}
	if c.Daemon.ShutdownTimeout == 0 {
		c.Daemon.ShutdownTimeout = defaults.Daemon.ShutdownTimeout
	}
	if c.Daemon.SendQueueSize == 0 {
		c.Daemon.SendQueueSize = defaults.Daemon.SendQueueSize
	}
	if c.Daemon.RateLimit == (RateLimitConfig{}) {
		c.Daemon.RateLimit = defaults.Daemon.RateLimit
	}
	if c.Defaults.Host == "" {
		c.Defaults.Host = defaults.Defaults.Host
	}
	if c.Defaults.Name == "" {
		c.Defaults.Name = defaults.Defaults.Name
	}
	if c.Presets == nil {
		c.Presets = map[string]string{}
	}
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies environment overrides. Unparseable durations are
// ignored.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("PERRITO_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("PERRITO_TRANSPORT"); val != "" {
		c.Daemon.Transport = strings.ToLower(val)
	}
	if val := os.Getenv("PERRITO_CONTROL_ADDR"); val != "" {
		c.Daemon.Listen.TCPAddr = val
	}
	if val := os.Getenv("PERRITO_AUTH_TOKEN"); val != "" {
		c.Daemon.AuthToken = val
	}
	if val := os.Getenv("PERRITO_PID_FILE"); val != "" {
		c.Daemon.PIDFile = val
	}
	if val := os.Getenv("PERRITO_SHUTDOWN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Daemon.ShutdownTimeout = duration
		}
	}
}

// Validate checks that the configuration is valid. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be one of trace, debug, info, warn, error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}

	switch c.Daemon.Transport {
	case TransportWebSocket, TransportStdio:
	default:
		errs = append(errs, fmt.Sprintf("daemon.transport must be websocket or stdio, got %q", c.Daemon.Transport))
	}

	listen := c.Daemon.Listen
	if listen.TCPAddr != "" {
		host, _, err := net.SplitHostPort(listen.TCPAddr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("daemon.listen.tcp_addr is invalid: %v", err))
		} else if !listen.AllowRemote && !isLoopback(host) {
			errs = append(errs, fmt.Sprintf("daemon.listen.tcp_addr %q is not a loopback address; set allow_remote to bind it", listen.TCPAddr))
		}
	}
	lo, hi := listen.PortRange[0], listen.PortRange[1]
	if lo < 1 || hi > 65535 || lo > hi {
		errs = append(errs, fmt.Sprintf("daemon.listen.port_range must satisfy 1 <= start <= end <= 65535, got [%d, %d]", lo, hi))
	}

	if c.Daemon.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("daemon.shutdown_timeout must be positive, got %v", c.Daemon.ShutdownTimeout))
	}
	if c.Daemon.SendQueueSize < 1 {
		errs = append(errs, fmt.Sprintf("daemon.send_queue_size must be at least 1, got %d", c.Daemon.SendQueueSize))
	}
	if c.Daemon.RateLimit.RequestsPerSecond < 0 || c.Daemon.RateLimit.Burst < 0 {
		errs = append(errs, "daemon.rate_limit values must not be negative")
	}

	if err := validate.Host(c.Defaults.Host); err != nil {
		errs = append(errs, fmt.Sprintf("defaults.host: %v", err))
	}
	if err := validate.Port(c.Defaults.Port); err != nil {
		errs = append(errs, fmt.Sprintf("defaults.port: %v", err))
	}
	if err := validate.Name(c.Defaults.Name); err != nil {
		errs = append(errs, fmt.Sprintf("defaults.name: %v", err))
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if err := validate.ServerSpec(s.ID, s.Name, s.Host, s.Port); err != nil {
			errs = append(errs, fmt.Sprintf("servers[%d]: %v", i, err))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("servers[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
	}

	for name := range c.Presets {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, "presets: preset names must not be empty")
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// PIDFilePath returns the configured PID file, or the default location.
func (c *DaemonConfig) PIDFilePath() (string, error) {
	if c.PIDFile != "" {
		return c.PIDFile, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "perritod.pid"), nil
}

// AddrFilePath is where a running daemon records its control address,
// next to the PID file.
func (c *DaemonConfig) AddrFilePath() (string, error) {
	pid, err := c.PIDFilePath()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(pid, filepath.Ext(pid)) + ".addr", nil
}

// ControlAddr is the address the CLI dials when no flag overrides it. With
// only a port range configured it is the first port of the range.
func (c *DaemonConfig) ControlAddr() string {
	if c.Listen.TCPAddr != "" {
		return c.Listen.TCPAddr
	}
	return fmt.Sprintf("127.0.0.1:%d", c.Listen.PortRange[0])
}

// WriteConfig writes cfg as YAML to path with owner-only permissions.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
