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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perritoerrors "github.com/tombee/perrito/pkg/errors"
)

// clearEnv unsets every variable Load reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOG_LEVEL", "PERRITO_LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"PERRITO_TRANSPORT", "PERRITO_CONTROL_ADDR", "PERRITO_AUTH_TOKEN",
		"PERRITO_PID_FILE", "PERRITO_SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Daemon.Transport != TransportWebSocket {
		t.Errorf("expected websocket transport, got %q", cfg.Daemon.Transport)
	}
	if cfg.Daemon.Listen.PortRange != [2]int{9876, 9899} {
		t.Errorf("expected port range [9876, 9899], got %v", cfg.Daemon.Listen.PortRange)
	}
	if cfg.Daemon.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected shutdown timeout 5s, got %v", cfg.Daemon.ShutdownTimeout)
	}

	assert.Equal(t, ServerDefaults{Host: "127.0.0.1", Port: 80, Name: "My Server", RandomizeName: true}, cfg.Defaults)
	assert.Equal(t, RateLimitConfig{RequestsPerSecond: 50, Burst: 100}, cfg.Daemon.RateLimit)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		errText string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			errText: "log.level",
		},
		{
			name:    "invalid transport",
			modify:  func(c *Config) { c.Daemon.Transport = "carrier-pigeon" },
			errText: "daemon.transport",
		},
		{
			name:    "remote address without allow_remote",
			modify:  func(c *Config) { c.Daemon.Listen.TCPAddr = "0.0.0.0:9876" },
			errText: "not a loopback address",
		},
		{
			name: "remote address with allow_remote",
			modify: func(c *Config) {
				c.Daemon.Listen.TCPAddr = "0.0.0.0:9876"
				c.Daemon.Listen.AllowRemote = true
			},
		},
		{
			name:    "malformed tcp addr",
			modify:  func(c *Config) { c.Daemon.Listen.TCPAddr = "localhost" },
			errText: "tcp_addr is invalid",
		},
		{
			name:    "inverted port range",
			modify:  func(c *Config) { c.Daemon.Listen.PortRange = [2]int{9899, 9876} },
			errText: "port_range",
		},
		{
			name:    "zero shutdown timeout",
			modify:  func(c *Config) { c.Daemon.ShutdownTimeout = 0 },
			errText: "shutdown_timeout",
		},
		{
			name:    "bad default host",
			modify:  func(c *Config) { c.Defaults.Host = "bad host" },
			errText: "defaults.host",
		},
		{
			name:    "bad configured server",
			modify:  func(c *Config) { c.Servers = []ServerSpec{{ID: "Bad ID", Name: "x", Host: "127.0.0.1", Port: 1}} },
			errText: "servers[0]",
		},
		{
			name: "duplicate configured server",
			modify: func(c *Config) {
				c.Servers = []ServerSpec{
					{ID: "echo", Name: "Echo", Host: "127.0.0.1", Port: 9001},
					{ID: "echo", Name: "Echo", Host: "127.0.0.1", Port: 9002},
				}
			},
			errText: "duplicate id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.errText == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "xml"
	cfg.Daemon.SendQueueSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "send_queue_size")
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERRITO_TRANSPORT", "STDIO")
	t.Setenv("PERRITO_CONTROL_ADDR", "127.0.0.1:7000")
	t.Setenv("PERRITO_AUTH_TOKEN", "tok")
	t.Setenv("PERRITO_PID_FILE", "/tmp/perritod.pid")
	t.Setenv("PERRITO_SHUTDOWN_TIMEOUT", "9s")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("PERRITO_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, TransportStdio, cfg.Daemon.Transport)
	assert.Equal(t, "127.0.0.1:7000", cfg.Daemon.Listen.TCPAddr)
	assert.Equal(t, "tok", cfg.Daemon.AuthToken)
	assert.Equal(t, "/tmp/perritod.pid", cfg.Daemon.PIDFile)
	assert.Equal(t, 9*time.Second, cfg.Daemon.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromEnv_IgnoresBadDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERRITO_SHUTDOWN_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Daemon.ShutdownTimeout)
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
log:
  level: debug
  format: text
daemon:
  transport: stdio
  send_queue_size: 16
defaults:
  host: localhost
  port: 8080
  name: Test Bench
  randomize_name: false
servers:
  - id: echo
    name: Echo
    host: 127.0.0.1
    port: 9001
presets:
  ping: '{"type":"ping"}'
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, TransportStdio, cfg.Daemon.Transport)
	assert.Equal(t, 16, cfg.Daemon.SendQueueSize)
	assert.Equal(t, ServerDefaults{Host: "localhost", Port: 8080, Name: "Test Bench"}, cfg.Defaults)
	assert.Equal(t, []ServerSpec{{ID: "echo", Name: "Echo", Host: "127.0.0.1", Port: 9001}}, cfg.Servers)
	assert.Equal(t, `{"type":"ping"}`, cfg.Presets["ping"])

	// Fields the file omits keep their defaults.
	assert.Equal(t, [2]int{9876, 9899}, cfg.Daemon.Listen.PortRange)
	assert.Equal(t, 5*time.Second, cfg.Daemon.ShutdownTimeout)
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "daemon:\n  transport: stdio\n")
	t.Setenv("PERRITO_TRANSPORT", "websocket")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportWebSocket, cfg.Daemon.Transport)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		var cfgErr *perritoerrors.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "config_file", cfgErr.Key)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "log: [unterminated"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse YAML")
	})

	t.Run("validation failure", func(t *testing.T) {
		_, err := Load(writeFile(t, "daemon:\n  transport: smoke\n"))
		var cfgErr *perritoerrors.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "validation", cfgErr.Key)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestWriteConfigRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Servers = []ServerSpec{{ID: "echo", Name: "Echo", Host: "127.0.0.1", Port: 9001}}
	cfg.Presets["hello"] = "hello world"
	require.NoError(t, WriteConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfigDir_RespectsXDG(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "perrito"), dir)

	path, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "perrito", "config.yaml"), path)

	cfg := Default()
	pid, err := cfg.Daemon.PIDFilePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "perrito", "perritod.pid"), pid)
}

func TestControlAddr(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:9876", cfg.Daemon.ControlAddr())

	cfg.Daemon.Listen.TCPAddr = "127.0.0.1:7000"
	assert.Equal(t, "127.0.0.1:7000", cfg.Daemon.ControlAddr())
}

func TestPIDAndAddrFilePaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := Default()

	pid, err := cfg.Daemon.PIDFilePath()
	require.NoError(t, err)
	assert.Equal(t, "perritod.pid", filepath.Base(pid))

	addr, err := cfg.Daemon.AddrFilePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(pid), "perritod.addr"), addr)

	cfg.Daemon.PIDFile = "/run/perrito/daemon.pid"
	addr, err = cfg.Daemon.AddrFilePath()
	require.NoError(t, err)
	assert.Equal(t, "/run/perrito/daemon.addr", addr)
}

func TestServerName(t *testing.T) {
	fixed := ServerDefaults{Name: "My Server"}
	assert.Equal(t, "My Server", fixed.ServerName())

	random := ServerDefaults{Name: "My Server", RandomizeName: true}
	for i := 0; i < 20; i++ {
		name := random.ServerName()
		parts := strings.Split(name, " ")
		require.Len(t, parts, 2, name)
		assert.Contains(t, nameAdjectives, parts[0])
		assert.Contains(t, nameAnimals, parts[1])
	}
}
