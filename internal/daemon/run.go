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

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/tombee/perrito/internal/config"
	"github.com/tombee/perrito/internal/log"
	perritoerrors "github.com/tombee/perrito/pkg/errors"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// ConfigPath is the YAML file to load. Empty uses the XDG default.
	ConfigPath string

	// Config overrides
	Transport   string
	TCPAddr     string
	AuthToken   string
	PIDFile     string
	AllowRemote bool
}

// Run starts the daemon and blocks until SIGINT, SIGTERM or, with the stdio
// transport, EOF on stdin. It is the entry point for perritod and
// `perrito daemon serve`.
func Run(opts RunOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		// The config may be what's broken, so log with env settings only.
		log.New(log.FromEnv()).Error("failed to load config", log.Error(err))
		return perritoerrors.Wrap(err, "failed to load config")
	}

	logger := log.New(LogConfig(cfg.Log))
	slog.SetDefault(logger)

	if cfg.Daemon.Listen.AllowRemote {
		logger.Warn("allow_remote is enabled. The control endpoint will accept connections from any network address; set an auth token.")
	}

	d, err := New(cfg, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create daemon", log.Error(err))
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := d.Start(ctx)
	if runErr != nil {
		logger.Error("daemon error", log.Error(runErr))
	}
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}

	if err := d.Shutdown(context.Background()); err != nil {
		logger.Error("error during shutdown", log.Error(err))
		if runErr == nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("daemon error: %w", runErr)
	}
	return nil
}

// loadConfig loads the file and applies flag overrides, which win over
// both the file and the environment.
func loadConfig(opts RunOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if opts.Transport != "" {
		cfg.Daemon.Transport = opts.Transport
	}
	if opts.TCPAddr != "" {
		cfg.Daemon.Listen.TCPAddr = opts.TCPAddr
	}
	if opts.AuthToken != "" {
		cfg.Daemon.AuthToken = opts.AuthToken
	}
	if opts.PIDFile != "" {
		cfg.Daemon.PIDFile = opts.PIDFile
	}
	if opts.AllowRemote {
		cfg.Daemon.Listen.AllowRemote = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// VersionString formats build information for --version output.
func VersionString(name string, opts RunOptions) string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", name, opts.Version, opts.Commit, opts.BuildDate)
}
