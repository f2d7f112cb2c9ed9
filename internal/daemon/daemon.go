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

// Package daemon assembles perritod: the registry of managed servers, the
// control transport a supervisor talks to, and the PID and address files
// other perrito commands use to find it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/tombee/perrito/internal/config"
	"github.com/tombee/perrito/internal/control"
	"github.com/tombee/perrito/internal/lifecycle"
	internallog "github.com/tombee/perrito/internal/log"
	"github.com/tombee/perrito/internal/registry"
	perritoerrors "github.com/tombee/perrito/pkg/errors"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = perritoerrors.New("daemon already started")

// Options contains daemon options set at build time or by the caller.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// Stdin and Stdout carry the stdio transport. In websocket mode Stdout
	// receives the PERRITO_CONTROL_PORT line. Default: os.Stdin, os.Stdout
	Stdin  io.Reader
	Stdout io.Writer

	// Logger overrides the logger built from configuration.
	Logger *slog.Logger
}

// Daemon is perritod.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	registry   *registry.Registry
	snapshots  *control.Snapshots
	dispatcher *control.Dispatcher
	server     *control.Server

	pidFile  *lifecycle.PIDFile
	addrFile string

	ready   chan struct{}
	regDone chan struct{}

	mu      sync.Mutex
	addr    string
	started bool
	stopped bool
}

// New creates a daemon from a validated configuration.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	logger := opts.Logger
	if logger == nil {
		logger = internallog.New(LogConfig(cfg.Log))
	}
	logger = internallog.WithComponent(logger, "daemon")

	pidPath, err := cfg.Daemon.PIDFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve PID file: %w", err)
	}
	addrPath, err := cfg.Daemon.AddrFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address file: %w", err)
	}

	snapshots := control.NewSnapshots()
	reg := registry.New(registry.Options{
		Logger:        logger,
		Publisher:     snapshots,
		SendQueueSize: cfg.Daemon.SendQueueSize,
	})

	d := &Daemon{
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
		registry:   reg,
		snapshots:  snapshots,
		dispatcher: control.NewDispatcher(reg, logger),
		pidFile:    lifecycle.NewPIDFile(pidPath),
		addrFile:   addrPath,
		ready:      make(chan struct{}),
		regDone:    make(chan struct{}),
	}

	if cfg.Daemon.Transport == config.TransportWebSocket {
		d.server = control.NewServer(&control.ServerConfig{
			Addr:              cfg.Daemon.Listen.TCPAddr,
			PortRange:         cfg.Daemon.Listen.PortRange,
			ShutdownTimeout:   cfg.Daemon.ShutdownTimeout,
			AuthToken:         cfg.Daemon.AuthToken,
			RequestsPerSecond: cfg.Daemon.RateLimit.RequestsPerSecond,
			Burst:             cfg.Daemon.RateLimit.Burst,
			Version:           opts.Version,
			Logger:            logger,
		}, d.dispatcher, snapshots)
	}
	return d, nil
}

// LogConfig converts the log section of the configuration. PERRITO_DEBUG
// forces debug level with source locations.
func LogConfig(cfg config.LogConfig) *internallog.Config {
	lc := &internallog.Config{
		Level:     cfg.Level,
		Format:    internallog.Format(cfg.Format),
		Output:    os.Stderr,
		AddSource: cfg.AddSource,
	}
	if debug := os.Getenv("PERRITO_DEBUG"); debug == "true" || debug == "1" {
		lc.Level = "debug"
		lc.AddSource = true
	}
	return lc
}

// Ready is closed once the control transport is accepting requests.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the websocket control address, or "" before it is bound
// and in stdio mode.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Start runs the daemon until ctx is cancelled or, in stdio mode, the
// supervisor closes stdin. Call Shutdown afterwards in either case.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.mu.Unlock()

	if err := d.pidFile.Acquire(os.Getpid()); err != nil {
		// Nothing was started, so Shutdown has nothing to undo.
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		if perritoerrors.Is(err, lifecycle.ErrPIDFileLocked) {
			return perritoerrors.Wrapf(err, "another perritod is running (%s)", d.pidFile.Path())
		}
		return perritoerrors.Wrapf(err, "failed to write PID file %s", d.pidFile.Path())
	}

	// The registry outlives ctx so Shutdown can still stop servers in order.
	go func() {
		defer close(d.regDone)
		if err := d.registry.Run(context.WithoutCancel(ctx)); err != nil {
			d.logger.Error("registry stopped", internallog.Error(err))
		}
	}()

	d.autostart(ctx)

	d.logger.Info("daemon starting",
		slog.String("version", d.opts.Version),
		slog.String(internallog.TransportKey, d.cfg.Daemon.Transport),
		slog.Int("pid", os.Getpid()))

	if d.server == nil {
		stdio := control.NewStdio(d.dispatcher, d.snapshots, d.opts.Stdin, d.opts.Stdout, d.logger)
		close(d.ready)
		err := stdio.Serve(ctx)
		if err == nil {
			d.logger.Info("supervisor closed stdin")
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	port, err := d.server.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}
	addr := d.controlAddr(port)
	d.mu.Lock()
	d.addr = addr
	d.mu.Unlock()

	if err := lifecycle.WriteAddrFile(d.addrFile, addr); err != nil {
		d.logger.Warn("failed to write address file", internallog.Error(err), slog.String("path", d.addrFile))
	}
	fmt.Fprintf(d.opts.Stdout, "PERRITO_CONTROL_PORT=%d\n", port)
	close(d.ready)

	<-ctx.Done()
	return nil
}

// autostart starts the servers listed in the configuration. Failures are
// logged and do not stop the daemon.
func (d *Daemon) autostart(ctx context.Context) {
	for _, s := range d.cfg.Servers {
		snap, err := d.registry.StartServer(ctx, s.ID, s.Name, s.Host, s.Port)
		if err != nil {
			d.logger.Error("failed to start configured server",
				slog.String(internallog.ServerIDKey, s.ID),
				internallog.Error(err))
			continue
		}
		d.logger.Info("configured server started",
			slog.String(internallog.ServerIDKey, snap.ID),
			slog.Int("port", snap.Port))
	}
}

func (d *Daemon) controlAddr(port int) string {
	host := "127.0.0.1"
	if d.cfg.Daemon.Listen.TCPAddr != "" {
		if h, _, err := net.SplitHostPort(d.cfg.Daemon.Listen.TCPAddr); err == nil && h != "" {
			host = h
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Shutdown stops the control transport, closes every managed server and
// removes the PID and address files. Safe to call more than once.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return nil
	}
	d.stopped = true

	d.logger.Info("graceful shutdown initiated")

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Daemon.ShutdownTimeout)
	defer cancel()

	var errs []error
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Error("control server shutdown error", internallog.Error(err))
			errs = append(errs, err)
		}
	}

	if err := d.registry.Shutdown(ctx); err != nil {
		d.logger.Error("registry shutdown error", internallog.Error(err))
		errs = append(errs, err)
	}
	select {
	case <-d.regDone:
	case <-ctx.Done():
	}
	d.snapshots.Close()

	if d.server != nil {
		if err := lifecycle.RemoveAddrFile(d.addrFile); err != nil {
			d.logger.Error("failed to remove address file", internallog.Error(err))
		}
	}
	if err := d.pidFile.Release(); err != nil {
		d.logger.Error("failed to remove PID file", internallog.Error(err), slog.String("path", d.pidFile.Path()))
	}

	d.logger.Info("daemon stopped")
	return errors.Join(errs...)
}
