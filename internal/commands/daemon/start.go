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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/perrito/internal/client"
	"github.com/tombee/perrito/internal/commands/shared"
	"github.com/tombee/perrito/internal/config"
	"github.com/tombee/perrito/internal/lifecycle"
)

// NewStartCommand starts the daemon in the background.
func NewStartCommand() *cobra.Command {
	var (
		timeout time.Duration
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Long: `Start perritod detached from the terminal and wait until it is healthy.

The start command is idempotent: if a daemon already holds the PID file it
exits successfully without starting another.`,
		Example: `  # Start the daemon
  perrito daemon start

  # Give a slow machine more time
  perrito daemon start --timeout 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, startOptions{timeout: timeout, logFile: logFile})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the daemon to become healthy")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Daemon log file (default: perritod.log next to the config)")

	return cmd
}

type startOptions struct {
	timeout time.Duration
	logFile string
}

func runStart(cmd *cobra.Command, opts startOptions) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidPath, err := cfg.Daemon.PIDFilePath()
	if err != nil {
		return err
	}
	if pid, running := runningPID(pidPath); running {
		shared.Printf(out, "Daemon already running (PID %d) on %s\n", pid, shared.ControlAddr(cfg))
		return nil
	}

	addrFile, err := cfg.Daemon.AddrFilePath()
	if err != nil {
		return err
	}
	logPath, err := resolveLogPath(opts.logFile)
	if err != nil {
		return err
	}

	binary, args, err := daemonCommand()
	if err != nil {
		return err
	}
	if path := shared.GetConfigPath(); path != "" {
		args = append(args, "--config", path)
	}
	args = append(args, "--transport", config.TransportWebSocket)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pid, addr, err := client.StartDaemon(ctx, client.AutoStartConfig{
		Binary:       binary,
		Args:         args,
		LogPath:      logPath,
		AddrFile:     addrFile,
		StartTimeout: opts.timeout,
	})
	if err != nil {
		return fmt.Errorf("%w (see %s)", err, logPath)
	}

	if shared.GetJSON() {
		return shared.EmitJSONResult(out, "daemon start", map[string]any{"pid": pid, "addr": addr, "log": logPath})
	}
	shared.Printf(out, "%s\n", shared.RenderOK(fmt.Sprintf("Daemon started (PID %d) on %s", pid, addr)))
	return nil
}

// runningPID returns the PID recorded in path when a live daemon holds it.
func runningPID(path string) (int, bool) {
	if !lifecycle.NewPIDFile(path).Locked() {
		return 0, false
	}
	pid, err := lifecycle.ReadPID(path)
	if err != nil {
		return 0, false
	}
	return pid, true
}

// daemonCommand prefers a perritod binary on PATH and falls back to this
// executable's "daemon serve".
func daemonCommand() (string, []string, error) {
	if path, err := exec.LookPath(lifecycle.DaemonBinary); err == nil {
		return path, nil, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", nil, errors.New("perritod not found in PATH and the current executable cannot be located")
	}
	return self, []string{"daemon", "serve"}, nil
}

func resolveLogPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "perritod.log"), nil
}
