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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/perrito/internal/commands/shared"
	"github.com/tombee/perrito/internal/lifecycle"
)

// NewStopCommand stops a running daemon.
func NewStopCommand() *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Long: `Stop perritod gracefully. Every managed server and client is closed.

Sends SIGTERM and waits. With --force, a daemon still running after
--timeout gets SIGKILL.

The stop command is idempotent: if the daemon is not running it exits
successfully after cleaning up a stale PID file.`,
		Example: `  perrito daemon stop
  perrito daemon stop --timeout 30s --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, timeout, force)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Graceful shutdown timeout")
	cmd.Flags().BoolVar(&force, "force", false, "Send SIGKILL if the timeout is exceeded")

	return cmd
}

func runStop(cmd *cobra.Command, timeout time.Duration, force bool) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidPath, err := cfg.Daemon.PIDFilePath()
	if err != nil {
		return err
	}
	pid, err := lifecycle.ReadPID(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			shared.Printf(out, "Daemon is not running (no PID file)\n")
			return nil
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	if !lifecycle.NewPIDFile(pidPath).Locked() || !lifecycle.IsProcessRunning(pid) {
		shared.Printf(out, "Daemon process %d is not running (removing stale PID file)\n", pid)
		if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
		if addrFile, err := cfg.Daemon.AddrFilePath(); err == nil {
			_ = lifecycle.RemoveAddrFile(addrFile)
		}
		return nil
	}

	if !lifecycle.IsDaemonProcess(pid) {
		return fmt.Errorf("PID %d is not a perrito daemon (refusing to stop)", pid)
	}

	start := time.Now()
	shared.Printf(out, "Stopping daemon (PID %d)...\n", pid)
	if err := lifecycle.GracefulShutdown(pid, timeout, force); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	shared.Printf(out, "%s\n", shared.RenderOK(fmt.Sprintf("Daemon stopped in %s", time.Since(start).Round(time.Millisecond))))
	return nil
}
