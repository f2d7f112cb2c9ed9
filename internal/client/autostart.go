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

package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/tombee/perrito/internal/lifecycle"
)

// AutoStartConfig controls how StartDaemon launches perritod.
type AutoStartConfig struct {
	// Binary is the perritod executable. Empty means look it up in PATH.
	Binary string

	// Args are passed to the daemon.
	Args []string

	// LogPath receives the daemon's output.
	LogPath string

	// AddrFile is where the daemon records its control address once bound.
	AddrFile string

	// StartTimeout bounds the whole start. Default: 10s
	StartTimeout time.Duration
}

// StartDaemon spawns perritod detached, waits for it to record its address
// and then for /health to pass. It returns the PID and control address.
// The caller must already know no daemon is running: a leftover address
// file is removed first.
func StartDaemon(ctx context.Context, cfg AutoStartConfig) (int, string, error) {
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.AddrFile == "" {
		return 0, "", errors.New("address file path is required")
	}

	binary := cfg.Binary
	if binary == "" {
		path, err := exec.LookPath(lifecycle.DaemonBinary)
		if err != nil {
			return 0, "", fmt.Errorf("%s not found in PATH: %w", lifecycle.DaemonBinary, err)
		}
		binary = path
	}

	if err := os.Remove(cfg.AddrFile); err != nil && !os.IsNotExist(err) {
		return 0, "", fmt.Errorf("failed to remove stale address file: %w", err)
	}

	pid, err := lifecycle.NewSpawner().SpawnDetached(binary, cfg.Args, cfg.LogPath)
	if err != nil {
		return 0, "", fmt.Errorf("failed to start daemon: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()

	addr, err := lifecycle.WaitForAddrFile(ctx, cfg.AddrFile)
	if err != nil {
		return pid, "", fmt.Errorf("daemon started (pid %d) but never reported an address: %w", pid, err)
	}

	checker := lifecycle.NewHealthChecker("http://" + addr + "/health")
	if err := checker.WaitUntilHealthy(ctx, cfg.StartTimeout, nil); err != nil {
		return pid, addr, fmt.Errorf("daemon started (pid %d) but never became healthy: %w", pid, err)
	}
	return pid, addr, nil
}
