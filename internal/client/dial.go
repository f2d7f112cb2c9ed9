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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/tombee/perrito/internal/control"
	"github.com/tombee/perrito/internal/lifecycle"
)

// Environment variables read by ResolveAddr and ResolveToken.
const (
	AddrEnv  = "PERRITO_ADDR"
	TokenEnv = "PERRITO_AUTH_TOKEN"
)

// ResolveAddr returns the control address to dial. explicit wins, then
// PERRITO_ADDR, then the address recorded in addrFile by a running daemon,
// then fallback.
func ResolveAddr(explicit, addrFile, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(AddrEnv); env != "" {
		return env
	}
	if addrFile != "" {
		if addr, err := lifecycle.ReadAddrFile(addrFile); err == nil {
			return addr
		}
	}
	return fallback
}

// ResolveToken returns explicit or, when empty, PERRITO_AUTH_TOKEN.
func ResolveToken(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(TokenEnv)
}

// Health fetches the daemon's /health status.
func Health(ctx context.Context, addr string) (*control.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if isConnRefused(err) {
			return nil, &DaemonNotRunningError{Addr: addr, Err: err}
		}
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	var status control.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &status, nil
}

// DaemonNotRunningError indicates nothing is listening on the control address.
type DaemonNotRunningError struct {
	Addr string
	Err  error
}

func (e *DaemonNotRunningError) Error() string {
	return fmt.Sprintf("perrito daemon is not running (addr: %s)", e.Addr)
}

func (e *DaemonNotRunningError) Unwrap() error {
	return e.Err
}

// Guidance returns user-facing instructions for starting the daemon.
func (e *DaemonNotRunningError) Guidance() string {
	return `perrito daemon is not running.

Start it with:
  perrito daemon start          # Background
  perrito daemon serve          # Foreground (for development)`
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *DaemonNotRunningError) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *DaemonNotRunningError) UserMessage() string {
	return e.Error()
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *DaemonNotRunningError) Suggestion() string {
	return "start it with 'perrito daemon start', or pass --addr if it listens elsewhere"
}

// IsDaemonNotRunning reports whether err means the daemon is unreachable.
func IsDaemonNotRunning(err error) bool {
	if err == nil {
		return false
	}
	var dnr *DaemonNotRunningError
	if errors.As(err, &dnr) {
		return true
	}
	return isConnRefused(err)
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(err.Error(), "connection refused")
}
