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

// Package daemontest runs an in-process perritod for tests: a registry
// behind a control server on an ephemeral loopback port.
package daemontest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tombee/perrito/internal/control"
	"github.com/tombee/perrito/internal/log"
	"github.com/tombee/perrito/internal/registry"
)

// Timeout bounds every wait in this package.
const Timeout = 5 * time.Second

// Daemon is a running test daemon.
type Daemon struct {
	// Addr is the control endpoint, host:port.
	Addr string

	Registry *registry.Registry
}

// Start runs a daemon until the test ends.
func Start(t *testing.T) *Daemon {
	t.Helper()

	snapshots := control.NewSnapshots()
	reg := registry.New(registry.Options{Logger: log.Discard(), Publisher: snapshots})
	go func() { _ = reg.Run(context.Background()) }()

	srv := control.NewServer(&control.ServerConfig{
		Addr:   "127.0.0.1:0",
		Logger: log.Discard(),
	}, control.NewDispatcher(reg, log.Discard()), snapshots)
	port, err := srv.Start(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), Timeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = reg.Shutdown(ctx)
		snapshots.Close()
	})

	return &Daemon{Addr: fmt.Sprintf("127.0.0.1:%d", port), Registry: reg}
}

// StartServer starts a loopback WebSocket server with an ephemeral port.
func (d *Daemon) StartServer(t *testing.T, id string) registry.ServerSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	snap, err := d.Registry.StartServer(ctx, id, "Test Server", "127.0.0.1", 0)
	require.NoError(t, err)
	return snap
}

// Servers returns the current state.
func (d *Daemon) Servers(t *testing.T) []registry.ServerSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	servers, err := d.Registry.GetServers(ctx)
	require.NoError(t, err)
	return servers
}

// Connect opens a peer connection to a managed server and waits until the
// registry lists it. It returns the connection and the assigned client id.
func (d *Daemon) Connect(t *testing.T, server registry.ServerSnapshot, path string) (*websocket.Conn, string) {
	t.Helper()

	before := len(d.server(t, server.ID).Clients)
	url := "ws://" + server.Host + ":" + strconv.Itoa(server.Port) + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"User-Agent": []string{"daemontest"}})
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	var id string
	require.Eventually(t, func() bool {
		s := d.server(t, server.ID)
		if len(s.Clients) <= before {
			return false
		}
		id = s.Clients[len(s.Clients)-1].ID
		return true
	}, Timeout, 10*time.Millisecond)
	return conn, id
}

func (d *Daemon) server(t *testing.T, id string) registry.ServerSnapshot {
	t.Helper()
	s, ok := registry.FindServer(d.Servers(t), id)
	require.True(t, ok, "server %s not found", id)
	return s
}

// WriteConfig writes a YAML config file into a temp dir and returns its path.
func WriteConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}
