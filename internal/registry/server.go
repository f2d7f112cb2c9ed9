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

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/perrito/internal/log"
)

// serverEntry is one managed server. Fields other than the immutable
// identity and the atomic flag belong to the reactor.
type serverEntry struct {
	registry *Registry
	logger   *slog.Logger

	id   string
	name string
	host string
	port int

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader
	stopping   atomic.Bool

	clients []*clientEntry
	// created counts every client ever accepted; ids are never reused.
	created int
}

func newServerEntry(r *Registry, id, name, host string, ln net.Listener) *serverEntry {
	e := &serverEntry{
		registry: r,
		logger:   log.WithServer(r.logger, id),
		id:       id,
		name:     name,
		host:     host,
		port:     boundPort(ln),
		listener: ln,
		upgrader: websocket.Upgrader{
			// Managed servers are test endpoints; accept any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	e.httpServer = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return e
}

func boundPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// serve starts accepting connections in the background.
func (e *serverEntry) serve() {
	go func() {
		err := e.httpServer.Serve(e.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !e.stopping.Load() {
			e.logger.Error("listener stopped unexpectedly", log.Error(err))
		}
	}()
}

// closeListener stops accepting new connections. Closing an already closed
// listener counts as success so a retried stop can complete.
func (e *serverEntry) closeListener() error {
	e.stopping.Store(true)
	if err := e.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		e.stopping.Store(false)
		return err
	}
	// Drops idle plain-HTTP connections; upgraded sockets are closed by
	// terminateClients.
	_ = e.httpServer.Close()
	return nil
}

// terminateClients closes every client socket immediately.
func (e *serverEntry) terminateClients(reason string) {
	for _, c := range e.clients {
		if c.state == Closed {
			continue
		}
		c.state = Closing
		c.terminate(reason)
	}
}

func (e *serverEntry) client(id string) *clientEntry {
	for _, c := range e.clients {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (e *serverEntry) snapshot() ServerSnapshot {
	clients := make([]ClientSnapshot, 0, len(e.clients))
	for _, c := range e.clients {
		clients = append(clients, c.snapshot())
	}
	return ServerSnapshot{
		ID:      e.id,
		Name:    e.name,
		Host:    e.host,
		Port:    e.port,
		Clients: clients,
	}
}

// ServeHTTP upgrades every request to a WebSocket and hands the connection
// to the reactor. It runs on the net/http connection goroutine.
func (e *serverEntry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := e.upgrader.Upgrade(w, req, nil)
	if err != nil {
		e.logger.Debug("websocket upgrade failed", "remote", req.RemoteAddr, log.Error(err))
		return
	}

	path := req.URL.RequestURI()
	if path == "" {
		path = "/"
	}
	info := ConnectionInfo{
		Headers: flattenHeaders(req.Header, req.Host),
		Path:    path,
		Host:    e.host,
		Port:    e.port,
	}

	accepted := make(chan *clientEntry, 1)
	if !e.registry.post(event{kind: eventAccept, server: e, conn: conn, info: info, accepted: accepted}) {
		conn.Close()
		return
	}

	var c *clientEntry
	select {
	case c = <-accepted:
	case <-e.registry.done:
	}
	if c == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopped"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (e *serverEntry) String() string {
	return fmt.Sprintf("%s (%s:%d)", e.id, e.host, e.port)
}
