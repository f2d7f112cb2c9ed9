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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tombee/perrito/internal/log"
	"github.com/tombee/perrito/internal/metrics"
	"github.com/tombee/perrito/internal/validate"
	perritoerrors "github.com/tombee/perrito/pkg/errors"
)

const (
	// DefaultSendQueueSize is the per-client outbound queue length.
	DefaultSendQueueSize = 256

	// DefaultCloseGracePeriod bounds how long a disconnected client may take
	// to answer the close frame before its socket is dropped.
	DefaultCloseGracePeriod = 5 * time.Second

	eventQueueSize = 256
)

// ListenFunc binds a listener. It matches net.ListenConfig.Listen.
type ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)

// Options configures a Registry.
type Options struct {
	// Logger receives registry events. Default: slog.Default()
	Logger *slog.Logger

	// Publisher receives a snapshot after every mutation. Optional.
	Publisher Publisher

	// Listen binds server listeners. Default: net.ListenConfig{}.Listen
	Listen ListenFunc

	// SendQueueSize is the per-client outbound queue length.
	SendQueueSize int

	// CloseGracePeriod bounds the close handshake started by DisconnectClient.
	CloseGracePeriod time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Registry owns every managed server. All fields below the channels are
// touched only by the reactor goroutine.
type Registry struct {
	logger           *slog.Logger
	publisher        Publisher
	listen           ListenFunc
	sendQueueSize    int
	closeGracePeriod time.Duration
	now              func() time.Time

	ops    chan func()
	events chan event

	runOnce  sync.Once
	quitOnce sync.Once
	quit     chan struct{}
	done     chan struct{}

	servers  []*serverEntry
	starting map[string]struct{}
}

// New creates a Registry. Call Run to start its reactor.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Listen == nil {
		var lc net.ListenConfig
		opts.Listen = lc.Listen
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultSendQueueSize
	}
	if opts.CloseGracePeriod <= 0 {
		opts.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		logger:           log.WithComponent(opts.Logger, "registry"),
		publisher:        opts.Publisher,
		listen:           opts.Listen,
		sendQueueSize:    opts.SendQueueSize,
		closeGracePeriod: opts.CloseGracePeriod,
		now:              opts.Now,
		ops:              make(chan func()),
		events:           make(chan event, eventQueueSize),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
		starting:         make(map[string]struct{}),
	}
}

// Run is the reactor loop. It returns when ctx is cancelled or Shutdown is
// called, closing every remaining server on the way out. Run may only be
// called once.
func (r *Registry) Run(ctx context.Context) error {
	var started bool
	r.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("registry: Run called twice")
	}
	defer close(r.done)

	r.logger.Debug("reactor started")
	for {
		select {
		case <-ctx.Done():
			r.closeAll("daemon shutting down")
			return ctx.Err()
		case <-r.quit:
			r.closeAll("daemon shutting down")
			return nil
		case op := <-r.ops:
			op()
		case ev := <-r.events:
			r.handleEvent(ev)
		}
	}
}

// Done is closed once the reactor has exited.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// do runs fn on the reactor and waits for it. ctx only bounds the wait for
// the reactor to pick fn up; once picked up fn always completes.
func (r *Registry) do(ctx context.Context, fn func()) error {
	var panicErr error
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		defer func() {
			if p := recover(); p != nil {
				panicErr = fmt.Errorf("registry: operation panicked: %v", p)
				r.logger.Error("recovered panic in registry operation", slog.Any("panic", p))
			}
		}()
		fn()
	}

	select {
	case r.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
	<-finished
	return panicErr
}

// post queues a socket event for the reactor. It reports false once the
// reactor has exited.
func (r *Registry) post(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// StartServer validates the id, name, host and port, binds host:port and registers the server.
// The server only becomes visible after the listener is bound.
func (r *Registry) StartServer(ctx context.Context, id, name, host string, port int) (ServerSnapshot, error) {
	snap, err := r.startServer(ctx, id, name, host, port)
	metrics.RecordServerOperation("start", perritoerrors.TypeOf(err))
	return snap, err
}

func (r *Registry) startServer(ctx context.Context, id, name, host string, port int) (ServerSnapshot, error) {
	var opErr error
	if err := r.do(ctx, func() { opErr = r.reserve(id, name, host, port) }); err != nil {
		return ServerSnapshot{}, err
	}
	if opErr != nil {
		return ServerSnapshot{}, opErr
	}

	// Past this point the start runs to completion regardless of ctx.
	ctx = context.WithoutCancel(ctx)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, bindErr := r.listen(ctx, "tcp", addr)

	var snap ServerSnapshot
	err := r.do(ctx, func() {
		delete(r.starting, id)
		if bindErr != nil {
			opErr = &Error{Kind: KindBindFailure, ServerID: id, Err: bindErr}
			r.logger.Warn("failed to bind listener",
				log.ServerIDKey, id,
				"addr", addr,
				log.Error(bindErr))
			return
		}
		entry := r.register(id, name, host, ln)
		snap = entry.snapshot()
		r.publish()
	})
	if err != nil {
		if ln != nil {
			ln.Close()
		}
		return ServerSnapshot{}, err
	}
	return snap, opErr
}

// reserve runs on the reactor. It rejects duplicates and invalid specs before
// any bind is attempted and marks id as starting.
func (r *Registry) reserve(id, name, host string, port int) error {
	if r.lookup(id) != nil {
		return &Error{Kind: KindAlreadyExists, ServerID: id}
	}
	if _, ok := r.starting[id]; ok {
		return &Error{Kind: KindAlreadyExists, ServerID: id}
	}
	if err := validate.ServerSpec(id, name, host, port); err != nil {
		return &Error{Kind: KindInvalidConfig, ServerID: id, Err: err}
	}
	r.starting[id] = struct{}{}
	return nil
}

// StopServer closes every client of the server, then its listener, and
// removes it. A listener close failure leaves the server registered.
func (r *Registry) StopServer(ctx context.Context, id string) error {
	var opErr error
	err := r.do(ctx, func() { opErr = r.stopServer(id) })
	if err == nil {
		err = opErr
	}
	metrics.RecordServerOperation("stop", perritoerrors.TypeOf(err))
	return err
}

func (r *Registry) stopServer(id string) error {
	entry := r.lookup(id)
	if entry == nil {
		return &Error{Kind: KindNotFound, ServerID: id}
	}

	// Clients get no grace period when their server goes away.
	entry.terminateClients("server stopped")

	if err := entry.closeListener(); err != nil {
		r.logger.Error("failed to close listener", log.ServerIDKey, id, log.Error(err))
		r.publish()
		return &Error{Kind: KindCloseFailure, ServerID: id, Err: err}
	}

	r.remove(entry)
	r.logger.Info("server stopped", log.ServerIDKey, id)
	r.publish()
	return nil
}

// RestartServer stops the server and starts it again with the same name,
// host and bound port. It is not atomic: if the second start fails the
// server stays absent.
func (r *Registry) RestartServer(ctx context.Context, id string) (ServerSnapshot, error) {
	snap, err := r.restartServer(ctx, id)
	metrics.RecordServerOperation("restart", perritoerrors.TypeOf(err))
	return snap, err
}

func (r *Registry) restartServer(ctx context.Context, id string) (ServerSnapshot, error) {
	var (
		name, host string
		port       int
		opErr      error
	)
	err := r.do(ctx, func() {
		entry := r.lookup(id)
		if entry == nil {
			opErr = &Error{Kind: KindNotFound, ServerID: id}
			return
		}
		name, host, port = entry.name, entry.host, entry.port
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return ServerSnapshot{}, err
	}

	r.logger.Info("restarting server", log.ServerIDKey, id)
	if err := r.StopServer(ctx, id); err != nil {
		return ServerSnapshot{}, err
	}
	snap, err := r.StartServer(context.WithoutCancel(ctx), id, name, host, port)
	if err != nil {
		r.logger.Error("restart left server stopped", log.ServerIDKey, id, log.Error(err))
		return ServerSnapshot{}, err
	}
	return snap, nil
}

// GetServers returns a snapshot of every server in registration order.
func (r *Registry) GetServers(ctx context.Context) ([]ServerSnapshot, error) {
	var snap []ServerSnapshot
	if err := r.do(ctx, func() { snap = r.snapshot() }); err != nil {
		return nil, err
	}
	return snap, nil
}

// Shutdown closes every server and stops the reactor. It waits for the
// reactor to exit or ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.quitOnce.Do(func() { close(r.quit) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) register(id, name, host string, ln net.Listener) *serverEntry {
	entry := newServerEntry(r, id, name, host, ln)
	r.servers = append(r.servers, entry)
	entry.serve()

	metrics.SetServersActive(len(r.servers))
	r.logger.Info("server started",
		log.ServerIDKey, id,
		"name", name,
		"url", fmt.Sprintf("ws://%s", net.JoinHostPort(host, strconv.Itoa(entry.port))))
	return entry
}

func (r *Registry) remove(entry *serverEntry) {
	for i, e := range r.servers {
		if e == entry {
			r.servers = append(r.servers[:i], r.servers[i+1:]...)
			break
		}
	}
	metrics.SetServersActive(len(r.servers))
}

func (r *Registry) lookup(id string) *serverEntry {
	for _, e := range r.servers {
		if e.id == id {
			return e
		}
	}
	return nil
}

// registered reports whether entry is still the live server for its id.
// Events from a stopped server (or a previous incarnation of a restarted
// one) fail this check.
func (r *Registry) registered(entry *serverEntry) bool {
	return entry != nil && r.lookup(entry.id) == entry
}

func (r *Registry) snapshot() []ServerSnapshot {
	out := make([]ServerSnapshot, 0, len(r.servers))
	for _, e := range r.servers {
		out = append(out, e.snapshot())
	}
	return out
}

func (r *Registry) publish() {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(r.snapshot())
}

// closeAll tears down every server on reactor exit.
func (r *Registry) closeAll(reason string) {
	for _, entry := range r.servers {
		entry.terminateClients(reason)
		if err := entry.closeListener(); err != nil {
			r.logger.Warn("failed to close listener during shutdown",
				log.ServerIDKey, entry.id, log.Error(err))
		}
	}
	if len(r.servers) > 0 {
		r.servers = nil
		metrics.SetServersActive(0)
		r.publish()
	}
}
