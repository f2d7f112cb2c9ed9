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

package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tombee/perrito/internal/log"
	"github.com/tombee/perrito/internal/metrics"
	"github.com/tombee/perrito/internal/registry"
)

// Registry is the set of operations the control protocol exposes.
// *registry.Registry implements it.
type Registry interface {
	StartServer(ctx context.Context, id, name, host string, port int) (registry.ServerSnapshot, error)
	StopServer(ctx context.Context, id string) error
	RestartServer(ctx context.Context, id string) (registry.ServerSnapshot, error)
	GetServers(ctx context.Context) ([]registry.ServerSnapshot, error)
	SendMessage(ctx context.Context, serverID, clientID, payload string) error
	DisconnectClient(ctx context.Context, serverID, clientID string) error
}

// Handler resolves one request. The returned value becomes the response data.
type Handler func(ctx context.Context, req *Request) (any, error)

// Dispatcher routes requests to handlers by action.
type Dispatcher struct {
	logger     *slog.Logger
	middleware *log.ControlMiddleware

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates a dispatcher with handlers for every action backed
// by reg.
func NewDispatcher(reg Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "control")

	d := &Dispatcher{
		logger:     logger,
		middleware: log.NewControlMiddleware(logger),
		handlers:   make(map[string]Handler),
	}
	registerHandlers(d, reg)
	return d
}

// Register sets the handler for action, replacing any existing one.
func (d *Dispatcher) Register(action string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = h
}

func (d *Dispatcher) lookup(action string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[action]
	return h, ok
}

// Meta describes where a request came from.
type Meta struct {
	Transport  string
	RemoteAddr string
}

// Handle runs req to completion and always returns a response for it.
// Unknown actions and handler panics are reported as errors.
func (d *Dispatcher) Handle(ctx context.Context, req *Request, meta Meta) *Response {
	h, ok := d.lookup(req.Action)

	var data any
	err := d.middleware.Handler(&log.ControlRequest{
		Action:        req.Action,
		CorrelationID: req.CorrelationID,
		Transport:     meta.Transport,
		RemoteAddr:    meta.RemoteAddr,
	}, func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("internal error handling %s: %v", req.Action, p)
				log.WithCorrelationID(d.logger, req.CorrelationID).Error("recovered panic in control handler",
					log.ActionKey, req.Action,
					slog.Any("panic", p))
			}
		}()
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
		}
		data, err = h(ctx, req)
		return err
	})

	action := req.Action
	if !ok {
		action = "unknown"
	}
	metrics.RecordControlRequest(action, err == nil)

	if err != nil {
		return NewErrorResponse(req.CorrelationID, err)
	}
	resp, err := NewResponse(req.CorrelationID, data)
	if err != nil {
		return NewErrorResponse(req.CorrelationID, err)
	}
	return resp
}

// dispatchFrame decodes one inbound frame and resolves it in the background.
// respond is called exactly once for every frame that can be correlated;
// other frames are logged and dropped.
func (d *Dispatcher) dispatchFrame(ctx context.Context, frame []byte, meta Meta, wg *sync.WaitGroup, respond func(*Response)) {
	req, err := DecodeRequest(frame)
	if err != nil {
		d.logger.Warn("dropping uncorrelated control frame",
			log.TransportKey, meta.Transport,
			slog.Int("size", len(frame)),
			log.Error(err))
		return
	}

	// Once dispatched a request runs to completion.
	ctx = context.WithoutCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		respond(d.Handle(ctx, req, meta))
	}()
}
