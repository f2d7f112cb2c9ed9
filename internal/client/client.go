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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/perrito/internal/control"
	"github.com/tombee/perrito/internal/log"
	"github.com/tombee/perrito/internal/registry"
)

var (
	// ErrClosed is returned by calls made after the connection ended.
	ErrClosed = errors.New("client: connection closed")

	// ErrUnauthorized is returned when the daemon rejects the token.
	ErrUnauthorized = errors.New("client: authentication failed")
)

const writeWait = 10 * time.Second

// Client is a control connection to perritod. It is safe for concurrent use.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *control.Message
	err     error

	updates   chan []registry.ServerSnapshot
	done      chan struct{}
	closeOnce sync.Once
}

type options struct {
	token   string
	logger  *slog.Logger
	dialer  *websocket.Dialer
	timeout time.Duration
}

// Option configures Dial.
type Option func(*options)

// WithToken sends token in the auth header.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithLogger sets the logger for dropped frames.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithHandshakeTimeout bounds the opening handshake. Default: 5s
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Dial connects to the control endpoint at addr (host:port).
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := options{logger: slog.Default(), timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	dialer := o.dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: o.timeout}
	}

	header := http.Header{}
	if o.token != "" {
		header.Set(control.AuthHeader, o.token)
	}

	conn, resp, err := dialer.DialContext(ctx, "ws://"+addr+"/ws", header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, ErrUnauthorized
			case http.StatusTooManyRequests:
				return nil, fmt.Errorf("%w: too many failed attempts", ErrUnauthorized)
			}
		}
		if isConnRefused(err) {
			return nil, &DaemonNotRunningError{Addr: addr, Err: err}
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := &Client{
		conn:    conn,
		logger:  log.WithComponent(o.logger, "control-client"),
		pending: make(map[string]chan *control.Message),
		updates: make(chan []registry.ServerSnapshot, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Updates delivers state pushes. Only the newest undelivered snapshot is
// kept. The channel closes when the connection ends.
func (c *Client) Updates() <-chan []registry.ServerSnapshot {
	return c.updates
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

// Call sends action with params and decodes the response data into out,
// which may be nil. Daemon-side failures come back as *control.RemoteError.
func (c *Client) Call(ctx context.Context, action string, params, out any) error {
	req, err := control.NewRequest(action, params)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	ch := make(chan *control.Message, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[req.CorrelationID] = ch
	c.mu.Unlock()
	defer c.forget(req.CorrelationID)

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.shutdown(err)
		return fmt.Errorf("failed to send %s request: %w", action, err)
	}

	select {
	case msg := <-ch:
		if err := msg.Err(); err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", action, err)
		}
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartServer starts a managed server.
func (c *Client) StartServer(ctx context.Context, p control.StartParams) (registry.ServerSnapshot, error) {
	var snap registry.ServerSnapshot
	err := c.Call(ctx, control.ActionStart, p, &snap)
	return snap, err
}

// StopServer stops a managed server.
func (c *Client) StopServer(ctx context.Context, id string) (control.Result, error) {
	var res control.Result
	err := c.Call(ctx, control.ActionStop, control.ServerParams{ID: id}, &res)
	return res, err
}

// RestartServer rebinds a managed server on its address.
func (c *Client) RestartServer(ctx context.Context, id string) (registry.ServerSnapshot, error) {
	var snap registry.ServerSnapshot
	err := c.Call(ctx, control.ActionRestart, control.ServerParams{ID: id}, &snap)
	return snap, err
}

// GetServers lists every managed server.
func (c *Client) GetServers(ctx context.Context) ([]registry.ServerSnapshot, error) {
	var servers []registry.ServerSnapshot
	err := c.Call(ctx, control.ActionGetServers, nil, &servers)
	return servers, err
}

// SendMessage sends a text frame to one client of a managed server.
func (c *Client) SendMessage(ctx context.Context, serverID, clientID, message string) (control.Result, error) {
	var res control.Result
	err := c.Call(ctx, control.ActionSendMessage, control.SendMessageParams{
		ServerID: serverID,
		ClientID: clientID,
		Message:  message,
	}, &res)
	return res, err
}

// DisconnectClient closes one client of a managed server.
func (c *Client) DisconnectClient(ctx context.Context, serverID, clientID string) (control.Result, error) {
	var res control.Result
	err := c.Call(ctx, control.ActionDisconnectClient, control.ClientParams{
		ServerID: serverID,
		ClientID: clientID,
	}, &res)
	return res, err
}

// readLoop is the only sender on updates and closes it on exit.
func (c *Client) readLoop() {
	defer close(c.updates)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = ErrClosed
			}
			c.shutdown(err)
			return
		}

		msg, err := control.DecodeMessage(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", log.Error(err))
			continue
		}
		if msg.IsPush() {
			servers, err := msg.Servers()
			if err != nil {
				c.logger.Warn("dropping malformed push", log.Error(err))
				continue
			}
			c.deliver(servers)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.CorrelationID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response for unknown request", log.CorrelationIDKey, msg.CorrelationID)
			continue
		}
		ch <- msg
	}
}

// deliver replaces any snapshot the reader has not taken yet.
func (c *Client) deliver(servers []registry.ServerSnapshot) {
	select {
	case <-c.updates:
	default:
	}
	c.updates <- servers
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()
		c.conn.Close()
		close(c.done)
	})
}
