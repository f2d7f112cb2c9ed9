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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/perrito/internal/log"
	"github.com/tombee/perrito/internal/metrics"
	perritoerrors "github.com/tombee/perrito/pkg/errors"
)

// writeWait bounds a single frame or control write.
const writeWait = 10 * time.Second

type eventKind int

const (
	eventAccept eventKind = iota
	eventFrame
	eventClose
)

func (k eventKind) String() string {
	switch k {
	case eventAccept:
		return "accept"
	case eventFrame:
		return "frame"
	case eventClose:
		return "close"
	default:
		return "unknown"
	}
}

// event is emitted by listeners and sockets and consumed by the reactor.
type event struct {
	kind   eventKind
	server *serverEntry
	client *clientEntry

	// accept
	conn     *websocket.Conn
	info     ConnectionInfo
	accepted chan<- *clientEntry

	// frame
	data string
	at   time.Time

	// close
	err error
}

// clientEntry is one accepted connection. state, messages and sendClosed
// belong to the reactor; the pumps only touch conn, send and readDone.
type clientEntry struct {
	id       string
	server   *serverEntry
	registry *Registry
	logger   *slog.Logger

	conn *websocket.Conn
	info ConnectionInfo

	state      ReadyState
	messages   []Message
	send       chan string
	sendClosed bool

	readDone  chan struct{}
	closeOnce sync.Once
}

func (c *clientEntry) snapshot() ClientSnapshot {
	messages := make([]Message, len(c.messages))
	copy(messages, c.messages)
	return ClientSnapshot{
		ID:         c.id,
		Request:    c.info,
		ReadyState: c.state,
		Messages:   messages,
	}
}

func (r *Registry) handleEvent(ev event) {
	log.Trace(r.logger, "socket event", slog.String("kind", ev.kind.String()))
	switch ev.kind {
	case eventAccept:
		ev.accepted <- r.acceptClient(ev.server, ev.conn, ev.info)
	case eventFrame:
		r.receiveFrame(ev.client, ev.data, ev.at)
	case eventClose:
		r.clientClosed(ev.client, ev.err)
	}
}

// acceptClient registers a new client, or returns nil if its server has
// been stopped in the meantime.
func (r *Registry) acceptClient(entry *serverEntry, conn *websocket.Conn, info ConnectionInfo) *clientEntry {
	if !r.registered(entry) {
		return nil
	}

	entry.created++
	id := fmt.Sprintf("Client_%d", entry.created)
	c := &clientEntry{
		id:       id,
		server:   entry,
		registry: r,
		logger:   log.WithClient(r.logger, entry.id, id),
		conn:     conn,
		info:     info,
		state:    Open,
		send:     make(chan string, r.sendQueueSize),
		readDone: make(chan struct{}),
	}
	entry.clients = append(entry.clients, c)

	metrics.RecordClientAccepted()
	c.logger.Info("client connected", "path", info.Path, "remote", conn.RemoteAddr().String())
	r.publish()
	return c
}

func (r *Registry) receiveFrame(c *clientEntry, data string, at time.Time) {
	c.messages = append(c.messages, Message{
		Timestamp: at.UnixMilli(),
		Data:      data,
		Direction: Inbound,
	})
	metrics.RecordMessage(string(Inbound))
	log.Trace(c.logger, "frame received", slog.Int("size", len(data)))

	if r.registered(c.server) {
		r.publish()
	}
}

func (r *Registry) clientClosed(c *clientEntry, err error) {
	if c.state == Closed {
		return
	}
	c.state = Closed
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
	c.logger.Info("client disconnected", slog.Any("reason", err))

	if r.registered(c.server) {
		r.publish()
	}
}

// SendMessage queues payload for the client and records it as outbound.
// Delivery is best-effort: the client may close after the readyState check.
func (r *Registry) SendMessage(ctx context.Context, serverID, clientID, payload string) error {
	var opErr error
	err := r.do(ctx, func() { opErr = r.sendMessage(serverID, clientID, payload) })
	if err == nil {
		err = opErr
	}
	metrics.RecordServerOperation("send", perritoerrors.TypeOf(err))
	return err
}

func (r *Registry) sendMessage(serverID, clientID, payload string) error {
	c, err := r.findClient(serverID, clientID)
	if err != nil {
		return err
	}
	if c.state != Open {
		return &Error{Kind: KindClientNotOpen, ServerID: serverID, ClientID: clientID}
	}

	select {
	case c.send <- payload:
	default:
		// The peer stopped reading, so it would never see a close frame either.
		c.logger.Warn("outbound queue full, disconnecting client")
		c.state = Closing
		c.closeConn()
		r.publish()
		return &Error{Kind: KindClientNotOpen, ServerID: serverID, ClientID: clientID, Err: errSendQueueFull}
	}

	c.messages = append(c.messages, Message{
		Timestamp: r.now().UnixMilli(),
		Data:      payload,
		Direction: Outbound,
	})
	metrics.RecordMessage(string(Outbound))
	r.publish()
	return nil
}

// DisconnectClient starts a close handshake with the client. The snapshot
// pushed immediately shows CLOSING; CLOSED follows once the socket is gone.
func (r *Registry) DisconnectClient(ctx context.Context, serverID, clientID string) error {
	var opErr error
	err := r.do(ctx, func() { opErr = r.disconnectClient(serverID, clientID) })
	if err == nil {
		err = opErr
	}
	metrics.RecordServerOperation("disconnect", perritoerrors.TypeOf(err))
	return err
}

func (r *Registry) disconnectClient(serverID, clientID string) error {
	c, err := r.findClient(serverID, clientID)
	if err != nil {
		return err
	}
	if c.state == Open || c.state == Connecting {
		c.state = Closing
		c.closeGracefully(websocket.CloseNormalClosure, "", r.closeGracePeriod)
		c.logger.Info("client disconnect requested")
	}
	r.publish()
	return nil
}

func (r *Registry) findClient(serverID, clientID string) (*clientEntry, error) {
	entry := r.lookup(serverID)
	if entry == nil {
		return nil, &Error{Kind: KindNotFound, ServerID: serverID}
	}
	c := entry.client(clientID)
	if c == nil {
		return nil, &Error{Kind: KindClientNotFound, ServerID: serverID, ClientID: clientID}
	}
	return c, nil
}

// readPump forwards inbound frames to the reactor until the socket fails,
// then reports the close.
func (c *clientEntry) readPump() {
	var readErr error
	defer func() {
		c.closeConn()
		close(c.readDone)
		c.registry.post(event{kind: eventClose, server: c.server, client: c, err: readErr})
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read error", log.Error(err))
			}
			readErr = err
			return
		}
		at := c.registry.now()
		if !c.registry.post(event{kind: eventFrame, server: c.server, client: c, data: string(data), at: at}) {
			readErr = ErrClosed
			return
		}
	}
}

// writePump drains the outbound queue until the reactor closes it.
func (c *clientEntry) writePump() {
	failed := false
	for payload := range c.send {
		if failed {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			c.logger.Debug("websocket write failed", log.Error(err))
			failed = true
			c.closeConn()
		}
	}
}

// closeGracefully sends a close frame and gives the peer gracePeriod to
// answer before dropping the socket. The whole handshake, including waiting
// on a writer stuck behind a slow peer, is bounded by gracePeriod.
func (c *clientEntry) closeGracefully(code int, reason string, gracePeriod time.Duration) {
	go func() {
		start := time.Now()
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, start.Add(min(writeWait, gracePeriod))); err != nil {
			c.closeConn()
			return
		}
		timer := time.NewTimer(gracePeriod - time.Since(start))
		defer timer.Stop()
		select {
		case <-c.readDone:
		case <-timer.C:
			c.logger.Debug("close handshake timed out")
		}
		c.closeConn()
	}()
}

// terminate sends a best-effort close frame and drops the socket at once.
func (c *clientEntry) terminate(reason string) {
	go func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeConn()
	}()
}

func (c *clientEntry) closeConn() {
	c.closeOnce.Do(func() { c.conn.Close() })
}
