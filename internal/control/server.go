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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tombee/perrito/internal/log"
	"github.com/tombee/perrito/internal/metrics"
	"github.com/tombee/perrito/internal/registry"
)

// TransportWebSocket names the WebSocket control transport.
const TransportWebSocket = "websocket"

// AuthHeader carries the shared control token.
const AuthHeader = "X-Auth-Token"

var (
	// ErrServerClosed is returned when operations are attempted on a closed server.
	ErrServerClosed = errors.New("control: server closed")

	// ErrNoPortAvailable is returned when no port in the configured range is available.
	ErrNoPortAvailable = errors.New("control: no port available in range")

	// ErrShutdownTimeout is returned when graceful shutdown exceeds the timeout.
	ErrShutdownTimeout = errors.New("control: shutdown timeout exceeded")

	// ErrRateLimited is returned for requests over the per-connection limit.
	ErrRateLimited = errors.New("control: request rate limit exceeded")
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	outboxSize   = 64
)

// ServerConfig configures the WebSocket control server.
type ServerConfig struct {
	// Addr, when set, is the exact address to listen on (port 0 allowed).
	// Otherwise the first free port in PortRange on 127.0.0.1 is used.
	Addr string

	// PortRange specifies the range of ports to try (inclusive).
	// Default: [9876, 9899]
	PortRange [2]int

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 5 seconds
	ShutdownTimeout time.Duration

	// AuthToken is required in the X-Auth-Token header when set.
	AuthToken string

	// RequestsPerSecond and Burst limit requests per connection.
	// Zero disables limiting.
	RequestsPerSecond float64
	Burst             int

	// Version is reported by /health.
	Version string

	// Logger is the structured logger for server events.
	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		PortRange:         [2]int{9876, 9899},
		ShutdownTimeout:   5 * time.Second,
		RequestsPerSecond: 50,
		Burst:             100,
		Version:           "dev",
		Logger:            slog.Default(),
	}
}

// Server serves the control protocol to supervisors over WebSocket. Every
// connection receives state pushes.
type Server struct {
	config     *ServerConfig
	logger     *slog.Logger
	dispatcher *Dispatcher
	snapshots  *Snapshots
	upgrader   websocket.Upgrader
	validator  *TokenValidator

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	port       int
	closed     bool

	connMu      sync.Mutex
	connections map[*websocket.Conn]struct{}
	connWG      sync.WaitGroup

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer creates a control server. snapshots may be nil to disable pushes.
func NewServer(config *ServerConfig, d *Dispatcher, snapshots *Snapshots) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if config.PortRange[0] == 0 {
		config.PortRange = [2]int{9876, 9899}
	}

	s := &Server{
		config:     config,
		logger:     log.WithComponent(config.Logger, "control-server"),
		dispatcher: d,
		snapshots:  snapshots,
		upgrader: websocket.Upgrader{
			// Only loopback supervisors connect unless remote access is
			// configured, and the token guards the rest.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		connections: make(map[*websocket.Conn]struct{}),
		shutdownCh:  make(chan struct{}),
	}
	if config.AuthToken != "" {
		s.validator = NewTokenValidator(config.AuthToken)
	}
	return s
}

// Start binds the listener and serves in the background. It returns the
// bound port. Calling Start again returns the same port.
func (s *Server) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrServerClosed
	}
	if s.httpServer != nil {
		return s.port, nil
	}

	ln, err := s.listen(ctx)
	if err != nil {
		return 0, err
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: control connections are long-lived.
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server error", log.Error(err))
		}
	}()

	s.logger.Info("control server started", "addr", ln.Addr().String())
	return s.port, nil
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	if s.config.Addr != "" {
		return lc.Listen(ctx, "tcp", s.config.Addr)
	}
	for port := s.config.PortRange[0]; port <= s.config.PortRange[1]; port++ {
		ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, nil
		}
		s.logger.Debug("port unavailable", "port", port, log.Error(err))
	}
	return nil, ErrNoPortAvailable
}

// Port returns the bound port, or 0 if not started.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Message     string `json:"message"`
	Connections int    `json:"connections"`

	// Subscribers counts attached push streams across all transports.
	Subscribers int `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	status := HealthStatus{
		Status:      "ready",
		Version:     s.config.Version,
		Message:     "perrito daemon",
		Connections: s.connectionCount(),
	}
	if s.snapshots != nil {
		status.Subscribers = s.snapshots.Len()
	}
	httpStatus := http.StatusOK
	if closed {
		status.Status = "stopping"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.validator != nil {
		token := r.Header.Get(AuthHeader)
		if err := s.validator.Validate(token, r.RemoteAddr); err != nil {
			if errors.Is(err, ErrLockedOut) {
				s.logger.Warn("authentication lockout", "remote", r.RemoteAddr)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			} else {
				s.logger.Warn("authentication failed",
					"remote", r.RemoteAddr,
					"has_token", token != "")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
			}
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, log.Error(err))
		return
	}

	s.connMu.Lock()
	s.connections[conn] = struct{}{}
	s.connMu.Unlock()

	s.connWG.Add(1)
	go s.handleConnection(conn)
}

func (s *Server) connectionCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.connections)
}

// handleConnection reads requests until the supervisor disconnects.
// Responses and pushes share one writer goroutine.
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer s.connWG.Done()

	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote)
	logger.Info("supervisor connected")

	ctx, cancel := context.WithCancel(context.Background())
	outbox := make(chan *Response, outboxSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, outbox, logger)
	}()

	var inflight sync.WaitGroup
	defer func() {
		inflight.Wait()
		cancel()
		<-writerDone

		s.connMu.Lock()
		delete(s.connections, conn)
		s.connMu.Unlock()
		conn.Close()
		logger.Info("supervisor disconnected")
	}()

	var limiter *rate.Limiter
	if s.config.RequestsPerSecond > 0 {
		burst := s.config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), burst)
	}

	respond := func(resp *Response) {
		select {
		case outbox <- resp:
		case <-writerDone:
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	meta := Meta{Transport: TransportWebSocket, RemoteAddr: remote}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("control read error", log.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if limiter != nil && !limiter.Allow() {
			req, err := DecodeRequest(frame)
			if err != nil {
				continue
			}
			metrics.RecordControlRequest("rate_limited", false)
			respond(NewErrorResponse(req.CorrelationID, ErrRateLimited))
			continue
		}

		s.dispatcher.dispatchFrame(ctx, frame, meta, &inflight, respond)
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbox <-chan *Response, logger *slog.Logger) {
	var pushes <-chan []registry.ServerSnapshot
	if s.snapshots != nil {
		sub := s.snapshots.Subscribe()
		defer sub.Close()
		pushes = sub.C()
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			logger.Debug("control write failed", log.Error(err))
			conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case resp := <-outbox:
			if !write(resp) {
				return
			}
		case servers, ok := <-pushes:
			if !ok {
				pushes = nil
				continue
			}
			if !write(NewPush(servers)) {
				return
			}
			metrics.RecordPush(TransportWebSocket)
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("ping failed", log.Error(err))
				conn.Close()
				return
			}
		}
	}
}

// Shutdown closes every supervisor connection and stops the HTTP server,
// waiting up to ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	httpServer := s.httpServer
	s.mu.Unlock()

	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		s.logger.Info("control server shutting down")

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		s.connMu.Lock()
		for conn := range s.connections {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
		}
		s.connMu.Unlock()

		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					shutdownErr = ErrShutdownTimeout
				} else {
					shutdownErr = err
				}
			}
		}

		done := make(chan struct{})
		go func() {
			s.connWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			if shutdownErr == nil {
				shutdownErr = ErrShutdownTimeout
			}
		}

		s.logger.Info("control server shutdown complete")
	})
	return shutdownErr
}
