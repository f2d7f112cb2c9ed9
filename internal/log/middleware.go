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

package log

import (
	"context"
	"log/slog"
	"time"
)

// ControlRequest describes a control protocol request for logging purposes.
type ControlRequest struct {
	// Action is the control action (start, stop, get-servers, ...).
	Action string

	// CorrelationID pairs the request with its response.
	CorrelationID string

	// Transport is the supervisor transport the request arrived on.
	Transport string

	// RemoteAddr is the remote address of the supervisor, if any.
	RemoteAddr string
}

// ControlResponse describes the outcome of a control request.
type ControlResponse struct {
	// Success indicates whether the request was resolved with data.
	Success bool

	// Error is the error message if the request was rejected.
	Error string

	// DurationMs is the time from dispatch to resolution.
	DurationMs int64
}

func (r *ControlRequest) attrs() []any {
	attrs := []any{
		ActionKey, r.Action,
		CorrelationIDKey, r.CorrelationID,
	}
	if r.Transport != "" {
		attrs = append(attrs, TransportKey, r.Transport)
	}
	if r.RemoteAddr != "" {
		attrs = append(attrs, "remote", r.RemoteAddr)
	}
	return attrs
}

// LogControlRequest logs an incoming control request at debug level.
// get-servers is polled frequently so requests are not logged at info.
func LogControlRequest(logger *slog.Logger, req *ControlRequest) {
	logger.Debug("control request received", req.attrs()...)
}

// LogControlResponse logs the resolution of a control request.
func LogControlResponse(logger *slog.Logger, req *ControlRequest, resp *ControlResponse) {
	attrs := append(req.attrs(),
		"success", resp.Success,
		DurationKey, resp.DurationMs,
	)
	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error)
	}

	level := slog.LevelInfo
	message := "control request resolved"
	if !resp.Success {
		level = slog.LevelWarn
		message = "control request rejected"
	}

	logger.Log(context.Background(), level, message, attrs...)
}

// ControlMiddleware wraps control handlers with request/response logging.
type ControlMiddleware struct {
	logger *slog.Logger
}

// NewControlMiddleware creates a new control logging middleware.
func NewControlMiddleware(logger *slog.Logger) *ControlMiddleware {
	return &ControlMiddleware{
		logger: logger,
	}
}

// Handler logs req, runs handler, then logs the outcome.
func (m *ControlMiddleware) Handler(req *ControlRequest, handler func() error) error {
	start := time.Now()

	LogControlRequest(m.logger, req)

	err := handler()

	resp := &ControlResponse{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	LogControlResponse(m.logger, req, resp)

	return err
}
