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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tombee/perrito/internal/registry"
)

// Actions understood by the daemon.
const (
	ActionStart            = "start"
	ActionStop             = "stop"
	ActionRestart          = "restart"
	ActionGetServers       = "get-servers"
	ActionSendMessage      = "send-message"
	ActionDisconnectClient = "disconnect-client"

	// PushUpdateRenderer tags unsolicited state snapshots.
	PushUpdateRenderer = "update-renderer"
)

// ResultSuccess is the name carried by acknowledgement results.
const ResultSuccess = "SUCCESS"

var (
	// ErrInvalidMessage is returned when a frame is not a JSON object.
	ErrInvalidMessage = errors.New("control: invalid message format")

	// ErrMissingCorrelationID is returned when a request cannot be correlated.
	ErrMissingCorrelationID = errors.New("control: missing correlation ID")

	// ErrUnknownAction is returned for actions with no handler.
	ErrUnknownAction = errors.New("control: unknown action")

	// ErrInvalidParams is returned when action fields cannot be decoded.
	ErrInvalidParams = errors.New("control: invalid parameters")
)

// Request is one inbound control request. Action-specific fields sit next to
// action and correlationId in the same JSON object.
type Request struct {
	Action        string `json:"action"`
	CorrelationID string `json:"correlationId"`

	raw json.RawMessage
}

// DecodeRequest parses a request frame. Frames that are not JSON objects or
// carry no correlationId are rejected since no response could be paired
// with them.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if req.CorrelationID == "" {
		return nil, ErrMissingCorrelationID
	}
	req.raw = append(json.RawMessage(nil), data...)
	return &req, nil
}

// NewRequest builds a request with a fresh correlation ID. params must
// marshal to a JSON object (or be nil).
func NewRequest(action string, params any) (*Request, error) {
	fields := map[string]any{}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%w: params must be an object", ErrInvalidParams)
		}
	}

	req := &Request{
		Action:        action,
		CorrelationID: uuid.New().String(),
	}
	fields["action"] = req.Action
	fields["correlationId"] = req.CorrelationID

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req.raw = raw
	return req, nil
}

// Decode unmarshals the action-specific fields into v.
func (r *Request) Decode(v any) error {
	if len(r.raw) == 0 {
		return fmt.Errorf("%w: empty request", ErrInvalidParams)
	}
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// MarshalJSON returns the original frame, params included.
func (r *Request) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	type plain Request
	return json.Marshal((*plain)(r))
}

// StartParams are the fields of a start request.
type StartParams struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ServerParams are the fields of stop and restart requests.
type ServerParams struct {
	ID string `json:"id"`
}

// SendMessageParams are the fields of a send-message request.
type SendMessageParams struct {
	ServerID string `json:"serverId"`
	ClientID string `json:"clientId"`
	Message  string `json:"message"`
}

// ClientParams are the fields of a disconnect-client request.
type ClientParams struct {
	ServerID string `json:"serverId"`
	ClientID string `json:"clientId"`
}

// Result acknowledges actions that have no snapshot to return.
type Result struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func success(format string, args ...any) Result {
	return Result{Name: ResultSuccess, Message: fmt.Sprintf(format, args...)}
}

// Response resolves exactly one request. Exactly one of Data and Error is
// non-null on the wire.
type Response struct {
	CorrelationID string          `json:"correlationId"`
	Data          json.RawMessage `json:"data"`
	Error         *string         `json:"error"`
}

// NewResponse creates a successful response. A nil result is sent as an
// empty object so data is never null.
func NewResponse(correlationID string, result any) (*Response, error) {
	data := json.RawMessage(`{}`)
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		if string(b) != "null" {
			data = b
		}
	}
	return &Response{CorrelationID: correlationID, Data: data}, nil
}

// NewErrorResponse creates a rejected response carrying err's message.
func NewErrorResponse(correlationID string, err error) *Response {
	msg := err.Error()
	return &Response{CorrelationID: correlationID, Error: &msg}
}

// Push is an unsolicited full state snapshot.
type Push struct {
	Action string                    `json:"action"`
	Data   []registry.ServerSnapshot `json:"data"`
}

// NewPush wraps a snapshot for delivery.
func NewPush(servers []registry.ServerSnapshot) *Push {
	if servers == nil {
		servers = []registry.ServerSnapshot{}
	}
	return &Push{Action: PushUpdateRenderer, Data: servers}
}

// Message is any frame the daemon sends, as seen by a supervisor.
type Message struct {
	Action        string          `json:"action,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data"`
	Error         *string         `json:"error"`
}

// DecodeMessage parses a daemon frame.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &msg, nil
}

// IsPush reports whether the frame is a state push rather than a response.
func (m *Message) IsPush() bool {
	return m.Action == PushUpdateRenderer && m.CorrelationID == ""
}

// Err returns the response error, if any.
func (m *Message) Err() error {
	if m.Error == nil {
		return nil
	}
	return &RemoteError{Message: *m.Error}
}

// Servers decodes a push or get-servers payload.
func (m *Message) Servers() ([]registry.ServerSnapshot, error) {
	var servers []registry.ServerSnapshot
	if err := json.Unmarshal(m.Data, &servers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return servers, nil
}

// RemoteError is an error reported by the daemon for a request.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
