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
	"net/http"
	"strings"
)

// ReadyState mirrors the WebSocket readyState of a client socket.
// It serializes as its numeric value, the same encoding browsers use.
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

// String returns the readyState name.
func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Direction tells whether a message was received from or sent to a client.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Message is one frame of traffic on a client.
type Message struct {
	// Timestamp is milliseconds since the Unix epoch at send/receive time.
	Timestamp int64     `json:"timestamp"`
	Data      string    `json:"data"`
	Direction Direction `json:"direction"`
}

// ConnectionInfo is captured once when a client is accepted.
type ConnectionInfo struct {
	// Headers uses lowercase names; repeated headers are joined with ", ".
	Headers map[string]string `json:"headers"`
	Path    string            `json:"path"`
	Host    string            `json:"host"`
	Port    int               `json:"port"`
}

// ClientSnapshot is the transport-free view of a client.
type ClientSnapshot struct {
	ID         string         `json:"id"`
	Request    ConnectionInfo `json:"request"`
	ReadyState ReadyState     `json:"readyState"`
	Messages   []Message      `json:"messages"`
}

// ServerSnapshot is the transport-free view of a managed server.
type ServerSnapshot struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Host    string           `json:"host"`
	Port    int              `json:"port"`
	Clients []ClientSnapshot `json:"clients"`
}

// Client returns the client with the given id.
func (s ServerSnapshot) Client(id string) (ClientSnapshot, bool) {
	for _, c := range s.Clients {
		if c.ID == id {
			return c, true
		}
	}
	return ClientSnapshot{}, false
}

// FindServer returns the server with the given id from a snapshot list.
func FindServer(servers []ServerSnapshot, id string) (ServerSnapshot, bool) {
	for _, s := range servers {
		if s.ID == id {
			return s, true
		}
	}
	return ServerSnapshot{}, false
}

// Publisher receives a full snapshot after every registry mutation.
// Implementations must not block.
type Publisher interface {
	Publish(servers []ServerSnapshot)
}

func flattenHeaders(h http.Header, host string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	if host != "" {
		out["host"] = host
	}
	return out
}
