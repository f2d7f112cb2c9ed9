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
)

// Kind classifies registry failures.
type Kind string

const (
	KindInvalidConfig  Kind = "invalid_config"
	KindAlreadyExists  Kind = "already_exists"
	KindNotFound       Kind = "not_found"
	KindClientNotFound Kind = "client_not_found"
	KindBindFailure    Kind = "bind_failure"
	KindCloseFailure   Kind = "close_failure"
	KindClientNotOpen  Kind = "client_not_open"
)

var (
	ErrInvalidConfig  = errors.New("registry: invalid server configuration")
	ErrAlreadyExists  = errors.New("registry: server already exists")
	ErrNotFound       = errors.New("registry: server not found")
	ErrClientNotFound = errors.New("registry: client not found")
	ErrBindFailure    = errors.New("registry: bind failed")
	ErrCloseFailure   = errors.New("registry: close failed")
	ErrClientNotOpen  = errors.New("registry: client not open")

	// ErrClosed is returned when the reactor is no longer running.
	ErrClosed = errors.New("registry: closed")

	errSendQueueFull = errors.New("outbound queue full")
)

var sentinels = map[Kind]error{
	KindInvalidConfig:  ErrInvalidConfig,
	KindAlreadyExists:  ErrAlreadyExists,
	KindNotFound:       ErrNotFound,
	KindClientNotFound: ErrClientNotFound,
	KindBindFailure:    ErrBindFailure,
	KindCloseFailure:   ErrCloseFailure,
	KindClientNotOpen:  ErrClientNotOpen,
}

// Error is returned by every registry operation that fails.
// errors.Is matches both the Kind sentinel and the underlying cause.
type Error struct {
	Kind     Kind
	ServerID string
	ClientID string
	Err      error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindInvalidConfig:
		msg = "invalid server configuration"
	case KindAlreadyExists:
		msg = fmt.Sprintf("server with id %s already exists", e.ServerID)
	case KindNotFound:
		msg = fmt.Sprintf("server with id %s does not exist", e.ServerID)
	case KindClientNotFound:
		msg = fmt.Sprintf("client with id %s not found on server %s", e.ClientID, e.ServerID)
	case KindBindFailure:
		msg = fmt.Sprintf("failed to start server %s", e.ServerID)
	case KindCloseFailure:
		msg = fmt.Sprintf("failed to stop server %s", e.ServerID)
	case KindClientNotOpen:
		msg = fmt.Sprintf("client with id %s is not connected", e.ClientID)
	default:
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the sentinel for Kind and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ErrorType implements errors.ErrorClassifier.
func (e *Error) ErrorType() string {
	return string(e.Kind)
}

// IsRetryable implements errors.ErrorClassifier. Only a stale client state is
// worth retrying after the caller refreshes its view.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindClientNotOpen
}

// KindOf returns the Kind of a registry error, or "" if err is not one.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}
