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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/perrito/internal/client"
	"github.com/tombee/perrito/internal/control"
	pkgerrors "github.com/tombee/perrito/pkg/errors"
)

// Exit codes for perrito commands
const (
	ExitSuccess          = 0
	ExitFailure          = 1
	ExitInvalidArgs      = 2
	ExitRejected         = 3  // The daemon answered the request with an error
	ExitDaemonNotRunning = 10 // Nothing listening on the control address
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidArgsError creates an error for bad flags or arguments
func NewInvalidArgsError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidArgs,
		Message: msg,
		Cause:   cause,
	}
}

// NewRejectedError creates an error for a request the daemon refused
func NewRejectedError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitRejected,
		Message: msg,
		Cause:   cause,
	}
}

// ExitCodeFor picks the process exit code for err.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if pkgerrors.As(err, &exitErr) {
		return exitErr.Code
	}
	if client.IsDaemonNotRunning(err) {
		return ExitDaemonNotRunning
	}
	var remote *control.RemoteError
	if pkgerrors.As(err, &remote) {
		return ExitRejected
	}
	return ExitFailure
}

// HandleExitError prints err and exits with the matching code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	code := ReportError(os.Stderr, err)
	os.Exit(code)
}

// ReportError writes err, and any suggestion it carries, to w and returns
// the exit code. With --json the error is emitted as a JSON envelope on
// stdout instead.
func ReportError(w io.Writer, err error) int {
	code := ExitCodeFor(err)
	if GetJSON() {
		_ = EmitJSONError(os.Stdout, "", []JSONError{{
			Code:       mapExitCodeToErrorCode(code),
			Message:    err.Error(),
			Suggestion: suggestionFor(err),
		}})
		return code
	}

	fmt.Fprintln(w, "Error:", err.Error())
	if s := suggestionFor(err); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
	return code
}

// suggestionFor walks the error chain for a UserVisibleError suggestion.
func suggestionFor(err error) string {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				return userErr.Suggestion()
			}
			return ""
		}
		err = errors.Unwrap(err)
	}
	return ""
}
