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
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/perrito/internal/client"
	"github.com/tombee/perrito/internal/control"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "plain", err: errors.New("boom"), want: ExitFailure},
		{name: "invalid args", err: NewInvalidArgsError("bad flag", nil), want: ExitInvalidArgs},
		{name: "rejected", err: NewRejectedError("refused", nil), want: ExitRejected},
		{name: "remote error", err: fmt.Errorf("stop: %w", &control.RemoteError{Message: "nope"}), want: ExitRejected},
		{name: "daemon not running", err: &client.DaemonNotRunningError{Addr: "127.0.0.1:9876"}, want: ExitDaemonNotRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("cause")
	err := NewInvalidArgsError("bad port", cause)
	assert.Equal(t, "bad port: cause", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad port", NewInvalidArgsError("bad port", nil).Error())
}

func TestReportError_Suggestion(t *testing.T) {
	var buf bytes.Buffer
	code := ReportError(&buf, fmt.Errorf("connect: %w", &client.DaemonNotRunningError{Addr: "127.0.0.1:9876"}))

	assert.Equal(t, ExitDaemonNotRunning, code)
	assert.Contains(t, buf.String(), "Error: connect: perrito daemon is not running")
	assert.Contains(t, buf.String(), "Suggestion: start it with 'perrito daemon start'")
}

func TestReportError_NoSuggestion(t *testing.T) {
	var buf bytes.Buffer
	code := ReportError(&buf, errors.New("boom"))

	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "Error: boom\n", buf.String())
}
