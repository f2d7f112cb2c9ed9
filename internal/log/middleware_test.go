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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestControlMiddleware_Success(t *testing.T) {
	var buf bytes.Buffer
	mw := NewControlMiddleware(New(&Config{Level: "debug", Format: FormatJSON, Output: &buf}))

	req := &ControlRequest{Action: "start", CorrelationID: "c-1", Transport: "stdio"}
	if err := mw.Handler(req, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected request and response entries, got %d", len(entries))
	}
	if entries[1]["msg"] != "control request resolved" {
		t.Errorf("msg = %v", entries[1]["msg"])
	}
	if entries[1][CorrelationIDKey] != "c-1" || entries[1][ActionKey] != "start" {
		t.Errorf("missing request fields: %v", entries[1])
	}
	if entries[1]["success"] != true {
		t.Errorf("success = %v", entries[1]["success"])
	}
}

func TestControlMiddleware_Failure(t *testing.T) {
	var buf bytes.Buffer
	mw := NewControlMiddleware(New(&Config{Level: "info", Format: FormatJSON, Output: &buf}))

	req := &ControlRequest{Action: "stop", CorrelationID: "c-2", RemoteAddr: "127.0.0.1:5000"}
	wantErr := errors.New("server with id s9 does not exist")
	if err := mw.Handler(req, func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("request log should be filtered at info, got %d entries", len(entries))
	}
	entry := entries[0]
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["error"] != wantErr.Error() {
		t.Errorf("error = %v", entry["error"])
	}
	if entry["remote"] != "127.0.0.1:5000" {
		t.Errorf("remote = %v", entry["remote"])
	}
}
