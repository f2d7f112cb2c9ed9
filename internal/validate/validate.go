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

// Package validate checks the identity and address of a managed server
// before any listener is bound.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	perritoerrors "github.com/tombee/perrito/pkg/errors"
)

// Port bounds accepted for a managed server. Port 0 asks the OS for a free port.
const (
	MinPort = 0
	MaxPort = 65535
)

var (
	idPattern   = regexp.MustCompile(`^[a-z0-9-]+$`)
	namePattern = regexp.MustCompile(`^[A-Za-z0-9\s]+$`)
	hostPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+$`)

	slugStrip = regexp.MustCompile(`[^a-z0-9-]+`)
	slugDash  = regexp.MustCompile(`-{2,}`)
)

// ServerSpec checks id, name, host and port in that order and returns a
// *errors.ValidationError naming the first offending field.
func ServerSpec(id, name, host string, port int) error {
	if err := ID(id); err != nil {
		return err
	}
	if err := Name(name); err != nil {
		return err
	}
	if err := Host(host); err != nil {
		return err
	}
	return Port(port)
}

// ID checks a server identifier.
func ID(id string) error {
	return matchField("id", id, idPattern, "lowercase letters, digits and dashes")
}

// Name checks a server display name.
func Name(name string) error {
	return matchField("name", name, namePattern, "letters, digits and spaces")
}

// Host checks a listen host. Only the character class is checked; resolution
// happens at bind time.
func Host(host string) error {
	return matchField("host", host, hostPattern, "letters, digits, dots and dashes")
}

// Port checks that port is within [MinPort, MaxPort].
func Port(port int) error {
	if port < MinPort || port > MaxPort {
		return &perritoerrors.ValidationError{
			Field:      "port",
			Message:    fmt.Sprintf("must be between %d and %d, got %d", MinPort, MaxPort, port),
			Suggestion: "Pick a port in range, or 0 for any free port",
		}
	}
	return nil
}

func matchField(field, value string, pattern *regexp.Regexp, allowed string) error {
	if value == "" {
		return &perritoerrors.ValidationError{
			Field:   field,
			Message: "must not be empty",
		}
	}
	if !pattern.MatchString(value) {
		return &perritoerrors.ValidationError{
			Field:      field,
			Message:    fmt.Sprintf("%q contains invalid characters", value),
			Suggestion: "Use only " + allowed,
		}
	}
	return nil
}

// SlugID derives a valid server id from a display name, e.g. "My Server" -> "my-server".
// Returns an empty string when nothing usable remains.
func SlugID(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), "-")
	s = slugStrip.ReplaceAllString(s, "")
	s = slugDash.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
