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

/*
Package control implements the daemon's supervisor-facing control protocol.

A supervisor sends requests and receives exactly one response per request,
paired by correlation ID. State pushes arrive unsolicited whenever the
registry changes.

# Protocol

Requests are flat JSON objects:

	{"action": "start", "correlationId": "c1", "id": "s1", "name": "My Server", "host": "127.0.0.1", "port": 9001}

Responses carry either data or error, never both:

	{"correlationId": "c1", "data": {"id": "s1", ...}, "error": null}
	{"correlationId": "c2", "data": null, "error": "server with id s1 already exists"}

Pushes carry no correlation ID:

	{"action": "update-renderer", "data": [{"id": "s1", "clients": [...]}]}

Actions: start, stop, restart, get-servers, send-message, disconnect-client.

# Transports

Stdio serves one JSON document per line on a reader/writer pair; EOF on the
reader means the supervisor is gone. Server serves the same protocol on /ws
and adds /health and /metrics. Requests are resolved concurrently, so
responses may arrive out of order.
*/
package control
