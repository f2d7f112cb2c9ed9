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

// Package metrics exposes Prometheus instruments for the daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	serversActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perrito_servers_active",
			Help: "Number of managed WebSocket servers currently registered",
		},
	)

	serverOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perrito_server_operations_total",
			Help: "Registry operations by operation and outcome (error outcomes carry the error type)",
		},
		[]string{"operation", "outcome"},
	)

	clientsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perrito_clients_accepted_total",
			Help: "Total WebSocket clients accepted across all managed servers",
		},
	)

	messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perrito_messages_total",
			Help: "Messages recorded on managed clients by direction",
		},
		[]string{"direction"},
	)

	controlRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perrito_control_requests_total",
			Help: "Control protocol requests by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	pushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perrito_pushes_total",
			Help: "State snapshots delivered to supervisors by transport",
		},
		[]string{"transport"},
	)
)

// SetServersActive records the current number of registered servers.
func SetServersActive(n int) {
	serversActive.Set(float64(n))
}

// RecordServerOperation counts a registry operation.
// operation is one of start, stop, restart, send, disconnect.
// errorType is empty on success, otherwise the classifier type of the error.
func RecordServerOperation(operation, errorType string) {
	outcome := OutcomeSuccess
	if errorType != "" {
		outcome = errorType
	}
	serverOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordClientAccepted counts an accepted client connection.
func RecordClientAccepted() {
	clientsAccepted.Inc()
}

// RecordMessage counts a message appended to a client's history.
func RecordMessage(direction string) {
	messages.WithLabelValues(direction).Inc()
}

// RecordControlRequest counts a resolved control request.
func RecordControlRequest(action string, success bool) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
	}
	controlRequests.WithLabelValues(action, outcome).Inc()
}

// RecordPush counts a snapshot written to a supervisor.
func RecordPush(transport string) {
	pushes.WithLabelValues(transport).Inc()
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
