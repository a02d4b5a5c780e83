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

package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// discoveryCycles counts completed discovery passes over the registry.
	discoveryCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capbridge_discovery_cycles_total",
			Help: "Total discovery passes over the server registry",
		},
	)

	// discoveryFailures counts failed probes by server.
	discoveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capbridge_discovery_failures_total",
			Help: "Total failed discovery probes by server",
		},
		[]string{"server"},
	)

	// invocations counts tool invocations by mode and outcome.
	invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capbridge_invocations_total",
			Help: "Total tool invocations by mode (sync/async) and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// connectionsOpen tracks the number of open duplex channels.
	connectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capbridge_connections_open",
			Help: "Number of currently open duplex channels",
		},
	)

	// pendingRequests tracks outstanding asynchronous invocations.
	pendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capbridge_pending_requests",
			Help: "Number of asynchronous invocations awaiting results",
		},
	)

	// heartbeatsSent counts keep-alives sent by server.
	heartbeatsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capbridge_heartbeats_sent_total",
			Help: "Total keep-alive messages sent by server",
		},
		[]string{"server"},
	)
)

// recordInvocation increments the invocation counter.
func recordInvocation(mode string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	invocations.WithLabelValues(mode, outcome).Inc()
}
