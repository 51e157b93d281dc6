// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

// Package metrics provides Prometheus instrumentation for the relay:
// connection counts, frame throughput, decode failures, and liveness
// transitions. Collectors register themselves via promauto and are exposed
// on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection Registry Metrics
	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Current number of WebSocket connections by role",
		},
		[]string{"role"}, // "device", "viewer"
	)

	WSBroadcastDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_broadcast_drops_total",
			Help: "Total messages dropped because a recipient send buffer was full",
		},
	)

	WSClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_clients_evicted_total",
			Help: "Total clients evicted for unresponsive send buffers",
		},
	)

	// Relay Pipeline Metrics
	FramesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_frames_relayed_total",
			Help: "Total validated telemetry frames rebroadcast to viewers",
		},
	)

	FrameDecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_decode_errors_total",
			Help: "Total inbound frames dropped for failing decode or validation",
		},
		[]string{"reason"}, // "syntax", "missing_field", "invalid_value"
	)

	RouteBatchesForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "route_batches_forwarded_total",
			Help: "Total historical route batches forwarded without liveness side effects",
		},
	)

	// Liveness Tracker Metrics
	LivenessTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveness_transitions_total",
			Help: "Total edge-triggered liveness transitions by kind",
		},
		[]string{"kind"}, // "first_seen", "became_online", "became_offline"
	)

	EntitiesOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entities_online",
			Help: "Current number of tracked entities considered online",
		},
	)

	EntitiesTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entities_tracked",
			Help: "Current number of entities with any recorded sighting",
		},
	)
)
