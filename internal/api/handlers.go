// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pawlink/pawlink/internal/config"
	"github.com/pawlink/pawlink/internal/liveness"
	"github.com/pawlink/pawlink/internal/logging"
	"github.com/pawlink/pawlink/internal/registry"
	"github.com/pawlink/pawlink/internal/relay"
	"github.com/pawlink/pawlink/internal/telemetry"
)

// Handler contains dependencies for API handlers.
type Handler struct {
	config     *config.Config
	hub        *registry.Hub
	tracker    *liveness.Tracker
	dispatcher *relay.Dispatcher
	startTime  time.Time
}

// NewHandler creates a new API handler.
func NewHandler(cfg *config.Config, hub *registry.Hub, tracker *liveness.Tracker, dispatcher *relay.Dispatcher) *Handler {
	return &Handler{
		config:     cfg,
		hub:        hub,
		tracker:    tracker,
		dispatcher: dispatcher,
		startTime:  time.Now(),
	}
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout for protection against slow client attacks.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Collars and other non-browser clients omit the Origin header; only
	// browser connections carry one and get checked against the allowlist.
	if origin == "" {
		return true
	}

	// If config is nil, allow by default (fail open for tests/development)
	if h.config == nil {
		return true
	}

	for _, allowedOrigin := range h.config.Security.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// parseRole maps the role query parameter to a connection role. Absent
// means viewer; collars identify themselves explicitly.
func parseRole(r *http.Request) (registry.Role, bool) {
	switch r.URL.Query().Get("role") {
	case "", "viewer":
		return registry.RoleViewer, true
	case "device":
		return registry.RoleDevice, true
	default:
		return "", false
	}
}

// WebSocket upgrades the connection and registers it with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		logging.Warn().Msg("websocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "WebSocket service unavailable", nil)
		return
	}

	role, ok := parseRole(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "role must be device or viewer", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade error")
		return
	}

	var heartbeat time.Duration
	var maxMessageSize int64
	if h.config != nil {
		heartbeat = h.config.Relay.HeartbeatInterval
		maxMessageSize = h.config.Relay.MaxMessageSize
	}

	client := registry.NewClient(h.hub, conn, role, heartbeat, maxMessageSize)
	h.hub.Register <- client
	client.Start()
}

// EntityStatus combines liveness state with the entity's last frame.
type EntityStatus struct {
	liveness.Record
	LastFrame *telemetry.Frame `json:"lastFrame,omitempty"`
}

// Entities returns the status of every tracked entity.
func (h *Handler) Entities(w http.ResponseWriter, r *http.Request) {
	records := h.tracker.Snapshot()
	statuses := make([]EntityStatus, 0, len(records))
	for _, rec := range records {
		status := EntityStatus{Record: rec}
		if frame, ok := h.dispatcher.LatestFrame(rec.EntityID); ok {
			status.LastFrame = frame
		}
		statuses = append(statuses, status)
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     statuses,
		Metadata: Metadata{Timestamp: time.Now()},
	})
}

// Entity returns the status of one entity.
func (h *Handler) Entity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	rec, ok := h.tracker.Status(entityID)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "unknown entity", nil)
		return
	}

	status := EntityStatus{Record: rec}
	if frame, found := h.dispatcher.LatestFrame(entityID); found {
		status.LastFrame = frame
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     status,
		Metadata: Metadata{Timestamp: time.Now()},
	})
}

// Health reports overall service health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	tracked, online := h.tracker.Count()

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status":           "healthy",
			"uptime":           time.Since(h.startTime).Seconds(),
			"connections":      h.hub.ClientCount(),
			"devices":          h.hub.ClientCountByRole(registry.RoleDevice),
			"viewers":          h.hub.ClientCountByRole(registry.RoleViewer),
			"entities_tracked": tracked,
			"entities_online":  online,
		},
		Metadata: Metadata{Timestamp: time.Now()},
	})
}

// HealthLive handles liveness probe requests (Kubernetes-style).
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.startTime).Seconds(),
		},
		Metadata: Metadata{Timestamp: time.Now()},
	})
}

// HealthReady handles readiness probe requests. The relay is ready once
// the hub accepts registrations, which it does from startup; readiness
// exists as a separate probe for orchestration parity.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ready := h.hub != nil

	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	respondJSON(w, statusCode, &APIResponse{
		Status: status,
		Data: map[string]interface{}{
			"ready_to_serve": ready,
			"uptime":         time.Since(h.startTime).Seconds(),
		},
		Metadata: Metadata{Timestamp: time.Now()},
	})
}
