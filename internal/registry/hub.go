// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

// Package registry maintains the set of live WebSocket connections and
// fans messages out to them.
//
// Every connection carries a role (device or viewer) assigned at upgrade
// time. Broadcasts can exclude the sender and filter by role, so device
// frames reach every connection except the producing collar. A slow
// recipient never blocks the others: sends are non-blocking and a
// connection with a full buffer is evicted.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/pawlink/pawlink/internal/logging"
	"github.com/pawlink/pawlink/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	// This is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Role classifies a connection at upgrade time.
type Role string

const (
	// RoleDevice is a telemetry producer (a collar).
	RoleDevice Role = "device"

	// RoleViewer is a telemetry consumer (a dashboard or app).
	RoleViewer Role = "viewer"
)

// Message types for WebSocket communication
const (
	MessageTypeTelemetry     = "telemetry"
	MessageTypeStatusChanged = "status_changed"
	MessageTypeRouteData     = "route_data"
	MessageTypeConnection    = "connection"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
)

// Message represents a WebSocket message envelope
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BroadcastOptions narrows the recipient set of a broadcast. The zero
// value addresses every connection.
type BroadcastOptions struct {
	// ExcludeID skips the connection with this ID (typically the sender).
	ExcludeID string

	// Role limits delivery to connections with this role. Empty means all
	// roles.
	Role Role
}

// outbound is a pre-marshaled payload queued for fan-out. Payloads are
// marshaled once before queuing so route batches and other passthrough
// messages reach every recipient byte-for-byte unchanged.
type outbound struct {
	payload []byte
	opts    BroadcastOptions
}

// Peer identifies one connected client to the inbound handler.
type Peer interface {
	ID() string
	Role() Role
}

// InboundHandler receives connection lifecycle and message events from the
// hub. Implemented by the relay dispatcher; defined here so the hub does
// not import it.
type InboundHandler interface {
	// OnConnect is called from the hub run loop after a client registers.
	OnConnect(peer Peer)

	// OnMessage is called from the client read pump for every inbound
	// text message.
	OnMessage(sender Peer, raw []byte)
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	byID       map[string]*Client
	broadcast  chan outbound
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	handler InboundHandler
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan outbound, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		byID:       make(map[string]*Client),
	}
}

// SetHandler installs the inbound handler. Must be called before the hub
// accepts connections.
func (h *Hub) SetHandler(handler InboundHandler) {
	h.handler = handler
}

// RunWithContext starts the hub with context support for graceful
// shutdown. Designed for use with suture supervision: when the context is
// canceled, all connected clients are closed and ctx.Err() is returned.
//
// DETERMINISM: Uses priority-based selection to ensure predictable
// behavior when multiple channels are ready simultaneously:
// - Priority 1: Context cancellation (shutdown)
// - Priority 2: Client lifecycle events (Register/Unregister)
// - Priority 3: Broadcast messages
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: Check for shutdown (highest priority, non-blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: Handle client lifecycle events (non-blocking check)
		select {
		case client := <-h.Register:
			h.registerClient(client)
			continue
		case client := <-h.Unregister:
			h.unregisterClient(client)
			continue
		default:
		}

		// Priority 3: Handle broadcast messages or wait for any event
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.byID[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.WithLabelValues(string(client.role)).Inc()
	logging.Info().
		Str("client_id", client.id).
		Str("role", string(client.role)).
		Int("total_clients", total).
		Msg("websocket client connected")

	// OnConnect runs in the hub loop so the greeting is queued before any
	// broadcast that follows the registration.
	if h.handler != nil {
		h.handler.OnConnect(client)
	}
}

// unregisterClient removes a client. Idempotent: unregistering a client
// twice, or one that never registered, is a no-op.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		delete(h.byID, client.id)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	metrics.WSConnections.WithLabelValues(string(client.role)).Dec()
	logging.Info().
		Str("client_id", client.id).
		Str("role", string(client.role)).
		Int("total_clients", total).
		Msg("websocket client disconnected")
}

// logGracefulShutdown closes all connected clients and logs structured
// shutdown information. ctx.Err() is not logged as an error because
// context cancellation is expected during graceful shutdown.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.ClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "connection-registry").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("connection registry stopped")
}

// getShutdownReason determines the shutdown reason from the context error.
func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.Canceled:
		return ShutdownReasonContextCanceled
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// broadcastToClients fans a payload out to every eligible client in a
// deterministic order.
//
// DETERMINISM: Clients are sorted by their registration sequence so
// delivery order is reproducible. Sends are non-blocking: a client whose
// buffer is full is evicted rather than allowed to stall the others.
func (h *Hub) broadcastToClients(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].seq < clients[j].seq
	})

	var toRemove []*Client
	for _, client := range clients {
		if msg.opts.ExcludeID != "" && client.id == msg.opts.ExcludeID {
			continue
		}
		if msg.opts.Role != "" && client.role != msg.opts.Role {
			continue
		}

		select {
		case client.send <- msg.payload:
		default:
			// Buffer full: this recipient is too slow to keep up.
			metrics.WSBroadcastDrops.Inc()
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		delete(h.byID, client.id)
		metrics.WSConnections.WithLabelValues(string(client.role)).Dec()
		metrics.WSClientsEvicted.Inc()
		logging.Warn().
			Str("client_id", client.id).
			Str("role", string(client.role)).
			Msg("evicted unresponsive websocket client")
	}
}

// closeAllClients closes all connected clients during shutdown.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].seq < clients[j].seq
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		delete(h.byID, client.id)
		metrics.WSConnections.WithLabelValues(string(client.role)).Dec()
	}
	logging.Info().Msg("closed all websocket clients during shutdown")
}

// Broadcast marshals an envelope once and queues it for fan-out.
func (h *Hub) Broadcast(messageType string, data interface{}, opts BroadcastOptions) {
	payload, err := json.Marshal(Message{Type: messageType, Data: data})
	if err != nil {
		logging.Error().Err(err).Str("message_type", messageType).Msg("failed to marshal broadcast message")
		return
	}

	select {
	case h.broadcast <- outbound{payload: payload, opts: opts}:
	default:
		metrics.WSBroadcastDrops.Inc()
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastRaw queues pre-marshaled bytes for fan-out without touching
// them. Used for passthrough messages that must arrive byte-for-byte as
// sent, such as historical route batches.
func (h *Hub) BroadcastRaw(payload []byte, opts BroadcastOptions) {
	select {
	case h.broadcast <- outbound{payload: payload, opts: opts}:
	default:
		metrics.WSBroadcastDrops.Inc()
		logging.Warn().Msg("broadcast channel full, dropping raw message")
	}
}

// SendTo queues an envelope for the client with the given ID, bypassing
// the broadcast fan-out. Used for the connection greeting and replayed
// state on connect. Unknown IDs are ignored: the client may have
// disconnected between lookup and send.
func (h *Hub) SendTo(clientID, messageType string, data interface{}) {
	h.mu.RLock()
	c, ok := h.byID[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.Send(c, messageType, data)
}

// Send queues an envelope for one client, bypassing the broadcast fan-out.
// The send happens under the read lock so it cannot race with the close
// of the client's channel, which only happens under the write lock.
func (h *Hub) Send(c *Client, messageType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: messageType, Data: data})
	if err != nil {
		logging.Error().Err(err).Str("message_type", messageType).Msg("failed to marshal direct message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- payload:
	default:
		metrics.WSBroadcastDrops.Inc()
		logging.Warn().Str("client_id", c.id).Msg("client buffer full, dropping direct message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientCountByRole returns the number of connected clients with the role.
func (h *Hub) ClientCountByRole(role Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var n int
	for client := range h.clients {
		if client.role == role {
			n++
		}
	}
	return n
}

// heartbeatDefaults returns safe keepalive timings when the configured
// interval is zero.
func heartbeatDefaults(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 30 * time.Second
	}
	return interval
}
