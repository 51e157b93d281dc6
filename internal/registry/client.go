// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package registry

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pawlink/pawlink/internal/logging"
)

const (
	writeWait             = 10 * time.Second
	defaultMaxMessageSize = 512 * 1024 // 512 KB
)

// clientSeqCounter generates monotonically increasing sequence numbers.
// DETERMINISM: Broadcast fan-out sorts clients by sequence so delivery
// order is stable within a process run.
var clientSeqCounter atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	// seq orders clients deterministically for broadcast.
	seq uint64

	// id identifies the connection for exclude-sender broadcasts.
	id   string
	role Role

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	pingPeriod     time.Duration
	pongWait       time.Duration
	maxMessageSize int64
}

// NewClient creates a client for an upgraded connection. heartbeat is the
// ping interval; the read deadline allows a missed ping before giving up.
func NewClient(hub *Hub, conn *websocket.Conn, role Role, heartbeat time.Duration, maxMessageSize int64) *Client {
	heartbeat = heartbeatDefaults(heartbeat)
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxMessageSize
	}
	return &Client{
		seq:            clientSeqCounter.Add(1),
		id:             uuid.NewString(),
		role:           role,
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, 256),
		pingPeriod:     heartbeat,
		pongWait:       heartbeat * 2,
		maxMessageSize: maxMessageSize,
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Role returns the connection's role.
func (c *Client) Role() Role {
	return c.role
}

// readPump pumps messages from the websocket connection to the handler.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("client_id", c.id).Msg("unexpected websocket close error")
			}
			break
		}

		// Application-level ping gets an immediate pong; everything else
		// goes to the dispatcher.
		if isAppPing(raw) {
			c.hub.Send(c, MessageTypePong, nil)
			continue
		}

		if c.hub.handler != nil {
			c.hub.handler.OnMessage(c, raw)
		}
	}
}

// writePump pumps payloads from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Error().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// isAppPing reports whether raw is the application-level ping envelope.
// Large payloads are never pings, so the probe skips them.
func isAppPing(raw []byte) bool {
	if len(raw) > 256 {
		return false
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Type == MessageTypePing
}
