// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/pawlink/pawlink/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	// Initialize logging for tests with discard output
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// setupHub creates and starts a new hub for testing
func setupHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.RunWithContext(ctx) }()
	time.Sleep(10 * time.Millisecond)
	return hub, cancel
}

// createTestClient creates a mock client without a real connection
func createTestClient(hub *Hub, role Role) *Client {
	return &Client{
		seq:  clientSeqCounter.Add(1),
		id:   uuid.NewString(),
		role: role,
		hub:  hub,
		conn: nil,
		send: make(chan []byte, 256),
	}
}

// registerClient registers a client and waits for registration to complete
func registerClient(hub *Hub, client *Client) {
	hub.Register <- client
	time.Sleep(20 * time.Millisecond)
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}

	checks := []struct {
		name   string
		check  bool
		errMsg string
	}{
		{"clients map", hub.clients != nil, "clients map not initialized"},
		{"byID map", hub.byID != nil, "byID map not initialized"},
		{"broadcast channel", hub.broadcast != nil, "broadcast channel not initialized"},
		{"Register channel", hub.Register != nil, "Register channel not initialized"},
		{"Unregister channel", hub.Unregister != nil, "Unregister channel not initialized"},
		{"empty clients", len(hub.clients) == 0, "clients map should be empty"},
	}

	for _, c := range checks {
		if !c.check {
			t.Error(c.errMsg)
		}
	}
}

func TestHub_ClientRegistration(t *testing.T) {
	hub, cancel := setupHub(t)
	defer cancel()

	client := createTestClient(hub, RoleViewer)
	registerClient(hub, client)

	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	hub.mu.RLock()
	if !hub.clients[client] {
		t.Error("Client should be registered")
	}
	if hub.byID[client.ID()] != client {
		t.Error("Client should be indexed by ID")
	}
	hub.mu.RUnlock()

	hub.Unregister <- client
	time.Sleep(20 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients after unregister, got %d", hub.ClientCount())
	}
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub, cancel := setupHub(t)
	defer cancel()

	client := createTestClient(hub, RoleViewer)
	registerClient(hub, client)

	hub.Unregister <- client
	time.Sleep(20 * time.Millisecond)

	// Second unregister of the same client must be a no-op, not a panic
	// from double-closing the send channel.
	hub.Unregister <- client
	time.Sleep(20 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_UnregisterNonExistentClient(t *testing.T) {
	hub, cancel := setupHub(t)
	defer cancel()

	client := createTestClient(hub, RoleDevice)
	hub.Unregister <- client
	time.Sleep(20 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}

func receivePayload(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	hub, cancel := setupHub(t)
	defer cancel()

	sender := createTestClient(hub, RoleDevice)
	viewerA := createTestClient(hub, RoleViewer)
	viewerB := createTestClient(hub, RoleViewer)
	registerClient(hub, sender)
	registerClient(hub, viewerA)
	registerClient(hub, viewerB)

	hub.Broadcast(MessageTypeTelemetry, map[string]string{"entityId": "rex"}, BroadcastOptions{ExcludeID: sender.ID()})

	for _, viewer := range []*Client{viewerA, viewerB} {
		payload := receivePayload(t, viewer)
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if msg.Type != MessageTypeTelemetry {
			t.Errorf("Type = %q, want %q", msg.Type, MessageTypeTelemetry)
		}
	}

	select {
	case payload := <-sender.send:
		t.Errorf("sender received its own broadcast: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastRoleFilter(t *testing.T) {
	hub, cancel := setupHub(t)
	defer cancel()

	device := createTestClient(hub, RoleDevice)
	viewer := createTestClient(hub, RoleViewer)
	registerClient(hub, device)
	registerClient(hub, viewer)

	hub.Broadcast(MessageTypeStatusChanged, map[string]bool{"online": true}, BroadcastOptions{Role: RoleViewer})

	receivePayload(t, viewer)

	select {
	case payload := <-device.send:
		t.Errorf("device received viewer-only broadcast: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastRawPreservesBytes(t *testing.T) {
	hub, cancel := setupHub(t)
	defer cancel()

	viewer := createTestClient(hub, RoleViewer)
	registerClient(hub, viewer)

	// Deliberately odd spacing and key order that re-marshaling would change.
	raw := []byte(`{"type": "route_data",  "petId": 7, "route": []}`)
	hub.BroadcastRaw(raw, BroadcastOptions{})

	payload := receivePayload(t, viewer)
	if !bytes.Equal(payload, raw) {
		t.Errorf("payload = %s, want byte-identical %s", payload, raw)
	}
}

func TestHub_BroadcastToFullClient(t *testing.T) {
	hub, cancel := setupHub(t)
	defer cancel()

	// Create client with tiny buffer that will fill up
	slow := &Client{
		seq:  clientSeqCounter.Add(1),
		id:   uuid.NewString(),
		role: RoleViewer,
		hub:  hub,
		send: make(chan []byte, 1),
	}
	healthy := createTestClient(hub, RoleViewer)
	registerClient(hub, slow)
	registerClient(hub, healthy)

	slow.send <- []byte(`{"type":"filler"}`)

	hub.Broadcast(MessageTypeTelemetry, map[string]string{"entityId": "rex"}, BroadcastOptions{})

	// The healthy client still gets the message.
	receivePayload(t, healthy)

	// The slow client is evicted.
	var clientCount int
	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		clientCount = hub.ClientCount()
		if clientCount == 1 {
			break
		}
	}
	if clientCount != 1 {
		t.Errorf("Expected 1 client after eviction, got %d", clientCount)
	}
}

func TestHub_SendDirect(t *testing.T) {
	hub, cancel := setupHub(t)
	defer cancel()

	a := createTestClient(hub, RoleViewer)
	b := createTestClient(hub, RoleViewer)
	registerClient(hub, a)
	registerClient(hub, b)

	// Unknown IDs are ignored without error.
	hub.SendTo("no-such-client", MessageTypeConnection, nil)

	hub.SendTo(a.ID(), MessageTypeConnection, map[string]string{"status": "connected"})

	payload := receivePayload(t, a)
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if msg.Type != MessageTypeConnection {
		t.Errorf("Type = %q, want %q", msg.Type, MessageTypeConnection)
	}

	select {
	case <-b.send:
		t.Error("direct send leaked to another client")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ClientCountByRole(t *testing.T) {
	hub, cancel := setupHub(t)
	defer cancel()

	registerClient(hub, createTestClient(hub, RoleDevice))
	registerClient(hub, createTestClient(hub, RoleViewer))
	registerClient(hub, createTestClient(hub, RoleViewer))

	if got := hub.ClientCountByRole(RoleDevice); got != 1 {
		t.Errorf("devices = %d, want 1", got)
	}
	if got := hub.ClientCountByRole(RoleViewer); got != 2 {
		t.Errorf("viewers = %d, want 2", got)
	}
}

type recordingHandler struct {
	connected chan Peer
	messages  chan []byte
}

func (h *recordingHandler) OnConnect(peer Peer) {
	select {
	case h.connected <- peer:
	default:
	}
}

func (h *recordingHandler) OnMessage(_ Peer, raw []byte) {
	select {
	case h.messages <- raw:
	default:
	}
}

func TestHub_HandlerOnConnect(t *testing.T) {
	hub := NewHub()
	handler := &recordingHandler{connected: make(chan Peer, 1), messages: make(chan []byte, 1)}
	hub.SetHandler(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.RunWithContext(ctx) }()
	time.Sleep(10 * time.Millisecond)

	client := createTestClient(hub, RoleViewer)
	hub.Register <- client

	select {
	case got := <-handler.connected:
		if got.ID() != client.ID() {
			t.Error("OnConnect received a different client")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("OnConnect was not called")
	}
}

func TestHub_RunWithContext(t *testing.T) {
	t.Run("shuts down on context cancellation", func(t *testing.T) {
		hub := NewHub()
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() {
			errCh <- hub.RunWithContext(ctx)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Error("RunWithContext did not return after context cancellation")
		}
	})

	t.Run("closes all clients on shutdown", func(t *testing.T) {
		hub := NewHub()
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() {
			errCh <- hub.RunWithContext(ctx)
		}()

		clients := make([]*Client, 3)
		for i := 0; i < 3; i++ {
			clients[i] = createTestClient(hub, RoleViewer)
			hub.Register <- clients[i]
		}

		var clientCount int
		for i := 0; i < 10; i++ {
			time.Sleep(20 * time.Millisecond)
			clientCount = hub.ClientCount()
			if clientCount == 3 {
				break
			}
		}
		if clientCount != 3 {
			t.Fatalf("expected 3 clients, got %d", clientCount)
		}

		cancel()

		select {
		case <-errCh:
		case <-time.After(time.Second):
			t.Fatal("RunWithContext did not return after context cancellation")
		}

		if hub.ClientCount() != 0 {
			t.Errorf("expected 0 clients after shutdown, got %d", hub.ClientCount())
		}
	})
}

func TestGetShutdownReason(t *testing.T) {
	tests := []struct {
		name     string
		setupCtx func() context.Context
		expected ShutdownReason
	}{
		{
			name: "context canceled returns context_canceled",
			setupCtx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			expected: ShutdownReasonContextCanceled,
		},
		{
			name: "context deadline exceeded returns context_deadline",
			setupCtx: func() context.Context {
				ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
				defer cancel()
				time.Sleep(10 * time.Millisecond)
				return ctx
			},
			expected: ShutdownReasonContextDeadline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getShutdownReason(tt.setupCtx()); got != tt.expected {
				t.Errorf("getShutdownReason() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsAppPing(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"compact ping", `{"type":"ping"}`, true},
		{"spaced ping", `{"type": "ping", "data": null}`, true},
		{"telemetry frame", `{"petId": 1, "deviceId": "d"}`, false},
		{"garbage", `ping`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAppPing([]byte(tt.raw)); got != tt.want {
				t.Errorf("isAppPing(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
