// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/pawlink/pawlink/internal/config"
	"github.com/pawlink/pawlink/internal/liveness"
	"github.com/pawlink/pawlink/internal/logging"
	"github.com/pawlink/pawlink/internal/registry"
	"github.com/pawlink/pawlink/internal/relay"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

type testServer struct {
	srv        *httptest.Server
	hub        *registry.Hub
	tracker    *liveness.Tracker
	dispatcher *relay.Dispatcher
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Security.CORSOrigins = []string{"http://localhost:4200"}
	cfg.Security.RateLimitDisabled = true
	cfg.Relay.HeartbeatInterval = 30 * time.Second
	cfg.Relay.MaxMessageSize = 512 * 1024

	hub := registry.NewHub()
	tracker := liveness.NewTracker(30*time.Second, 5*time.Second)
	dispatcher := relay.NewDispatcher(hub, tracker)
	hub.SetHandler(dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.RunWithContext(ctx) }()
	t.Cleanup(cancel)
	time.Sleep(10 * time.Millisecond)

	handler := NewHandler(cfg, hub, tracker, dispatcher)
	router := NewRouter(handler, cfg.Security)
	srv := httptest.NewServer(router.SetupChi())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, hub: hub, tracker: tracker, dispatcher: dispatcher}
}

func (ts *testServer) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/v1/ws" + query
}

func getJSON(t *testing.T, url string) (int, APIResponse) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		path string
	}{
		{"live", "/api/v1/health/live"},
		{"ready", "/api/v1/health/ready"},
		{"full", "/api/v1/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := getJSON(t, ts.srv.URL+tt.path)
			if status != http.StatusOK {
				t.Errorf("status = %d, want 200", status)
			}
			if body.Status != "success" && body.Status != "ready" {
				t.Errorf("body status = %q", body.Status)
			}
		})
	}
}

func TestEntitiesEmpty(t *testing.T) {
	ts := setupTestServer(t)

	status, body := getJSON(t, ts.srv.URL+"/api/v1/entities")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	entities, ok := body.Data.([]interface{})
	if !ok {
		t.Fatalf("data type = %T, want array", body.Data)
	}
	if len(entities) != 0 {
		t.Errorf("entities = %d, want 0", len(entities))
	}
}

func TestEntityNotFound(t *testing.T) {
	ts := setupTestServer(t)

	status, body := getJSON(t, ts.srv.URL+"/api/v1/entities/ghost")
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
	if body.Error == nil || body.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", body.Error)
	}
}

func TestWebSocketRejectsUnknownRole(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/api/v1/ws?role=admin")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebSocketRejectsUnauthorizedOrigin(t *testing.T) {
	ts := setupTestServer(t)

	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL("?role=viewer"), header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("dial succeeded from unauthorized origin")
	}
	if resp != nil {
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
	}
}

func TestWebSocketAllowsConfiguredOrigin(t *testing.T) {
	ts := setupTestServer(t)

	header := http.Header{}
	header.Set("Origin", "http://localhost:4200")
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL("?role=viewer"), header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()
}

// dialWS connects without an Origin header, as collars and native apps do.
func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEnvelope reads messages until one with the wanted type arrives.
func readEnvelope(t *testing.T, conn *websocket.Conn, wantType string) registry.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var msg registry.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", wantType, err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
}

func TestWebSocketGreeting(t *testing.T) {
	ts := setupTestServer(t)

	conn := dialWS(t, ts.wsURL("?role=viewer"))
	msg := readEnvelope(t, conn, registry.MessageTypeConnection)

	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("greeting data type = %T", msg.Data)
	}
	if data["status"] != "connected" {
		t.Errorf("greeting status = %v, want connected", data["status"])
	}
}

func TestWebSocketRelayRoundTrip(t *testing.T) {
	ts := setupTestServer(t)

	device := dialWS(t, ts.wsURL("?role=device"))
	viewer := dialWS(t, ts.wsURL("?role=viewer"))

	// Drain greetings before the real traffic.
	readEnvelope(t, device, registry.MessageTypeConnection)
	readEnvelope(t, viewer, registry.MessageTypeConnection)

	frame := `{
		"petId": 1,
		"deviceId": "collar-001",
		"timestamp": 1756684800000,
		"latitude": -12.0464,
		"longitude": -77.0428,
		"accelerometer": {"x": 9.8, "y": 0.1, "z": 0.2},
		"gyroscope": {"x": 0.01, "y": 0.02, "z": 0.01},
		"battery": 87
	}`
	if err := device.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("device write: %v", err)
	}

	// Viewer sees the online edge and the relayed frame.
	statusMsg := readEnvelope(t, viewer, registry.MessageTypeStatusChanged)
	statusData, ok := statusMsg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("status data type = %T", statusMsg.Data)
	}
	if statusData["entityId"] != "1" || statusData["online"] != true {
		t.Errorf("status = %v, want entity 1 online", statusData)
	}

	telemetryMsg := readEnvelope(t, viewer, registry.MessageTypeTelemetry)
	frameData, ok := telemetryMsg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("telemetry data type = %T", telemetryMsg.Data)
	}
	if frameData["entityId"] != "1" || frameData["deviceId"] != "collar-001" {
		t.Errorf("frame = %v, want entity 1 from collar-001", frameData)
	}

	// The sending device must not get its own frame back. The online
	// status broadcast goes to everyone, so wait for that and then check
	// nothing else arrives.
	readEnvelope(t, device, registry.MessageTypeStatusChanged)
	_ = device.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var echo registry.Message
	if err := device.ReadJSON(&echo); err == nil && echo.Type == registry.MessageTypeTelemetry {
		t.Error("device received its own telemetry back")
	}
}

func TestEntitiesAfterFrame(t *testing.T) {
	ts := setupTestServer(t)

	device := dialWS(t, ts.wsURL("?role=device"))
	readEnvelope(t, device, registry.MessageTypeConnection)

	frame := `{
		"petId": 5,
		"deviceId": "collar-005",
		"accelerometer": {"x": 9.8, "y": 0, "z": 0},
		"gyroscope": {"x": 0, "y": 0, "z": 0}
	}`
	if err := device.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("device write: %v", err)
	}

	// The frame is processed asynchronously; poll briefly.
	var found bool
	for i := 0; i < 20; i++ {
		if _, ok := ts.tracker.Status("5"); ok {
			found = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !found {
		t.Fatal("entity 5 never became tracked")
	}

	status, body := getJSON(t, ts.srv.URL+"/api/v1/entities/5")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	data, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data type = %T", body.Data)
	}
	if data["online"] != true {
		t.Errorf("online = %v, want true", data["online"])
	}
	if data["lastFrame"] == nil {
		t.Error("lastFrame missing, want replayed frame")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing standard collectors")
	}
}
