// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

// Package client implements a relay client with automatic reconnection.
//
// The manager dials the relay, decodes inbound envelopes onto a
// replay-latest message stream, and on connection loss retries with
// exponentially growing delays. After the configured number of failed
// attempts it enters a terminal failed state; a later Connect call starts
// a fresh attempt cycle.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/pawlink/pawlink/internal/config"
	"github.com/pawlink/pawlink/internal/logging"
)

// State describes the manager's connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"

	// StateFailed is terminal: the retry budget is exhausted and the
	// manager has stopped. Only a new Connect call leaves this state.
	StateFailed State = "failed"
)

// ErrNotConnected is returned by Send when no connection is established.
var ErrNotConnected = errors.New("client: not connected")

// Envelope is one decoded message from the relay.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Manager maintains a single relay connection with reconnection.
type Manager struct {
	cfg    config.ClientConfig
	dialer *websocket.Dialer

	states   *Stream[State]
	messages *Stream[Envelope]

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewManager creates a manager for the configured relay URL.
func NewManager(cfg config.ClientConfig) *Manager {
	m := &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		states:   NewStream[State](true),
		messages: NewStream[Envelope](true),
	}
	m.states.Publish(StateDisconnected)
	return m
}

// States returns the replay-latest connection state stream.
func (m *Manager) States() *Stream[State] {
	return m.states
}

// Messages returns the replay-latest inbound envelope stream.
func (m *Manager) Messages() *Stream[Envelope] {
	return m.messages
}

// CurrentState returns the most recently published state.
func (m *Manager) CurrentState() State {
	state, _ := m.states.Latest()
	return state
}

// Connect starts the connection loop. Idempotent: calling Connect while
// the loop is already running is a no-op. The loop stops when ctx is
// canceled or the retry budget is exhausted.
func (m *Manager) Connect(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	go m.run(runCtx)
}

// Disconnect stops the connection loop, canceling any pending retry timer
// and closing the current connection. Safe to call when not connected.
func (m *Manager) Disconnect() {
	m.runMu.Lock()
	cancel := m.cancel
	m.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send marshals v and writes it to the current connection.
func (m *Manager) Send(v interface{}) error {
	m.connMu.Lock()
	conn := m.conn
	m.connMu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// newBackoff builds the deterministic retry schedule: the base delay
// grows by the configured factor on every consecutive failure.
func (m *Manager) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectBaseDelay
	bo.Multiplier = m.cfg.ReconnectGrowthFactor
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (m *Manager) run(ctx context.Context) {
	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
	}()

	bo := m.newBackoff()
	attempts := 0

	for {
		m.setState(StateConnecting)

		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return
			}

			attempts++
			if attempts > m.cfg.ReconnectMaxAttempts {
				m.setState(StateFailed)
				logging.Error().
					Err(err).
					Int("attempts", attempts-1).
					Str("url", m.cfg.URL).
					Msg("relay connection failed, retry budget exhausted")
				return
			}

			delay := bo.NextBackOff()
			m.setState(StateReconnecting)
			logging.Warn().
				Err(err).
				Int("attempt", attempts).
				Dur("retry_in", delay).
				Msg("relay dial failed, retrying")

			if !sleepCtx(ctx, delay) {
				m.setState(StateDisconnected)
				return
			}
			continue
		}

		// Established: retry accounting starts over.
		attempts = 0
		bo.Reset()

		m.connMu.Lock()
		m.conn = conn
		m.connMu.Unlock()
		m.setState(StateConnected)
		logging.Info().Str("url", m.cfg.URL).Msg("connected to relay")

		readErr := m.readLoop(ctx, conn)

		m.connMu.Lock()
		m.conn = nil
		m.connMu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}

		// A lost connection consumes the first reconnect attempt: the
		// redial waits the base delay, and further failures continue up
		// the schedule.
		attempts++
		delay := bo.NextBackOff()
		m.setState(StateReconnecting)
		logging.Warn().
			Err(readErr).
			Dur("retry_in", delay).
			Msg("relay connection lost, reconnecting")

		if !sleepCtx(ctx, delay) {
			m.setState(StateDisconnected)
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// readLoop decodes inbound envelopes until the connection drops. Runs a
// watcher goroutine so context cancellation unblocks the read.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logging.Warn().Err(err).Msg("discarding malformed relay message")
			continue
		}
		m.messages.Publish(env)
	}
}

func (m *Manager) setState(state State) {
	m.states.Publish(state)
}

// sleepCtx waits for d and reports false when the context was canceled
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
