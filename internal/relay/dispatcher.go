// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

// Package relay wires the telemetry codec, the connection registry, and
// the liveness tracker into the inbound message pipeline.
//
// Every inbound device frame is decoded and validated, refreshes the
// sender entity's liveness, and is rebroadcast to every connection except
// the one it arrived on. Malformed frames are logged and dropped without
// affecting the connection. Historical route batches bypass liveness and
// are forwarded byte-for-byte.
package relay

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pawlink/pawlink/internal/liveness"
	"github.com/pawlink/pawlink/internal/logging"
	"github.com/pawlink/pawlink/internal/metrics"
	"github.com/pawlink/pawlink/internal/registry"
	"github.com/pawlink/pawlink/internal/telemetry"
)

// Broadcaster is the subset of the connection registry the dispatcher
// uses. Satisfied by *registry.Hub; narrowed to an interface so the
// pipeline can be tested against a recording fake.
type Broadcaster interface {
	Broadcast(messageType string, data interface{}, opts registry.BroadcastOptions)
	BroadcastRaw(payload []byte, opts registry.BroadcastOptions)
	SendTo(clientID, messageType string, data interface{})
}

// StatusData is the payload of a status_changed message.
type StatusData struct {
	EntityID string `json:"entityId"`
	Online   bool   `json:"online"`
	// LastSeen is milliseconds since epoch, matching frame timestamps.
	LastSeen int64 `json:"lastSeen"`
}

// ConnectionData is the payload of the connection greeting sent to every
// client right after the upgrade.
type ConnectionData struct {
	Status    string `json:"status"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// Dispatcher routes inbound messages through decode, liveness, and
// fan-out. It implements registry.InboundHandler.
type Dispatcher struct {
	hub     Broadcaster
	tracker *liveness.Tracker

	// lastFrames keeps the most recent validated frame per entity so a
	// freshly connected viewer sees current positions without waiting for
	// the next report.
	mu         sync.RWMutex
	lastFrames map[string]*telemetry.Frame

	now func() time.Time
}

// NewDispatcher creates a dispatcher over the given registry and tracker.
func NewDispatcher(hub Broadcaster, tracker *liveness.Tracker) *Dispatcher {
	return &Dispatcher{
		hub:        hub,
		tracker:    tracker,
		lastFrames: make(map[string]*telemetry.Frame),
		now:        time.Now,
	}
}

// OnConnect greets a new client and replays current state to viewers.
func (d *Dispatcher) OnConnect(peer registry.Peer) {
	d.hub.SendTo(peer.ID(), registry.MessageTypeConnection, ConnectionData{
		Status:    "connected",
		ClientID:  peer.ID(),
		Timestamp: d.now().UnixMilli(),
	})

	if peer.Role() != registry.RoleViewer {
		return
	}

	for _, frame := range d.latestFrames() {
		d.hub.SendTo(peer.ID(), registry.MessageTypeTelemetry, frame)
	}
	for _, rec := range d.tracker.Snapshot() {
		d.hub.SendTo(peer.ID(), registry.MessageTypeStatusChanged, StatusData{
			EntityID: rec.EntityID,
			Online:   rec.Online,
			LastSeen: rec.LastSeen.UnixMilli(),
		})
	}
}

// OnMessage handles one inbound text message from a connection.
func (d *Dispatcher) OnMessage(sender registry.Peer, raw []byte) {
	if telemetry.IsRouteBatch(raw) {
		d.forwardRouteBatch(sender, raw)
		return
	}

	frame, err := telemetry.Decode(raw)
	if err != nil {
		metrics.FrameDecodeErrors.WithLabelValues(string(decodeReason(err))).Inc()
		logging.Warn().
			Err(err).
			Str("client_id", sender.ID()).
			Msg("dropping malformed telemetry frame")
		return
	}

	// Fill in the activity when the producer sent none.
	if frame.Activity == "" || frame.Activity == telemetry.ActivityUnknown {
		frame.Activity, frame.Confidence = telemetry.ClassifyMotion(frame.Motion)
	}

	d.storeFrame(frame)

	// Liveness follows the producer timestamp so replayed or out-of-order
	// frames cannot roll lastSeen backwards. Frames without one get the
	// receipt time.
	ts := frame.Time()
	if frame.Timestamp == 0 {
		ts = d.now()
	}
	if tr := d.tracker.Touch(frame.EntityID, ts); tr != nil {
		d.broadcastTransition(*tr)
	}

	metrics.FramesRelayed.Inc()
	d.hub.Broadcast(registry.MessageTypeTelemetry, frame, registry.BroadcastOptions{
		ExcludeID: sender.ID(),
	})
}

// OnTransition broadcasts a liveness edge to every connection. Wired as
// the sweep callback for offline edges; online edges arrive here
// synchronously from OnMessage.
func (d *Dispatcher) OnTransition(tr liveness.Transition) {
	d.broadcastTransition(tr)
}

// forwardRouteBatch validates the batch envelope and passes the original
// bytes through untouched. Historical data does not refresh liveness.
func (d *Dispatcher) forwardRouteBatch(sender registry.Peer, raw []byte) {
	batch, err := telemetry.DecodeRouteBatch(raw)
	if err != nil {
		metrics.FrameDecodeErrors.WithLabelValues(string(decodeReason(err))).Inc()
		logging.Warn().
			Err(err).
			Str("client_id", sender.ID()).
			Msg("dropping malformed route batch")
		return
	}

	metrics.RouteBatchesForwarded.Inc()
	logging.Debug().
		Str("entity_id", batch.EntityID()).
		Int("points", len(batch.Route)).
		Msg("forwarding route batch")

	d.hub.BroadcastRaw(raw, registry.BroadcastOptions{ExcludeID: sender.ID()})
}

// decodeReason extracts the metrics label for a codec failure.
func decodeReason(err error) telemetry.DecodeReason {
	var derr *telemetry.DecodeError
	if errors.As(err, &derr) {
		return derr.Reason
	}
	return telemetry.ReasonSyntax
}

func (d *Dispatcher) broadcastTransition(tr liveness.Transition) {
	d.hub.Broadcast(registry.MessageTypeStatusChanged, StatusData{
		EntityID: tr.EntityID,
		Online:   tr.Online,
		LastSeen: tr.LastSeen.UnixMilli(),
	}, registry.BroadcastOptions{})
}

func (d *Dispatcher) storeFrame(frame *telemetry.Frame) {
	d.mu.Lock()
	d.lastFrames[frame.EntityID] = frame
	d.mu.Unlock()
}

// latestFrames returns the most recent frame per entity in entity ID
// order.
func (d *Dispatcher) latestFrames() []*telemetry.Frame {
	d.mu.RLock()
	frames := make([]*telemetry.Frame, 0, len(d.lastFrames))
	for _, frame := range d.lastFrames {
		frames = append(frames, frame)
	}
	d.mu.RUnlock()

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].EntityID < frames[j].EntityID
	})
	return frames
}

// LatestFrame returns the most recent frame for one entity.
func (d *Dispatcher) LatestFrame(entityID string) (*telemetry.Frame, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	frame, ok := d.lastFrames[entityID]
	return frame, ok
}
