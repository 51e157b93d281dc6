// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

// Package liveness tracks per-entity sighting times and derives
// edge-triggered online/offline transitions from them.
//
// An entity is online while strictly less than the timeout window has
// passed since its most recent sighting. A periodic sweep marks entities
// offline once the full window has elapsed. Transitions fire exactly once per edge: repeated
// sightings of an online entity and repeated sweeps of an offline entity
// produce no events.
package liveness

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pawlink/pawlink/internal/logging"
	"github.com/pawlink/pawlink/internal/metrics"
)

// TransitionKind identifies which liveness edge fired. The kind doubles as
// the metrics label, so values stay low-cardinality.
type TransitionKind string

const (
	// TransitionFirstSeen fires on the first sighting of an entity ever.
	TransitionFirstSeen TransitionKind = "first_seen"

	// TransitionOnline fires when a previously offline entity is sighted.
	TransitionOnline TransitionKind = "became_online"

	// TransitionOffline fires when an online entity's window elapses.
	TransitionOffline TransitionKind = "became_offline"
)

// Transition is one edge-triggered liveness event.
type Transition struct {
	EntityID string
	Kind     TransitionKind
	Online   bool
	LastSeen time.Time
}

// Record is a point-in-time snapshot of one tracked entity.
type Record struct {
	EntityID string    `json:"entityId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

type entry struct {
	lastSeen time.Time
	online   bool
}

// Tracker maintains last-seen state for all entities and sweeps for
// timeouts. All methods are safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry

	timeout  time.Duration
	interval time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewTracker creates a tracker with the given offline timeout and sweep
// interval.
func NewTracker(timeout, interval time.Duration) *Tracker {
	return &Tracker{
		entries:  make(map[string]*entry),
		timeout:  timeout,
		interval: interval,
		now:      time.Now,
	}
}

// Touch records a sighting of entityID at the producer timestamp ts and
// returns the transition it caused, or nil when the entity was already
// online.
//
// The stored last-seen time is max(current, ts): an out-of-order frame
// with an older timestamp refreshes nothing, so replayed frames cannot
// roll liveness backwards. A stale sighting still flips an offline entity
// online, because any sighting proves the device is talking now.
func (t *Tracker) Touch(entityID string, ts time.Time) *Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[entityID]
	if !ok {
		t.entries[entityID] = &entry{lastSeen: ts, online: true}
		metrics.EntitiesTracked.Set(float64(len(t.entries)))
		metrics.EntitiesOnline.Inc()
		metrics.LivenessTransitions.WithLabelValues(string(TransitionFirstSeen)).Inc()
		logging.Info().Str("entity_id", entityID).Msg("entity seen for the first time")
		return &Transition{EntityID: entityID, Kind: TransitionFirstSeen, Online: true, LastSeen: ts}
	}

	if ts.After(e.lastSeen) {
		e.lastSeen = ts
	}

	if e.online {
		return nil
	}

	e.online = true
	metrics.EntitiesOnline.Inc()
	metrics.LivenessTransitions.WithLabelValues(string(TransitionOnline)).Inc()
	logging.Info().Str("entity_id", entityID).Msg("entity back online")
	return &Transition{EntityID: entityID, Kind: TransitionOnline, Online: true, LastSeen: e.lastSeen}
}

// Sweep marks every entity whose window has elapsed as offline and returns
// the resulting transitions in entity ID order. An entity is online only
// while now - lastSeen is strictly inside the window, so the sweep at
// exactly lastSeen + timeout flips it.
func (t *Tracker) Sweep() []Transition {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var transitions []Transition
	for id, e := range t.entries {
		if !e.online || now.Sub(e.lastSeen) < t.timeout {
			continue
		}
		e.online = false
		metrics.EntitiesOnline.Dec()
		metrics.LivenessTransitions.WithLabelValues(string(TransitionOffline)).Inc()
		transitions = append(transitions, Transition{
			EntityID: id,
			Kind:     TransitionOffline,
			Online:   false,
			LastSeen: e.lastSeen,
		})
	}

	// DETERMINISM: Map iteration order is random; sort so downstream
	// broadcasts observe a stable event order.
	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].EntityID < transitions[j].EntityID
	})

	for _, tr := range transitions {
		logging.Info().
			Str("entity_id", tr.EntityID).
			Time("last_seen", tr.LastSeen).
			Msg("entity went offline")
	}

	return transitions
}

// Status returns the record for one entity. The second result is false
// when the entity has never been sighted.
func (t *Tracker) Status(entityID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[entityID]
	if !ok {
		return Record{}, false
	}
	return Record{EntityID: entityID, Online: e.online, LastSeen: e.lastSeen}, true
}

// Snapshot returns records for all tracked entities in entity ID order.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := make([]Record, 0, len(t.entries))
	for id, e := range t.entries {
		records = append(records, Record{EntityID: id, Online: e.online, LastSeen: e.lastSeen})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].EntityID < records[j].EntityID
	})
	return records
}

// Count returns the number of tracked and online entities.
func (t *Tracker) Count() (tracked, online int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.online {
			online++
		}
	}
	return len(t.entries), online
}

// RunWithContext sweeps on the configured interval until the context is
// canceled. Each batch of transitions is handed to onTransition (offline
// edges only; online edges fire synchronously from Touch). Designed for
// use with suture supervision.
func (t *Tracker) RunWithContext(ctx context.Context, onTransition func(Transition)) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		// Priority 1: Check for shutdown (highest priority, non-blocking)
		select {
		case <-ctx.Done():
			logging.Info().
				Str("component", "liveness-tracker").
				Int("entities_tracked", len(t.Snapshot())).
				Msg("liveness sweeper stopped")
			return ctx.Err()
		default:
		}

		// Priority 2: Wait for the next tick or shutdown
		select {
		case <-ctx.Done():
			logging.Info().
				Str("component", "liveness-tracker").
				Int("entities_tracked", len(t.Snapshot())).
				Msg("liveness sweeper stopped")
			return ctx.Err()

		case <-ticker.C:
			for _, tr := range t.Sweep() {
				if onTransition != nil {
					onTransition(tr)
				}
			}
		}
	}
}
