// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package client

import "sync"

// Stream is a fan-out value stream. A replaying stream hands the most
// recently published value to every new subscriber immediately, so late
// subscribers see current state (connection status, last frame) instead
// of waiting for the next change.
//
// Publishing never blocks: a subscriber that stops draining its channel
// misses values rather than stalling the publisher.
type Stream[T any] struct {
	mu      sync.Mutex
	subs    map[int]chan T
	nextID  int
	replay  bool
	last    T
	hasLast bool
	closed  bool
}

// NewStream creates a stream. When replay is true, Subscribe delivers the
// latest published value first.
func NewStream[T any](replay bool) *Stream[T] {
	return &Stream[T]{
		subs:   make(map[int]chan T),
		replay: replay,
	}
}

// Publish delivers v to all current subscribers.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.last = v
	s.hasLast = true

	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel along with
// a cancel function. The channel is closed on cancel or when the stream
// closes.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, 16)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	if s.replay && s.hasLast {
		ch <- s.last
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Latest returns the most recently published value, if any.
func (s *Stream[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
