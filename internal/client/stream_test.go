// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package client

import (
	"testing"
	"time"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for value")
		}
		return v
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestStreamReplaysLatestToNewSubscriber(t *testing.T) {
	s := NewStream[int](true)
	s.Publish(1)
	s.Publish(2)

	ch, cancel := s.Subscribe()
	defer cancel()

	if got := receive(t, ch); got != 2 {
		t.Errorf("replayed value = %d, want 2", got)
	}
}

func TestStreamWithoutReplayStartsEmpty(t *testing.T) {
	s := NewStream[int](false)
	s.Publish(1)

	ch, cancel := s.Subscribe()
	defer cancel()

	select {
	case v := <-ch:
		t.Errorf("received %d, want nothing before next publish", v)
	case <-time.After(50 * time.Millisecond):
	}

	s.Publish(2)
	if got := receive(t, ch); got != 2 {
		t.Errorf("value = %d, want 2", got)
	}
}

func TestStreamFanOut(t *testing.T) {
	s := NewStream[string](false)

	chA, cancelA := s.Subscribe()
	defer cancelA()
	chB, cancelB := s.Subscribe()
	defer cancelB()

	s.Publish("hello")

	if got := receive(t, chA); got != "hello" {
		t.Errorf("subscriber A got %q", got)
	}
	if got := receive(t, chB); got != "hello" {
		t.Errorf("subscriber B got %q", got)
	}
}

func TestStreamCancelStopsDelivery(t *testing.T) {
	s := NewStream[int](false)

	ch, cancel := s.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel open after cancel, want closed")
	}

	// Publishing after cancel must not panic.
	s.Publish(1)
}

func TestStreamLatest(t *testing.T) {
	s := NewStream[int](true)

	if _, ok := s.Latest(); ok {
		t.Error("Latest() ok = true before any publish")
	}

	s.Publish(7)
	v, ok := s.Latest()
	if !ok || v != 7 {
		t.Errorf("Latest() = %d, %v, want 7, true", v, ok)
	}
}

func TestStreamClose(t *testing.T) {
	s := NewStream[int](true)
	ch, _ := s.Subscribe()

	s.Close()

	if _, ok := <-ch; ok {
		t.Error("channel open after Close, want closed")
	}

	// Publish and a late Subscribe are safe after Close.
	s.Publish(1)
	late, cancel := s.Subscribe()
	defer cancel()
	if _, ok := <-late; ok {
		t.Error("late subscriber channel open, want closed")
	}
}

func TestStreamSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := NewStream[int](false)
	_, cancel := s.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// More publishes than the subscriber buffer holds.
		for i := 0; i < 100; i++ {
			s.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
