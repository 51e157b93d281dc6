// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pawlink/pawlink/internal/liveness"
)

// mockHTTPServer simulates an http.Server for lifecycle tests.
type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	stop        chan struct{}
	shutdowns   int
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{stop: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stop
	return errors.New("http: Server closed")
}

func (m *mockHTTPServer) Shutdown(ctx context.Context) error {
	m.shutdowns++
	close(m.stop)
	return m.shutdownErr
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newMockHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if server.shutdowns != 1 {
		t.Errorf("Shutdown called %d times, want 1", server.shutdowns)
	}
}

func TestHTTPServerServiceListenFailure(t *testing.T) {
	server := newMockHTTPServer()
	server.listenErr = errors.New("bind: address already in use")
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("Serve() = nil, want listen failure")
	}
}

func TestHTTPServerServiceDefaultTimeout(t *testing.T) {
	svc := NewHTTPServerService(newMockHTTPServer(), 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v, want defaulted 10s", svc.shutdownTimeout)
	}
}

func TestHTTPServerServiceString(t *testing.T) {
	if got := NewHTTPServerService(newMockHTTPServer(), time.Second).String(); got != "http-server" {
		t.Errorf("String() = %q, want http-server", got)
	}
}

// fakeHub records that the supervisor ran it.
type fakeHub struct {
	ran chan struct{}
}

func (h *fakeHub) RunWithContext(ctx context.Context) error {
	close(h.ran)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubServiceDelegates(t *testing.T) {
	hub := &fakeHub{ran: make(chan struct{})}
	svc := NewHubService(hub)

	if svc.String() != "connection-registry" {
		t.Errorf("String() = %q, want connection-registry", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-hub.ran:
	case <-time.After(time.Second):
		t.Fatal("hub never ran")
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
}

// fakeSweeper captures the transition callback handed to it.
type fakeSweeper struct {
	callback func(liveness.Transition)
}

func (s *fakeSweeper) RunWithContext(ctx context.Context, onTransition func(liveness.Transition)) error {
	s.callback = onTransition
	onTransition(liveness.Transition{EntityID: "rex", Kind: liveness.TransitionOffline})
	<-ctx.Done()
	return ctx.Err()
}

func TestSweeperServiceWiresCallback(t *testing.T) {
	var got []liveness.Transition
	sweeper := &fakeSweeper{}
	svc := NewSweeperService(sweeper, func(tr liveness.Transition) {
		got = append(got, tr)
	})

	if svc.String() != "liveness-sweeper" {
		t.Errorf("String() = %q, want liveness-sweeper", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-errCh

	if len(got) != 1 || got[0].EntityID != "rex" {
		t.Errorf("transitions = %+v, want one for rex", got)
	}
}
