// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()

	if cfg.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want 5.0", cfg.FailureThreshold)
	}
	if cfg.FailureDecay != 30.0 {
		t.Errorf("FailureDecay = %v, want 30.0", cfg.FailureDecay)
	}
	if cfg.FailureBackoff != 15*time.Second {
		t.Errorf("FailureBackoff = %v, want 15s", cfg.FailureBackoff)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestNewSupervisorTreeAppliesDefaults(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewSupervisorTree() error = %v", err)
	}

	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want defaulted 5.0", tree.config.FailureThreshold)
	}
	if tree.Root() == nil {
		t.Error("Root() = nil")
	}
}

// blockingService runs until its context is canceled.
type blockingService struct {
	started chan struct{}
}

func (s *blockingService) Serve(ctx context.Context) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return "blocking-service" }

func TestSupervisorTreeServeAndShutdown(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), DefaultTreeConfig())
	if err != nil {
		t.Fatalf("NewSupervisorTree() error = %v", err)
	}

	messaging := &blockingService{started: make(chan struct{}, 1)}
	apiSvc := &blockingService{started: make(chan struct{}, 1)}
	tree.AddMessagingService(messaging)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	for _, svc := range []*blockingService{messaging, apiSvc} {
		select {
		case <-svc.started:
		case <-time.After(2 * time.Second):
			t.Fatal("service never started under supervision")
		}
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("supervisor returned %v, want nil or context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
}
