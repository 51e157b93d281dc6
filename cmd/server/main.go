// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

// Package main is the entry point for the Pawlink relay server.
//
// Pawlink relays GPS and motion telemetry from pet tracking collars to
// live map viewers over WebSocket. Collar devices push JSON frames; the
// relay validates and normalizes them, tracks per-pet liveness, and
// rebroadcasts to every other connected client in real time.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Load settings from environment variables and config files (Koanf v2)
//  2. Connection Registry: WebSocket hub for device and viewer connections
//  3. Liveness Tracker: Per-pet online/offline state with timeout sweeping
//  4. Relay Dispatcher: Decode, classify, and rebroadcast telemetry frames
//  5. HTTP Server: REST API, health endpoints, and the /api/v1/ws upgrade path
//
// All long-running components run under a suture supervisor tree so a
// panicking service restarts without taking down the process.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (HTTP_PORT, LIVENESS_TIMEOUT, ...)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// Key tunables:
//   - LIVENESS_TIMEOUT: silence window before a pet is marked offline (default: 30s)
//   - SWEEP_INTERVAL: how often timeouts are re-evaluated (default: 5s)
//   - HTTP_PORT: listen port (default: 3000)
//   - CORS_ORIGINS: comma-separated allowed browser origins
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (10s timeout)
//   - Closes all WebSocket clients with a close frame
//
// # Example Usage
//
// Development with a local viewer:
//
//	export CORS_ORIGINS=http://localhost:4200
//	export LOG_FORMAT=console
//	./pawlink
//
// Production behind a proxy:
//
//	export HTTP_HOST=127.0.0.1
//	export HTTP_PORT=3000
//	export CORS_ORIGINS=https://app.pawlink.example
//	./pawlink
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pawlink/pawlink/internal/api"
	"github.com/pawlink/pawlink/internal/config"
	"github.com/pawlink/pawlink/internal/liveness"
	"github.com/pawlink/pawlink/internal/logging"
	"github.com/pawlink/pawlink/internal/registry"
	"github.com/pawlink/pawlink/internal/relay"
	"github.com/pawlink/pawlink/internal/supervisor"
	"github.com/pawlink/pawlink/internal/supervisor/services"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration first so logging can be initialized from it
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Dur("liveness_timeout", cfg.Relay.LivenessTimeout).
		Dur("sweep_interval", cfg.Relay.SweepInterval).
		Msg("Starting Pawlink relay")

	// === CORE COMPONENTS ===

	hub := registry.NewHub()
	tracker := liveness.NewTracker(cfg.Relay.LivenessTimeout, cfg.Relay.SweepInterval)
	dispatcher := relay.NewDispatcher(hub, tracker)
	hub.SetHandler(dispatcher)

	handler := api.NewHandler(cfg, hub, tracker, dispatcher)
	router := api.NewRouter(handler, cfg.Security)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// === SUPERVISOR TREE ===

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Messaging layer services
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewSweeperService(tracker, dispatcher.OnTransition))
	logging.Info().Msg("Connection registry and liveness sweeper added to supervisor tree")

	// API layer services
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Relay stopped gracefully")
}
