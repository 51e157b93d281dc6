// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

// Package services wraps the relay's long-running components as
// suture.Service implementations.
package services

import (
	"context"
)

// ContextHub matches *registry.Hub's RunWithContext method. Declared here
// so the wrapper does not import the registry package.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService wraps the connection registry hub as a supervised service.
//
// The hub's RunWithContext method already implements the suture.Service
// pattern, so this wrapper simply delegates to it and provides a name for
// logging.
type HubService struct {
	hub  ContextHub
	name string
}

// NewHubService creates a new hub service wrapper.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{
		hub:  hub,
		name: "connection-registry",
	}
}

// Serve implements suture.Service. Returns ctx.Err() on normal shutdown.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for logging.
func (s *HubService) String() string {
	return s.name
}
