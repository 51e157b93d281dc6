// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package services

import (
	"context"

	"github.com/pawlink/pawlink/internal/liveness"
)

// Sweeper matches *liveness.Tracker's RunWithContext method.
type Sweeper interface {
	RunWithContext(ctx context.Context, onTransition func(liveness.Transition)) error
}

// SweeperService runs the liveness sweep loop as a supervised service,
// delivering offline transitions to the given callback.
type SweeperService struct {
	sweeper      Sweeper
	onTransition func(liveness.Transition)
	name         string
}

// NewSweeperService creates a new sweeper service wrapper.
func NewSweeperService(sweeper Sweeper, onTransition func(liveness.Transition)) *SweeperService {
	return &SweeperService{
		sweeper:      sweeper,
		onTransition: onTransition,
		name:         "liveness-sweeper",
	}
}

// Serve implements suture.Service. Returns ctx.Err() on normal shutdown.
func (s *SweeperService) Serve(ctx context.Context) error {
	return s.sweeper.RunWithContext(ctx, s.onTransition)
}

// String implements fmt.Stringer for logging.
func (s *SweeperService) String() string {
	return s.name
}
