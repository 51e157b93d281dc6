// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package config

import (
	"fmt"

	"github.com/pawlink/pawlink/internal/validation"
)

// validatedConfig mirrors the tunables that have hard range requirements.
// Validation runs through the shared go-playground/validator instance.
type validatedConfig struct {
	Port            int     `validate:"min=1,max=65535"`
	LivenessTimeout int64   `validate:"gt=0"`
	SweepInterval   int64   `validate:"gt=0"`
	Heartbeat       int64   `validate:"gt=0"`
	GrowthFactor    float64 `validate:"gte=1"`
	MaxAttempts     int     `validate:"min=1"`
	BaseDelay       int64   `validate:"gt=0"`
	LogLevel        string  `validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	LogFormat       string  `validate:"oneof=json console"`
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	v := validatedConfig{
		Port:            c.Server.Port,
		LivenessTimeout: int64(c.Relay.LivenessTimeout),
		SweepInterval:   int64(c.Relay.SweepInterval),
		Heartbeat:       int64(c.Relay.HeartbeatInterval),
		GrowthFactor:    c.Client.ReconnectGrowthFactor,
		MaxAttempts:     c.Client.ReconnectMaxAttempts,
		BaseDelay:       int64(c.Client.ReconnectBaseDelay),
		LogLevel:        c.Logging.Level,
		LogFormat:       c.Logging.Format,
	}

	if verr := validation.ValidateStruct(&v); verr != nil {
		return fmt.Errorf("invalid configuration: %w", verr)
	}

	// The sweep must run at least as often as the timeout window, otherwise
	// offline detection can lag a full extra window behind.
	if c.Relay.SweepInterval > c.Relay.LivenessTimeout {
		return fmt.Errorf("SWEEP_INTERVAL (%s) must not exceed LIVENESS_TIMEOUT (%s)",
			c.Relay.SweepInterval, c.Relay.LivenessTimeout)
	}

	if len(c.Security.CORSOrigins) == 0 {
		return fmt.Errorf("CORS_ORIGINS must not be empty; use * to allow all origins")
	}

	return nil
}
