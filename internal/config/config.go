// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

// Package config loads and validates Pawlink configuration.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HTTP_PORT, LIVENESS_TIMEOUT, ...)
//   - Config file (config.yaml)
//   - Built-in defaults
package config

import "time"

// Config is the root configuration for the relay server and the embedded
// viewer client.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Relay    RelayConfig    `koanf:"relay"`
	Client   ClientConfig   `koanf:"client"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// Timeout applies to HTTP read/write; WebSocket connections are exempt
	// once upgraded.
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RelayConfig holds the relay pipeline tunables.
type RelayConfig struct {
	// LivenessTimeout is the window after which an entity with no frames is
	// marked offline. The single most important tunable: too short causes
	// false offline flaps under normal jitter, too long delays detection of
	// a truly disconnected device.
	LivenessTimeout time.Duration `koanf:"liveness_timeout"`

	// SweepInterval is how often the liveness tracker re-evaluates timeout
	// expiry even when no frames arrive.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// HeartbeatInterval is how often the server pings each WebSocket
	// connection to keep intermediary proxies from closing idle connections.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// MaxMessageSize is the per-message read limit in bytes.
	MaxMessageSize int64 `koanf:"max_message_size"`
}

// ClientConfig holds the viewer-side reconnection manager settings.
type ClientConfig struct {
	// URL is the relay WebSocket endpoint, e.g. ws://localhost:3000/api/v1/ws.
	URL string `koanf:"url"`

	// ReconnectBaseDelay is the delay before the first reconnect attempt.
	ReconnectBaseDelay time.Duration `koanf:"reconnect_base_delay"`

	// ReconnectGrowthFactor multiplies the delay after each failed attempt.
	ReconnectGrowthFactor float64 `koanf:"reconnect_growth_factor"`

	// ReconnectMaxAttempts bounds consecutive failed attempts before the
	// manager gives up and surfaces a terminal failure state.
	ReconnectMaxAttempts int `koanf:"reconnect_max_attempts"`

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
}

// SecurityConfig holds transport security settings.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values applied.
// Defaults are layered first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			LivenessTimeout:   30 * time.Second,
			SweepInterval:     5 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			MaxMessageSize:    512 * 1024,
		},
		Client: ClientConfig{
			URL:                   "",
			ReconnectBaseDelay:    3 * time.Second,
			ReconnectGrowthFactor: 1.5,
			ReconnectMaxAttempts:  5,
			HandshakeTimeout:      10 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
