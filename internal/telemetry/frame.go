// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

// Package telemetry defines the canonical device frame format and the codec
// that turns untrusted wire JSON into validated, normalized frames.
//
// Devices report GPS position, IMU motion (accelerometer + gyroscope),
// battery and an optional producer-side activity label. The codec accepts
// both field spellings seen on the wire (latitude/longitude and the
// coordinates [lng, lat] pair) and guarantees that a missing or (0,0) GPS
// fix never surfaces as a real position.
package telemetry

import "time"

// Activity is the derived or producer-reported activity state of a pet.
type Activity string

// Activity labels. Devices report resting/walking/running/traveling; the
// IMU classifier additionally distinguishes standing from resting.
const (
	ActivityResting   Activity = "resting"
	ActivityStanding  Activity = "standing"
	ActivityWalking   Activity = "walking"
	ActivityRunning   Activity = "running"
	ActivityTraveling Activity = "traveling"
	ActivityUnknown   Activity = "unknown"
)

// Vector3 is a 3-axis sensor sample.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Motion carries the raw IMU readings. Both sensors are required; a frame
// without either is invalid.
type Motion struct {
	Accelerometer Vector3 `json:"accelerometer"`
	Gyroscope     Vector3 `json:"gyroscope"`
}

// Position is a validated GPS fix. A nil *Position means "no fix" -
// consumers must keep the last known good position instead of jumping a
// marker to (0,0).
type Position struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// Frame is one normalized inbound device report.
type Frame struct {
	EntityID string `json:"entityId"`
	DeviceID string `json:"deviceId"`

	// Timestamp is producer-side time in milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Position is null when the device had no usable GPS fix.
	Position *Position `json:"position"`

	Motion Motion `json:"motion"`

	Battery    *int     `json:"battery,omitempty" validate:"omitempty,min=0,max=100"`
	Activity   Activity `json:"activity,omitempty"`
	Confidence float64  `json:"confidence,omitempty" validate:"gte=0,lte=1"`

	Temperature *float64 `json:"temperature,omitempty"`
}

// Time returns the producer timestamp as a time.Time.
func (f *Frame) Time() time.Time {
	return time.UnixMilli(f.Timestamp)
}

// HasFix reports whether the frame carries a usable GPS position.
func (f *Frame) HasFix() bool {
	return f.Position != nil
}
