// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package telemetry

import "math"

// activityThreshold pairs the accelerometer and gyroscope vector magnitudes
// that a sample must reach to qualify for an activity band.
type activityThreshold struct {
	accel float64
	gyro  float64
}

// Thresholds calibrated against collar-mounted ESP32C6 IMU captures.
var (
	thresholdStanding = activityThreshold{accel: 10.5, gyro: 1.0}
	thresholdWalking  = activityThreshold{accel: 12.0, gyro: 2.5}
	thresholdRunning  = activityThreshold{accel: 15.0, gyro: 4.0}
)

// magnitude returns the Euclidean norm of a 3-axis sample.
func magnitude(v Vector3) float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// ClassifyMotion derives an activity state and confidence from raw IMU
// readings. Used when a frame arrives without a producer-side activity
// label. Confidence is in [0,1].
func ClassifyMotion(m Motion) (Activity, float64) {
	accel := magnitude(m.Accelerometer)
	gyro := magnitude(m.Gyroscope)
	combined := accel + gyro

	switch {
	case accel >= thresholdRunning.accel && gyro >= thresholdRunning.gyro:
		return ActivityRunning, math.Min(0.95, combined/20)
	case accel >= thresholdWalking.accel && gyro >= thresholdWalking.gyro:
		return ActivityWalking, math.Min(0.90, combined/15)
	case accel >= thresholdStanding.accel && gyro >= thresholdStanding.gyro:
		return ActivityStanding, math.Min(0.85, combined/12)
	default:
		return ActivityResting, math.Max(0.70, 1-combined/15)
	}
}
