// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package telemetry

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/pawlink/pawlink/internal/validation"
)

// TypeRouteData marks a historical route batch on the wire. Route batches
// are forwarded verbatim and never touch liveness state.
const TypeRouteData = "route_data"

// flexibleID accepts both JSON numbers and strings so integer petId values
// from firmware and string entity IDs from newer producers both decode.
type flexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *flexibleID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*id = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*id = flexibleID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = flexibleID(n.String())
	return nil
}

// wireFrame mirrors the raw device JSON before normalization.
type wireFrame struct {
	Type     string     `json:"type"`
	PetID    flexibleID `json:"petId"`
	EntityID flexibleID `json:"entityId"`
	DeviceID string     `json:"deviceId"`

	Timestamp int64 `json:"timestamp"`

	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	// Coordinates is the simulator spelling: [longitude, latitude].
	Coordinates []float64 `json:"coordinates"`

	Accelerometer *Vector3 `json:"accelerometer"`
	Gyroscope     *Vector3 `json:"gyroscope"`

	Battery     *int     `json:"battery"`
	Activity    string   `json:"activity"`
	Confidence  *float64 `json:"confidence"`
	Temperature *float64 `json:"temperature"`
}

// MessageType returns the "type" field of a wire message, or empty string
// for untyped payloads (plain device frames) and unparseable input. Cheap
// probe used to route messages before full decode.
func MessageType(raw []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Type
}

// IsRouteBatch reports whether the raw message is a historical route batch.
func IsRouteBatch(raw []byte) bool {
	return MessageType(raw) == TypeRouteData
}

// Decode parses and validates a single wire message into a normalized
// Frame. It is a pure function: errors are returned, never thrown past the
// caller, and the caller decides whether to log and drop.
//
// A frame is rejected for invalid JSON, missing entity/device identity, or
// incomplete motion data. Position normalization: latitude/longitude (or
// the coordinates pair) become a Position only when both are present and
// not exactly (0,0); otherwise Position is nil so a missing GPS fix cannot
// masquerade as a real coordinate.
func Decode(raw []byte) (*Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, syntaxError(err)
	}

	entityID := string(w.PetID)
	if entityID == "" {
		entityID = string(w.EntityID)
	}
	if entityID == "" {
		return nil, missingFieldError("entityId")
	}
	if w.DeviceID == "" {
		return nil, missingFieldError("deviceId")
	}
	if w.Accelerometer == nil {
		return nil, missingFieldError("accelerometer")
	}
	if w.Gyroscope == nil {
		return nil, missingFieldError("gyroscope")
	}

	frame := &Frame{
		EntityID:  entityID,
		DeviceID:  w.DeviceID,
		Timestamp: w.Timestamp,
		Position:  resolvePosition(&w),
		Motion: Motion{
			Accelerometer: *w.Accelerometer,
			Gyroscope:     *w.Gyroscope,
		},
		Battery:     w.Battery,
		Activity:    Activity(w.Activity),
		Temperature: w.Temperature,
	}
	if w.Confidence != nil {
		frame.Confidence = *w.Confidence
	}

	if verr := validation.ValidateStruct(frame); verr != nil {
		return nil, invalidValueError(verr)
	}

	return frame, nil
}

// resolvePosition normalizes the two wire spellings into a Position,
// returning nil for a missing or (0,0) fix.
func resolvePosition(w *wireFrame) *Position {
	if w.Latitude != nil && w.Longitude != nil {
		if *w.Latitude == 0 && *w.Longitude == 0 {
			return nil
		}
		return &Position{Latitude: *w.Latitude, Longitude: *w.Longitude}
	}

	if len(w.Coordinates) == 2 {
		lng, lat := w.Coordinates[0], w.Coordinates[1]
		if lat == 0 && lng == 0 {
			return nil
		}
		return &Position{Latitude: lat, Longitude: lng}
	}

	return nil
}

// RoutePoint is one historical track point inside a route batch.
type RoutePoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
	Speed     float64 `json:"speed,omitempty"`
	Activity  string  `json:"activity,omitempty"`
}

// RouteBatch is an array of historical points sent as one message.
// Batched historical data does not indicate current liveness, so the
// dispatcher forwards batches without touching the tracker.
type RouteBatch struct {
	Type       string       `json:"type"`
	PetID      flexibleID   `json:"petId"`
	PointCount int          `json:"pointCount"`
	Route      []RoutePoint `json:"route"`
}

// EntityID returns the batch's entity identifier as a string.
func (b *RouteBatch) EntityID() string {
	return string(b.PetID)
}

// DecodeRouteBatch parses a route_data message.
func DecodeRouteBatch(raw []byte) (*RouteBatch, error) {
	var b RouteBatch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, syntaxError(err)
	}
	if b.Type != TypeRouteData {
		return nil, &DecodeError{Reason: ReasonInvalidValue, Field: "type", Err: errUnexpectedType(b.Type)}
	}
	if string(b.PetID) == "" {
		return nil, missingFieldError("petId")
	}
	return &b, nil
}

type errUnexpectedType string

func (e errUnexpectedType) Error() string {
	return "expected " + strconv.Quote(TypeRouteData) + ", got " + strconv.Quote(string(e))
}
