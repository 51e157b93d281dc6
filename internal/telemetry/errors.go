// Pawlink - Real-Time Pet Tracker Telemetry Relay
// Copyright 2026 Pawlink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pawlink/pawlink

package telemetry

import "fmt"

// DecodeReason classifies why a wire message failed to decode. The reason
// doubles as the metrics label, so values stay low-cardinality.
type DecodeReason string

const (
	// ReasonSyntax indicates the payload was not valid JSON.
	ReasonSyntax DecodeReason = "syntax"

	// ReasonMissingField indicates a required field was absent.
	ReasonMissingField DecodeReason = "missing_field"

	// ReasonInvalidValue indicates a field was present but out of range.
	ReasonInvalidValue DecodeReason = "invalid_value"
)

// DecodeError is the typed failure returned by the codec. Callers log and
// drop the frame; a malformed frame must never terminate the connection.
type DecodeError struct {
	Reason DecodeReason
	Field  string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("decode telemetry frame: %s %s: %v", e.Reason, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("decode telemetry frame: %s %s", e.Reason, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("decode telemetry frame: %s: %v", e.Reason, e.Err)
	default:
		return fmt.Sprintf("decode telemetry frame: %s", e.Reason)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func syntaxError(err error) *DecodeError {
	return &DecodeError{Reason: ReasonSyntax, Err: err}
}

func missingFieldError(field string) *DecodeError {
	return &DecodeError{Reason: ReasonMissingField, Field: field}
}

func invalidValueError(err error) *DecodeError {
	return &DecodeError{Reason: ReasonInvalidValue, Err: err}
}
