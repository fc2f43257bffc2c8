// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"fmt"
	"math"
)

// RequestErrorKind classifies a request refused before it reaches the wire
type RequestErrorKind int

const (
	RequestUnknownID RequestErrorKind = iota
	RequestWriteCommand
	RequestValueCount
	RequestErrINonZero
)

// RequestError describes an invalid outgoing request
type RequestError struct {
	Kind    RequestErrorKind
	Opcode  Opcode
	ID      ID
	Message string
}

// Error implements the error interface
func (e *RequestError) Error() string {
	return e.Message
}

// ValidateRequest checks an outgoing request the same way a well-behaved client must:
// commands are read-only, writes carry exactly the variable's number of floats
// and errI may only be reset to zero.
func ValidateRequest(op Opcode, id ID, values []float32) error {
	if !id.IsKnown() {
		return &RequestError{Kind: RequestUnknownID, Opcode: op, ID: id,
			Message: fmt.Sprintf("unknown id 0b%04b", uint8(id))}
	}
	if op == OpRead {
		return nil
	}
	if id.IsCommand() {
		return &RequestError{Kind: RequestWriteCommand, Opcode: op, ID: id,
			Message: fmt.Sprintf("%s can only be sent as a read", id)}
	}
	want := 1
	if id.IsPair() {
		want = 2
	}
	if len(values) != want {
		return &RequestError{Kind: RequestValueCount, Opcode: op, ID: id,
			Message: fmt.Sprintf("%s takes %d value(s), got %d", id, want, len(values))}
	}
	if id == VarErrI && values[0] != 0 {
		return &RequestError{Kind: RequestErrINonZero, Opcode: op, ID: id,
			Message: fmt.Sprintf("%s allows only reading and reset (writing 0), got %g", id, values[0])}
	}
	return nil
}

// AnomalyType represents different kinds of suspicious inbound datagrams
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyStreamPrefix
	AnomalyUnknownID
	AnomalyCommandWrite
	AnomalyWritePayload
	AnomalyCommandPayload
	AnomalyNonFinite
)

// ValidationError represents one anomaly found in a datagram
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateDatagram checks a datagram received from a controller.
// Returns a slice of validation errors (empty if the datagram is well formed)
func (c Codec) ValidateDatagram(b []byte) []ValidationError {
	if len(b) != FrameSize {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("datagram is %d bytes (expected %d)", len(b), FrameSize),
			Details: map[string]interface{}{"received": len(b), "expected": FrameSize},
		}}
	}
	if IsStreamDatagram(b) {
		return c.validateSample(b)
	}
	f, _ := Unmarshal(b)
	return c.validateResponse(f)
}

func (c Codec) validateSample(b []byte) []ValidationError {
	if b[0] != StreamPrefix {
		return []ValidationError{{
			Type:    AnomalyStreamPrefix,
			Message: fmt.Sprintf("stream datagram prefix 0x%02X (expected 0x%02X)", b[0], StreamPrefix),
			Details: map[string]interface{}{"prefix": b[0]},
		}}
	}

	errors := []ValidationError{}
	s, _ := c.DecodeSample(b)
	for _, v := range []struct {
		name  string
		value float32
	}{{"pv", s.ProcessVariable}, {"output", s.ControllerOutput}} {
		if !finite(v.value) {
			errors = append(errors, ValidationError{
				Type:    AnomalyNonFinite,
				Message: fmt.Sprintf("sample %s is %g", v.name, v.value),
				Details: map[string]interface{}{v.name: v.value},
			})
		}
	}
	return errors
}

func (c Codec) validateResponse(f Frame) []ValidationError {
	errors := []ValidationError{}
	zero := f.Payload == [PayloadSize]byte{}

	switch {
	case !f.ID.IsKnown():
		if f.Result == ResultOK {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnknownID,
				Message: fmt.Sprintf("unknown id 0b%04b answered OK", uint8(f.ID)),
				Details: map[string]interface{}{"id": uint8(f.ID)},
			})
		}
	case f.ID.IsCommand():
		if f.Opcode == OpWrite && f.Result == ResultOK {
			errors = append(errors, ValidationError{
				Type:    AnomalyCommandWrite,
				Message: fmt.Sprintf("write to %s answered OK", f.ID),
				Details: map[string]interface{}{"id": uint8(f.ID)},
			})
		}
		if !zero {
			errors = append(errors, ValidationError{
				Type:    AnomalyCommandPayload,
				Message: fmt.Sprintf("%s response carries a payload", f.ID),
				Details: map[string]interface{}{"payload": FormatHex(f.Payload[:])},
			})
		}
	case f.Opcode == OpWrite:
		if !zero {
			errors = append(errors, ValidationError{
				Type:    AnomalyWritePayload,
				Message: fmt.Sprintf("write response for %s carries a payload", f.ID),
				Details: map[string]interface{}{"payload": FormatHex(f.Payload[:])},
			})
		}
	case f.Result == ResultOK:
		values := []float32{c.Scalar(f)}
		if f.ID.IsPair() {
			lo, hi := c.Pair(f)
			values = []float32{lo, hi}
		}
		for i, v := range values {
			if !finite(v) {
				errors = append(errors, ValidationError{
					Type:    AnomalyNonFinite,
					Message: fmt.Sprintf("%s value %d is %g", f.ID, i, v),
					Details: map[string]interface{}{"index": i, "value": v},
				})
			}
		}
	}

	return errors
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
