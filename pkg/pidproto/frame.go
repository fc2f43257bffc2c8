// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned when a datagram is not exactly FrameSize bytes.
var ErrFrameSize = errors.New("frame must be 9 bytes")

// Frame is a decoded request or response.
// Payload is carried verbatim; use a Codec to read or write its floats.
type Frame struct {
	Opcode  Opcode
	ID      ID
	Result  Result
	Payload [PayloadSize]byte
}

// EncodeControlByte packs opcode, id and result into the control byte.
// Out-of-range inputs are masked to their field width.
func EncodeControlByte(op Opcode, id ID, result Result) byte {
	return byte(op&opcodeMask)<<opcodeShift |
		byte(id&idMask)<<idShift |
		byte(result&resultMask)<<resultShift
}

// DecodeControlByte unpacks the control byte.
func DecodeControlByte(b byte) (Opcode, ID, Result) {
	return Opcode(b >> opcodeShift & opcodeMask),
		ID(b >> idShift & idMask),
		Result(b >> resultShift & resultMask)
}

// Encode builds the wire form of a frame.
func Encode(op Opcode, id ID, result Result, payload [PayloadSize]byte) [FrameSize]byte {
	var buf [FrameSize]byte
	buf[0] = EncodeControlByte(op, id, result)
	copy(buf[1:], payload[:])
	return buf
}

// Decode splits a wire frame into its fields. The payload is not interpreted.
func Decode(buf [FrameSize]byte) Frame {
	op, id, result := DecodeControlByte(buf[0])
	f := Frame{Opcode: op, ID: id, Result: result}
	copy(f.Payload[:], buf[1:])
	return f
}

// Unmarshal decodes a frame from a datagram of exactly FrameSize bytes.
func Unmarshal(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("%w: got %d", ErrFrameSize, len(b))
	}
	return Decode([FrameSize]byte(b)), nil
}

// Marshal returns the wire form of f.
func (f Frame) Marshal() [FrameSize]byte {
	return Encode(f.Opcode, f.ID, f.Result, f.Payload)
}

// ClearPayload zero-fills both payload slots.
func (f *Frame) ClearPayload() {
	f.Payload = [PayloadSize]byte{}
}

// IsStreamDatagram reports whether a datagram is a telemetry stream message
// rather than a response. Responses always keep bits 1..0 clear.
func IsStreamDatagram(b []byte) bool {
	return len(b) > 0 && b[0]&streamMask != 0
}
