// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pidproto implements the remote PID controller datagram protocol.
//
// Every request and response is a fixed 9-byte frame: one control byte followed
// by two IEEE-754 float32 payload slots. The control byte layout (MSB first):
//
//	bit 7      opcode (0 = read, 1 = write)
//	bits 6..3  id (command or variable)
//	bit 2      result in responses (0 = ok, 1 = error), zero in requests
//	bits 1..0  zero in requests and responses, nonzero in stream datagrams
//
// Telemetry stream datagrams share the 9-byte size: the StreamPrefix byte
// followed by the process variable and the controller output.
package pidproto

// Sizes
const (
	FrameSize   = 9
	PayloadSize = 8
	FloatSize   = 4

	StreamDatagramSize = 1 + 2*FloatSize
)

// StreamPrefix is the first byte of every telemetry stream datagram.
const StreamPrefix = 0b00000001

// Control byte bit layout
const (
	opcodeShift = 7
	opcodeMask  = 0x01
	idShift     = 3
	idMask      = 0x0F
	resultShift = 2
	resultMask  = 0x01
	streamMask  = 0x03
)

// Opcode selects between reading and writing.
type Opcode uint8

// Opcode values
const (
	OpRead  Opcode = 0
	OpWrite Opcode = 1
)

// ID is the 4-bit command/variable identifier.
type ID uint8

// Commands (read opcode only)
const (
	CmdStreamStop   ID = 0b0000
	CmdStreamStart  ID = 0b0001
	CmdSaveToEEPROM ID = 0b1011
)

// Variables
const (
	VarSetpoint   ID = 0b0100
	VarKP         ID = 0b0101
	VarKI         ID = 0b0110
	VarKD         ID = 0b0111
	VarErrI       ID = 0b1000
	VarErrPLimits ID = 0b1001
	VarErrILimits ID = 0b1010
)

// MaxID is the largest value representable in the id field.
const MaxID ID = idMask

// Result is the response status bit.
type Result uint8

// Result values
const (
	ResultOK    Result = 0
	ResultError Result = 1
)

// ScalarVariables lists the single-float variables in id order.
var ScalarVariables = []ID{VarSetpoint, VarKP, VarKI, VarKD, VarErrI}

// PairVariables lists the two-float variables in id order.
var PairVariables = []ID{VarErrPLimits, VarErrILimits}
