// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDatagram(t *testing.T) {
	c := DefaultCodec

	readKP := Frame{Opcode: OpRead, ID: VarKP}
	c.PutScalar(&readKP, 1.5)

	nanLimits := Frame{Opcode: OpRead, ID: VarErrPLimits}
	c.PutPair(&nanLimits, -1, float32(math.NaN()))

	dirtyWrite := Frame{Opcode: OpWrite, ID: VarSetpoint}
	c.PutScalar(&dirtyWrite, 3)

	dirtyCommand := Frame{Opcode: OpRead, ID: CmdStreamStart}
	dirtyCommand.Payload[7] = 0xFF

	goodSample := c.EncodeSample(Sample{ProcessVariable: 1, ControllerOutput: 2})
	infSample := c.EncodeSample(Sample{ProcessVariable: float32(math.Inf(1)), ControllerOutput: 0})
	badPrefix := goodSample
	badPrefix[0] = 0x03

	marshal := func(f Frame) []byte {
		b := f.Marshal()
		return b[:]
	}

	tests := []struct {
		name  string
		input []byte
		want  []AnomalyType
	}{
		{"read response", marshal(readKP), nil},
		{"write response", marshal(Frame{Opcode: OpWrite, ID: VarKD}), nil},
		{"error result", marshal(Frame{Opcode: OpWrite, ID: VarErrI, Result: ResultError}), nil},
		{"unknown id error", marshal(Frame{Opcode: OpRead, ID: 0b1111, Result: ResultError}), nil},
		{"sample", goodSample[:], nil},
		{"short", []byte{0x20, 0, 0}, []AnomalyType{AnomalyLengthMismatch}},
		{"long", make([]byte, 10), []AnomalyType{AnomalyLengthMismatch}},
		{"stream prefix", badPrefix[:], []AnomalyType{AnomalyStreamPrefix}},
		{"non-finite sample", infSample[:], []AnomalyType{AnomalyNonFinite}},
		{"non-finite pair", marshal(nanLimits), []AnomalyType{AnomalyNonFinite}},
		{"unknown id ok", marshal(Frame{Opcode: OpRead, ID: 0b1100}), []AnomalyType{AnomalyUnknownID}},
		{"command write ok", marshal(Frame{Opcode: OpWrite, ID: CmdSaveToEEPROM}), []AnomalyType{AnomalyCommandWrite}},
		{"command payload", marshal(dirtyCommand), []AnomalyType{AnomalyCommandPayload}},
		{"write payload", marshal(dirtyWrite), []AnomalyType{AnomalyWritePayload}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := c.ValidateDatagram(tt.input)
			require.Len(t, errs, len(tt.want))
			for i, want := range tt.want {
				assert.Equal(t, want, errs[i].Type)
				assert.NotEmpty(t, errs[i].Error())
			}
		})
	}
}
