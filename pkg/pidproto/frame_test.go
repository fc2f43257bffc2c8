// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlByteLayout(t *testing.T) {
	tests := []struct {
		name   string
		op     Opcode
		id     ID
		result Result
		want   byte
	}{
		{"read stream stop", OpRead, CmdStreamStop, ResultOK, 0b0_0000_000},
		{"read stream start", OpRead, CmdStreamStart, ResultOK, 0b0_0001_000},
		{"read kP", OpRead, VarKP, ResultOK, 0b0_0101_000},
		{"write errI", OpWrite, VarErrI, ResultOK, 0b1_1000_000},
		{"write errI rejected", OpWrite, VarErrI, ResultError, 0b1_1000_100},
		{"read save", OpRead, CmdSaveToEEPROM, ResultOK, 0b0_1011_000},
		{"read unknown error", OpRead, 0b1111, ResultError, 0b0_1111_100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeControlByte(tt.op, tt.id, tt.result)
			assert.Equal(t, tt.want, got, "control byte 0b%08b", got)

			op, id, result := DecodeControlByte(got)
			assert.Equal(t, tt.op, op)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.result, result)
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := [PayloadSize]byte{1, 2, 3, 4, 5, 6, 7, 8}
	for op := OpRead; op <= OpWrite; op++ {
		for id := ID(0); id <= MaxID; id++ {
			for result := ResultOK; result <= ResultError; result++ {
				buf := Encode(op, id, result, payload)
				f := Decode(buf)
				require.Equal(t, Frame{Opcode: op, ID: id, Result: result, Payload: payload}, f)
				assert.Zero(t, buf[0]&streamMask, "response bits 1..0 must stay clear")
				assert.Equal(t, buf, f.Marshal())
			}
		}
	}
}

func TestEncodeMasksFields(t *testing.T) {
	b := EncodeControlByte(Opcode(0xFF), ID(0xFF), Result(0xFF))
	assert.Equal(t, byte(0b1_1111_100), b)
}

func TestUnmarshal(t *testing.T) {
	t.Run("exact size", func(t *testing.T) {
		f, err := Unmarshal([]byte{0b1_0100_000, 0, 0, 0xC7, 0x42, 0, 0, 0, 0})
		require.NoError(t, err)
		assert.Equal(t, OpWrite, f.Opcode)
		assert.Equal(t, VarSetpoint, f.ID)
		assert.InDelta(t, 99.5, DefaultCodec.Scalar(f), 0)
	})

	for _, n := range []int{0, 1, 8, 10, 64} {
		_, err := Unmarshal(make([]byte, n))
		assert.ErrorIs(t, err, ErrFrameSize, "len=%d", n)
	}
}

func TestCodecByteOrder(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		want  [PayloadSize]byte
	}{
		{"little", NewCodec(binary.LittleEndian), [PayloadSize]byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00, 0x00, 0xC0}},
		{"big", NewCodec(binary.BigEndian), [PayloadSize]byte{0x3F, 0x80, 0x00, 0x00, 0xC0, 0x00, 0x00, 0x00}},
		{"nil defaults to little", NewCodec(nil), [PayloadSize]byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00, 0x00, 0xC0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f Frame
			tt.codec.PutPair(&f, 1.0, -2.0)
			assert.Equal(t, tt.want, f.Payload)

			a, b := tt.codec.Pair(f)
			assert.Equal(t, float32(1.0), a)
			assert.Equal(t, float32(-2.0), b)
		})
	}
}

func TestPutScalarClearsSecondSlot(t *testing.T) {
	f := Frame{Payload: [PayloadSize]byte{9, 9, 9, 9, 9, 9, 9, 9}}
	DefaultCodec.PutScalar(&f, 19.4)
	assert.Equal(t, float32(19.4), DefaultCodec.Scalar(f))
	assert.Equal(t, []byte{0, 0, 0, 0}, f.Payload[4:])
}

func TestNewRequest(t *testing.T) {
	f := DefaultCodec.NewRequest(OpWrite, VarErrPLimits, -3500, 3500, 42)
	assert.Equal(t, OpWrite, f.Opcode)
	assert.Equal(t, VarErrPLimits, f.ID)
	assert.Equal(t, ResultOK, f.Result)
	a, b := DefaultCodec.Pair(f)
	assert.Equal(t, float32(-3500), a)
	assert.Equal(t, float32(3500), b)

	f = DefaultCodec.NewRequest(OpRead, VarKD)
	assert.Equal(t, [PayloadSize]byte{}, f.Payload)
}

func TestParseByteOrder(t *testing.T) {
	for _, s := range []string{"", "little", "LE", "Little-Endian"} {
		o, err := ParseByteOrder(s)
		require.NoError(t, err, s)
		assert.Equal(t, binary.LittleEndian, o)
	}
	o, err := ParseByteOrder("big")
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, o)

	_, err = ParseByteOrder("middle")
	assert.Error(t, err)
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte{0b0_0101_000, 0, 0, 0, 0, 0, 0, 0, 0})
	f.Add([]byte{0xFF, 1, 2, 3, 4, 5, 6, 7, 8})
	f.Fuzz(func(t *testing.T, b []byte) {
		fr, err := Unmarshal(b)
		if len(b) != FrameSize {
			if err == nil {
				t.Fatalf("expected error for %d bytes", len(b))
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := fr.Marshal()
		// bits 1..0 are not part of the frame model
		if out[0] != b[0]&^streamMask {
			t.Fatalf("control byte 0x%02X re-encoded as 0x%02X", b[0], out[0])
		}
		if string(out[1:]) != string(b[1:]) {
			t.Fatalf("payload changed")
		}
	})
}
