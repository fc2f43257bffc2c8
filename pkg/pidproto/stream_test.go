// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleDatagram(t *testing.T) {
	for _, codec := range []Codec{NewCodec(binary.LittleEndian), NewCodec(binary.BigEndian)} {
		s := Sample{ProcessVariable: 0.0998, ControllerOutput: -0.995}
		buf := codec.EncodeSample(s)

		assert.Equal(t, byte(StreamPrefix), buf[0])
		assert.True(t, IsStreamDatagram(buf[:]))

		got, err := codec.DecodeSample(buf[:])
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestDecodeSampleRejects(t *testing.T) {
	_, err := DefaultCodec.DecodeSample([]byte{StreamPrefix, 0, 0})
	assert.Error(t, err)

	resp := Encode(OpRead, VarKP, ResultOK, [PayloadSize]byte{})
	_, err = DefaultCodec.DecodeSample(resp[:])
	assert.Error(t, err)
}

func TestIsStreamDatagram(t *testing.T) {
	assert.False(t, IsStreamDatagram(nil))
	assert.True(t, IsStreamDatagram([]byte{0b01}))
	assert.True(t, IsStreamDatagram([]byte{0b10}))
	for id := ID(0); id <= MaxID; id++ {
		resp := Encode(OpWrite, id, ResultError, [PayloadSize]byte{})
		assert.False(t, IsStreamDatagram(resp[:]), "id %s", id)
	}
}
