// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"fmt"
	"math"
)

// Sample is one telemetry stream point.
type Sample struct {
	ProcessVariable  float32
	ControllerOutput float32
}

// EncodeSample builds a stream datagram: StreamPrefix then both floats.
func (c Codec) EncodeSample(s Sample) [StreamDatagramSize]byte {
	var buf [StreamDatagramSize]byte
	buf[0] = StreamPrefix
	c.order.PutUint32(buf[1:1+FloatSize], math.Float32bits(s.ProcessVariable))
	c.order.PutUint32(buf[1+FloatSize:], math.Float32bits(s.ControllerOutput))
	return buf
}

// DecodeSample parses a stream datagram.
func (c Codec) DecodeSample(b []byte) (Sample, error) {
	if len(b) != StreamDatagramSize {
		return Sample{}, fmt.Errorf("stream datagram must be %d bytes, got %d", StreamDatagramSize, len(b))
	}
	if !IsStreamDatagram(b) {
		return Sample{}, fmt.Errorf("not a stream datagram (prefix 0x%02X)", b[0])
	}
	return Sample{
		ProcessVariable:  math.Float32frombits(c.order.Uint32(b[1 : 1+FloatSize])),
		ControllerOutput: math.Float32frombits(c.order.Uint32(b[1+FloatSize:])),
	}, nil
}
