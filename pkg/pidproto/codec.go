// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Codec reads and writes the float payload using a fixed byte order.
// Both peers must agree on the order; deployed controllers are little-endian.
type Codec struct {
	order binary.ByteOrder
}

// NewCodec creates a payload codec. A nil order selects little-endian.
func NewCodec(order binary.ByteOrder) Codec {
	if order == nil {
		order = binary.LittleEndian
	}
	return Codec{order: order}
}

// DefaultCodec is the little-endian codec.
var DefaultCodec = NewCodec(binary.LittleEndian)

// ParseByteOrder maps "little"/"big" (and the "le"/"be" shorthands) to a byte order.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "little", "le", "little-endian":
		return binary.LittleEndian, nil
	case "big", "be", "big-endian":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unsupported byte order %q (use little or big)", s)
}

// ByteOrder returns the codec's byte order
func (c Codec) ByteOrder() binary.ByteOrder {
	return c.order
}

// PutScalar writes v into payload slot 1 and zeroes slot 2.
func (c Codec) PutScalar(f *Frame, v float32) {
	f.ClearPayload()
	c.order.PutUint32(f.Payload[0:FloatSize], math.Float32bits(v))
}

// PutPair writes a and b into payload slots 1 and 2.
func (c Codec) PutPair(f *Frame, a, b float32) {
	c.order.PutUint32(f.Payload[0:FloatSize], math.Float32bits(a))
	c.order.PutUint32(f.Payload[FloatSize:PayloadSize], math.Float32bits(b))
}

// Scalar returns payload slot 1.
func (c Codec) Scalar(f Frame) float32 {
	return math.Float32frombits(c.order.Uint32(f.Payload[0:FloatSize]))
}

// Pair returns payload slots 1 and 2.
func (c Codec) Pair(f Frame) (float32, float32) {
	return math.Float32frombits(c.order.Uint32(f.Payload[0:FloatSize])),
		math.Float32frombits(c.order.Uint32(f.Payload[FloatSize:PayloadSize]))
}

// NewRequest builds a request frame. values fill the payload slots in order;
// missing slots stay zero and extra values are ignored.
func (c Codec) NewRequest(op Opcode, id ID, values ...float32) Frame {
	f := Frame{Opcode: op, ID: id}
	for i, v := range values {
		if i >= PayloadSize/FloatSize {
			break
		}
		c.order.PutUint32(f.Payload[i*FloatSize:(i+1)*FloatSize], math.Float32bits(v))
	}
	return f
}
