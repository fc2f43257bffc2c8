// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a request or response into a human-readable string
func (c Codec) FormatFrame(f Frame, timestamp time.Time) string {
	result := fmt.Sprintf("[%s] %s %s (0b%04b) result=%s\n",
		timestamp.Format("15:04:05.000"), strings.ToUpper(f.Opcode.String()), f.ID, uint8(f.ID), strings.ToUpper(f.Result.String()))
	return result + c.FormatPayload(f)
}

// FormatPayload renders the payload according to the id shape
func (c Codec) FormatPayload(f Frame) string {
	switch {
	case f.ID.IsScalar():
		return fmt.Sprintf("  Value: %.4f\n", c.Scalar(f))
	case f.ID.IsPair():
		a, b := c.Pair(f)
		return fmt.Sprintf("  Limits: [%.4f, %.4f]\n", a, b)
	case f.ID.IsCommand():
		return "  (no payload)\n"
	}
	return "  Payload: " + FormatHex(f.Payload[:]) + "\n"
}

// FormatSample formats a stream sample on one line
func FormatSample(s Sample, timestamp time.Time) string {
	return fmt.Sprintf("[%s] STREAM pv=%+.4f out=%+.4f\n", timestamp.Format("15:04:05.000"), s.ProcessVariable, s.ControllerOutput)
}

// FormatHex renders bytes as space-separated hex
func FormatHex(b []byte) string {
	var s strings.Builder
	for i, x := range b {
		if i > 0 {
			s.WriteByte(' ')
		}
		fmt.Fprintf(&s, "%02X", x)
	}
	return s.String()
}
