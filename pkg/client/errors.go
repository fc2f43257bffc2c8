// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
)

var (
	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("no response from controller")
	// ErrClosed is returned after the transport has failed or been closed.
	ErrClosed = errors.New("client closed")
)

// ResponseError is a response carrying the Error result
type ResponseError struct {
	Opcode pidproto.Opcode
	ID     pidproto.ID
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("controller rejected %s %s", e.Opcode, e.ID)
}

// MismatchError is a response that does not answer the pending request
type MismatchError struct {
	Want pidproto.Frame
	Got  pidproto.Frame
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("response mismatch: sent %s %s, got %s %s",
		e.Want.Opcode, e.Want.ID, e.Got.Opcode, e.Got.ID)
}
