// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package varstore holds the addressable PID controller variables.
//
// The set of variables is fixed: five scalars (setpoint, kP, kI, kD, errI) and
// two limit pairs (errPLimits, errILimits). All access goes through a single
// RWMutex so a pair is always observed as a whole.
package varstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
)

var (
	// ErrRejected is returned by WriteScalar when the write policy refuses the value.
	ErrRejected = errors.New("write rejected")
	// ErrUnknownVariable is returned for ids that are not variables of the requested shape.
	ErrUnknownVariable = errors.New("unknown variable")
)

// Pair is a two-float variable such as a limit range
type Pair struct {
	Lo float32 `cbor:"0,keyasint" json:"lo"`
	Hi float32 `cbor:"1,keyasint" json:"hi"`
}

// Values is a full copy of the store contents
type Values struct {
	Setpoint   float32 `cbor:"0,keyasint" json:"setpoint"`
	KP         float32 `cbor:"1,keyasint" json:"kP"`
	KI         float32 `cbor:"2,keyasint" json:"kI"`
	KD         float32 `cbor:"3,keyasint" json:"kD"`
	ErrI       float32 `cbor:"4,keyasint" json:"errI"`
	ErrPLimits Pair    `cbor:"5,keyasint" json:"errPLimits"`
	ErrILimits Pair    `cbor:"6,keyasint" json:"errILimits"`
}

// Defaults returns the factory values of a fresh controller
func Defaults() Values {
	return Values{
		Setpoint:   1238.0,
		KP:         19.4,
		KI:         8.7,
		KD:         1.6,
		ErrI:       2055.0,
		ErrPLimits: Pair{Lo: -3500.0, Hi: 3500.0},
		ErrILimits: Pair{Lo: -6500.0, Hi: 6500.0},
	}
}

// Store is the variable store. The zero value is not usable; use New.
type Store struct {
	mu sync.RWMutex
	v  Values
}

// New creates a store holding initial
func New(initial Values) *Store {
	return &Store{v: initial}
}

// scalar returns the slot for a scalar id. Caller holds mu.
func (s *Store) scalar(id pidproto.ID) *float32 {
	switch id {
	case pidproto.VarSetpoint:
		return &s.v.Setpoint
	case pidproto.VarKP:
		return &s.v.KP
	case pidproto.VarKI:
		return &s.v.KI
	case pidproto.VarKD:
		return &s.v.KD
	case pidproto.VarErrI:
		return &s.v.ErrI
	}
	return nil
}

// pair returns the slot for a pair id. Caller holds mu.
func (s *Store) pair(id pidproto.ID) *Pair {
	switch id {
	case pidproto.VarErrPLimits:
		return &s.v.ErrPLimits
	case pidproto.VarErrILimits:
		return &s.v.ErrILimits
	}
	return nil
}

// ReadScalar returns the current value of a scalar variable
func (s *Store) ReadScalar(id pidproto.ID) (float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.scalar(id)
	if p == nil {
		return 0, fmt.Errorf("%w: %s is not a scalar", ErrUnknownVariable, id)
	}
	return *p, nil
}

// ReadPair returns both elements of a pair variable
func (s *Store) ReadPair(id pidproto.ID) (Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.pair(id)
	if p == nil {
		return Pair{}, fmt.Errorf("%w: %s is not a pair", ErrUnknownVariable, id)
	}
	return *p, nil
}

// WriteScalar stores value. errI only accepts 0 (a reset of the accumulated
// integral error); any other value returns ErrRejected and leaves it unchanged.
func (s *Store) WriteScalar(id pidproto.ID, value float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.scalar(id)
	if p == nil {
		return fmt.Errorf("%w: %s is not a scalar", ErrUnknownVariable, id)
	}
	if id == pidproto.VarErrI && value != 0 {
		return fmt.Errorf("%w: %s accepts only 0, got %g", ErrRejected, id, value)
	}
	*p = value
	return nil
}

// WritePair replaces both elements of a pair variable at once
func (s *Store) WritePair(id pidproto.ID, value Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pair(id)
	if p == nil {
		return fmt.Errorf("%w: %s is not a pair", ErrUnknownVariable, id)
	}
	*p = value
	return nil
}

// Snapshot returns a consistent copy of all variables
func (s *Store) Snapshot() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Restore replaces all variables, bypassing the errI write policy.
// It is meant for loading a persisted image at startup.
func (s *Store) Restore(v Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
}
