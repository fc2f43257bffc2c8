// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/varstore"
)

// Snapshot is a saved set of tuning variables. errI is runtime state and is
// not part of it.
type Snapshot struct {
	TakenAt    time.Time     `cbor:"0,keyasint" json:"takenAt"`
	Setpoint   float32       `cbor:"1,keyasint" json:"setpoint"`
	KP         float32       `cbor:"2,keyasint" json:"kP"`
	KI         float32       `cbor:"3,keyasint" json:"kI"`
	KD         float32       `cbor:"4,keyasint" json:"kD"`
	ErrPLimits varstore.Pair `cbor:"5,keyasint" json:"errPLimits"`
	ErrILimits varstore.Pair `cbor:"6,keyasint" json:"errILimits"`
}

// TakeSnapshot reads the tuning variables
func (c *Client) TakeSnapshot(ctx context.Context) (Snapshot, error) {
	s := Snapshot{TakenAt: time.Now()}
	scalars := []struct {
		id  pidproto.ID
		dst *float32
	}{
		{pidproto.VarSetpoint, &s.Setpoint},
		{pidproto.VarKP, &s.KP},
		{pidproto.VarKI, &s.KI},
		{pidproto.VarKD, &s.KD},
	}
	for _, v := range scalars {
		val, err := c.ReadScalar(ctx, v.id)
		if err != nil {
			return s, fmt.Errorf("snapshot %s: %w", v.id.Name(), err)
		}
		*v.dst = val
	}

	var err error
	if s.ErrPLimits, err = c.ReadPair(ctx, pidproto.VarErrPLimits); err != nil {
		return s, fmt.Errorf("snapshot errPLimits: %w", err)
	}
	if s.ErrILimits, err = c.ReadPair(ctx, pidproto.VarErrILimits); err != nil {
		return s, fmt.Errorf("snapshot errILimits: %w", err)
	}
	return s, nil
}

// RestoreSnapshot writes the snapshot back. It does not save to EEPROM.
func (c *Client) RestoreSnapshot(ctx context.Context, s Snapshot) error {
	scalars := []struct {
		id pidproto.ID
		v  float32
	}{
		{pidproto.VarSetpoint, s.Setpoint},
		{pidproto.VarKP, s.KP},
		{pidproto.VarKI, s.KI},
		{pidproto.VarKD, s.KD},
	}
	for _, v := range scalars {
		if err := c.WriteScalar(ctx, v.id, v.v); err != nil {
			return fmt.Errorf("restore %s: %w", v.id.Name(), err)
		}
	}
	if err := c.WritePair(ctx, pidproto.VarErrPLimits, s.ErrPLimits); err != nil {
		return fmt.Errorf("restore errPLimits: %w", err)
	}
	if err := c.WritePair(ctx, pidproto.VarErrILimits, s.ErrILimits); err != nil {
		return fmt.Errorf("restore errILimits: %w", err)
	}
	return nil
}

// WriteSnapshotFile stores s as CBOR at path
func WriteSnapshotFile(path string, s Snapshot) error {
	data, err := cbor.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshotFile loads a snapshot written by WriteSnapshotFile
func ReadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}
