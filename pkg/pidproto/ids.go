// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"fmt"
	"strings"
)

// IsScalar reports whether id addresses a single-float variable.
func (id ID) IsScalar() bool {
	switch id {
	case VarSetpoint, VarKP, VarKI, VarKD, VarErrI:
		return true
	}
	return false
}

// IsPair reports whether id addresses a two-float variable.
func (id ID) IsPair() bool {
	return id == VarErrPLimits || id == VarErrILimits
}

// IsVariable reports whether id addresses any variable.
func (id ID) IsVariable() bool {
	return id.IsScalar() || id.IsPair()
}

// IsCommand reports whether id is a control command.
func (id ID) IsCommand() bool {
	return id == CmdStreamStop || id == CmdStreamStart || id == CmdSaveToEEPROM
}

// IsKnown reports whether id is part of the instruction set.
func (id ID) IsKnown() bool {
	return id.IsVariable() || id.IsCommand()
}

// String returns the protocol name of the id
func (id ID) String() string {
	switch id {
	case CmdStreamStop:
		return "CMD_stream_stop"
	case CmdStreamStart:
		return "CMD_stream_start"
	case CmdSaveToEEPROM:
		return "CMD_save_to_eeprom"
	case VarSetpoint:
		return "VAR_setpoint"
	case VarKP:
		return "VAR_kP"
	case VarKI:
		return "VAR_kI"
	case VarKD:
		return "VAR_kD"
	case VarErrI:
		return "VAR_errI"
	case VarErrPLimits:
		return "VAR_errPLimits"
	case VarErrILimits:
		return "VAR_errILimits"
	default:
		return fmt.Sprintf("UNKNOWN(0b%04b)", uint8(id))
	}
}

// Name returns the short user-facing name (as accepted by ParseName).
func (id ID) Name() string {
	s := id.String()
	if i := strings.IndexByte(s, '_'); i >= 0 && id.IsKnown() {
		return s[i+1:]
	}
	return s
}

// String returns "read" or "write"
func (op Opcode) String() string {
	if op == OpWrite {
		return "write"
	}
	return "read"
}

// String returns "ok" or "error"
func (r Result) String() string {
	if r == ResultError {
		return "error"
	}
	return "ok"
}

var names = map[string]ID{
	"setpoint":       VarSetpoint,
	"sp":             VarSetpoint,
	"kp":             VarKP,
	"ki":             VarKI,
	"kd":             VarKD,
	"erri":           VarErrI,
	"err_i":          VarErrI,
	"errplimits":     VarErrPLimits,
	"err_p_limits":   VarErrPLimits,
	"errilimits":     VarErrILimits,
	"err_i_limits":   VarErrILimits,
	"stream_start":   CmdStreamStart,
	"stream_stop":    CmdStreamStop,
	"save_to_eeprom": CmdSaveToEEPROM,
	"save":           CmdSaveToEEPROM,
}

// ParseName resolves a variable or command name, case-insensitively.
// Both the short names ("kP", "errPLimits") and the protocol names
// ("VAR_kP", "CMD_stream_start") are accepted.
func ParseName(name string) (ID, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, "var_")
	key = strings.TrimPrefix(key, "cmd_")
	if id, ok := names[key]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("unknown variable or command %q", name)
}
