// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stream

import (
	"fmt"
	"strings"
)

// ErrorPolicy decides what a long-running loop does after a transport failure
type ErrorPolicy int

const (
	// PolicyContinue logs the failure and keeps serving.
	PolicyContinue ErrorPolicy = iota
	// PolicyFatal stops the loop and returns the error to the caller.
	PolicyFatal
)

// ParseErrorPolicy maps "continue" or "fatal" to a policy
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return PolicyContinue, nil
	case "fatal":
		return PolicyFatal, nil
	}
	return PolicyContinue, fmt.Errorf("unknown error policy %q (use continue or fatal)", s)
}

func (p ErrorPolicy) String() string {
	if p == PolicyFatal {
		return "fatal"
	}
	return "continue"
}
