// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Pidlink - Remote PID controller server and client
//
// Serves and talks to a PID controller over a fixed 9-byte datagram protocol.

package main

import (
	"os"

	"github.com/Thermoquad/pidlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
