// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pidlink/pkg/client"
	"github.com/Thermoquad/pidlink/pkg/pidproto"
)

var (
	// UDP connection flags
	udpAddr string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Protocol flags
	requestTimeout time.Duration
	byteOrder      string
)

var rootCmd = &cobra.Command{
	Use:   "pidlink",
	Short: "Remote PID controller server and client",
	Long: `Pidlink - A server and CLI client for the 9-byte PID controller datagram protocol.

The serve command runs the controller: a variable store (setpoint, gains and
error limits), a telemetry stream and an idle watchdog behind a UDP socket.
The remaining commands talk to a running controller.

Connection modes:
  UDP:       --addr host:1200 (default 127.0.0.1:1200)
  WebSocket: --url ws://host/ws [--username user]
  Serial:    --port /dev/ttyUSB0 [--baud 115200]

For WebSocket authentication, the password is read from the PIDLINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&udpAddr, "addr", "a", "127.0.0.1:1200", "Controller UDP address")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", client.DefaultTimeout, "Response timeout per request")
	rootCmd.PersistentFlags().StringVar(&byteOrder, "byte-order", "little", "Payload float byte order (little or big)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// protocolCodec returns the codec selected by --byte-order
func protocolCodec() (pidproto.Codec, error) {
	order, err := pidproto.ParseByteOrder(byteOrder)
	if err != nil {
		return pidproto.Codec{}, err
	}
	return pidproto.NewCodec(order), nil
}
