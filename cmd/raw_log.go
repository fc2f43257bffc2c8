// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
)

var (
	rawLogStart     bool
	rawLogKeepalive time.Duration
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every inbound datagram in human-readable format",
	Long: `Continuously decode and display datagrams as they arrive from the controller.

Responses are shown with opcode, id, result and decoded payload; telemetry
samples on one line each; anything else as a hex dump. With --start the
telemetry stream is started first and a setpoint read is sent every
--keepalive so the controller does not stop the stream as idle.

Supports UDP, serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogStart, "start", false, "Send CMD_stream_start before logging")
	rawLogCmd.Flags().DurationVar(&rawLogKeepalive, "keepalive", 2*time.Second, "Keepalive read interval with --start (0 disables)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	codec, err := protocolCodec()
	if err != nil {
		return err
	}
	conn, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Pidlink - Raw Datagram Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := pidproto.NewStatistics()
	done := make(chan struct{})

	send := func(op pidproto.Opcode, id pidproto.ID) {
		b := codec.NewRequest(op, id).Marshal()
		if err := conn.WriteDatagram(b[:]); err != nil {
			log.Printf("Write error: %v", err)
		}
	}

	if rawLogStart {
		send(pidproto.OpRead, pidproto.CmdStreamStart)
		if rawLogKeepalive > 0 {
			go func() {
				ticker := time.NewTicker(rawLogKeepalive)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						send(pidproto.OpRead, pidproto.VarSetpoint)
					}
				}
			}()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		close(done)
		if rawLogStart {
			send(pidproto.OpRead, pidproto.CmdStreamStop)
		}
		conn.Close()
	}()

	for {
		b, err := conn.ReadDatagram()
		if err != nil {
			select {
			case <-done:
				fmt.Print("\n" + stats.String())
				return nil
			default:
			}
			if err == ErrConnectionClosed {
				log.Printf("Connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		now := time.Now()
		if pidproto.IsStreamDatagram(b) {
			s, err := codec.DecodeSample(b)
			if err != nil {
				stats.RecordDecodeError()
				fmt.Printf("[ERROR] %v: %s\n", err, pidproto.FormatHex(b))
				continue
			}
			stats.RecordSample()
			fmt.Print(pidproto.FormatSample(s, now))
			continue
		}

		f, err := pidproto.Unmarshal(b)
		if err != nil {
			stats.RecordDecodeError()
			fmt.Printf("[ERROR] %v: %s\n", err, pidproto.FormatHex(b))
			continue
		}
		stats.RecordResponse(f)
		fmt.Print(codec.FormatFrame(f, now))
	}
}
