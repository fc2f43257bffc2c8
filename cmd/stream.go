// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pidlink/pkg/client"
	"github.com/Thermoquad/pidlink/pkg/pidproto"
)

var (
	streamCount     int
	streamDuration  time.Duration
	streamKeepalive time.Duration
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Start the telemetry stream and print samples",
	Long: `Start the controller's telemetry stream and print every sample (process
variable and controller output) until Ctrl+C, --count samples or --duration.
The stream is stopped on exit and the number of received samples reported.

The controller stops an idle stream on its own, so a connection check is sent
every --keepalive while streaming (0 disables it).`,
	Args: cobra.NoArgs,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.Flags().IntVarP(&streamCount, "count", "n", 0, "Stop after this many samples (0 = unlimited)")
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stop after this long (0 = unlimited)")
	streamCmd.Flags().DurationVar(&streamKeepalive, "keepalive", 2*time.Second, "Connection check interval while streaming")
}

func runStream(cmd *cobra.Command, args []string) error {
	c, connInfo, err := OpenClient()
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("Pidlink - Telemetry Stream\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if streamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, streamDuration)
		defer cancel()
	}

	if err := c.StartStream(context.Background()); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	go keepalive(ctx, c, streamKeepalive)

	received := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case s, ok := <-c.Samples():
			if !ok {
				return fmt.Errorf("connection lost: %v", c.Err())
			}
			fmt.Print(pidproto.FormatSample(s, time.Now()))
			received++
			if streamCount > 0 && received >= streamCount {
				break loop
			}
		}
	}

	n, err := c.StopStream(context.Background())
	if err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	fmt.Printf("\nStream stopped, %d samples received\n", n)
	return nil
}

// keepalive checks the connection periodically so the controller's idle
// watchdog does not stop the stream
func keepalive(ctx context.Context, c *client.Client, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.CheckConnection(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "connection check failed: %v\n", err)
			}
		}
	}
}
