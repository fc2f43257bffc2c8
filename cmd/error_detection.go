// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pidlink/pkg/client"
	"github.com/Thermoquad/pidlink/pkg/pidproto"
)

var (
	showAll       bool
	statsInterval int
	detectStart   bool
	detectPoll    time.Duration
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed datagrams and error responses",
	Long: `Track malformed datagrams, error results and anomalous values with statistics.

This command validates each inbound datagram and detects:
  - Datagrams that are not exactly 9 bytes
  - Stream datagrams with a bad prefix
  - OK responses for unknown ids or for writes to commands
  - Write and command responses whose payload is not zeroed
  - NaN or infinite values in samples and read responses
  - Error results and request timeouts

By default, only problems are displayed. Use --show-all to display valid
datagrams too. With --start the telemetry stream is started and kept alive;
with --poll every variable is read at that interval to exercise the
request path.

Periodic statistics summaries are displayed every --stats-interval seconds.`,
	Args: cobra.NoArgs,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all datagrams (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&detectStart, "start", false, "Start the telemetry stream and keep it alive")
	errorDetectionCmd.Flags().DurationVar(&detectPoll, "poll", 0, "Read every variable at this interval (0 disables)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	if statsInterval < 1 {
		return fmt.Errorf("--stats-interval must be at least 1")
	}
	codec, err := protocolCodec()
	if err != nil {
		return err
	}

	raw := make(chan []byte, 256)
	c, connInfo, err := OpenClient(client.WithRawObserver(func(b []byte) {
		select {
		case raw <- append([]byte(nil), b...):
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("Pidlink - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All datagrams\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if detectStart {
		if err := c.StartStream(ctx); err != nil {
			return err
		}
		go keepalive(ctx, c, 2*time.Second)
	}
	if detectPoll > 0 {
		go pollVariables(ctx, c, detectPoll)
	}

	// samples are consumed from raw, drain the decoded copies
	go func() {
		for range c.Samples() {
		}
	}()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			if detectStart {
				stopCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
				if _, err := c.StopStream(stopCtx); err != nil {
					fmt.Fprintf(os.Stderr, "stream stop failed: %v\n", err)
				}
				cancel()
			}
			printDetectionStats(c)
			return nil

		case <-c.Done():
			printDetectionStats(c)
			if err := c.Err(); err != nil && !errors.Is(err, ErrConnectionClosed) {
				return fmt.Errorf("read error: %w", err)
			}
			return nil

		case b := <-raw:
			inspectDatagram(codec, b, time.Now())

		case <-statsTicker.C:
			printDetectionStats(c)
		}
	}
}

// inspectDatagram prints a datagram when it is anomalous, an error result,
// or when --show-all is set
func inspectDatagram(codec pidproto.Codec, b []byte, now time.Time) {
	if errs := codec.ValidateDatagram(b); len(errs) > 0 {
		printValidationErrors(b, errs, now)
		return
	}
	if pidproto.IsStreamDatagram(b) {
		if showAll {
			s, _ := codec.DecodeSample(b)
			fmt.Print(pidproto.FormatSample(s, now))
		}
		return
	}
	f, _ := pidproto.Unmarshal(b)
	if f.Result == pidproto.ResultError {
		fmt.Printf("[%s] \033[1;33mERROR RESULT:\033[0m %s %s\n\n", now.Format("15:04:05.000"), f.Opcode, f.ID)
		return
	}
	if showAll {
		fmt.Print(codec.FormatFrame(f, now))
	}
}

// printValidationErrors prints validation errors for a datagram
func printValidationErrors(b []byte, errs []pidproto.ValidationError, now time.Time) {
	fmt.Printf("[%s] \033[1;31mVALIDATION ERROR:\033[0m %s\n", now.Format("15:04:05.000"), pidproto.FormatHex(b))
	for i, err := range errs {
		fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
	}
	fmt.Printf("  >>> DATAGRAM REJECTED <<<\n\n")
}

func printDetectionStats(c *client.Client) {
	stats := c.Stats()
	stats.CalculateRates()
	fmt.Println()
	fmt.Print(stats.String())
	fmt.Println()
}

func pollVariables(ctx context.Context, c *client.Client, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.ReadAll(ctx); err != nil && ctx.Err() == nil {
				fmt.Printf("[%s] \033[1;33mPOLL FAILED:\033[0m %v\n\n", time.Now().Format("15:04:05.000"), err)
			}
		}
	}
}
