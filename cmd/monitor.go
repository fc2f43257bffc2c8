// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/pidlink/pkg/client"
	"github.com/Thermoquad/pidlink/pkg/pidproto"
)

const sampleBatchInterval = 100 * time.Millisecond

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and tuning the controller",
	Long: `Monitor and tune the controller via an interactive terminal UI.

Features:
  - Live process variable / controller output with rolling sparklines
  - Variable panel with in-place editing of setpoint, gains and limits
  - Stream start/stop, errI reset and save to EEPROM
  - Traffic statistics and connection round-trip time
  - Event logging

Keys:
  s        start/stop the telemetry stream
  r        re-read all variables
  enter    edit the selected variable (limits take "lo hi")
  z        reset errI
  w        save to EEPROM
  c        reset the sample counter
  q        quit

Supports UDP, serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	c, connInfo, err := OpenClient()
	if err != nil {
		return err
	}

	m := initialMonitorModel(c, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())

	done := make(chan struct{})
	go forwardSamples(c, p, done)

	_, runErr := p.Run()
	close(done)
	c.Close()
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}

// forwardSamples batches telemetry samples into the TUI so a fast stream does
// not flood the update loop
func forwardSamples(c *client.Client, p *tea.Program, done <-chan struct{}) {
	ticker := time.NewTicker(sampleBatchInterval)
	defer ticker.Stop()

	var batch []pidproto.Sample
	for {
		select {
		case <-done:
			return
		case s, ok := <-c.Samples():
			if !ok {
				p.Send(connectionLostMsg{err: c.Err()})
				return
			}
			batch = append(batch, s)
		case <-ticker.C:
			if len(batch) > 0 {
				p.Send(samplesMsg(batch))
				batch = nil
			}
		}
	}
}
