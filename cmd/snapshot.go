// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pidlink/pkg/client"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save and restore tuning snapshots",
	Long: `Snapshots hold the tuning variables (setpoint, kP, kI, kD, errPLimits,
errILimits) in a CBOR file. Restoring writes them back to the controller but
does not save them to EEPROM; run save afterwards to make them permanent.`,
}

var snapshotTakeCmd = &cobra.Command{
	Use:   "take <file>",
	Short: "Read the tuning variables into a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotTake,
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Write a snapshot back to the controller",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotRestore,
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Print a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotShow,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotTakeCmd, snapshotRestoreCmd, snapshotShowCmd)
}

func printSnapshot(s client.Snapshot) {
	fmt.Printf("Taken:        %s\n", s.TakenAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("setpoint   =  %g\n", s.Setpoint)
	fmt.Printf("kP         =  %g\n", s.KP)
	fmt.Printf("kI         =  %g\n", s.KI)
	fmt.Printf("kD         =  %g\n", s.KD)
	fmt.Printf("errPLimits =  [%g, %g]\n", s.ErrPLimits.Lo, s.ErrPLimits.Hi)
	fmt.Printf("errILimits =  [%g, %g]\n", s.ErrILimits.Lo, s.ErrILimits.Hi)
}

func runSnapshotTake(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		s, err := c.TakeSnapshot(ctx)
		if err != nil {
			return err
		}
		if err := client.WriteSnapshotFile(args[0], s); err != nil {
			return err
		}
		printSnapshot(s)
		fmt.Printf("\nSnapshot written to %s\n", args[0])
		return nil
	})
}

func runSnapshotRestore(cmd *cobra.Command, args []string) error {
	s, err := client.ReadSnapshotFile(args[0])
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, c *client.Client) error {
		if err := c.RestoreSnapshot(ctx, s); err != nil {
			return err
		}
		printSnapshot(s)
		fmt.Printf("\nSnapshot restored (not saved to EEPROM)\n")
		return nil
	})
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	s, err := client.ReadSnapshotFile(args[0])
	if err != nil {
		return err
	}
	printSnapshot(s)
	return nil
}
