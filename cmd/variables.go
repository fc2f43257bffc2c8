// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/pidlink/pkg/client"
	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/varstore"
)

var getCmd = &cobra.Command{
	Use:   "get [variable...]",
	Short: "Read controller variables",
	Long: `Read one or more variables from the controller. Without arguments every
variable is read.

Variables: setpoint, kP, kI, kD, errI, errPLimits, errILimits`,
	RunE: runGet,
}

var setCmd = &cobra.Command{
	Use:   "set <variable> <value> [value]",
	Short: "Write a controller variable",
	Long: `Write a variable. Limit pairs (errPLimits, errILimits) take two values,
every other variable takes one. errI only accepts 0; use reset instead.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runSet,
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the controller variables to EEPROM",
	Args:  cobra.NoArgs,
	RunE:  runSave,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the accumulated integral error (errI = 0)",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(getCmd, setCmd, saveCmd, resetCmd)
}

// withClient opens the client selected by flags and runs fn
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	c, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(context.Background(), c)
}

func runGet(cmd *cobra.Command, args []string) error {
	ids := make([]pidproto.ID, 0, len(args))
	for _, a := range args {
		id, err := pidproto.ParseName(a)
		if err != nil {
			return err
		}
		if !id.IsVariable() {
			return fmt.Errorf("%s is a command, not a variable", a)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		ids = append(append(ids, pidproto.ScalarVariables...), pidproto.PairVariables...)
	}

	return withClient(func(ctx context.Context, c *client.Client) error {
		for _, id := range ids {
			if id.IsPair() {
				p, err := c.ReadPair(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%-12s = [%g, %g]\n", id.Name(), p.Lo, p.Hi)
				continue
			}
			v, err := c.ReadScalar(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("%-12s = %g\n", id.Name(), v)
		}
		return nil
	})
}

func parseValues(args []string) ([]float32, error) {
	values := make([]float32, 0, len(args))
	for _, a := range args {
		f, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", a, err)
		}
		values = append(values, float32(f))
	}
	return values, nil
}

func runSet(cmd *cobra.Command, args []string) error {
	id, err := pidproto.ParseName(args[0])
	if err != nil {
		return err
	}
	values, err := parseValues(args[1:])
	if err != nil {
		return err
	}
	if err := pidproto.ValidateRequest(pidproto.OpWrite, id, values); err != nil {
		return err
	}

	return withClient(func(ctx context.Context, c *client.Client) error {
		if id.IsPair() {
			if err := c.WritePair(ctx, id, varstore.Pair{Lo: values[0], Hi: values[1]}); err != nil {
				return err
			}
			fmt.Printf("%s set to [%g, %g]\n", id.Name(), values[0], values[1])
			return nil
		}
		if err := c.WriteScalar(ctx, id, values[0]); err != nil {
			return err
		}
		fmt.Printf("%s set to %g\n", id.Name(), values[0])
		return nil
	})
}

func runSave(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		if err := c.SaveToEEPROM(ctx); err != nil {
			return err
		}
		fmt.Println("Variables saved to EEPROM")
		return nil
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		if err := c.ResetErrI(ctx); err != nil {
			return err
		}
		fmt.Println("errI reset to 0")
		return nil
	})
}
