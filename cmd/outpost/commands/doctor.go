// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
)

type doctorParams struct {
	configParams
	cli.JSONOutput
}

func doctorCommand() *cli.Command {
	var params doctorParams

	return &cli.Command{
		Name:    "doctor",
		Summary: "Re-run the host requirement checks",
		Description: `Run the same checks as "outpost init" against an already-managed host:
kernel version, docker and compose, listening ports, free disk, and
directory permissions. Read-only; on a deployed host the workload's
own listener is expected rather than flagged as a conflict.

Exits 1 when any check fails.`,
		Usage: "outpost doctor <host> [flags]",
		Examples: []cli.Example{
			{Description: "Check the production host", Command: "outpost doctor prod-1"},
			{Description: "Machine-readable output", Command: "outpost doctor prod-1 --json"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("doctor", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			hostName, err := hostArg(args)
			if err != nil {
				return err
			}
			session, err := openSession(&params.configParams, hostName, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			report, err := session.orchestrator.Doctor(ctx)
			if err != nil {
				return err
			}
			if done, jsonErr := params.EmitJSON(report); done {
				if jsonErr != nil {
					return jsonErr
				}
				if !report.Passed() {
					return &cli.ExitError{Code: 1}
				}
				return nil
			}
			printCheckReport(report)
			if !report.Passed() {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
