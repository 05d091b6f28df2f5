// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
)

type statusParams struct {
	configParams
	cli.JSONOutput
}

func statusCommand() *cli.Command {
	var params statusParams

	return &cli.Command{
		Name:    "status",
		Summary: "Show a host's deployment state and live health",
		Description: `Report the recorded deployment state, the current version, snapshot
count, and — for a host that should be running — a single live health
probe. Read-only: works while a deployment is in flight.`,
		Usage: "outpost status <host> [flags]",
		Examples: []cli.Example{
			{Description: "Machine-readable status", Command: "outpost status prod-1 --json"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
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

			info, err := session.orchestrator.Status(ctx)
			if err != nil {
				return err
			}
			if done, jsonErr := params.EmitJSON(info); done {
				return jsonErr
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Host:\t%s\n", info.Host)
			if info.WorkloadID != "" {
				fmt.Fprintf(tw, "Workload:\t%s\n", info.WorkloadID)
			}
			fmt.Fprintf(tw, "State:\t%s\n", stateLabel(info.State))
			if info.CurrentVersion > 0 {
				fmt.Fprintf(tw, "Version:\t%d\n", info.CurrentVersion)
				fmt.Fprintf(tw, "Deployed:\t%s\n", info.LastDeployedAt.Format("2006-01-02 15:04:05 MST"))
			}
			if info.LastBackupRef != "" {
				fmt.Fprintf(tw, "Last snapshot:\t%s\n", info.LastBackupRef)
			}
			fmt.Fprintf(tw, "Snapshots:\t%d\n", info.Snapshots)
			if info.Live != nil {
				fmt.Fprintf(tw, "Live health:\t%s\n", healthLabel(info.Live.Status))
				if info.Live.Detail != "" {
					fmt.Fprintf(tw, "Detail:\t%s\n", info.Live.Detail)
				}
			}
			tw.Flush()
			return nil
		},
	}
}
