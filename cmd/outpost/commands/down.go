// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
)

type downParams struct {
	configParams
}

func downCommand() *cli.Command {
	var params downParams

	return &cli.Command{
		Name:    "down",
		Summary: "Stop the workload on a host",
		Description: `Stop the workload's containers and mark the host stopped. Data and the
deployed artifact stay on the host; a later "outpost up" redeploys.
Stopping an already-stopped host is a no-op.`,
		Usage: "outpost down <host> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("down", &params)
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

			if err := session.orchestrator.Down(ctx); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Workload on %s stopped.\n", hostName)
			return nil
		},
	}
}
