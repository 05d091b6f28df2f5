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

type historyParams struct {
	configParams
	cli.JSONOutput
	Limit int `flag:"limit,n" default:"20" desc:"maximum number of versions to show (0 = all)"`
}

func historyCommand() *cli.Command {
	var params historyParams

	return &cli.Command{
		Name:    "history",
		Summary: "List deployed versions, newest first",
		Description: `Show the version ledger for a host: version numbers, deployment times,
artifact checksums, and the snapshot each deployment was preceded by.
Only versions that became live appear; failed deployments leave no
record.`,
		Usage: "outpost history <host> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("history", &params)
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

			versions, err := session.orchestrator.History(ctx, params.Limit)
			if err != nil {
				return err
			}
			if done, jsonErr := params.EmitJSON(versions); done {
				return jsonErr
			}
			if len(versions) == 0 {
				fmt.Fprintf(os.Stdout, "No versions deployed to %s yet.\n", hostName)
				return nil
			}
			printHistory(versions)
			return nil
		},
	}
}
