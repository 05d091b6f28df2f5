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

type rollbackParams struct {
	configParams
	cli.JSONOutput
}

func rollbackCommand() *cli.Command {
	var params rollbackParams

	return &cli.Command{
		Name:    "rollback",
		Summary: "Restore the previous version on a host",
		Description: `Restore the data snapshot taken before the current version was
deployed, re-upload the previous artifact from the local cache, and
restart the workload. The rollback itself becomes a new version
record, so history is never rewritten.

A corrupt snapshot aborts the rollback before anything on the host is
touched.`,
		Usage: "outpost rollback <host> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("rollback", &params)
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

			result, err := session.orchestrator.Rollback(ctx)
			if err != nil {
				return err
			}
			if done, jsonErr := params.EmitJSON(result); done {
				return jsonErr
			}
			fmt.Fprintf(os.Stdout, "Rolled back %s: version %d -> version %d (restoring v%d, snapshot %s): %s\n",
				hostName, result.From, result.To, result.Target, result.Snapshot,
				healthLabel(result.Health.Status))
			return nil
		},
	}
}
