// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
	"github.com/bureau-foundation/outpost/lib/deploy"
)

type initParams struct {
	configParams
	cli.JSONOutput
}

func initCommand() *cli.Command {
	var params initParams

	return &cli.Command{
		Name:    "init",
		Summary: "Prepare a host for its first deployment",
		Description: `Create the remote directory layout, run the preflight checks (kernel,
docker, compose, ports, disk, permissions), and record the host as
initialized. Fails without changing the recorded state if any check
fails.`,
		Usage: "outpost init <host> [flags]",
		Examples: []cli.Example{
			{Description: "Initialize the production host", Command: "outpost init prod-1"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("init", &params)
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

			report, err := session.orchestrator.Init(ctx)
			if done, jsonErr := params.EmitJSON(report); done {
				if jsonErr != nil {
					return jsonErr
				}
				return err
			}
			if len(report.Checks) > 0 {
				printCheckReport(report)
			}
			// The checklist already shows what failed; don't repeat it.
			var validationError *deploy.ValidationError
			if errors.As(err, &validationError) && len(report.Checks) > 0 && !report.Passed() {
				return &cli.ExitError{Code: 1}
			}
			return err
		},
	}
}
