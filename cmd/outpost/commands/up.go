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
	"github.com/bureau-foundation/outpost/lib/deploy"
)

type upParams struct {
	configParams
	cli.JSONOutput
	DryRun bool `flag:"dry-run" desc:"print the deployment plan without touching the host"`
}

func upCommand() *cli.Command {
	var params upParams

	return &cli.Command{
		Name:    "up",
		Summary: "Deploy the configured artifact to a host",
		Description: `Package the local artifact directory, snapshot the current deployment's
data, upload secrets and the artifact, start the workload, and verify
its health. If the new version fails verification, the previous
version is restored automatically from the snapshot.`,
		Usage: "outpost up <host> [flags]",
		Examples: []cli.Example{
			{Description: "Deploy to the production host", Command: "outpost up prod-1"},
			{Description: "Show what a deployment would do", Command: "outpost up prod-1 --dry-run"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("up", &params)
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

			result, err := session.orchestrator.Up(ctx, deploy.UpOptions{DryRun: params.DryRun})
			if err != nil {
				return err
			}
			if done, jsonErr := params.EmitJSON(result); done {
				return jsonErr
			}

			if result.DryRun {
				fmt.Fprintln(os.Stdout, "Deployment plan (dry run):")
				for _, step := range result.Plan {
					fmt.Fprintf(os.Stdout, "  - %s\n", step)
				}
				return nil
			}

			fmt.Fprintf(os.Stdout, "Deployed version %d (%s) to %s: %s after %d attempt(s)\n",
				result.Version, shortChecksum(result.Checksum), hostName,
				healthLabel(result.Health.Status), result.Health.Attempts)
			if result.Snapshot != "" {
				fmt.Fprintf(os.Stdout, "Pre-deployment snapshot: %s\n", result.Snapshot)
			}
			return nil
		},
	}
}

func shortChecksum(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
