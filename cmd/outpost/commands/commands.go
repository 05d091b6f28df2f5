// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
)

// Root returns the top-level outpost command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "outpost",
		Summary: "Deploy and operate a single containerized workload on a remote host",
		Description: `Outpost deploys one containerized workload to one remote host over
SSH and keeps enough local state — version ledger, data snapshots,
encrypted secrets — to verify, roll back, and restore it.

All state lives on the operator's machine under the configured
state_dir; the remote host needs nothing but sshd, docker, and
compose.`,
		Subcommands: []*cli.Command{
			initCommand(),
			upCommand(),
			downCommand(),
			statusCommand(),
			rollbackCommand(),
			doctorCommand(),
			historyCommand(),
			secretsCommand(),
			versionCommand(),
		},
	}
}
