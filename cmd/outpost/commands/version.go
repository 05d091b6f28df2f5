// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print the outpost version",
		Usage:   "outpost version",
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			fmt.Fprintf(os.Stdout, "outpost %s\n", buildVersion())
			return nil
		},
	}
}

// buildVersion reports the module version stamped by the Go toolchain,
// or "devel" for a local build.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "devel"
	}
	return info.Main.Version
}
