// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
	"github.com/bureau-foundation/outpost/cmd/outpost/commands"
	"github.com/bureau-foundation/outpost/lib/deploy"
	"github.com/bureau-foundation/outpost/lib/manifest"
	"github.com/bureau-foundation/outpost/lib/remote"
)

// Exit codes. Scripts drive retries and alerting off these, so the
// mapping is part of the interface.
const (
	exitValidation = 1 // bad input, bad config, refused operation
	exitRemote     = 2 // cannot reach or operate the host
	exitHealth     = 3 // deployed, but the workload is not healthy
	exitLocked     = 4 // another deployment holds the lock
)

func main() {
	err := run()
	if err == nil {
		os.Exit(0)
	}
	// Commands that print their own output (like doctor) return an
	// ExitError with the desired code. Don't print a redundant
	// "error:" line for those.
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		os.Exit(coder.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(classify(err))
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cli.NewCommandLogger(os.Getenv("OUTPOST_DEBUG") != "")
	return commands.Root().Execute(ctx, os.Args[1:], logger)
}

// classify maps the error taxonomy onto exit codes. Order matters: a
// health failure may wrap a remote error from its rollback, and must
// still report as a health failure.
func classify(err error) int {
	if errors.Is(err, manifest.ErrConcurrentDeployment) {
		return exitLocked
	}

	var healthError *deploy.HealthFailureError
	if errors.As(err, &healthError) {
		return exitHealth
	}

	var connectError *remote.ConnectError
	var timeoutError *remote.TimeoutError
	var commandError *remote.CommandError
	if errors.As(err, &connectError) || errors.As(err, &timeoutError) || errors.As(err, &commandError) {
		return exitRemote
	}

	// Everything else is the validation code: ValidationError,
	// UsageError, DecryptionError, CorruptBackupError,
	// ErrNoRollbackTarget, and unexpected local failures.
	return exitValidation
}
