// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"fmt"
	"strings"
)

// ConnectError reports that the channel to the host could not be
// established within the retry budget. Transient by nature — the retry
// already happened inside the runner, so callers treat this as fatal
// for the current command and map it to the connectivity exit code.
type ConnectError struct {
	// Address is the host:port that could not be reached.
	Address string

	// Attempts is how many dial attempts were made.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s failed after %d attempt(s): %v", e.Address, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CommandError reports that a remote command completed with a
// non-zero exit code. Whether that is fatal belongs to the caller:
// a failed `docker compose up` aborts the deployment, a failed
// best-effort cleanup is logged and tolerated.
type CommandError struct {
	// Cmd is the rendered command line.
	Cmd string

	// ExitCode is the remote exit status.
	ExitCode int

	// Stderr is the trailing stderr output, for diagnostics.
	Stderr string
}

func (e *CommandError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		return fmt.Sprintf("remote command %s exited %d", e.Cmd, e.ExitCode)
	}
	return fmt.Sprintf("remote command %s exited %d: %s", e.Cmd, e.ExitCode, detail)
}

// TimeoutError reports that a remote operation exceeded the caller's
// deadline. The remote side effect of the timed-out command is
// unknown, so the runner discards its connection rather than ever
// retrying the command.
type TimeoutError struct {
	// Cmd is the rendered command line, or "upload"/"download" for
	// transfers.
	Cmd string

	// Err is the underlying context error.
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("remote operation %s timed out: %v", e.Cmd, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
