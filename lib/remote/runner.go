// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Result holds the outcome of a completed remote command.
type Result struct {
	// ExitCode is the remote exit status.
	ExitCode int

	// Stdout is the captured standard output. Empty for Pull, whose
	// stdout goes to the caller's writer.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string
}

// Runner is the channel to the deployment target. All operations
// block until completion or context cancellation; the context deadline
// is the per-operation timeout.
//
// Run, Push, and Pull return a *CommandError (alongside the populated
// Result) when the command completes with a non-zero exit code. The
// caller decides whether non-zero is fatal.
type Runner interface {
	// Run executes a command and captures its output.
	Run(ctx context.Context, cmd Command) (Result, error)

	// Push executes a command with stdin connected to the given
	// reader. Used for uploads and tar extraction.
	Push(ctx context.Context, cmd Command, stdin io.Reader) (Result, error)

	// Pull executes a command with stdout connected to the given
	// writer. Used for downloads and tar creation.
	Pull(ctx context.Context, cmd Command, stdout io.Writer) (Result, error)

	// Close releases the underlying connection. Safe to call on a
	// runner that never connected.
	Close() error
}

// Upload copies a local file to the host. The content lands in a
// temporary name next to the destination and is renamed into place, so
// a partial transfer never masquerades as a complete file.
func Upload(ctx context.Context, runner Runner, localPath, remotePath string, mode fs.FileMode) error {
	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer local.Close()

	staging := remotePath + ".partial"
	if _, err := runner.Push(ctx, WriteFile(staging), local); err != nil {
		return fmt.Errorf("uploading %s: %w", filepath.Base(localPath), err)
	}
	if _, err := runner.Run(ctx, Chmod(uint32(mode.Perm()), staging)); err != nil {
		return fmt.Errorf("setting mode on %s: %w", staging, err)
	}
	if _, err := runner.Run(ctx, Rename(staging, remotePath)); err != nil {
		return fmt.Errorf("placing %s: %w", remotePath, err)
	}
	return nil
}

// UploadBytes uploads in-memory content to the host. Same staging and
// rename discipline as [Upload].
func UploadBytes(ctx context.Context, runner Runner, content io.Reader, remotePath string, mode fs.FileMode) error {
	staging := remotePath + ".partial"
	if _, err := runner.Push(ctx, WriteFile(staging), content); err != nil {
		return fmt.Errorf("uploading to %s: %w", remotePath, err)
	}
	if _, err := runner.Run(ctx, Chmod(uint32(mode.Perm()), staging)); err != nil {
		return fmt.Errorf("setting mode on %s: %w", staging, err)
	}
	if _, err := runner.Run(ctx, Rename(staging, remotePath)); err != nil {
		return fmt.Errorf("placing %s: %w", remotePath, err)
	}
	return nil
}

// Download copies a remote file into a local one, creating parent
// directories as needed.
func Download(ctx context.Context, runner Runner, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(localPath), err)
	}
	local, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	if _, err := runner.Pull(ctx, ReadFile(remotePath), local); err != nil {
		local.Close()
		os.Remove(localPath)
		return fmt.Errorf("downloading %s: %w", remotePath, err)
	}
	return local.Close()
}
