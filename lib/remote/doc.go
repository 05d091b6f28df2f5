// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote provides the command and file-transfer channel to the
// deployment target host. Every other Outpost component reaches the
// host through the [Runner] interface; the production implementation
// is [SSHRunner] over golang.org/x/crypto/ssh.
//
// Remote operations are never built as ad hoc command strings. The
// fixed set of operations Outpost performs (directory management, file
// transfer, compose lifecycle, preflight probes, tar streaming) is
// enumerated as [Command] constructors in command.go, and every
// argument is shell-quoted at render time. This closes the quoting and
// injection bug class that free-form string concatenation invites.
//
// Connection establishment is retried with exponential backoff under a
// single [RetryPolicy] injected at construction; individual commands
// are never silently retried. A command that times out leaves its
// remote side effect unknown, so the underlying connection is
// discarded and the timeout is surfaced to the caller.
package remote
