// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"fmt"
	"strings"
)

// Command is one of the fixed remote operations Outpost performs,
// held as an argv vector and rendered with full shell quoting. Build
// commands with the constructors below; there is deliberately no way
// to construct a Command from a raw string.
type Command struct {
	argv       []string
	stdoutFile string
}

// Argv returns a copy of the command's argument vector. Used by test
// fakes to dispatch on the operation without parsing shell syntax.
func (c Command) Argv() []string {
	return append([]string(nil), c.argv...)
}

// StdoutFile returns the remote path the command's stdout is
// redirected to, or "" when stdout is not redirected.
func (c Command) StdoutFile() string { return c.stdoutFile }

// String renders the command as a shell line with every argument
// single-quoted. This is the exact string handed to the remote shell.
func (c Command) String() string {
	parts := make([]string, 0, len(c.argv)+2)
	for _, arg := range c.argv {
		parts = append(parts, quote(arg))
	}
	if c.stdoutFile != "" {
		parts = append(parts, ">", quote(c.stdoutFile))
	}
	return strings.Join(parts, " ")
}

// quote single-quotes arg for POSIX shells. Embedded single quotes
// are rendered as '\'' (close, escaped quote, reopen).
func quote(arg string) string {
	if arg == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// MkdirAll creates a remote directory and any missing parents.
func MkdirAll(path string) Command {
	return Command{argv: []string{"mkdir", "-p", path}}
}

// RemoveTree removes a remote path recursively. Best-effort cleanup
// commands tolerate a non-zero exit from this.
func RemoveTree(path string) Command {
	return Command{argv: []string{"rm", "-rf", path}}
}

// WriteFile receives stdin into a remote file. Use with
// [Runner.Push]; pair with [Rename] for atomic placement.
func WriteFile(path string) Command {
	return Command{argv: []string{"cat"}, stdoutFile: path}
}

// ReadFile streams a remote file to stdout. Use with [Runner.Pull].
func ReadFile(path string) Command {
	return Command{argv: []string{"cat", path}}
}

// Chmod sets the mode of a remote path. Mode is rendered octal.
func Chmod(mode uint32, path string) Command {
	return Command{argv: []string{"chmod", fmt.Sprintf("%04o", mode), path}}
}

// Rename moves a remote file. Within one filesystem this is atomic,
// which is why uploads land in a temp name first.
func Rename(from, to string) Command {
	return Command{argv: []string{"mv", "-f", from, to}}
}

// KernelRelease reports the remote kernel version (uname -r).
func KernelRelease() Command {
	return Command{argv: []string{"uname", "-r"}}
}

// DiskFree reports POSIX df output in 1K blocks for the filesystem
// holding path.
func DiskFree(path string) Command {
	return Command{argv: []string{"df", "-Pk", path}}
}

// DirWritable exits zero when the remote directory exists and is
// writable by the connecting user.
func DirWritable(path string) Command {
	return Command{argv: []string{"test", "-w", path}}
}

// ListListeners lists listening TCP sockets (ss -H -ltn) for the
// port-availability preflight check.
func ListListeners() Command {
	return Command{argv: []string{"ss", "-H", "-ltn"}}
}

// DockerVersion reports the Docker server version. A non-zero exit
// means the daemon is absent or unreachable.
func DockerVersion() Command {
	return Command{argv: []string{"docker", "version", "--format", "{{.Server.Version}}"}}
}

// ComposeVersion reports the compose plugin version.
func ComposeVersion() Command {
	return Command{argv: []string{"docker", "compose", "version", "--short"}}
}

// ComposeUp starts the workload defined in projectDir detached.
func ComposeUp(projectDir string) Command {
	return Command{argv: []string{"docker", "compose", "--project-directory", projectDir, "up", "-d", "--remove-orphans"}}
}

// ComposeDown stops and removes the workload's containers.
func ComposeDown(projectDir string) Command {
	return Command{argv: []string{"docker", "compose", "--project-directory", projectDir, "down"}}
}

// ComposeRunning lists the IDs of running containers for the project.
// Empty stdout with a zero exit means nothing is running.
func ComposeRunning(projectDir string) Command {
	return Command{argv: []string{"docker", "compose", "--project-directory", projectDir, "ps", "--quiet", "--status", "running"}}
}

// ComposeLogs tails the workload's recent log output.
func ComposeLogs(projectDir string, tailLines int) Command {
	return Command{argv: []string{"docker", "compose", "--project-directory", projectDir, "logs", "--no-color", "--tail", fmt.Sprintf("%d", tailLines)}}
}

// HTTPProbe issues the readiness probe against a local URL on the
// host. Non-zero exit means the probe failed.
func HTTPProbe(url string, timeoutSeconds int) Command {
	return Command{argv: []string{"curl", "-fsS", "--max-time", fmt.Sprintf("%d", timeoutSeconds), "-o", "/dev/null", url}}
}

// TarCreate streams the contents of a remote directory as an
// uncompressed tar archive to stdout. Use with [Runner.Pull].
func TarCreate(dir string) Command {
	return Command{argv: []string{"tar", "-C", dir, "-cf", "-", "."}}
}

// TarExtract extracts an uncompressed tar archive from stdin into a
// remote directory. Use with [Runner.Push].
func TarExtract(dir string) Command {
	return Command{argv: []string{"tar", "-C", dir, "-xf", "-"}}
}
