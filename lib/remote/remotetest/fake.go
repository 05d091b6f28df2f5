// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotetest provides an in-memory fake deployment target for
// tests. The fake interprets the typed commands from lib/remote
// against a map-backed filesystem and a simulated compose runtime, so
// orchestrator tests exercise the real command sequences end to end
// without a network or a container daemon.
package remotetest

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/outpost/lib/remote"
)

// Host is a fake remote host implementing [remote.Runner].
//
// The zero value is not usable; construct with [NewHost]. All exported
// fields may be set before use to shape preflight and health behavior.
type Host struct {
	mu sync.Mutex

	// Files maps absolute remote paths to contents.
	Files map[string][]byte

	// Dirs records directories created with mkdir -p. DirWritable
	// checks succeed only for recorded directories.
	Dirs map[string]bool

	// Kernel is the uname -r output.
	Kernel string

	// DiskFreeKB is the available space reported by df.
	DiskFreeKB int64

	// ListenPorts are TCP ports with a listening socket.
	ListenPorts []int

	// DockerVersion is the daemon version; empty simulates a missing
	// or unreachable daemon.
	DockerVersion string

	// ComposeVersion is the compose plugin version; empty simulates a
	// missing plugin.
	ComposeVersion string

	// Running reports whether the compose project has a running
	// container.
	Running bool

	// UpLeavesStopped makes compose up succeed without any container
	// reaching the running state: the health checker's "down" outcome.
	UpLeavesStopped bool

	// ProbeFailures is the number of readiness probes that fail
	// before the probe starts succeeding. Negative means the probe
	// never succeeds.
	ProbeFailures int

	// Calls records every rendered command line in order.
	Calls []string

	probeCount int
	failures   map[string]error
}

// NewHost returns a healthy, empty fake host with sensible defaults.
func NewHost() *Host {
	return &Host{
		Files:          make(map[string][]byte),
		Dirs:           make(map[string]bool),
		Kernel:         "6.1.0-fake",
		DiskFreeKB:     16 * 1024 * 1024,
		DockerVersion:  "27.3.1",
		ComposeVersion: "2.30.0",
		failures:       make(map[string]error),
	}
}

// FailCommands injects an error for every command whose rendered line
// starts with prefix. Use remote command constructors to build the
// prefix so tests stay in sync with rendering.
func (h *Host) FailCommands(prefix string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[prefix] = err
}

// WriteDir seeds a remote directory with files, keyed by path
// relative to dir.
func (h *Host) WriteDir(dir string, files map[string][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Dirs[dir] = true
	for name, content := range files {
		h.Files[path.Join(dir, name)] = append([]byte(nil), content...)
	}
}

// DirContents returns the files under dir keyed by relative path.
// Tests use this to assert rollback restored the data directory.
func (h *Host) DirContents(dir string) map[string][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	contents := make(map[string][]byte)
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for name, content := range h.Files {
		if strings.HasPrefix(name, prefix) {
			contents[strings.TrimPrefix(name, prefix)] = append([]byte(nil), content...)
		}
	}
	return contents
}

// Run implements [remote.Runner].
func (h *Host) Run(ctx context.Context, cmd remote.Command) (remote.Result, error) {
	return h.dispatch(ctx, cmd, nil, nil)
}

// Push implements [remote.Runner].
func (h *Host) Push(ctx context.Context, cmd remote.Command, stdin io.Reader) (remote.Result, error) {
	return h.dispatch(ctx, cmd, stdin, nil)
}

// Pull implements [remote.Runner].
func (h *Host) Pull(ctx context.Context, cmd remote.Command, stdout io.Writer) (remote.Result, error) {
	return h.dispatch(ctx, cmd, nil, stdout)
}

// Close implements [remote.Runner].
func (h *Host) Close() error { return nil }

func (h *Host) dispatch(ctx context.Context, cmd remote.Command, stdin io.Reader, stdout io.Writer) (remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return remote.Result{}, &remote.TimeoutError{Cmd: cmd.String(), Err: err}
	}

	h.mu.Lock()
	rendered := cmd.String()
	h.Calls = append(h.Calls, rendered)
	for prefix, err := range h.failures {
		if strings.HasPrefix(rendered, prefix) {
			h.mu.Unlock()
			return remote.Result{ExitCode: 1}, err
		}
	}
	h.mu.Unlock()

	argv := cmd.Argv()
	switch argv[0] {
	case "mkdir":
		return h.mkdir(argv[2])
	case "rm":
		return h.removeTree(argv[2])
	case "cat":
		if len(argv) == 1 {
			return h.writeFile(cmd.StdoutFile(), stdin)
		}
		return h.readFile(argv[1], stdout)
	case "chmod":
		return remote.Result{}, nil
	case "mv":
		return h.rename(rendered, argv[2], argv[3])
	case "uname":
		return remote.Result{Stdout: h.Kernel + "\n"}, nil
	case "df":
		return h.df(argv[2])
	case "test":
		return h.testWritable(rendered, argv[2])
	case "ss":
		return h.listListeners()
	case "curl":
		return h.probe(rendered)
	case "docker":
		return h.docker(rendered, argv)
	case "tar":
		return h.tar(rendered, argv, stdin, stdout)
	default:
		return remote.Result{ExitCode: 127}, &remote.CommandError{Cmd: rendered, ExitCode: 127, Stderr: "command not found"}
	}
}

func (h *Host) mkdir(dir string) (remote.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Dirs[dir] = true
	return remote.Result{}, nil
}

func (h *Host) removeTree(target string) (remote.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := strings.TrimSuffix(target, "/") + "/"
	for name := range h.Files {
		if name == target || strings.HasPrefix(name, prefix) {
			delete(h.Files, name)
		}
	}
	return remote.Result{}, nil
}

func (h *Host) writeFile(target string, stdin io.Reader) (remote.Result, error) {
	content, err := io.ReadAll(stdin)
	if err != nil {
		return remote.Result{ExitCode: 1}, fmt.Errorf("fake host: reading stdin: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Files[target] = content
	return remote.Result{}, nil
}

func (h *Host) readFile(target string, stdout io.Writer) (remote.Result, error) {
	h.mu.Lock()
	content, ok := h.Files[target]
	h.mu.Unlock()
	if !ok {
		err := &remote.CommandError{Cmd: "cat " + target, ExitCode: 1, Stderr: "No such file or directory"}
		return remote.Result{ExitCode: 1, Stderr: err.Stderr}, err
	}
	if stdout != nil {
		if _, err := stdout.Write(content); err != nil {
			return remote.Result{ExitCode: 1}, err
		}
		return remote.Result{}, nil
	}
	return remote.Result{Stdout: string(content)}, nil
}

func (h *Host) rename(rendered, from, to string) (remote.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.Files[from]
	if !ok {
		err := &remote.CommandError{Cmd: rendered, ExitCode: 1, Stderr: "No such file or directory"}
		return remote.Result{ExitCode: 1, Stderr: err.Stderr}, err
	}
	delete(h.Files, from)
	h.Files[to] = content
	return remote.Result{}, nil
}

func (h *Host) df(target string) (remote.Result, error) {
	h.mu.Lock()
	free := h.DiskFreeKB
	h.mu.Unlock()
	out := fmt.Sprintf("Filesystem 1024-blocks Used Available Capacity Mounted on\n/dev/fake 104857600 1024 %d 1%% %s\n", free, target)
	return remote.Result{Stdout: out}, nil
}

func (h *Host) testWritable(rendered, dir string) (remote.Result, error) {
	h.mu.Lock()
	writable := h.Dirs[dir]
	h.mu.Unlock()
	if writable {
		return remote.Result{}, nil
	}
	return remote.Result{ExitCode: 1}, &remote.CommandError{Cmd: rendered, ExitCode: 1}
}

func (h *Host) listListeners() (remote.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out strings.Builder
	for _, port := range h.ListenPorts {
		fmt.Fprintf(&out, "LISTEN 0 4096 0.0.0.0:%d 0.0.0.0:*\n", port)
	}
	return remote.Result{Stdout: out.String()}, nil
}

func (h *Host) probe(rendered string) (remote.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probeCount++
	if h.ProbeFailures < 0 || h.probeCount <= h.ProbeFailures {
		err := &remote.CommandError{Cmd: rendered, ExitCode: 7, Stderr: "Failed to connect"}
		return remote.Result{ExitCode: 7, Stderr: err.Stderr}, err
	}
	return remote.Result{}, nil
}

func (h *Host) docker(rendered string, argv []string) (remote.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if argv[1] == "version" {
		if h.DockerVersion == "" {
			err := &remote.CommandError{Cmd: rendered, ExitCode: 1, Stderr: "Cannot connect to the Docker daemon"}
			return remote.Result{ExitCode: 1, Stderr: err.Stderr}, err
		}
		return remote.Result{Stdout: h.DockerVersion + "\n"}, nil
	}

	// docker compose --project-directory <dir> <verb> ...
	verb := argv[2]
	if argv[2] == "--project-directory" {
		verb = argv[4]
	}
	switch verb {
	case "version":
		if h.ComposeVersion == "" {
			err := &remote.CommandError{Cmd: rendered, ExitCode: 1, Stderr: "not a docker command"}
			return remote.Result{ExitCode: 1, Stderr: err.Stderr}, err
		}
		return remote.Result{Stdout: h.ComposeVersion + "\n"}, nil
	case "up":
		h.Running = !h.UpLeavesStopped
		return remote.Result{}, nil
	case "down":
		h.Running = false
		return remote.Result{}, nil
	case "ps":
		if h.Running {
			return remote.Result{Stdout: "f0f0f0f0f0f0\n"}, nil
		}
		return remote.Result{}, nil
	case "logs":
		return remote.Result{Stdout: "workload | started\n"}, nil
	default:
		err := &remote.CommandError{Cmd: rendered, ExitCode: 125, Stderr: "unknown compose verb"}
		return remote.Result{ExitCode: 125, Stderr: err.Stderr}, err
	}
}

func (h *Host) tar(rendered string, argv []string, stdin io.Reader, stdout io.Writer) (remote.Result, error) {
	dir := argv[2]
	if strings.Contains(rendered, "-cf") {
		return h.tarCreate(dir, stdout)
	}
	return h.tarExtract(dir, stdin)
}

func (h *Host) tarCreate(dir string, stdout io.Writer) (remote.Result, error) {
	h.mu.Lock()
	prefix := strings.TrimSuffix(dir, "/") + "/"
	names := make([]string, 0)
	for name := range h.Files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var archive bytes.Buffer
	writer := tar.NewWriter(&archive)
	for _, name := range names {
		content := h.Files[name]
		header := &tar.Header{
			Name: "./" + strings.TrimPrefix(name, prefix),
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := writer.WriteHeader(header); err != nil {
			h.mu.Unlock()
			return remote.Result{ExitCode: 1}, err
		}
		if _, err := writer.Write(content); err != nil {
			h.mu.Unlock()
			return remote.Result{ExitCode: 1}, err
		}
	}
	h.mu.Unlock()
	if err := writer.Close(); err != nil {
		return remote.Result{ExitCode: 1}, err
	}
	if _, err := io.Copy(stdout, &archive); err != nil {
		return remote.Result{ExitCode: 1}, err
	}
	return remote.Result{}, nil
}

func (h *Host) tarExtract(dir string, stdin io.Reader) (remote.Result, error) {
	reader := tar.NewReader(stdin)
	files := make(map[string][]byte)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return remote.Result{ExitCode: 1}, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(reader)
		if err != nil {
			return remote.Result{ExitCode: 1}, err
		}
		name := path.Clean(strings.TrimPrefix(header.Name, "./"))
		files[path.Join(dir, name)] = content
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Dirs[dir] = true
	for name, content := range files {
		h.Files[name] = content
	}
	return remote.Result{}, nil
}
