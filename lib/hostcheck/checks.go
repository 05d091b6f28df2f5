// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostcheck

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bureau-foundation/outpost/lib/remote"
)

// Params configures the check suite for one host.
type Params struct {
	// MinKernel is the minimum kernel release, e.g. "5.10". Empty
	// skips the check.
	MinKernel string

	// MinDiskMB is the minimum available space in RemoteDir. Zero
	// skips the check.
	MinDiskMB int64

	// Port is the workload's port; it must be free.
	Port int

	// ExtraPorts are additional ports that must be free.
	ExtraPorts []int

	// RemoteDir is the workload installation directory.
	RemoteDir string

	// ExpectInstalled relaxes the port check: when the workload is
	// already deployed (doctor on a healthy host), its own listener
	// on Port is expected, not a conflict.
	ExpectInstalled bool
}

// Run executes all checks against the host. Checks run concurrently;
// the report lists results in a fixed order regardless of completion
// timing.
func Run(ctx context.Context, runner remote.Runner, params Params) Report {
	checks := []func(context.Context, remote.Runner, Params) Result{
		checkKernel,
		checkDocker,
		checkCompose,
		checkPorts,
		checkDisk,
		checkDirWritable,
	}

	results := make([]Result, len(checks))
	var waitGroup sync.WaitGroup
	for i, check := range checks {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			results[i] = check(ctx, runner, params)
		}()
	}
	waitGroup.Wait()

	return Report{Checks: results}
}

func checkKernel(ctx context.Context, runner remote.Runner, params Params) Result {
	const name = "kernel version"
	if params.MinKernel == "" {
		return Skip(name, "no minimum configured")
	}
	result, err := runner.Run(ctx, remote.KernelRelease())
	if err != nil {
		return Fail(name, fmt.Sprintf("uname failed: %v", err))
	}
	release := strings.TrimSpace(result.Stdout)
	ok, err := kernelAtLeast(release, params.MinKernel)
	if err != nil {
		return Warn(name, fmt.Sprintf("cannot parse kernel release %q: %v", release, err))
	}
	if !ok {
		return Fail(name, fmt.Sprintf("kernel %s is older than required %s", release, params.MinKernel))
	}
	return Pass(name, release)
}

func checkDocker(ctx context.Context, runner remote.Runner, _ Params) Result {
	const name = "docker daemon"
	result, err := runner.Run(ctx, remote.DockerVersion())
	if err != nil {
		return Fail(name, fmt.Sprintf("docker daemon unreachable: %v", err))
	}
	return Pass(name, "version "+strings.TrimSpace(result.Stdout))
}

func checkCompose(ctx context.Context, runner remote.Runner, _ Params) Result {
	const name = "compose plugin"
	result, err := runner.Run(ctx, remote.ComposeVersion())
	if err != nil {
		return Fail(name, fmt.Sprintf("compose plugin missing: %v", err))
	}
	return Pass(name, "version "+strings.TrimSpace(result.Stdout))
}

func checkPorts(ctx context.Context, runner remote.Runner, params Params) Result {
	const name = "ports free"
	wanted := append([]int{params.Port}, params.ExtraPorts...)

	result, err := runner.Run(ctx, remote.ListListeners())
	if err != nil {
		return Fail(name, fmt.Sprintf("listing listeners: %v", err))
	}
	listening := parseListeners(result.Stdout)

	var conflicts []int
	for _, port := range wanted {
		if port == params.Port && params.ExpectInstalled {
			continue
		}
		if listening[port] {
			conflicts = append(conflicts, port)
		}
	}
	if len(conflicts) > 0 {
		sort.Ints(conflicts)
		rendered := make([]string, len(conflicts))
		for i, port := range conflicts {
			rendered[i] = strconv.Itoa(port)
		}
		return Fail(name, "already listening: "+strings.Join(rendered, ", "))
	}
	return Pass(name, fmt.Sprintf("%d port(s) checked", len(wanted)))
}

func checkDisk(ctx context.Context, runner remote.Runner, params Params) Result {
	const name = "disk space"
	if params.MinDiskMB <= 0 {
		return Skip(name, "no minimum configured")
	}
	result, err := runner.Run(ctx, remote.DiskFree(params.RemoteDir))
	if err != nil {
		return Fail(name, fmt.Sprintf("df failed: %v", err))
	}
	availableKB, err := parseDiskFree(result.Stdout)
	if err != nil {
		return Warn(name, fmt.Sprintf("cannot parse df output: %v", err))
	}
	availableMB := availableKB / 1024
	if availableMB < params.MinDiskMB {
		return Fail(name, fmt.Sprintf("%d MB available, %d MB required", availableMB, params.MinDiskMB))
	}
	return Pass(name, fmt.Sprintf("%d MB available", availableMB))
}

func checkDirWritable(ctx context.Context, runner remote.Runner, params Params) Result {
	const name = "directory writable"
	if _, err := runner.Run(ctx, remote.DirWritable(params.RemoteDir)); err != nil {
		return Fail(name, fmt.Sprintf("%s is missing or not writable", params.RemoteDir))
	}
	return Pass(name, params.RemoteDir)
}

// kernelAtLeast compares a kernel release string like "6.1.0-23-amd64"
// against a minimum like "5.10". Only the leading numeric components
// are compared.
func kernelAtLeast(release, minimum string) (bool, error) {
	have, err := kernelComponents(release)
	if err != nil {
		return false, err
	}
	want, err := kernelComponents(minimum)
	if err != nil {
		return false, err
	}
	for i := range want {
		h := 0
		if i < len(have) {
			h = have[i]
		}
		if h != want[i] {
			return h > want[i], nil
		}
	}
	return true, nil
}

func kernelComponents(release string) ([]int, error) {
	// Strip everything from the first character that is neither a
	// digit nor a dot: "6.1.0-23-amd64" -> "6.1.0".
	numeric := release
	if i := strings.IndexFunc(release, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	}); i >= 0 {
		numeric = release[:i]
	}
	if numeric == "" {
		return nil, fmt.Errorf("no numeric prefix in %q", release)
	}
	parts := strings.Split(numeric, ".")
	components := make([]int, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		components = append(components, n)
	}
	return components, nil
}

// parseListeners extracts local ports from `ss -H -ltn` output.
func parseListeners(output string) map[int]bool {
	ports := make(map[int]bool)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		local := fields[3]
		i := strings.LastIndex(local, ":")
		if i < 0 {
			continue
		}
		if port, err := strconv.Atoi(local[i+1:]); err == nil {
			ports[port] = true
		}
	}
	return ports
}

// parseDiskFree extracts the available-KB column from `df -Pk` output.
func parseDiskFree(output string) (int64, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("df produced %d line(s)", len(lines))
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 4 {
		return 0, fmt.Errorf("df line has %d fields", len(fields))
	}
	return strconv.ParseInt(fields[3], 10, 64)
}
