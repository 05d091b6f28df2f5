// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostcheck

import (
	"context"
	"strings"
	"testing"

	"github.com/bureau-foundation/outpost/lib/remote/remotetest"
)

func testParams() Params {
	return Params{
		MinKernel: "5.10",
		MinDiskMB: 1024,
		Port:      8080,
		RemoteDir: "/opt/ticker-bot",
	}
}

func preparedHost() *remotetest.Host {
	host := remotetest.NewHost()
	host.Dirs["/opt/ticker-bot"] = true
	return host
}

func resultNamed(t *testing.T, report Report, name string) Result {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("no check named %q in %+v", name, report.Checks)
	return Result{}
}

func TestAllChecksPassOnHealthyHost(t *testing.T) {
	report := Run(context.Background(), preparedHost(), testParams())
	if !report.Passed() {
		t.Errorf("Passed() = false: %+v", report.Failures())
	}
	if len(report.Checks) != 6 {
		t.Errorf("got %d checks", len(report.Checks))
	}
}

func TestReportOrderIsStable(t *testing.T) {
	first := Run(context.Background(), preparedHost(), testParams())
	second := Run(context.Background(), preparedHost(), testParams())
	for i := range first.Checks {
		if first.Checks[i].Name != second.Checks[i].Name {
			t.Fatalf("check order differs between runs: %v vs %v", first.Checks, second.Checks)
		}
	}
}

func TestKernelTooOld(t *testing.T) {
	host := preparedHost()
	host.Kernel = "4.19.0-generic"
	report := Run(context.Background(), host, testParams())
	check := resultNamed(t, report, "kernel version")
	if check.Status != StatusFail {
		t.Errorf("kernel check = %+v, want fail", check)
	}
	if report.Passed() {
		t.Error("Passed() = true with an old kernel")
	}
}

func TestKernelCheckSkippedWithoutMinimum(t *testing.T) {
	params := testParams()
	params.MinKernel = ""
	report := Run(context.Background(), preparedHost(), params)
	if check := resultNamed(t, report, "kernel version"); check.Status != StatusSkip {
		t.Errorf("kernel check = %+v, want skip", check)
	}
}

func TestDockerDaemonMissing(t *testing.T) {
	host := preparedHost()
	host.DockerVersion = ""
	report := Run(context.Background(), host, testParams())
	if check := resultNamed(t, report, "docker daemon"); check.Status != StatusFail {
		t.Errorf("docker check = %+v, want fail", check)
	}
}

func TestComposePluginMissing(t *testing.T) {
	host := preparedHost()
	host.ComposeVersion = ""
	report := Run(context.Background(), host, testParams())
	if check := resultNamed(t, report, "compose plugin"); check.Status != StatusFail {
		t.Errorf("compose check = %+v, want fail", check)
	}
}

func TestPortConflict(t *testing.T) {
	host := preparedHost()
	host.ListenPorts = []int{8080}
	report := Run(context.Background(), host, testParams())
	check := resultNamed(t, report, "ports free")
	if check.Status != StatusFail {
		t.Fatalf("ports check = %+v, want fail", check)
	}
	if !strings.Contains(check.Message, "8080") {
		t.Errorf("message %q does not name the port", check.Message)
	}
}

func TestPortConflictToleratedWhenInstalled(t *testing.T) {
	host := preparedHost()
	host.ListenPorts = []int{8080}
	params := testParams()
	params.ExpectInstalled = true
	report := Run(context.Background(), host, params)
	if check := resultNamed(t, report, "ports free"); check.Status != StatusPass {
		t.Errorf("ports check = %+v, want pass for an installed workload", check)
	}
}

func TestExtraPortConflictStillFails(t *testing.T) {
	host := preparedHost()
	host.ListenPorts = []int{9090}
	params := testParams()
	params.ExtraPorts = []int{9090}
	params.ExpectInstalled = true
	report := Run(context.Background(), host, params)
	if check := resultNamed(t, report, "ports free"); check.Status != StatusFail {
		t.Errorf("ports check = %+v, want fail on extra port", check)
	}
}

func TestDiskTooSmall(t *testing.T) {
	host := preparedHost()
	host.DiskFreeKB = 512 * 1024 // 512 MB
	report := Run(context.Background(), host, testParams())
	check := resultNamed(t, report, "disk space")
	if check.Status != StatusFail {
		t.Errorf("disk check = %+v, want fail", check)
	}
}

func TestDirNotWritable(t *testing.T) {
	host := remotetest.NewHost() // /opt/ticker-bot never created
	report := Run(context.Background(), host, testParams())
	if check := resultNamed(t, report, "directory writable"); check.Status != StatusFail {
		t.Errorf("writable check = %+v, want fail", check)
	}
}

func TestKernelAtLeast(t *testing.T) {
	cases := []struct {
		release, minimum string
		want             bool
	}{
		{"6.1.0-23-amd64", "5.10", true},
		{"5.10.0", "5.10", true},
		{"5.9.16-arch1", "5.10", false},
		{"5.10.1", "5.10.2", false},
		{"6.0", "5.15.32", true},
		{"4.19.0-generic", "5.10", false},
	}
	for _, tc := range cases {
		got, err := kernelAtLeast(tc.release, tc.minimum)
		if err != nil {
			t.Errorf("kernelAtLeast(%q, %q) error: %v", tc.release, tc.minimum, err)
			continue
		}
		if got != tc.want {
			t.Errorf("kernelAtLeast(%q, %q) = %v, want %v", tc.release, tc.minimum, got, tc.want)
		}
	}
}

func TestParseListeners(t *testing.T) {
	output := "LISTEN 0 4096 0.0.0.0:22 0.0.0.0:*\nLISTEN 0 511 [::1]:8080 [::]:*\n"
	ports := parseListeners(output)
	if !ports[22] || !ports[8080] {
		t.Errorf("parseListeners = %v", ports)
	}
}
