// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package health_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/outpost/lib/clock"
	"github.com/bureau-foundation/outpost/lib/health"
	"github.com/bureau-foundation/outpost/lib/remote/remotetest"
)

var testTarget = health.Target{
	ComposeDir: "/opt/ticker-bot",
	Port:       8080,
	ProbePath:  "/healthz",
}

func testChecker(clk clock.Clock) *health.Checker {
	return &health.Checker{
		Attempts: 5,
		Interval: 3 * time.Second,
		Timeout:  30 * time.Second,
		Clock:    clk,
	}
}

func TestVerifyHealthyFirstAttempt(t *testing.T) {
	host := remotetest.NewHost()
	host.Running = true
	clk := clock.Fake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	report, err := testChecker(clk).Verify(context.Background(), host, testTarget)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Status != health.StatusHealthy {
		t.Errorf("Status = %s, want healthy", report.Status)
	}
	if report.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", report.Attempts)
	}
	if clk.Elapsed() != 0 {
		t.Errorf("first-attempt success slept %v", clk.Elapsed())
	}
}

func TestVerifyHealthyAfterRetries(t *testing.T) {
	host := remotetest.NewHost()
	host.Running = true
	host.ProbeFailures = 2
	clk := clock.Fake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	report, err := testChecker(clk).Verify(context.Background(), host, testTarget)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Status != health.StatusHealthy {
		t.Errorf("Status = %s, want healthy", report.Status)
	}
	if report.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", report.Attempts)
	}
	// Two failed attempts means two interval sleeps.
	if clk.Elapsed() != 6*time.Second {
		t.Errorf("elapsed = %v, want 6s", clk.Elapsed())
	}
}

func TestVerifyDegradedWhenProbeNeverAnswers(t *testing.T) {
	host := remotetest.NewHost()
	host.Running = true
	host.ProbeFailures = -1
	clk := clock.Fake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	report, err := testChecker(clk).Verify(context.Background(), host, testTarget)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Status != health.StatusDegraded {
		t.Errorf("Status = %s, want degraded", report.Status)
	}
	if report.Attempts != 5 {
		t.Errorf("Attempts = %d, want the full budget of 5", report.Attempts)
	}
	if !strings.Contains(report.Detail, "probe attempt") {
		t.Errorf("Detail = %q", report.Detail)
	}
}

func TestVerifyDownWhenNotRunning(t *testing.T) {
	host := remotetest.NewHost()
	host.Running = false
	clk := clock.Fake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	report, err := testChecker(clk).Verify(context.Background(), host, testTarget)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Status != health.StatusDown {
		t.Errorf("Status = %s, want down", report.Status)
	}
	// Down is conclusive: no point burning the probe budget.
	if report.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", report.Attempts)
	}
}

func TestVerifyTimeoutCutsAttemptBudget(t *testing.T) {
	host := remotetest.NewHost()
	host.Running = true
	host.ProbeFailures = -1
	clk := clock.Fake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	checker := &health.Checker{
		Attempts: 100,
		Interval: 3 * time.Second,
		Timeout:  10 * time.Second,
		Clock:    clk,
	}
	report, err := checker.Verify(context.Background(), host, testTarget)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Status != health.StatusDegraded {
		t.Errorf("Status = %s, want degraded", report.Status)
	}
	if report.Attempts >= 100 {
		t.Errorf("Attempts = %d, timeout did not cut the budget", report.Attempts)
	}
	if clk.Elapsed() > 10*time.Second {
		t.Errorf("elapsed %v exceeded the 10s timeout", clk.Elapsed())
	}
}

func TestVerifyCancelledContext(t *testing.T) {
	host := remotetest.NewHost()
	host.Running = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clk := clock.Fake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	if _, err := testChecker(clk).Verify(ctx, host, testTarget); err == nil {
		t.Fatal("Verify ignored a cancelled context")
	}
}

func TestProbeURL(t *testing.T) {
	if url := testTarget.ProbeURL(); url != "http://127.0.0.1:8080/healthz" {
		t.Errorf("ProbeURL() = %q", url)
	}
}
