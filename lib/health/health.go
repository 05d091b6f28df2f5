// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package health verifies a deployed workload: are its containers
// running, and does its HTTP probe answer. The checker polls with a
// bounded attempt budget and reports one of three outcomes rather
// than a bare bool, because "running but not answering" (degraded)
// and "not running at all" (down) demand different operator
// responses.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/outpost/lib/clock"
	"github.com/bureau-foundation/outpost/lib/remote"
)

// Status is the verification outcome.
type Status string

const (
	// StatusHealthy means containers are running and the probe
	// answered.
	StatusHealthy Status = "healthy"

	// StatusDegraded means containers are running but the probe never
	// answered within the budget.
	StatusDegraded Status = "degraded"

	// StatusDown means no containers are running.
	StatusDown Status = "down"
)

// perProbeTimeoutSeconds bounds a single curl attempt so one hung
// probe cannot eat the whole verification budget.
const perProbeTimeoutSeconds = 5

// Target identifies the workload to verify.
type Target struct {
	// ComposeDir is the remote directory holding compose.yaml.
	ComposeDir string

	// Port is the TCP port the workload serves on.
	Port int

	// ProbePath is the HTTP path polled for readiness.
	ProbePath string
}

// ProbeURL returns the localhost URL polled on the host.
func (t Target) ProbeURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", t.Port, t.ProbePath)
}

// Report is the verification result.
type Report struct {
	// Status is the outcome.
	Status Status

	// Attempts is how many probe attempts were made.
	Attempts int

	// Elapsed is how long verification took.
	Elapsed time.Duration

	// Detail describes the last failure for degraded or down
	// outcomes.
	Detail string
}

// Checker polls a deployed workload until it answers or the budget
// runs out.
type Checker struct {
	// Attempts is the probe attempt budget. Default: 5
	Attempts int

	// Interval is the pause between attempts. Default: 3s
	Interval time.Duration

	// Timeout bounds the whole verification regardless of the attempt
	// budget. Default: 30s
	Timeout time.Duration

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to a no-op logger.
	Logger *slog.Logger
}

func (c *Checker) defaults() {
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Verify polls the target. A transport-level failure (lost
// connection, cancelled context) is returned as an error; a workload
// that is merely unready is reported in the Report, not as an error.
func (c *Checker) Verify(ctx context.Context, runner remote.Runner, target Target) (Report, error) {
	c.defaults()
	start := c.Clock.Now()
	report := Report{}

	for attempt := 1; attempt <= c.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempts = attempt

		running, err := c.containersRunning(ctx, runner, target.ComposeDir)
		if err != nil {
			return report, err
		}
		if !running {
			report.Status = StatusDown
			report.Detail = "no containers running"
			report.Elapsed = c.Clock.Now().Sub(start)
			c.Logger.Warn("workload is down", "compose_dir", target.ComposeDir, "attempt", attempt)
			return report, nil
		}

		_, err = runner.Run(ctx, remote.HTTPProbe(target.ProbeURL(), perProbeTimeoutSeconds))
		if err == nil {
			report.Status = StatusHealthy
			report.Elapsed = c.Clock.Now().Sub(start)
			c.Logger.Info("workload is healthy", "url", target.ProbeURL(), "attempts", attempt)
			return report, nil
		}
		var commandError *remote.CommandError
		if !errors.As(err, &commandError) {
			return report, err
		}
		report.Detail = fmt.Sprintf("probe attempt %d: %v", attempt, commandError)
		c.Logger.Debug("probe failed", "url", target.ProbeURL(), "attempt", attempt)

		if c.Clock.Now().Sub(start)+c.Interval > c.Timeout {
			break
		}
		if attempt < c.Attempts {
			c.Clock.Sleep(c.Interval)
		}
	}

	report.Status = StatusDegraded
	report.Elapsed = c.Clock.Now().Sub(start)
	c.Logger.Warn("workload is degraded", "url", target.ProbeURL(),
		"attempts", report.Attempts, "detail", report.Detail)
	return report, nil
}

// containersRunning reports whether the compose project has at least
// one container in the running state.
func (c *Checker) containersRunning(ctx context.Context, runner remote.Runner, composeDir string) (bool, error) {
	result, err := runner.Run(ctx, remote.ComposeRunning(composeDir))
	if err != nil {
		var commandError *remote.CommandError
		if errors.As(err, &commandError) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(result.Stdout) != "", nil
}
