// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/outpost/lib/health"
	"github.com/bureau-foundation/outpost/lib/hostcheck"
	"github.com/bureau-foundation/outpost/lib/ledger"
	"github.com/bureau-foundation/outpost/lib/manifest"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func checkStatusLabel(status hostcheck.Status) string {
	label := strings.ToUpper(string(status))
	switch status {
	case hostcheck.StatusPass:
		return passStyle.Render(label)
	case hostcheck.StatusFail:
		return failStyle.Render(label)
	case hostcheck.StatusWarn:
		return warnStyle.Render(label)
	default:
		return dimStyle.Render(label)
	}
}

// printCheckReport prints preflight results as a checklist and
// returns an ExitError-compatible summary line.
func printCheckReport(report hostcheck.Report) {
	for _, result := range report.Checks {
		fmt.Fprintf(os.Stdout, "[%s]  %-20s  %s\n",
			checkStatusLabel(result.Status), result.Name, result.Message)
	}
	fmt.Fprintln(os.Stdout)
	if report.Passed() {
		fmt.Fprintln(os.Stdout, "All checks passed.")
	} else {
		fmt.Fprintf(os.Stdout, "%d check(s) failed.\n", len(report.Failures()))
	}
}

func stateLabel(state manifest.State) string {
	switch state {
	case manifest.StateHealthy:
		return passStyle.Render(string(state))
	case manifest.StateDegraded:
		return warnStyle.Render(string(state))
	case manifest.StateFailed:
		return failStyle.Render(string(state))
	default:
		return string(state)
	}
}

func healthLabel(status health.Status) string {
	switch status {
	case health.StatusHealthy:
		return passStyle.Render(string(status))
	case health.StatusDegraded:
		return warnStyle.Render(string(status))
	default:
		return failStyle.Render(string(status))
	}
}

// printHistory renders version records as a table, newest first.
func printHistory(versions []ledger.Version) {
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tDEPLOYED\tCHECKSUM\tSNAPSHOT\tNOTE")
	for _, version := range versions {
		note := ""
		if version.RolledBackFrom != 0 {
			note = fmt.Sprintf("rollback of v%d", version.RolledBackFrom)
		}
		checksum := version.ArtifactChecksum
		if len(checksum) > 12 {
			checksum = checksum[:12]
		}
		snapshot := version.SnapshotID
		if snapshot == "" {
			snapshot = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			version.ID,
			version.DeployedAt.Format("2006-01-02 15:04:05"),
			checksum,
			snapshot,
			note,
		)
	}
	tw.Flush()
}
