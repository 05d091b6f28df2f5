// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostcheck validates a deployment target before anything is
// installed on it: kernel version, container runtime, free ports,
// disk space, directory permissions. `outpost init` refuses to
// proceed unless every check passes; `outpost doctor` runs the same
// checks read-only at any time.
package hostcheck

// Status is the outcome of a single host check.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusWarn Status = "warn"
	StatusSkip Status = "skip"
)

// Result holds the outcome of a single host check.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Pass creates a passing check result.
func Pass(name, message string) Result {
	return Result{Name: name, Status: StatusPass, Message: message}
}

// Fail creates a failing check result.
func Fail(name, message string) Result {
	return Result{Name: name, Status: StatusFail, Message: message}
}

// Warn creates a warning check result. Warnings do not block
// deployment.
func Warn(name, message string) Result {
	return Result{Name: name, Status: StatusWarn, Message: message}
}

// Skip creates a skipped check result, used when configuration does
// not request the check.
func Skip(name, message string) Result {
	return Result{Name: name, Status: StatusSkip, Message: message}
}

// Report is the aggregate of all host checks, in declaration order.
type Report struct {
	Checks []Result `json:"checks"`
}

// Passed reports whether no check failed. Warnings and skips do not
// count as failures.
func (r Report) Passed() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return false
		}
	}
	return true
}

// Failures returns only the failed checks.
func (r Report) Failures() []Result {
	var failed []Result
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			failed = append(failed, check)
		}
	}
	return failed
}
