// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"fmt"

	"github.com/bureau-foundation/outpost/lib/health"
)

// ValidationError reports a problem detected before anything was
// changed: bad configuration, an illegal lifecycle state, a missing
// artifact, a failed preflight check.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// HealthFailureError reports a deployment that completed mechanically
// but never became healthy. RolledBack indicates the previous version
// was restored; RollbackErr is set when the restore itself failed,
// which leaves the host in the failed state.
type HealthFailureError struct {
	Report      health.Report
	RolledBack  bool
	RollbackErr error
}

func (e *HealthFailureError) Error() string {
	switch {
	case e.RollbackErr != nil:
		return fmt.Sprintf("deployment is %s and rollback failed: %v", e.Report.Status, e.RollbackErr)
	case e.RolledBack:
		return fmt.Sprintf("deployment is %s after %d probe attempt(s); rolled back to the previous version",
			e.Report.Status, e.Report.Attempts)
	default:
		return fmt.Sprintf("deployment is %s after %d probe attempt(s)", e.Report.Status, e.Report.Attempts)
	}
}

func (e *HealthFailureError) Unwrap() error { return e.RollbackErr }
