// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
	"github.com/bureau-foundation/outpost/lib/backup"
	"github.com/bureau-foundation/outpost/lib/deploy"
	"github.com/bureau-foundation/outpost/lib/ledger"
	"github.com/bureau-foundation/outpost/lib/manifest"
	"github.com/bureau-foundation/outpost/lib/remote"
	"github.com/bureau-foundation/outpost/lib/vault"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"concurrent deployment", fmt.Errorf("up: %w", manifest.ErrConcurrentDeployment), exitLocked},
		{"health failure", &deploy.HealthFailureError{}, exitHealth},
		{
			// A failed rollback wraps a remote error, but the operator
			// response is the health playbook, not the connectivity one.
			"health failure wrapping remote error",
			&deploy.HealthFailureError{RollbackErr: &remote.ConnectError{Address: "h:22"}},
			exitHealth,
		},
		{"connect error", &remote.ConnectError{Address: "h:22", Attempts: 3}, exitRemote},
		{"timeout error", fmt.Errorf("snapshot: %w", &remote.TimeoutError{Cmd: "tar"}), exitRemote},
		{"command error", &remote.CommandError{Cmd: "docker compose up", ExitCode: 125}, exitRemote},
		{"validation error", &deploy.ValidationError{Reason: "bad state"}, exitValidation},
		{"usage error", cli.Validation("expected <host>"), exitValidation},
		{"decryption error", &vault.DecryptionError{Err: errors.New("auth failed")}, exitValidation},
		{"corrupt backup", &backup.CorruptBackupError{SnapshotID: "snap-1"}, exitValidation},
		{"no rollback target", ledger.ErrNoRollbackTarget, exitValidation},
		{"plain error", errors.New("boom"), exitValidation},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := classify(test.err); got != test.want {
				t.Errorf("classify(%v) = %d, want %d", test.err, got, test.want)
			}
		})
	}
}
