// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"time"
)

// State is a host's position in the deployment lifecycle.
type State string

const (
	// StateUninitialized means no manifest exists yet: `outpost init`
	// has never run against this host.
	StateUninitialized State = "uninitialized"

	// StateInitialized means directories are provisioned and the host
	// passed preflight, but nothing has been deployed.
	StateInitialized State = "initialized"

	// StateDeploying means an `up` is in flight.
	StateDeploying State = "deploying"

	// StateHealthy means the workload is running and passed its
	// readiness probe.
	StateHealthy State = "healthy"

	// StateDegraded means the workload is running but the readiness
	// probe never succeeded within its budget.
	StateDegraded State = "degraded"

	// StateStopped means the workload was deliberately stopped.
	StateStopped State = "stopped"

	// StateRollingBack means a restore from snapshot is in flight.
	StateRollingBack State = "rolling_back"

	// StateFailed is terminal: a rollback failed and the host needs
	// operator intervention. No automatic retry ever leaves this
	// state.
	StateFailed State = "failed"
)

// transitions is the legal state machine. Absence means the
// transition is forbidden.
var transitions = map[State][]State{
	StateUninitialized: {StateInitialized},
	StateInitialized:   {StateDeploying},
	StateDeploying:     {StateHealthy, StateDegraded, StateRollingBack},
	StateHealthy:       {StateDeploying, StateStopped, StateRollingBack},
	StateDegraded:      {StateDeploying, StateStopped, StateRollingBack},
	StateStopped:       {StateDeploying},
	StateRollingBack:   {StateHealthy, StateDegraded, StateStopped, StateFailed},
	StateFailed:        {StateRollingBack},
}

// CanTransition reports whether moving from s to target is legal.
func (s State) CanTransition(target State) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Terminal reports whether the state requires operator intervention.
func (s State) Terminal() bool { return s == StateFailed }

// Manifest is the persisted deployment record for one host.
type Manifest struct {
	// WorkloadID identifies the deployed workload.
	WorkloadID string `json:"workload_id"`

	// CurrentVersion is the ledger version ID currently deployed, or
	// zero before the first deployment.
	CurrentVersion int64 `json:"current_version"`

	// State is the host's lifecycle state.
	State State `json:"state"`

	// LastDeployedAt is when the current version went live.
	LastDeployedAt time.Time `json:"last_deployed_at"`

	// LastBackupRef is the snapshot taken before the most recent
	// deployment attempt.
	LastBackupRef string `json:"last_backup_ref,omitempty"`
}
