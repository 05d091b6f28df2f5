// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/outpost/lib/backup"
	"github.com/bureau-foundation/outpost/lib/health"
	"github.com/bureau-foundation/outpost/lib/hostcheck"
	"github.com/bureau-foundation/outpost/lib/ledger"
	"github.com/bureau-foundation/outpost/lib/manifest"
	"github.com/bureau-foundation/outpost/lib/remote"
)

// Down stops the workload and marks the host stopped. Calling Down on
// an already-stopped host is a no-op.
func (o *Orchestrator) Down(ctx context.Context) error {
	lock, err := o.Store.Acquire()
	if err != nil {
		return err
	}
	defer lock.Release()

	m, err := o.Store.Load()
	if err != nil {
		return err
	}
	if m.State == manifest.StateStopped {
		o.Logger.Info("workload already stopped", "host", o.HostName)
		return nil
	}
	if !m.State.CanTransition(manifest.StateStopped) {
		return validationf("cannot stop host %s from state %s", o.HostName, m.State)
	}

	if _, err := o.Runner.Run(ctx, remote.ComposeDown(o.Host.Workload.RemoteDir)); err != nil {
		return fmt.Errorf("compose down: %w", err)
	}
	if err := o.Store.Transition(m, manifest.StateStopped); err != nil {
		return err
	}
	o.Logger.Info("workload stopped", "host", o.HostName)
	return nil
}

// RollbackResult describes a completed rollback.
type RollbackResult struct {
	// From is the version that was rolled back.
	From int64 `json:"from"`

	// To is the new version record created by the rollback.
	To int64 `json:"to"`

	// Target is the historical version whose artifact now runs.
	Target int64 `json:"target"`

	// Snapshot is the archive the data was restored from.
	Snapshot string `json:"snapshot"`

	// Health is the post-rollback verification.
	Health health.Report `json:"health"`
}

// Rollback restores the previous version: data from the current
// version's pre-deployment snapshot, artifact from the local cache.
// A corrupt snapshot aborts before anything on the host is touched.
func (o *Orchestrator) Rollback(ctx context.Context) (*RollbackResult, error) {
	lock, err := o.Store.Acquire()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	m, err := o.Store.Load()
	if err != nil {
		return nil, err
	}
	if !m.State.CanTransition(manifest.StateRollingBack) {
		return nil, validationf("cannot roll back host %s from state %s", o.HostName, m.State)
	}
	priorState := m.State

	current, err := o.Ledger.Latest(ctx)
	if err != nil {
		return nil, err
	}
	target, err := o.Ledger.RollbackTarget(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNoRollbackTarget) {
			return nil, &ValidationError{Reason: err.Error()}
		}
		return nil, err
	}
	if current.SnapshotID == "" {
		return nil, validationf("version %d has no pre-deployment snapshot to restore", current.ID)
	}

	if err := o.Store.Transition(m, manifest.StateRollingBack); err != nil {
		return nil, err
	}

	restoreErr := o.Backups.Restore(ctx, o.Runner, current.SnapshotID, o.Host.Workload.RemoteDir, o.Host.Workload.DataDir)
	if restoreErr != nil {
		var corruptError *backup.CorruptBackupError
		if errors.As(restoreErr, &corruptError) {
			// Detected before the host was touched; the current
			// version keeps running.
			m.State = priorState
			if saveErr := o.Store.Save(m); saveErr != nil {
				return nil, errors.Join(restoreErr, saveErr)
			}
			return nil, restoreErr
		}
		if err := o.Store.Transition(m, manifest.StateFailed); err != nil {
			return nil, errors.Join(restoreErr, err)
		}
		return nil, fmt.Errorf("rollback failed, host needs intervention: %w", restoreErr)
	}

	finish := func() (health.Report, error) {
		if err := o.pushArtifactArchive(ctx, o.cachedArtifactPath(target.ArtifactChecksum)); err != nil {
			return health.Report{}, err
		}
		if _, err := o.Runner.Run(ctx, remote.ComposeUp(o.Host.Workload.RemoteDir)); err != nil {
			return health.Report{}, err
		}
		return o.Checker.Verify(ctx, o.Runner, o.healthTarget())
	}
	report, err := finish()
	if err != nil {
		if terr := o.Store.Transition(m, manifest.StateFailed); terr != nil {
			return nil, errors.Join(err, terr)
		}
		return nil, fmt.Errorf("rollback failed, host needs intervention: %w", err)
	}

	var endState manifest.State
	switch report.Status {
	case health.StatusHealthy:
		endState = manifest.StateHealthy
	case health.StatusDegraded:
		endState = manifest.StateDegraded
	default:
		if terr := o.Store.Transition(m, manifest.StateFailed); terr != nil {
			return nil, terr
		}
		return nil, &HealthFailureError{Report: report, RollbackErr: fmt.Errorf("restored version did not start")}
	}
	// Record the rollback before claiming its end state, so the
	// manifest never points at a version the ledger does not hold.
	newVersion, err := o.Ledger.RecordVersion(ctx, ledger.Version{
		ArtifactChecksum: target.ArtifactChecksum,
		DeployedAt:       o.Clock.Now().UTC(),
		RolledBackFrom:   current.ID,
	})
	if err != nil {
		if terr := o.Store.Transition(m, manifest.StateDegraded); terr != nil {
			return nil, errors.Join(err, terr)
		}
		return nil, fmt.Errorf("restored version is live but could not be recorded: %w", err)
	}
	m.CurrentVersion = newVersion
	m.LastDeployedAt = o.Clock.Now().UTC()
	if err := o.Store.Transition(m, endState); err != nil {
		return nil, err
	}

	o.Logger.Info("rollback complete",
		"host", o.HostName, "from", current.ID, "to", newVersion, "target", target.ID)
	return &RollbackResult{
		From:     current.ID,
		To:       newVersion,
		Target:   target.ID,
		Snapshot: current.SnapshotID,
		Health:   report,
	}, nil
}

// StatusInfo is what `outpost status` reports.
type StatusInfo struct {
	Host           string         `json:"host"`
	WorkloadID     string         `json:"workload_id,omitempty"`
	State          manifest.State `json:"state"`
	CurrentVersion int64          `json:"current_version,omitempty"`
	LastDeployedAt time.Time      `json:"last_deployed_at,omitzero"`
	LastBackupRef  string         `json:"last_backup_ref,omitempty"`
	Snapshots      int            `json:"snapshots"`
	Live           *health.Report `json:"live,omitempty"`
}

// Status reports the manifest state plus, for a host that should be
// running, a single live probe. Read-only: no lock is taken, so
// status works while a deployment is in flight.
func (o *Orchestrator) Status(ctx context.Context) (*StatusInfo, error) {
	m, err := o.Store.Load()
	if err != nil {
		return nil, err
	}
	info := &StatusInfo{
		Host:           o.HostName,
		WorkloadID:     m.WorkloadID,
		State:          m.State,
		CurrentVersion: m.CurrentVersion,
		LastDeployedAt: m.LastDeployedAt,
		LastBackupRef:  m.LastBackupRef,
	}

	snapshots, err := o.Ledger.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	for _, snap := range snapshots {
		if !snap.Pruned {
			info.Snapshots++
		}
	}

	if m.State == manifest.StateHealthy || m.State == manifest.StateDegraded {
		probe := &health.Checker{
			Attempts: 1,
			Interval: time.Second,
			Timeout:  10 * time.Second,
			Clock:    o.Clock,
			Logger:   o.Logger,
		}
		report, err := probe.Verify(ctx, o.Runner, o.healthTarget())
		if err != nil {
			return nil, err
		}
		info.Live = &report
	}
	return info, nil
}

// Doctor runs the preflight checks read-only. On a deployed host the
// workload's own listener is expected rather than flagged as a port
// conflict.
func (o *Orchestrator) Doctor(ctx context.Context) (hostcheck.Report, error) {
	m, err := o.Store.Load()
	if err != nil {
		return hostcheck.Report{}, err
	}
	return hostcheck.Run(ctx, o.Runner, o.checkParams(m.CurrentVersion > 0)), nil
}

// History returns version records, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]ledger.Version, error) {
	return o.Ledger.History(ctx, limit)
}
