// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/outpost/lib/backup"
	"github.com/bureau-foundation/outpost/lib/clock"
	"github.com/bureau-foundation/outpost/lib/config"
	"github.com/bureau-foundation/outpost/lib/health"
	"github.com/bureau-foundation/outpost/lib/hostcheck"
	"github.com/bureau-foundation/outpost/lib/ledger"
	"github.com/bureau-foundation/outpost/lib/manifest"
	"github.com/bureau-foundation/outpost/lib/remote"
	"github.com/bureau-foundation/outpost/lib/secret"
	"github.com/bureau-foundation/outpost/lib/vault"
)


// Orchestrator drives the lifecycle of one host. Construct with
// [New]; fields are exported for tests that need to substitute the
// clock or checker.
type Orchestrator struct {
	HostName string
	Host     *config.Host
	Backup   config.BackupConfig
	Reqs     config.Requirements
	StateDir string

	Runner    remote.Runner
	Store     *manifest.Store
	Ledger    *ledger.Ledger
	Backups   *backup.Manager
	Checker   *health.Checker
	MasterKey *secret.Buffer
	Clock     clock.Clock
	Logger    *slog.Logger
}

// New wires an orchestrator for the named host. The master key is
// borrowed, not owned: the caller zeroes it at process exit. Close
// releases the ledger; the runner stays with the caller.
func New(cfg *config.Config, hostName string, runner remote.Runner, masterKey *secret.Buffer, logger *slog.Logger, clk clock.Clock) (*Orchestrator, error) {
	host, err := cfg.HostNamed(hostName)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	stateDir := cfg.HostStateDir(hostName)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	ledgerDB, err := ledger.Open(stateDir, logger)
	if err != nil {
		return nil, err
	}

	recipients, err := backup.ParseRecipients(cfg.Backup.EncryptTo)
	if err != nil {
		ledgerDB.Close()
		return nil, &ValidationError{Reason: err.Error()}
	}
	backups := &backup.Manager{
		Ledger:      ledgerDB,
		Dir:         filepath.Join(stateDir, "snapshots"),
		Compression: cfg.Backup.Compression,
		Recipients:  recipients,
		SecretsFile: host.SecretsFile,
		Clock:       clk,
		Logger:      logger,
	}
	if cfg.Backup.IdentityFile != "" {
		identities, err := backup.LoadIdentities(cfg.Backup.IdentityFile)
		if err != nil {
			ledgerDB.Close()
			return nil, &ValidationError{Reason: err.Error()}
		}
		backups.Identities = identities
	}

	return &Orchestrator{
		HostName: hostName,
		Host:     host,
		Backup:   cfg.Backup,
		Reqs:     cfg.Requirements,
		StateDir: stateDir,
		Runner:   runner,
		Store:    manifest.NewStore(stateDir),
		Ledger:   ledgerDB,
		Backups:  backups,
		Checker: &health.Checker{
			Attempts: cfg.Health.Attempts,
			Interval: cfg.Health.Interval.Std(),
			Timeout:  cfg.Health.Timeout.Std(),
			Clock:    clk,
			Logger:   logger,
		},
		MasterKey: masterKey,
		Clock:     clk,
		Logger:    logger,
	}, nil
}

// Close releases the orchestrator's ledger.
func (o *Orchestrator) Close() error { return o.Ledger.Close() }

func (o *Orchestrator) healthTarget() health.Target {
	return health.Target{
		ComposeDir: o.Host.Workload.RemoteDir,
		Port:       o.Host.Workload.Port,
		ProbePath:  o.Host.Workload.ProbePath,
	}
}

func (o *Orchestrator) checkParams(installed bool) hostcheck.Params {
	return hostcheck.Params{
		MinKernel:       o.Reqs.MinKernel,
		MinDiskMB:       o.Reqs.MinDiskMB,
		Port:            o.Host.Workload.Port,
		ExtraPorts:      o.Reqs.Ports,
		RemoteDir:       o.Host.Workload.RemoteDir,
		ExpectInstalled: installed,
	}
}

// Init provisions the host: creates the remote directories, runs the
// preflight checks, and moves the manifest to the initialized state.
// Fails if the host was already initialized.
func (o *Orchestrator) Init(ctx context.Context) (hostcheck.Report, error) {
	lock, err := o.Store.Acquire()
	if err != nil {
		return hostcheck.Report{}, err
	}
	defer lock.Release()

	m, err := o.Store.Load()
	if err != nil {
		return hostcheck.Report{}, err
	}
	if m.State != manifest.StateUninitialized {
		return hostcheck.Report{}, validationf("host %s is already initialized (state %s)", o.HostName, m.State)
	}

	for _, dir := range []string{o.Host.Workload.RemoteDir, o.Host.Workload.DataDir} {
		if _, err := o.Runner.Run(ctx, remote.MkdirAll(dir)); err != nil {
			return hostcheck.Report{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	report := hostcheck.Run(ctx, o.Runner, o.checkParams(false))
	if !report.Passed() {
		return report, validationf("host %s failed preflight: %s", o.HostName, summarizeFailures(report))
	}

	m.WorkloadID = o.Host.Workload.ID
	if err := o.Store.Transition(m, manifest.StateInitialized); err != nil {
		return report, err
	}
	o.Logger.Info("host initialized", "host", o.HostName, "workload", m.WorkloadID)
	return report, nil
}

// UpOptions modifies deployment behavior.
type UpOptions struct {
	// DryRun reports the deployment plan without touching the host.
	DryRun bool
}

// UpResult describes a completed (or planned) deployment.
type UpResult struct {
	Version  int64         `json:"version"`
	Checksum string        `json:"checksum"`
	Snapshot string        `json:"snapshot,omitempty"`
	Health   health.Report `json:"health"`
	Plan     []string      `json:"plan,omitempty"`
	DryRun   bool          `json:"dry_run,omitempty"`
}

// Up deploys the configured artifact. An existing deployment is
// snapshotted first; if the new version fails to become healthy, the
// snapshot and previous artifact are restored automatically.
func (o *Orchestrator) Up(ctx context.Context, opts UpOptions) (*UpResult, error) {
	lock, err := o.Store.Acquire()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	m, err := o.Store.Load()
	if err != nil {
		return nil, err
	}
	if !m.State.CanTransition(manifest.StateDeploying) {
		return nil, validationf("cannot deploy host %s from state %s", o.HostName, m.State)
	}
	priorState := m.State
	wasRunning := priorState == manifest.StateHealthy || priorState == manifest.StateDegraded

	checksum, archivePath, err := packArtifact(o.Host.Workload.Artifact, o.artifactCacheDir())
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	if opts.DryRun {
		return &UpResult{
			Checksum: checksum,
			DryRun:   true,
			Plan:     o.plan(m, checksum),
		}, nil
	}

	// Every deployment is gated on the preflight checks, not just
	// init: a host that lost its docker daemon or filled its disk
	// since then must be caught before the old version is disturbed.
	preflight := hostcheck.Run(ctx, o.Runner, o.checkParams(m.CurrentVersion > 0))
	if !preflight.Passed() {
		return nil, validationf("host %s failed preflight: %s", o.HostName, summarizeFailures(preflight))
	}

	if err := o.Store.Transition(m, manifest.StateDeploying); err != nil {
		return nil, err
	}

	var snapshotID string
	if m.CurrentVersion > 0 {
		snap, err := o.Backups.Snapshot(ctx, o.Runner, o.Host.Workload.DataDir, string(priorState))
		if err != nil {
			// Nothing on the host changed; put the manifest back.
			m.State = priorState
			if saveErr := o.Store.Save(m); saveErr != nil {
				return nil, errors.Join(err, saveErr)
			}
			return nil, fmt.Errorf("pre-deployment snapshot failed: %w", err)
		}
		snapshotID = snap.ID
		m.LastBackupRef = snapshotID
	}

	deployErr := o.push(ctx, archivePath)
	var report health.Report
	if deployErr == nil {
		report, deployErr = o.Checker.Verify(ctx, o.Runner, o.healthTarget())
	}

	if deployErr == nil && report.Status == health.StatusHealthy {
		// The ledger row comes first: a manifest may only claim
		// healthy once the version it points at is recorded.
		version, err := o.Ledger.RecordVersion(ctx, ledger.Version{
			ArtifactChecksum: checksum,
			DeployedAt:       o.Clock.Now().UTC(),
			SnapshotID:       snapshotID,
		})
		if err != nil {
			if terr := o.Store.Transition(m, manifest.StateDegraded); terr != nil {
				return nil, errors.Join(err, terr)
			}
			return nil, fmt.Errorf("deployment is live but could not be recorded: %w", err)
		}
		m.CurrentVersion = version
		m.LastDeployedAt = o.Clock.Now().UTC()
		if err := o.Store.Transition(m, manifest.StateHealthy); err != nil {
			return nil, err
		}
		o.pruneSnapshots(ctx)
		o.Logger.Info("deployment healthy",
			"host", o.HostName, "version", version, "checksum", checksum[:12])
		return &UpResult{Version: version, Checksum: checksum, Snapshot: snapshotID, Health: report}, nil
	}

	cause := deployErr
	if cause == nil {
		cause = &HealthFailureError{Report: report}
	}
	return nil, o.recoverFailedDeploy(ctx, m, snapshotID, wasRunning, report, cause)
}

// recoverFailedDeploy restores the pre-deployment snapshot when one
// exists. It runs on a context detached from the caller's
// cancellation: a half-finished rollback is worse than a slow one.
func (o *Orchestrator) recoverFailedDeploy(ctx context.Context, m *manifest.Manifest, snapshotID string, wasRunning bool, report health.Report, cause error) error {
	detached := context.WithoutCancel(ctx)

	if snapshotID == "" {
		// First deployment: nothing to restore. The host keeps the
		// failed version for inspection.
		if err := o.Store.Transition(m, manifest.StateDegraded); err != nil {
			return errors.Join(cause, err)
		}
		o.Logger.Error("first deployment failed; nothing to roll back to", "error", cause)
		return cause
	}

	o.Logger.Warn("deployment failed; rolling back", "snapshot", snapshotID, "error", cause)
	if err := o.Store.Transition(m, manifest.StateRollingBack); err != nil {
		return errors.Join(cause, err)
	}

	restoreErr := o.restorePrevious(detached, m, snapshotID, wasRunning)
	if restoreErr != nil {
		if err := o.Store.Transition(m, manifest.StateFailed); err != nil {
			restoreErr = errors.Join(restoreErr, err)
		}
		o.Logger.Error("rollback failed; host needs intervention",
			"host", o.HostName, "error", restoreErr)
		if healthErr, ok := cause.(*HealthFailureError); ok {
			healthErr.RollbackErr = restoreErr
			return healthErr
		}
		return errors.Join(cause, restoreErr)
	}

	if healthErr, ok := cause.(*HealthFailureError); ok {
		healthErr.RolledBack = true
		return healthErr
	}
	return fmt.Errorf("deployment failed (rolled back to version %d): %w", m.CurrentVersion, cause)
}

// restorePrevious puts the previous version back: data and secrets
// from the snapshot archive, artifact from the content-addressed
// cache, and the workload restarted if it was running before.
func (o *Orchestrator) restorePrevious(ctx context.Context, m *manifest.Manifest, snapshotID string, wasRunning bool) error {
	if err := o.Backups.Restore(ctx, o.Runner, snapshotID, o.Host.Workload.RemoteDir, o.Host.Workload.DataDir); err != nil {
		return err
	}

	previous, err := o.Ledger.Latest(ctx)
	if err != nil {
		return err
	}
	if previous == nil {
		return fmt.Errorf("snapshot exists but no version record to restore")
	}
	if err := o.pushArtifactArchive(ctx, o.cachedArtifactPath(previous.ArtifactChecksum)); err != nil {
		return err
	}

	if !wasRunning {
		return o.Store.Transition(m, manifest.StateStopped)
	}
	if _, err := o.Runner.Run(ctx, remote.ComposeUp(o.Host.Workload.RemoteDir)); err != nil {
		return err
	}
	report, err := o.Checker.Verify(ctx, o.Runner, o.healthTarget())
	if err != nil {
		return err
	}
	switch report.Status {
	case health.StatusHealthy:
		return o.Store.Transition(m, manifest.StateHealthy)
	case health.StatusDegraded:
		return o.Store.Transition(m, manifest.StateDegraded)
	default:
		return fmt.Errorf("previous version did not come back up: %s", report.Detail)
	}
}

// push performs the mechanical deployment: secrets, artifact, compose
// up.
func (o *Orchestrator) push(ctx context.Context, archivePath string) error {
	if err := o.pushSecrets(ctx); err != nil {
		return err
	}
	if err := o.pushArtifactArchive(ctx, archivePath); err != nil {
		return err
	}
	if _, err := o.Runner.Run(ctx, remote.ComposeUp(o.Host.Workload.RemoteDir)); err != nil {
		return fmt.Errorf("compose up: %w", err)
	}
	return nil
}

// pushSecrets uploads the encrypted bundle to the host, byte for
// byte as it is stored locally. The bundle is decrypted first, in
// memory only, to fail fast on a wrong master key or a bundle bound
// to a different workload; the plaintext never leaves this process
// and nothing decrypted is written anywhere.
func (o *Orchestrator) pushSecrets(ctx context.Context) error {
	if _, err := vault.LoadFile(o.Host.SecretsFile, o.MasterKey, o.Host.Workload.ID); err != nil {
		return err
	}
	blob, err := os.ReadFile(o.Host.SecretsFile)
	if os.IsNotExist(err) {
		// No secrets configured for this workload.
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading secrets bundle: %w", err)
	}

	remotePath := o.Host.Workload.RemoteDir + "/" + backup.SecretsFilename
	if err := remote.UploadBytes(ctx, o.Runner, bytes.NewReader(blob), remotePath, 0o600); err != nil {
		return fmt.Errorf("uploading secrets: %w", err)
	}
	return nil
}

func (o *Orchestrator) pushArtifactArchive(ctx context.Context, archivePath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening artifact archive: %w", err)
	}
	defer file.Close()
	if _, err := o.Runner.Push(ctx, remote.TarExtract(o.Host.Workload.RemoteDir), file); err != nil {
		return fmt.Errorf("uploading artifact: %w", err)
	}
	return nil
}

func (o *Orchestrator) artifactCacheDir() string {
	return filepath.Join(o.StateDir, "artifacts")
}

func (o *Orchestrator) cachedArtifactPath(checksum string) string {
	return filepath.Join(o.artifactCacheDir(), checksum+".tar")
}

// pruneSnapshots applies retention after a successful deployment.
// Best-effort: a retention failure never fails the deployment.
func (o *Orchestrator) pruneSnapshots(ctx context.Context) {
	maxAge := time.Duration(o.Backup.MaxAgeDays) * 24 * time.Hour
	if _, err := o.Backups.Prune(ctx, o.Backup.Keep, maxAge); err != nil {
		o.Logger.Warn("snapshot retention failed", "error", err)
	}
}

func (o *Orchestrator) plan(m *manifest.Manifest, checksum string) []string {
	steps := []string{
		fmt.Sprintf("deploy artifact %s (checksum %s)", o.Host.Workload.Artifact, checksum[:12]),
		"run preflight host checks",
	}
	if m.CurrentVersion > 0 {
		steps = append(steps,
			fmt.Sprintf("snapshot %s before deploying", o.Host.Workload.DataDir))
	}
	steps = append(steps,
		fmt.Sprintf("upload encrypted secrets to %s/%s", o.Host.Workload.RemoteDir, backup.SecretsFilename),
		fmt.Sprintf("extract artifact into %s", o.Host.Workload.RemoteDir),
		"docker compose up -d",
		fmt.Sprintf("verify %s", o.healthTarget().ProbeURL()),
	)
	return steps
}

func summarizeFailures(report hostcheck.Report) string {
	var buf bytes.Buffer
	for i, failure := range report.Failures() {
		if i > 0 {
			buf.WriteString("; ")
		}
		fmt.Fprintf(&buf, "%s: %s", failure.Name, failure.Message)
	}
	return buf.String()
}
