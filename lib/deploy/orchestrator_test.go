// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/outpost/lib/backup"
	"github.com/bureau-foundation/outpost/lib/clock"
	"github.com/bureau-foundation/outpost/lib/config"
	"github.com/bureau-foundation/outpost/lib/deploy"
	"github.com/bureau-foundation/outpost/lib/health"
	"github.com/bureau-foundation/outpost/lib/ledger"
	"github.com/bureau-foundation/outpost/lib/manifest"
	"github.com/bureau-foundation/outpost/lib/remote/remotetest"
	"github.com/bureau-foundation/outpost/lib/secret"
	"github.com/bureau-foundation/outpost/lib/vault"
)

const (
	hostName  = "prod-1"
	remoteDir = "/opt/ticker-bot"
	dataDir   = "/opt/ticker-bot/data"
)

type fixture struct {
	orchestrator *deploy.Orchestrator
	host         *remotetest.Host
	clock        *clock.FakeClock
	cfg          *config.Config
	artifactDir  string
	masterKey    *secret.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stateDir := t.TempDir()
	artifactDir := t.TempDir()
	writeArtifact(t, artifactDir, "services:\n  bot:\n    image: ticker-bot:1\n")

	keyPath := filepath.Join(stateDir, "master.key")
	if err := vault.GenerateMasterKey(keyPath); err != nil {
		t.Fatal(err)
	}
	masterKey, err := vault.LoadMasterKey(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { masterKey.Close() })

	cfg := &config.Config{
		StateDir:      stateDir,
		MasterKeyFile: keyPath,
		Hosts: map[string]*config.Host{
			hostName: {
				Address:      "bot-host.example.com:22",
				User:         "deploy",
				IdentityFile: "/unused/id_ed25519",
				SecretsFile:  filepath.Join(stateDir, hostName, "secrets.vault"),
				Workload: config.Workload{
					ID:        "ticker-bot",
					Artifact:  artifactDir,
					RemoteDir: remoteDir,
					DataDir:   dataDir,
					Port:      8080,
					ProbePath: "/healthz",
				},
			},
		},
		Backup: config.BackupConfig{Keep: 10, MaxAgeDays: 30, Compression: "lz4"},
		Health: config.HealthConfig{
			Attempts: 5,
			Interval: config.Duration(3 * time.Second),
			Timeout:  config.Duration(30 * time.Second),
		},
		Requirements: config.Requirements{MinKernel: "5.10", MinDiskMB: 1024},
	}

	// Seed the secret bundle.
	if err := os.MkdirAll(filepath.Join(stateDir, hostName), 0o700); err != nil {
		t.Fatal(err)
	}
	bundle := vault.NewBundle()
	bundle.Set("MATRIX_TOKEN", "syt_secret_token")
	bundle.Set("DB_PASSWORD", "hunter2")
	if err := vault.SaveFile(cfg.Hosts[hostName].SecretsFile, bundle, masterKey, "ticker-bot"); err != nil {
		t.Fatal(err)
	}

	host := remotetest.NewHost()
	fakeClock := clock.Fake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	orchestrator, err := deploy.New(cfg, hostName, host, masterKey, nil, fakeClock)
	if err != nil {
		t.Fatalf("deploy.New: %v", err)
	}
	t.Cleanup(func() { orchestrator.Close() })

	return &fixture{
		orchestrator: orchestrator,
		host:         host,
		clock:        fakeClock,
		cfg:          cfg,
		artifactDir:  artifactDir,
		masterKey:    masterKey,
	}
}

func writeArtifact(t *testing.T, dir, compose string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte(compose), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) mustInit(t *testing.T) {
	t.Helper()
	if _, err := f.orchestrator.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func (f *fixture) mustUp(t *testing.T) *deploy.UpResult {
	t.Helper()
	result, err := f.orchestrator.Up(context.Background(), deploy.UpOptions{})
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	return result
}

func (f *fixture) manifestState(t *testing.T) manifest.State {
	t.Helper()
	m, err := manifest.NewStore(f.cfg.HostStateDir(hostName)).Load()
	if err != nil {
		t.Fatal(err)
	}
	return m.State
}

func TestInit(t *testing.T) {
	f := newFixture(t)
	report, err := f.orchestrator.Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !report.Passed() {
		t.Errorf("preflight failed: %+v", report.Failures())
	}
	if !f.host.Dirs[remoteDir] || !f.host.Dirs[dataDir] {
		t.Error("Init did not create remote directories")
	}
	if state := f.manifestState(t); state != manifest.StateInitialized {
		t.Errorf("state = %s, want initialized", state)
	}

	// Second init must refuse.
	_, err = f.orchestrator.Init(context.Background())
	var validationError *deploy.ValidationError
	if !errors.As(err, &validationError) {
		t.Fatalf("second Init = %v, want ValidationError", err)
	}
}

func TestInitFailsPreflight(t *testing.T) {
	f := newFixture(t)
	f.host.DockerVersion = ""

	_, err := f.orchestrator.Init(context.Background())
	var validationError *deploy.ValidationError
	if !errors.As(err, &validationError) {
		t.Fatalf("Init with no docker = %v, want ValidationError", err)
	}
	if state := f.manifestState(t); state != manifest.StateUninitialized {
		t.Errorf("failed init left state %s", state)
	}
}

func TestUpRequiresInit(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator.Up(context.Background(), deploy.UpOptions{})
	var validationError *deploy.ValidationError
	if !errors.As(err, &validationError) {
		t.Fatalf("Up before init = %v, want ValidationError", err)
	}
}

func TestFirstDeployment(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	result := f.mustUp(t)

	if result.Version != 1 {
		t.Errorf("Version = %d, want 1", result.Version)
	}
	if result.Snapshot != "" {
		t.Errorf("first deployment took snapshot %q", result.Snapshot)
	}
	if result.Health.Status != health.StatusHealthy {
		t.Errorf("Health.Status = %s", result.Health.Status)
	}
	if state := f.manifestState(t); state != manifest.StateHealthy {
		t.Errorf("state = %s, want healthy", state)
	}

	// The artifact and the encrypted bundle landed on the host.
	if got := string(f.host.Files[remoteDir+"/compose.yaml"]); got != "services:\n  bot:\n    image: ticker-bot:1\n" {
		t.Errorf("remote compose.yaml = %q", got)
	}
	wantBundle, err := os.ReadFile(f.cfg.Hosts[hostName].SecretsFile)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.host.Files[remoteDir+"/secrets.vault"]; !bytes.Equal(got, wantBundle) {
		t.Error("remote secrets.vault does not match the local ciphertext")
	}
	// No file on the host may hold a decrypted secret value.
	for path, content := range f.host.Files {
		for _, plaintext := range []string{"hunter2", "syt_secret_token"} {
			if bytes.Contains(content, []byte(plaintext)) {
				t.Errorf("remote file %s holds a plaintext secret", path)
			}
		}
	}
	if !f.host.Running {
		t.Error("workload is not running after up")
	}
}

func TestUpGatedByPreflight(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)

	// The docker daemon vanished between init and up.
	f.host.DockerVersion = ""

	_, err := f.orchestrator.Up(context.Background(), deploy.UpOptions{})
	var validationError *deploy.ValidationError
	if !errors.As(err, &validationError) {
		t.Fatalf("Up on a failing host = %v, want ValidationError", err)
	}
	if f.host.Running {
		t.Error("gated deployment started the workload")
	}
	if state := f.manifestState(t); state != manifest.StateInitialized {
		t.Errorf("state = %s, want initialized", state)
	}
	history, err := f.orchestrator.History(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("gated deployment recorded %d versions", len(history))
	}
}

func TestSecondDeploymentSnapshotsFirst(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.mustUp(t)

	f.host.WriteDir(dataDir, map[string][]byte{"state.db": []byte("v1 data")})
	writeArtifact(t, f.artifactDir, "services:\n  bot:\n    image: ticker-bot:2\n")

	// The workload's own listener must not fail the redeploy gate.
	f.host.ListenPorts = []int{8080}

	result := f.mustUp(t)
	if result.Version != 2 {
		t.Errorf("Version = %d, want 2", result.Version)
	}
	if result.Snapshot == "" {
		t.Fatal("second deployment took no snapshot")
	}

	history, err := f.orchestrator.History(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].SnapshotID != result.Snapshot {
		t.Errorf("history = %+v", history)
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)

	result, err := f.orchestrator.Up(context.Background(), deploy.UpOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Up dry-run: %v", err)
	}
	if !result.DryRun || len(result.Plan) == 0 {
		t.Errorf("dry-run result = %+v", result)
	}
	if f.host.Running {
		t.Error("dry run started the workload")
	}
	if state := f.manifestState(t); state != manifest.StateInitialized {
		t.Errorf("dry run changed state to %s", state)
	}
}

func TestFailedDeploymentRollsBack(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.mustUp(t) // version 1, one probe consumed

	f.host.WriteDir(dataDir, map[string][]byte{"state.db": []byte("v1 data")})
	writeArtifact(t, f.artifactDir, "services:\n  bot:\n    image: ticker-bot:broken\n")

	// The next 5 probes (the new version's full budget) fail; the
	// 6th, during rollback verification, succeeds.
	f.host.ProbeFailures = 6

	_, err := f.orchestrator.Up(context.Background(), deploy.UpOptions{})
	var healthError *deploy.HealthFailureError
	if !errors.As(err, &healthError) {
		t.Fatalf("Up = %v, want HealthFailureError", err)
	}
	if !healthError.RolledBack {
		t.Error("HealthFailureError.RolledBack = false")
	}

	if state := f.manifestState(t); state != manifest.StateHealthy {
		t.Errorf("state after rollback = %s, want healthy", state)
	}
	// Data and artifact are back to version 1.
	if got := string(f.host.DirContents(dataDir)["state.db"]); got != "v1 data" {
		t.Errorf("state.db = %q after rollback", got)
	}
	if got := string(f.host.Files[remoteDir+"/compose.yaml"]); got != "services:\n  bot:\n    image: ticker-bot:1\n" {
		t.Errorf("compose.yaml = %q after rollback", got)
	}

	// The failed attempt left no version record.
	history, err := f.orchestrator.History(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Errorf("history has %d records after failed deploy, want 1", len(history))
	}
}

func TestFirstDeploymentFailureHasNoRollback(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.host.ProbeFailures = -1

	_, err := f.orchestrator.Up(context.Background(), deploy.UpOptions{})
	var healthError *deploy.HealthFailureError
	if !errors.As(err, &healthError) {
		t.Fatalf("Up = %v, want HealthFailureError", err)
	}
	if healthError.RolledBack {
		t.Error("first deployment claims to have rolled back")
	}
	if state := f.manifestState(t); state != manifest.StateDegraded {
		t.Errorf("state = %s, want degraded", state)
	}
	history, err := f.orchestrator.History(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("failed first deploy recorded %d versions", len(history))
	}
}

func TestDownAndRedeploy(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.mustUp(t)

	if err := f.orchestrator.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if f.host.Running {
		t.Error("workload still running after down")
	}
	if state := f.manifestState(t); state != manifest.StateStopped {
		t.Errorf("state = %s, want stopped", state)
	}

	// Down again is a no-op.
	if err := f.orchestrator.Down(context.Background()); err != nil {
		t.Fatalf("second Down: %v", err)
	}

	// Deploying from stopped works.
	f.mustUp(t)
	if state := f.manifestState(t); state != manifest.StateHealthy {
		t.Errorf("state = %s after redeploy, want healthy", state)
	}
}

func TestExplicitRollback(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.mustUp(t)

	f.host.WriteDir(dataDir, map[string][]byte{"state.db": []byte("v1 data")})
	writeArtifact(t, f.artifactDir, "services:\n  bot:\n    image: ticker-bot:2\n")
	f.mustUp(t)

	// Version 2 mutated the data; rollback must restore the v1 data.
	f.host.WriteDir(dataDir, map[string][]byte{"state.db": []byte("v2 data")})

	// Rotate the local bundle after the deploy. Rollback must restore
	// the bundle captured in the snapshot, not the rotated one.
	archivedBundle, err := os.ReadFile(f.cfg.Hosts[hostName].SecretsFile)
	if err != nil {
		t.Fatal(err)
	}
	rotated := vault.NewBundle()
	rotated.Set("MATRIX_TOKEN", "syt_rotated_token")
	if err := vault.SaveFile(f.cfg.Hosts[hostName].SecretsFile, rotated, f.masterKey, "ticker-bot"); err != nil {
		t.Fatal(err)
	}
	f.host.Files[remoteDir+"/secrets.vault"] = []byte("clobbered on the host")

	result, err := f.orchestrator.Rollback(context.Background())
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if result.From != 2 || result.Target != 1 || result.To != 3 {
		t.Errorf("rollback result = %+v", result)
	}

	if got := string(f.host.DirContents(dataDir)["state.db"]); got != "v1 data" {
		t.Errorf("state.db = %q after rollback", got)
	}
	if got := string(f.host.Files[remoteDir+"/compose.yaml"]); got != "services:\n  bot:\n    image: ticker-bot:1\n" {
		t.Errorf("compose.yaml = %q after rollback", got)
	}
	if got := f.host.Files[remoteDir+"/secrets.vault"]; !bytes.Equal(got, archivedBundle) {
		t.Error("rollback did not restore the snapshot's secrets bundle")
	}

	history, err := f.orchestrator.History(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if history[0].RolledBackFrom != 2 {
		t.Errorf("newest record = %+v, want RolledBackFrom=2", history[0])
	}
	if state := f.manifestState(t); state != manifest.StateHealthy {
		t.Errorf("state = %s, want healthy", state)
	}
}

func TestRollbackRequiresHistory(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.mustUp(t)

	_, err := f.orchestrator.Rollback(context.Background())
	var validationError *deploy.ValidationError
	if !errors.As(err, &validationError) {
		t.Fatalf("Rollback with one version = %v, want ValidationError", err)
	}
}

func TestRollbackAbortsOnCorruptSnapshot(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.mustUp(t)
	f.host.WriteDir(dataDir, map[string][]byte{"state.db": []byte("v1 data")})
	result := f.mustUp(t)

	// Corrupt the snapshot archive backing the current version.
	snap, err := f.orchestrator.Backups.Ledger.SnapshotByID(context.Background(), result.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	archive, err := os.ReadFile(snap.ArchivePath)
	if err != nil {
		t.Fatal(err)
	}
	archive[len(archive)-1] ^= 0xFF
	if err := os.WriteFile(snap.ArchivePath, archive, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = f.orchestrator.Rollback(context.Background())
	var corruptError *backup.CorruptBackupError
	if !errors.As(err, &corruptError) {
		t.Fatalf("Rollback = %v, want CorruptBackupError", err)
	}
	// The current version keeps running; nothing was touched.
	if !f.host.Running {
		t.Error("corrupt rollback stopped the workload")
	}
	if state := f.manifestState(t); state != manifest.StateHealthy {
		t.Errorf("state = %s, want healthy", state)
	}
}

func TestConcurrentDeploymentRejected(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)

	held, err := manifest.NewStore(f.cfg.HostStateDir(hostName)).Acquire()
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	_, err = f.orchestrator.Up(context.Background(), deploy.UpOptions{})
	if !errors.Is(err, manifest.ErrConcurrentDeployment) {
		t.Fatalf("Up under held lock = %v, want ErrConcurrentDeployment", err)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.mustUp(t)

	info, err := f.orchestrator.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if info.State != manifest.StateHealthy || info.CurrentVersion != 1 {
		t.Errorf("status = %+v", info)
	}
	if info.Live == nil || info.Live.Status != health.StatusHealthy {
		t.Errorf("live report = %+v", info.Live)
	}
	if info.WorkloadID != "ticker-bot" {
		t.Errorf("WorkloadID = %q", info.WorkloadID)
	}
}

func TestDoctorOnDeployedHost(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.mustUp(t)

	// The workload's own listener is expected, not a conflict.
	f.host.ListenPorts = []int{8080}
	report, err := f.orchestrator.Doctor(context.Background())
	if err != nil {
		t.Fatalf("Doctor: %v", err)
	}
	if !report.Passed() {
		t.Errorf("doctor failed on a healthy host: %+v", report.Failures())
	}
}

func TestVersionRecordOnlyWhenLive(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)
	f.mustUp(t)
	f.host.WriteDir(dataDir, map[string][]byte{"state.db": []byte("v1 data")})

	// Make the artifact invalid so Up fails before touching the host.
	if err := os.Remove(filepath.Join(f.artifactDir, "compose.yaml")); err != nil {
		t.Fatal(err)
	}
	_, err := f.orchestrator.Up(context.Background(), deploy.UpOptions{})
	var validationError *deploy.ValidationError
	if !errors.As(err, &validationError) {
		t.Fatalf("Up with missing compose.yaml = %v, want ValidationError", err)
	}
	if state := f.manifestState(t); state != manifest.StateHealthy {
		t.Errorf("failed validation changed state to %s", state)
	}
	history, err := f.orchestrator.History(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Errorf("history has %d records, want 1", len(history))
	}

	_, err = f.orchestrator.Ledger.RollbackTarget(context.Background())
	if !errors.Is(err, ledger.ErrNoRollbackTarget) {
		t.Errorf("RollbackTarget = %v, want ErrNoRollbackTarget", err)
	}
}

func TestUnrecordedDeploymentIsNotHealthy(t *testing.T) {
	f := newFixture(t)
	f.mustInit(t)

	// Fail the version insert: a deployment the ledger cannot record
	// must never be reported healthy.
	f.orchestrator.Ledger.Close()

	_, err := f.orchestrator.Up(context.Background(), deploy.UpOptions{})
	if err == nil {
		t.Fatal("Up succeeded without recording a version")
	}
	if state := f.manifestState(t); state != manifest.StateDegraded {
		t.Errorf("state = %s, want degraded", state)
	}
}
