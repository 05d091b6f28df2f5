// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/outpost/lib/clock"
	"github.com/bureau-foundation/outpost/lib/ledger"
	"github.com/bureau-foundation/outpost/lib/remote"
)

// SecretsFilename is the name of the encrypted secrets bundle on the
// host, relative to the workload's compose directory.
const SecretsFilename = "secrets.vault"

// maxSecretsSection bounds the secrets section of an archive. A
// bundle is a handful of key-value pairs; anything larger means the
// length field is garbage.
const maxSecretsSection = 1 << 24

// CorruptBackupError means an archive's contents no longer match the
// checksum recorded at capture time. Always fatal: restoring from a
// corrupt archive could replace the only good copy of the data.
type CorruptBackupError struct {
	SnapshotID string
	Want       string
	Got        string
}

func (e *CorruptBackupError) Error() string {
	return fmt.Sprintf("snapshot %s is corrupt: checksum %s does not match recorded %s",
		e.SnapshotID, e.Got, e.Want)
}

// Manager captures, restores, and prunes snapshots for one host.
type Manager struct {
	// Ledger records every snapshot taken.
	Ledger *ledger.Ledger

	// Dir is the local archive directory, typically
	// <state_dir>/<host>/snapshots.
	Dir string

	// Compression is "lz4" or "zstd".
	Compression string

	// Recipients, when non-empty, enables at-rest encryption.
	Recipients []age.Recipient

	// Identities decrypt encrypted archives during restore.
	Identities []age.Identity

	// SecretsFile is the local encrypted bundle for the host's
	// workload. Its ciphertext is carried inside every snapshot so a
	// restore puts data and secrets back as one consistent unit.
	// Empty, or a path that does not exist, means no secrets.
	SecretsFile string

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to a no-op logger.
	Logger *slog.Logger
}

func (m *Manager) defaults() {
	if m.Compression == "" {
		m.Compression = "lz4"
	}
	if m.Clock == nil {
		m.Clock = clock.Real()
	}
	if m.Logger == nil {
		m.Logger = slog.New(slog.DiscardHandler)
	}
}

// Snapshot captures the host's data directory, together with the
// current encrypted secrets bundle, into a new archive and records it
// in the ledger. The workload keeps running during capture.
func (m *Manager) Snapshot(ctx context.Context, runner remote.Runner, dataDir, manifestState string) (*ledger.Snapshot, error) {
	m.defaults()

	tag, err := compressionTag(m.Compression)
	if err != nil {
		return nil, err
	}
	h := header{compression: tag, encrypted: len(m.Recipients) > 0}

	secrets, err := m.readSecretsBlob()
	if err != nil {
		return nil, err
	}

	id, err := m.newSnapshotID()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	archivePath := filepath.Join(m.Dir, id+".snap")

	file, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	hasher := blake3.New()
	sink := io.MultiWriter(file, hasher)

	write := func() error {
		if _, err := sink.Write(h.encode()); err != nil {
			return fmt.Errorf("writing archive header: %w", err)
		}
		// The secrets section sits outside the compression and age
		// layers: the bundle is already ciphertext under the master
		// key.
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(secrets)))
		if _, err := sink.Write(size[:]); err != nil {
			return fmt.Errorf("writing secrets section: %w", err)
		}
		if _, err := sink.Write(secrets); err != nil {
			return fmt.Errorf("writing secrets section: %w", err)
		}
		payload, err := payloadWriter(sink, h, m.Recipients)
		if err != nil {
			return err
		}
		if _, err := runner.Pull(ctx, remote.TarCreate(dataDir), payload); err != nil {
			return fmt.Errorf("capturing %s: %w", dataDir, err)
		}
		if err := payload.Close(); err != nil {
			return fmt.Errorf("finalizing archive: %w", err)
		}
		return file.Sync()
	}
	if err := write(); err != nil {
		file.Close()
		os.Remove(archivePath)
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}

	snap := ledger.Snapshot{
		ID:            id,
		Checksum:      hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:     m.Clock.Now().UTC(),
		ManifestState: manifestState,
		ArchivePath:   archivePath,
		SizeBytes:     info.Size(),
	}
	if err := m.Ledger.RecordSnapshot(ctx, snap); err != nil {
		os.Remove(archivePath)
		return nil, err
	}

	m.Logger.Info("snapshot captured",
		"snapshot", id, "data_dir", dataDir, "size_bytes", snap.SizeBytes)
	return &snap, nil
}

// Verify re-hashes an archive against its recorded checksum. Returns
// CorruptBackupError on mismatch.
func (m *Manager) Verify(ctx context.Context, snapshotID string) (*ledger.Snapshot, error) {
	m.defaults()
	snap, err := m.Ledger.SnapshotByID(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.Pruned {
		return nil, fmt.Errorf("snapshot %s was pruned by retention; its archive no longer exists", snapshotID)
	}

	file, err := os.Open(snap.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive for %s: %w", snapshotID, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("reading archive for %s: %w", snapshotID, err)
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if got != snap.Checksum {
		return nil, &CorruptBackupError{SnapshotID: snapshotID, Want: snap.Checksum, Got: got}
	}
	return snap, nil
}

// Restore replaces the host's data directory with a snapshot's
// contents. The archive is verified before the workload is touched.
// The workload is stopped for the restore and left stopped; the
// caller decides whether to start it again.
func (m *Manager) Restore(ctx context.Context, runner remote.Runner, snapshotID, composeDir, dataDir string) error {
	m.defaults()

	snap, err := m.Verify(ctx, snapshotID)
	if err != nil {
		return err
	}

	file, err := os.Open(snap.ArchivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return fmt.Errorf("reading archive header: %w", err)
	}
	h, err := parseHeader(headerBytes)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}

	var size [4]byte
	if _, err := io.ReadFull(file, size[:]); err != nil {
		return fmt.Errorf("snapshot %s: reading secrets section: %w", snapshotID, err)
	}
	secretsLen := binary.BigEndian.Uint32(size[:])
	if secretsLen > maxSecretsSection {
		return fmt.Errorf("snapshot %s: secrets section of %d bytes is implausible", snapshotID, secretsLen)
	}
	secrets := make([]byte, secretsLen)
	if _, err := io.ReadFull(file, secrets); err != nil {
		return fmt.Errorf("snapshot %s: reading secrets section: %w", snapshotID, err)
	}

	payload, err := payloadReader(file, h, m.Identities)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}

	if _, err := runner.Run(ctx, remote.ComposeDown(composeDir)); err != nil {
		return fmt.Errorf("stopping workload before restore: %w", err)
	}
	if _, err := runner.Run(ctx, remote.RemoveTree(dataDir)); err != nil {
		return fmt.Errorf("clearing %s: %w", dataDir, err)
	}
	if _, err := runner.Run(ctx, remote.MkdirAll(dataDir)); err != nil {
		return fmt.Errorf("recreating %s: %w", dataDir, err)
	}
	if _, err := runner.Push(ctx, remote.TarExtract(dataDir), payload); err != nil {
		return fmt.Errorf("restoring %s from snapshot %s: %w", dataDir, snapshotID, err)
	}
	if secretsLen > 0 {
		secretsPath := composeDir + "/" + SecretsFilename
		if err := remote.UploadBytes(ctx, runner, bytes.NewReader(secrets), secretsPath, 0o600); err != nil {
			return fmt.Errorf("restoring secrets bundle from snapshot %s: %w", snapshotID, err)
		}
	}

	m.Logger.Info("snapshot restored", "snapshot", snapshotID, "data_dir", dataDir)
	return nil
}

// readSecretsBlob reads the encrypted bundle for inclusion in an
// archive. The bytes are ciphertext; they are never decrypted here.
func (m *Manager) readSecretsBlob() ([]byte, error) {
	if m.SecretsFile == "" {
		return nil, nil
	}
	blob, err := os.ReadFile(m.SecretsFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets bundle: %w", err)
	}
	return blob, nil
}

// Prune removes snapshot archives beyond the keep count or older
// than maxAge, returning the IDs pruned. Ledger records are never
// deleted: pruning tombstones the snapshot row and removes the
// archive file. The snapshot backing the most recent version record
// is always retained, whatever its age.
func (m *Manager) Prune(ctx context.Context, keep int, maxAge time.Duration) ([]string, error) {
	m.defaults()

	snapshots, err := m.Ledger.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := m.Clock.Now().UTC().Add(-maxAge)

	var removed []string
	live := 0
	for _, snap := range snapshots {
		if snap.Pruned {
			continue
		}
		live++
		if live <= keep && !snap.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.Ledger.MarkSnapshotPruned(ctx, snap.ID); err != nil {
			if errors.Is(err, ledger.ErrSnapshotProtected) {
				m.Logger.Debug("keeping rollback snapshot", "snapshot", snap.ID)
				continue
			}
			return removed, err
		}
		if err := os.Remove(snap.ArchivePath); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing archive for %s: %w", snap.ID, err)
		}
		removed = append(removed, snap.ID)
		m.Logger.Info("snapshot pruned", "snapshot", snap.ID, "created_at", snap.CreatedAt)
	}
	return removed, nil
}

// newSnapshotID returns an ID like snap-20260825-140215-ab12. The
// random suffix keeps IDs unique when two snapshots land in the same
// second.
func (m *Manager) newSnapshotID() (string, error) {
	suffix := make([]byte, 2)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating snapshot ID: %w", err)
	}
	stamp := m.Clock.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("snap-%s-%s", stamp, hex.EncodeToString(suffix)), nil
}

// ParseRecipients parses age recipient strings from configuration.
func ParseRecipients(specs []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(specs))
	for _, spec := range specs {
		recipient, err := age.ParseX25519Recipient(spec)
		if err != nil {
			return nil, fmt.Errorf("parsing age recipient %q: %w", spec, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// LoadIdentities reads age identities from a file, typically
// generated with age-keygen.
func LoadIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer file.Close()
	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return identities, nil
}
