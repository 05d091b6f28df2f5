// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/outpost/lib/sqlitepool"
)

// ErrNoRollbackTarget means the ledger holds no version older than
// the current one, so there is nothing to roll back to.
var ErrNoRollbackTarget = errors.New("no previous version to roll back to")

// ErrSnapshotProtected means the snapshot backs the most recent
// version record and must stay restorable as the rollback target.
var ErrSnapshotProtected = errors.New("snapshot is referenced by the most recent version record")

// Version is one deployment record.
type Version struct {
	// ID is the monotonically increasing version number.
	ID int64

	// ArtifactChecksum is the BLAKE3 checksum of the deployed
	// artifact archive.
	ArtifactChecksum string

	// DeployedAt is when this version went live.
	DeployedAt time.Time

	// SnapshotID references the snapshot captured immediately before
	// this deployment, or empty for the first deployment of a
	// freshly initialized host.
	SnapshotID string

	// RolledBackFrom is the version this record rolled back, or zero
	// for a normal deployment.
	RolledBackFrom int64
}

// Snapshot is one backup record.
type Snapshot struct {
	// ID identifies the snapshot; it doubles as the archive filename
	// stem.
	ID string

	// Checksum is the BLAKE3 checksum of the archive payload.
	Checksum string

	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time

	// ManifestState is the host's lifecycle state at capture time.
	ManifestState string

	// ArchivePath is the local path of the archive file.
	ArchivePath string

	// SizeBytes is the archive file size.
	SizeBytes int64

	// Pruned is set when retention has removed the archive file. The
	// record stays in the ledger for history; the snapshot can no
	// longer be restored.
	Pruned bool
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id    TEXT PRIMARY KEY,
	checksum       TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	manifest_state TEXT NOT NULL,
	archive_path   TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL,
	pruned         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS versions (
	version_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	artifact_checksum TEXT NOT NULL,
	deployed_at       INTEGER NOT NULL,
	snapshot_id       TEXT REFERENCES snapshots(snapshot_id),
	rolled_back_from  INTEGER NOT NULL DEFAULT 0
);
`

// Ledger is the deployment history for one host.
type Ledger struct {
	pool *sqlitepool.Pool
}

// Open opens (creating if necessary) the ledger in the host's state
// directory.
func Open(stateDir string, logger *slog.Logger) (*Ledger, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(stateDir, "ledger.db"),
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

// Close releases the underlying pool.
func (l *Ledger) Close() error { return l.pool.Close() }

// RecordSnapshot inserts a snapshot row.
func (l *Ledger) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO snapshots
			(snapshot_id, checksum, created_at, manifest_state, archive_path, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				snap.ID, snap.Checksum, snap.CreatedAt.Unix(),
				snap.ManifestState, snap.ArchivePath, snap.SizeBytes,
			},
		})
	if err != nil {
		return fmt.Errorf("recording snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// RecordVersion inserts a version row and returns its assigned ID.
// SnapshotID, when set, must reference a recorded snapshot.
func (l *Ledger) RecordVersion(ctx context.Context, v Version) (int64, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer l.pool.Put(conn)

	var snapshotID any
	if v.SnapshotID != "" {
		snapshotID = v.SnapshotID
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO versions
			(artifact_checksum, deployed_at, snapshot_id, rolled_back_from)
		VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{v.ArtifactChecksum, v.DeployedAt.Unix(), snapshotID, v.RolledBackFrom},
		})
	if err != nil {
		return 0, fmt.Errorf("recording version: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

// History returns version records, newest first. A limit of zero
// means all.
func (l *Ledger) History(ctx context.Context, limit int) ([]Version, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	query := `
		SELECT version_id, artifact_checksum, deployed_at,
		       COALESCE(snapshot_id, ''), rolled_back_from
		FROM versions ORDER BY version_id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var versions []Version
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			versions = append(versions, versionFromRow(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return versions, nil
}

// Latest returns the most recent version record, or nil if the host
// has never been deployed.
func (l *Ledger) Latest(ctx context.Context) (*Version, error) {
	versions, err := l.History(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return &versions[0], nil
}

// RollbackTarget returns the version to roll back to: the newest
// record older than the current one. Returns ErrNoRollbackTarget when
// the ledger holds fewer than two versions.
func (l *Ledger) RollbackTarget(ctx context.Context) (*Version, error) {
	versions, err := l.History(ctx, 2)
	if err != nil {
		return nil, err
	}
	if len(versions) < 2 {
		return nil, ErrNoRollbackTarget
	}
	return &versions[1], nil
}

// SnapshotByID returns the snapshot record for id.
func (l *Ledger) SnapshotByID(ctx context.Context, id string) (*Snapshot, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	var found *Snapshot
	err = sqlitex.Execute(conn, `
		SELECT snapshot_id, checksum, created_at, manifest_state, archive_path, size_bytes, pruned
		FROM snapshots WHERE snapshot_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				snap := snapshotFromRow(stmt)
				found = &snap
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", id, err)
	}
	if found == nil {
		return nil, fmt.Errorf("snapshot %s is not in the ledger", id)
	}
	return found, nil
}

// Snapshots returns all snapshot records, newest first.
func (l *Ledger) Snapshots(ctx context.Context) ([]Snapshot, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	var snapshots []Snapshot
	err = sqlitex.Execute(conn, `
		SELECT snapshot_id, checksum, created_at, manifest_state, archive_path, size_bytes, pruned
		FROM snapshots ORDER BY created_at DESC, snapshot_id DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				snapshots = append(snapshots, snapshotFromRow(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return snapshots, nil
}

// MarkSnapshotPruned tombstones a snapshot: the row, and every
// version record pointing at it, stays in the ledger untouched, but
// the snapshot is flagged as no longer restorable. Returns
// ErrSnapshotProtected for the snapshot backing the most recent
// version record, which retention must keep.
func (l *Ledger) MarkSnapshotPruned(ctx context.Context, id string) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer l.pool.Put(conn)

	var protected bool
	err = sqlitex.Execute(conn, `
		SELECT 1 FROM versions
		WHERE snapshot_id = ?
		  AND version_id = (SELECT MAX(version_id) FROM versions)`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(*sqlite.Stmt) error {
				protected = true
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("checking snapshot references: %w", err)
	}
	if protected {
		return fmt.Errorf("pruning snapshot %s: %w", id, ErrSnapshotProtected)
	}

	err = sqlitex.Execute(conn, "UPDATE snapshots SET pruned = 1 WHERE snapshot_id = ?",
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("pruning snapshot %s: %w", id, err)
	}
	return nil
}

func versionFromRow(stmt *sqlite.Stmt) Version {
	return Version{
		ID:               stmt.ColumnInt64(0),
		ArtifactChecksum: stmt.ColumnText(1),
		DeployedAt:       time.Unix(stmt.ColumnInt64(2), 0).UTC(),
		SnapshotID:       stmt.ColumnText(3),
		RolledBackFrom:   stmt.ColumnInt64(4),
	}
}

func snapshotFromRow(stmt *sqlite.Stmt) Snapshot {
	return Snapshot{
		ID:            stmt.ColumnText(0),
		Checksum:      stmt.ColumnText(1),
		CreatedAt:     time.Unix(stmt.ColumnInt64(2), 0).UTC(),
		ManifestState: stmt.ColumnText(3),
		ArchivePath:   stmt.ColumnText(4),
		SizeBytes:     stmt.ColumnInt64(5),
		Pruned:        stmt.ColumnInt64(6) != 0,
	}
}
