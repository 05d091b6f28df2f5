// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger records deployment history: one row per deployed
// version and one per snapshot taken. It is the durable record that
// rollback and `outpost history` read.
//
// The ledger is a per-host SQLite database under the host's state
// directory, opened through [sqlitepool] with FULL synchronous. A
// version row may reference the snapshot captured immediately before
// that deployment; the reference is enforced with a foreign key, and
// retention pruning never deletes a snapshot the current version
// still references.
package ledger
