// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deploy drives the deployment lifecycle for one host: init,
// up, down, rollback, status, doctor. It owns the ordering guarantees
// the rest of the system relies on:
//
//   - the host lock is held for every mutating operation, so two
//     Outpost invocations can never interleave on one host
//   - a data snapshot is captured before any deployment that replaces
//     an existing version, and a deployment that fails after that
//     point is automatically rolled back to it
//   - the version ledger gains a record only when a version actually
//     went live; failed attempts leave no version record
//   - secret bundles travel and land on the host as ciphertext; the
//     decrypted form exists only in this process's memory, and only to
//     validate the bundle before upload
//
// Rollback after a failed deployment runs on a context detached from
// the caller's cancellation: once the decision to roll back is made,
// interrupting it would strand the host in a half-restored state.
package deploy
