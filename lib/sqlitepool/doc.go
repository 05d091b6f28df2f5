// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the Outpost-standard SQLite connection
// pool.
//
// The version ledger is the only durable record of what was deployed
// when, and rollback depends on it being intact. This package wraps
// zombiezen.com/go/sqlite with defaults chosen for that role: WAL
// journal mode, FULL synchronous so committed version records survive
// power loss, and a busy timeout to handle write contention
// gracefully.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine must hold its own connection for
// the duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging for concurrent readers
//     and a single writer.
//   - synchronous=FULL: a committed version or snapshot record is
//     never lost, even across power failure. The ledger is small and
//     written once per deployment, so fsync-per-commit cost is
//     irrelevant here.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock
//     instead of returning SQLITE_BUSY immediately.
//   - foreign_keys=ON: snapshot references from version records are
//     enforced by the database, not by convention.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Design
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. Callers write SQL,
// use sqlitex.Execute for cached statements, and manage transactions
// with sqlitex.ImmediateTransaction. The goal is one dependency, one
// set of pragmas, one pool pattern — not a query-builder layer that
// fights SQLite's strengths.
package sqlitepool
