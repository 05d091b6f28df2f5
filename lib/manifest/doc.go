// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest persists the per-host deployment manifest — the
// single source of truth for a host's deployment state — and guards
// it with an advisory file lock.
//
// Exactly one manifest exists per host, stored as JSON under the
// host's state directory. The JSON is forward-readable: unknown
// fields are ignored on load, so an older Outpost can read a manifest
// written by a newer one.
//
// The lock is flock(2)-based and non-blocking: a second invocation
// against the same host fails immediately with
// [ErrConcurrentDeployment] rather than queuing behind an operation of
// unknown duration. An explicit retry-later signal beats a silent
// queue.
package manifest
