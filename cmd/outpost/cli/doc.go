// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree, flag binding, and output
// helpers for the outpost binary. Commands are plain structs with a
// Run function, assembled into a tree in cmd/outpost/commands and
// dispatched by Execute.
package cli
