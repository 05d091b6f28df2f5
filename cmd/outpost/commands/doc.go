// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the outpost command tree: lifecycle
// commands (init, up, down, rollback), inspection commands (status,
// doctor, history), and secret management (secrets set/rm/show/keygen).
//
// Every command resolves its configuration the same way: the --config
// flag if given, otherwise the OUTPOST_CONFIG environment variable.
// There are no other discovery mechanisms.
package commands
