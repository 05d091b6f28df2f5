// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backup captures and restores snapshots of a workload's
// remote data directory and its encrypted secrets bundle.
//
// A snapshot is a tar stream pulled over SSH, compressed locally
// (lz4 by default, zstd optional), optionally encrypted to age
// recipients, and written under the host's state directory. Every
// snapshot is registered in the version ledger with a BLAKE3 checksum
// of the archive file.
//
// # Archive format
//
// Every archive starts with a 9-byte header:
//
//	[0:6]  magic "OPSNAP"
//	[6]    format version (0x01)
//	[7]    compression: 1 = lz4, 2 = zstd
//	[8]    flags: bit 0 set = age-encrypted
//
// followed by a 4-byte big-endian length and the encrypted secrets
// bundle exactly as stored locally (zero length when the workload has
// no secrets), then the (encrypted) compressed tar payload of the
// data directory. The secrets section sits outside the compression
// and age layers because the bundle is already ciphertext under the
// master key. The header makes restore self-describing: the codec
// recorded at capture time is used regardless of current
// configuration.
//
// Restore verifies the checksum before touching the host, replaces
// the data directory from the payload, and puts the archived secrets
// bundle back alongside it. A checksum mismatch is a
// [CorruptBackupError], which is always fatal — restoring from a
// corrupt archive could destroy the only good copy of the data.
package backup
