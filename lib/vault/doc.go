// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault encrypts and decrypts the workload's secret bundle
// under a locally held master key. The master key never leaves the
// operator's machine: the remote host only ever receives ciphertext.
//
// # Wire format
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag]
//
// The cipher is XChaCha20-Poly1305. The version byte and a BLAKE3
// hash of the workload ID are additional authenticated data, so a
// bundle cannot be swapped between workloads and a future format
// change is detectable at decrypt time. The payload under the AEAD is
// the CBOR encoding of the name→value map.
//
// The encryption key is not the master key itself but an HKDF-SHA256
// derivation with a versioned domain string, so a cipher or format
// upgrade can re-derive under a new domain without touching the
// master key file.
//
// Authentication failure (wrong key, corrupted ciphertext, tampering)
// surfaces as [DecryptionError] — always fatal, never retried, since
// retrying cannot change the outcome.
package vault
