// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/outpost/lib/secret"
)

// KeySize is the master key length in bytes.
const KeySize = 32

// FormatVersion is the version byte prepended to every encrypted
// bundle. Included in the AEAD's additional authenticated data, so
// tampering with it causes authentication failure.
const FormatVersion byte = 0x01

// Overhead is the total byte overhead per encrypted bundle:
// 1 (version) + 24 (XChaCha20 nonce) + 16 (Poly1305 tag).
const Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfo is the domain string for deriving the bundle encryption
// key from the master key. Changing it invalidates all existing
// ciphertext; a format upgrade bumps both this and FormatVersion.
var hkdfInfo = []byte("outpost.vault.v1")

// DecryptionError reports an authentication failure: wrong master
// key, corrupted ciphertext, or tampering. Always fatal; the
// orchestrator never retries it.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("bundle decryption failed (wrong key, corrupted, or tampered): %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Encrypt seals a bundle under the master key, bound to workloadID.
// The masterKey is borrowed and not closed.
func Encrypt(bundle *Bundle, masterKey *secret.Buffer, workloadID string) ([]byte, error) {
	payload, err := bundle.encode()
	if err != nil {
		return nil, err
	}
	defer secret.Zero(payload)

	encryptionKey, err := deriveKey(masterKey)
	if err != nil {
		return nil, err
	}
	defer encryptionKey.Close()

	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, Overhead+len(payload))
	output[0] = FormatVersion
	copy(output[1:], nonce[:])
	output = aead.Seal(output, nonce[:], payload, buildAAD(FormatVersion, workloadID))
	return output, nil
}

// Decrypt opens an encrypted bundle. Returns DecryptionError on any
// authentication failure and a plain error on structural problems
// (truncated blob, unsupported version). The masterKey is borrowed
// and not closed.
func Decrypt(blob []byte, masterKey *secret.Buffer, workloadID string) (*Bundle, error) {
	if len(blob) < Overhead {
		return nil, fmt.Errorf("encrypted bundle is %d bytes, minimum is %d", len(blob), Overhead)
	}
	version := blob[0]
	if version != FormatVersion {
		return nil, fmt.Errorf("encrypted bundle version %d is not supported (expected %d)", version, FormatVersion)
	}

	encryptionKey, err := deriveKey(masterKey)
	if err != nil {
		return nil, err
	}
	defer encryptionKey.Close()

	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]
	payload, err := aead.Open(nil, nonce, ciphertext, buildAAD(version, workloadID))
	if err != nil {
		return nil, &DecryptionError{Err: err}
	}

	return decodeBundle(payload)
}

// GenerateMasterKey creates a fresh random master key file at path
// (hex, mode 0600). Fails if the file exists.
func GenerateMasterKey(path string) error {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return fmt.Errorf("generating master key: %w", err)
	}
	defer secret.Zero(key)
	return secret.WriteKeyFile(path, key)
}

// LoadMasterKey reads the master key file into guarded memory. The
// caller must close the returned buffer; the orchestrator does so at
// the end of the invocation.
func LoadMasterKey(path string) (*secret.Buffer, error) {
	return secret.ReadKeyFile(path, KeySize)
}

// LoadFile reads and decrypts a bundle file. A missing file yields an
// empty bundle, so `outpost secrets set` works on first use.
func LoadFile(path string, masterKey *secret.Buffer, workloadID string) (*Bundle, error) {
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewBundle(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading bundle file: %w", err)
	}
	return Decrypt(blob, masterKey, workloadID)
}

// SaveFile encrypts a bundle and writes it to path with mode 0600.
func SaveFile(path string, bundle *Bundle, masterKey *secret.Buffer, workloadID string) error {
	blob, err := Encrypt(bundle, masterKey, workloadID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("writing bundle file: %w", err)
	}
	return nil
}

// deriveKey computes the bundle encryption key from the master key
// via HKDF-SHA256 with the versioned domain string. Nil salt is
// appropriate: the master key is already uniformly random.
func deriveKey(masterKey *secret.Buffer) (*secret.Buffer, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, hkdfInfo)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("deriving bundle key: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// buildAAD binds the ciphertext to the format version and workload.
func buildAAD(version byte, workloadID string) []byte {
	workloadHash := blake3.Sum256([]byte(workloadID))
	aad := make([]byte, 1+len(workloadHash))
	aad[0] = version
	copy(aad[1:], workloadHash[:])
	return aad
}
