// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
)

// ReadKeyFile reads a hex-encoded key of the given byte length from a
// local file into a protected buffer. The file must not be readable by
// group or other — a master key file with loose permissions is
// rejected rather than silently accepted.
//
// The returned buffer holds the raw key bytes (decoded from hex) and
// must be closed by the caller.
func ReadKeyFile(path string, keySize int) (*Buffer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return nil, fmt.Errorf("key file %s has mode %04o; refusing to use a key readable by group/other (chmod 600 to fix)", path, mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	defer Zero(data)

	trimmed := bytes.TrimSpace(data)
	raw := make([]byte, hex.DecodedLen(len(trimmed)))
	if _, err := hex.Decode(raw, trimmed); err != nil {
		Zero(raw)
		return nil, fmt.Errorf("key file %s is not valid hex: %w", path, err)
	}
	if len(raw) != keySize {
		Zero(raw)
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(raw), keySize)
	}

	// NewFromBytes copies into the mmap region and zeros raw.
	return NewFromBytes(raw)
}

// WriteKeyFile writes a raw key to path as hex with mode 0600. Fails
// if the file already exists — overwriting a master key orphans every
// bundle encrypted under it.
func WriteKeyFile(path string, key []byte) error {
	encoded := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(encoded, key)
	encoded = append(encoded, '\n')
	defer Zero(encoded)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fs.FileMode(0o600))
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	if _, err := file.Write(encoded); err != nil {
		file.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	return file.Close()
}
