// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/bureau-foundation/outpost/lib/secret"
)

// Bundle is the decrypted name→value secret mapping. It lives only in
// process memory; at rest and in transit it exists exclusively as
// vault ciphertext. Bundle deliberately has no plaintext-revealing
// String method, so a stray %v in a log line cannot leak values.
type Bundle struct {
	values map[string]string
}

// NewBundle returns an empty bundle.
func NewBundle() *Bundle {
	return &Bundle{values: make(map[string]string)}
}

// Set stores a secret value under name.
func (b *Bundle) Set(name, value string) {
	b.values[name] = value
}

// Get returns the value for name and whether it exists.
func (b *Bundle) Get(name string) (string, bool) {
	value, ok := b.values[name]
	return value, ok
}

// Delete removes name from the bundle. Returns false if it was not
// present.
func (b *Bundle) Delete(name string) bool {
	if _, ok := b.values[name]; !ok {
		return false
	}
	delete(b.values, name)
	return true
}

// Names returns the secret names in sorted order. Names are not
// sensitive; values are.
func (b *Bundle) Names() []string {
	names := make([]string, 0, len(b.values))
	for name := range b.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of secrets in the bundle.
func (b *Bundle) Len() int { return len(b.values) }

// String identifies the bundle without revealing values.
func (b *Bundle) String() string {
	return fmt.Sprintf("vault.Bundle(%d secrets)", len(b.values))
}

// encode serializes the bundle to CBOR. The caller must zero the
// returned slice once it has been encrypted.
func (b *Bundle) encode() ([]byte, error) {
	payload, err := cbor.Marshal(b.values)
	if err != nil {
		return nil, fmt.Errorf("encoding bundle: %w", err)
	}
	return payload, nil
}

// decodeBundle rebuilds a bundle from a decrypted CBOR payload. The
// payload is zeroed before return regardless of outcome.
func decodeBundle(payload []byte) (*Bundle, error) {
	defer secret.Zero(payload)
	values := make(map[string]string)
	if err := cbor.Unmarshal(payload, &values); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	return &Bundle{values: values}, nil
}
