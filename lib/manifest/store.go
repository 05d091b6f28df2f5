// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const manifestFilename = "manifest.json"

// Store reads and writes the manifest for one host's state directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at the host's state directory. The
// directory is created on first Save or Lock.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, manifestFilename)
}

// Load reads the manifest. A missing file yields a manifest in
// StateUninitialized, which is what it means: init has never run.
func (s *Store) Load() (*Manifest, error) {
	data, err := os.ReadFile(s.Path())
	if os.IsNotExist(err) {
		return &Manifest{State: StateUninitialized}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", s.Path(), err)
	}
	return &m, nil
}

// Save writes the manifest atomically: temp file in the same
// directory, fsync, rename. A crash mid-write leaves the previous
// manifest intact.
func (s *Store) Save(m *Manifest) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}

// Transition validates and applies a state change, persisting the
// result. The manifest is not modified if the transition is illegal
// or the write fails.
func (s *Store) Transition(m *Manifest, target State) error {
	if !m.State.CanTransition(target) {
		return fmt.Errorf("illegal state transition %s -> %s", m.State, target)
	}
	previous := m.State
	m.State = target
	if err := s.Save(m); err != nil {
		m.State = previous
		return err
	}
	return nil
}
