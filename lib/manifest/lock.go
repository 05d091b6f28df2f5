// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrConcurrentDeployment means another Outpost invocation holds the
// host lock. The caller should retry after the other operation
// completes; nothing on the host was touched.
var ErrConcurrentDeployment = errors.New("another deployment is already in progress for this host")

// Lock is a held advisory lock on a host's state directory.
type Lock struct {
	file *os.File
}

// Acquire takes the host lock without blocking. Returns
// ErrConcurrentDeployment if another process holds it. The lock is
// advisory: it serializes Outpost invocations, not arbitrary access
// to the state directory.
func (s *Store) Acquire() (*Lock, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	path := filepath.Join(s.dir, "deploy.lock")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrConcurrentDeployment)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &Lock{file: file}, nil
}

// Release drops the lock. Safe to call once; the lock file itself is
// left in place for the next invocation.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil
	if err := unix.Flock(int(file.Fd()), unix.LOCK_UN); err != nil {
		file.Close()
		return fmt.Errorf("unlocking: %w", err)
	}
	return file.Close()
}
