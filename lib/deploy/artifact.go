// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"archive/tar"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// composeFilename must exist at the artifact root; it is what
// `docker compose` runs on the host.
const composeFilename = "compose.yaml"

// packArtifact tars the local artifact directory into the
// content-addressed cache, returning the archive's BLAKE3 checksum
// and path. Packing the same content twice reuses the cached archive,
// and rollback re-uploads a previous version straight from this
// cache.
func packArtifact(artifactDir, cacheDir string) (checksum, archivePath string, err error) {
	if _, err := os.Stat(filepath.Join(artifactDir, composeFilename)); err != nil {
		return "", "", fmt.Errorf("artifact %s has no %s: %w", artifactDir, composeFilename, err)
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return "", "", fmt.Errorf("creating artifact cache: %w", err)
	}

	tmp, err := os.CreateTemp(cacheDir, ".pack-*")
	if err != nil {
		return "", "", fmt.Errorf("creating temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := blake3.New()
	writer := tar.NewWriter(io.MultiWriter(tmp, hasher))

	// WalkDir visits entries in lexical order, so identical trees
	// produce identical archives and identical checksums.
	walkErr := filepath.WalkDir(artifactDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if !entry.Type().IsRegular() {
			return fmt.Errorf("artifact contains non-regular file %s", path)
		}
		relative, err := filepath.Rel(artifactDir, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		header := &tar.Header{
			Name: "./" + filepath.ToSlash(relative),
			Mode: int64(info.Mode().Perm()),
			Size: info.Size(),
		}
		if err := writer.WriteHeader(header); err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(writer, file)
		return err
	})
	if walkErr != nil {
		tmp.Close()
		return "", "", fmt.Errorf("packing %s: %w", artifactDir, walkErr)
	}
	if err := writer.Close(); err != nil {
		tmp.Close()
		return "", "", fmt.Errorf("finalizing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", err
	}

	checksum = hex.EncodeToString(hasher.Sum(nil))
	archivePath = filepath.Join(cacheDir, checksum+".tar")
	if _, err := os.Stat(archivePath); err == nil {
		return checksum, archivePath, nil
	}
	if err := os.Rename(tmp.Name(), archivePath); err != nil {
		return "", "", fmt.Errorf("placing archive: %w", err)
	}
	return checksum, archivePath, nil
}
