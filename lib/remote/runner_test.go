// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/outpost/lib/remote"
	"github.com/bureau-foundation/outpost/lib/remote/remotetest"
)

func TestUploadStagesAndRenames(t *testing.T) {
	host := remotetest.NewHost()
	local := filepath.Join(t.TempDir(), "artifact.tar")
	if err := os.WriteFile(local, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := remote.Upload(context.Background(), host, local, "/srv/bot/artifact.tar", 0o644); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	if got := string(host.Files["/srv/bot/artifact.tar"]); got != "payload" {
		t.Errorf("remote content = %q, want %q", got, "payload")
	}
	if _, staged := host.Files["/srv/bot/artifact.tar.partial"]; staged {
		t.Error("staging file left behind after rename")
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	host := remotetest.NewHost()
	host.Files["/srv/bot/secrets.outpost"] = []byte("ciphertext")

	local := filepath.Join(t.TempDir(), "nested", "secrets.outpost")
	if err := remote.Download(context.Background(), host, "/srv/bot/secrets.outpost", local); err != nil {
		t.Fatalf("Download() error: %v", err)
	}

	content, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "ciphertext" {
		t.Errorf("local content = %q, want %q", content, "ciphertext")
	}
}

func TestDownloadMissingFileCleansUp(t *testing.T) {
	host := remotetest.NewHost()
	local := filepath.Join(t.TempDir(), "missing")
	if err := remote.Download(context.Background(), host, "/srv/none", local); err == nil {
		t.Fatal("Download() of missing file succeeded")
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("partial local file not removed after failed download")
	}
}

func TestFakeTarRoundTrip(t *testing.T) {
	host := remotetest.NewHost()
	host.WriteDir("/data", map[string][]byte{
		"state.db":     []byte("alpha"),
		"logs/app.log": []byte("beta"),
	})

	var archive bytes.Buffer
	if _, err := host.Pull(context.Background(), remote.TarCreate("/data"), &archive); err != nil {
		t.Fatalf("TarCreate pull error: %v", err)
	}
	if _, err := host.Push(context.Background(), remote.TarExtract("/restore"), &archive); err != nil {
		t.Fatalf("TarExtract push error: %v", err)
	}

	restored := host.DirContents("/restore")
	if string(restored["state.db"]) != "alpha" || string(restored["logs/app.log"]) != "beta" {
		t.Errorf("restored contents = %v", restored)
	}
}
