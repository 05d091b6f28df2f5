// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"strings"
	"testing"
)

func TestCommandRendering(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"mkdir", MkdirAll("/var/lib/outpost"), "'mkdir' '-p' '/var/lib/outpost'"},
		{"write redirects stdout", WriteFile("/tmp/x"), "'cat' > '/tmp/x'"},
		{"chmod octal", Chmod(0o600, "/tmp/x"), "'chmod' '0600' '/tmp/x'"},
		{"compose up", ComposeUp("/srv/bot"), "'docker' 'compose' '--project-directory' '/srv/bot' 'up' '-d' '--remove-orphans'"},
		{"tar create", TarCreate("/data"), "'tar' '-C' '/data' '-cf' '-' '.'"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.cmd.String(); got != test.want {
				t.Errorf("String() = %q, want %q", got, test.want)
			}
		})
	}
}

func TestQuoteHostileArguments(t *testing.T) {
	// A path containing shell metacharacters must render inert.
	cmd := RemoveTree(`/tmp/x'; rm -rf /; echo '`)
	rendered := cmd.String()
	if !strings.Contains(rendered, `'/tmp/x'\''; rm -rf /; echo '\'''`) {
		t.Errorf("hostile path not quoted: %q", rendered)
	}
}

func TestArgvReturnsCopy(t *testing.T) {
	cmd := KernelRelease()
	argv := cmd.Argv()
	argv[0] = "mutated"
	if cmd.Argv()[0] != "uname" {
		t.Error("Argv() exposed internal slice")
	}
}
