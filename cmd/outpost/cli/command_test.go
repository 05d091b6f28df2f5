// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestExecuteDispatchesSubcommand(t *testing.T) {
	var gotArgs []string
	root := &Command{
		Name: "outpost",
		Subcommands: []*Command{
			{
				Name: "up",
				Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
					gotArgs = args
					return nil
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"up", "prod-1"}, testLogger()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "prod-1" {
		t.Errorf("subcommand args = %v", gotArgs)
	}
}

func TestExecuteUnknownCommandSuggests(t *testing.T) {
	root := &Command{
		Name: "outpost",
		Subcommands: []*Command{
			{Name: "rollback", Run: func(ctx context.Context, args []string, logger *slog.Logger) error { return nil }},
		},
	}

	err := root.Execute(context.Background(), []string{"rollbck"}, testLogger())
	var usageError *UsageError
	if !errors.As(err, &usageError) {
		t.Fatalf("Execute = %v, want UsageError", err)
	}
	if !strings.Contains(usageError.Message, `"rollback"`) {
		t.Errorf("no suggestion in %q", usageError.Message)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var dryRun bool
	command := &Command{
		Name: "up",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("up", pflag.ContinueOnError)
			flagSet.BoolVar(&dryRun, "dry-run", false, "")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"--dry-run", "prod-1"}, testLogger()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !dryRun {
		t.Error("--dry-run not parsed")
	}
}

func TestExecuteBadFlag(t *testing.T) {
	command := &Command{
		Name: "up",
		Flags: func() *pflag.FlagSet {
			return pflag.NewFlagSet("up", pflag.ContinueOnError)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return nil
		},
	}

	err := command.Execute(context.Background(), []string{"--no-such-flag"}, testLogger())
	var usageError *UsageError
	if !errors.As(err, &usageError) {
		t.Fatalf("Execute = %v, want UsageError", err)
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"up", "up", 0},
		{"rollbck", "rollback", 1},
		{"stauts", "status", 2},
		{"", "init", 4},
	}
	for _, test := range tests {
		if got := editDistance(test.a, test.b); got != test.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestSuggestCommandThreshold(t *testing.T) {
	subcommands := []*Command{{Name: "history"}, {Name: "status"}}
	if got := suggestCommand("histroy", subcommands); got != "history" {
		t.Errorf("suggestCommand = %q, want history", got)
	}
	if got := suggestCommand("frobnicate", subcommands); got != "" {
		t.Errorf("suggestCommand for nonsense = %q, want empty", got)
	}
}
