// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
	"github.com/bureau-foundation/outpost/lib/config"
	"github.com/bureau-foundation/outpost/lib/secret"
	"github.com/bureau-foundation/outpost/lib/vault"
)

func secretsCommand() *cli.Command {
	return &cli.Command{
		Name:    "secrets",
		Summary: "Manage a host's encrypted secret bundle",
		Description: `Manage the encrypted secret bundle that is uploaded, still
encrypted, alongside the workload at deployment time. Secrets exist
on disk only as vault ciphertext, locally and on the host; plaintext
never leaves process memory.`,
		Subcommands: []*cli.Command{
			secretsSetCommand(),
			secretsRemoveCommand(),
			secretsShowCommand(),
			secretsKeygenCommand(),
		},
	}
}

// openBundle loads the config, master key, and decrypted bundle for
// the named host. The caller must close the returned key.
func openBundle(params *configParams, hostName string) (*config.Config, *config.Host, *secret.Buffer, *vault.Bundle, error) {
	cfg, err := params.loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	host, err := cfg.HostNamed(hostName)
	if err != nil {
		return nil, nil, nil, nil, cli.Validation("%v", err)
	}
	masterKey, err := vault.LoadMasterKey(cfg.MasterKeyFile)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("loading master key: %w", err)
	}
	bundle, err := vault.LoadFile(host.SecretsFile, masterKey, host.Workload.ID)
	if err != nil {
		masterKey.Close()
		return nil, nil, nil, nil, err
	}
	return cfg, host, masterKey, bundle, nil
}

type secretsSetParams struct {
	configParams
}

func secretsSetCommand() *cli.Command {
	var params secretsSetParams

	return &cli.Command{
		Name:    "set",
		Summary: "Add or update secrets in a host's bundle",
		Description: `Set one or more secrets. Each argument is NAME=VALUE; a bare NAME
reads the value from stdin instead, keeping it out of the shell
history and the process list.`,
		Usage: "outpost secrets set <host> NAME=VALUE... [flags]",
		Examples: []cli.Example{
			{Description: "Set a secret inline", Command: "outpost secrets set prod-1 DB_PASSWORD=hunter2"},
			{Description: "Read the value from stdin", Command: "pass show matrix-token | outpost secrets set prod-1 MATRIX_TOKEN"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("set", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) < 2 {
				return cli.Validation("expected <host> and at least one NAME=VALUE")
			}
			hostName := args[0]
			_, host, masterKey, bundle, err := openBundle(&params.configParams, hostName)
			if err != nil {
				return err
			}
			defer masterKey.Close()

			for _, arg := range args[1:] {
				name, value, hasValue := strings.Cut(arg, "=")
				if name == "" {
					return cli.Validation("empty secret name in %q", arg)
				}
				if !hasValue {
					if len(args) > 2 {
						return cli.Validation("stdin value only works with a single NAME")
					}
					data, err := io.ReadAll(os.Stdin)
					if err != nil {
						return fmt.Errorf("reading value from stdin: %w", err)
					}
					value = strings.TrimSuffix(string(data), "\n")
					defer secret.Zero(data)
				}
				bundle.Set(name, value)
			}

			if err := vault.SaveFile(host.SecretsFile, bundle, masterKey, host.Workload.ID); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Bundle for %s now holds %d secret(s).\n", hostName, bundle.Len())
			logger.Info("secrets updated", "host", hostName, "count", bundle.Len())
			return nil
		},
	}
}

type secretsRemoveParams struct {
	configParams
}

func secretsRemoveCommand() *cli.Command {
	var params secretsRemoveParams

	return &cli.Command{
		Name:    "rm",
		Summary: "Remove secrets from a host's bundle",
		Usage:   "outpost secrets rm <host> NAME... [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("rm", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) < 2 {
				return cli.Validation("expected <host> and at least one NAME")
			}
			hostName := args[0]
			_, host, masterKey, bundle, err := openBundle(&params.configParams, hostName)
			if err != nil {
				return err
			}
			defer masterKey.Close()

			for _, name := range args[1:] {
				if !bundle.Delete(name) {
					return cli.Validation("no secret named %q in the bundle for %s", name, hostName)
				}
			}
			if err := vault.SaveFile(host.SecretsFile, bundle, masterKey, host.Workload.ID); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Removed %d secret(s); %d remain.\n", len(args[1:]), bundle.Len())
			return nil
		},
	}
}

type secretsShowParams struct {
	configParams
	cli.JSONOutput
	Reveal bool `flag:"reveal" desc:"print secret values, not just names"`
}

func secretsShowCommand() *cli.Command {
	var params secretsShowParams

	return &cli.Command{
		Name:    "show",
		Summary: "List the secrets in a host's bundle",
		Description: `List secret names. Values are withheld unless --reveal is given;
revealed values go to stdout only, never to the log stream.`,
		Usage: "outpost secrets show <host> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			hostName, err := hostArg(args)
			if err != nil {
				return err
			}
			_, _, masterKey, bundle, err := openBundle(&params.configParams, hostName)
			if err != nil {
				return err
			}
			defer masterKey.Close()

			if params.OutputJSON && params.Reveal {
				return cli.Validation("--json lists names only; --reveal is not supported with it")
			}
			if done, jsonErr := params.EmitJSON(bundle.Names()); done {
				return jsonErr
			}
			for _, name := range bundle.Names() {
				if params.Reveal {
					value, _ := bundle.Get(name)
					fmt.Fprintf(os.Stdout, "%s=%s\n", name, value)
				} else {
					fmt.Fprintln(os.Stdout, name)
				}
			}
			return nil
		},
	}
}

type secretsKeygenParams struct {
	configParams
}

func secretsKeygenCommand() *cli.Command {
	var params secretsKeygenParams

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate the master key file",
		Description: `Generate a fresh random master key at the configured master_key_file
path (mode 0600). Refuses to overwrite an existing key: a replaced
master key would orphan every existing bundle.`,
		Usage: "outpost secrets keygen [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("keygen", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			cfg, err := params.loadConfig()
			if err != nil {
				return err
			}
			if err := vault.GenerateMasterKey(cfg.MasterKeyFile); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Master key written to %s.\n", cfg.MasterKeyFile)
			return nil
		},
	}
}
