// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/outpost/cmd/outpost/cli"
	"github.com/bureau-foundation/outpost/lib/config"
	"github.com/bureau-foundation/outpost/lib/deploy"
	"github.com/bureau-foundation/outpost/lib/remote"
	"github.com/bureau-foundation/outpost/lib/secret"
	"github.com/bureau-foundation/outpost/lib/vault"
)

// configParams is embedded in every command's parameter struct.
type configParams struct {
	Config string `flag:"config,c" desc:"path to config file (defaults to $OUTPOST_CONFIG)"`
}

// loadConfig resolves and validates the configuration.
func (p *configParams) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if p.Config != "" {
		cfg, err = config.LoadFile(p.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// session bundles everything a host-facing command needs: the
// orchestrator, its SSH runner, and the master key. The master key is
// loaded exactly once per invocation and zeroed by Close.
type session struct {
	cfg          *config.Config
	hostName     string
	masterKey    *secret.Buffer
	runner       *remote.SSHRunner
	orchestrator *deploy.Orchestrator
}

// openSession builds a session for the named host. Callers must Close
// it; Close zeroes the master key and tears down the SSH connection.
func openSession(params *configParams, hostName string, logger *slog.Logger) (*session, error) {
	cfg, err := params.loadConfig()
	if err != nil {
		return nil, err
	}
	host, err := cfg.HostNamed(hostName)
	if err != nil {
		return nil, cli.Validation("%v", err)
	}

	masterKey, err := vault.LoadMasterKey(cfg.MasterKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading master key: %w", err)
	}

	runner := remote.NewSSHRunner(remote.SSHConfig{
		Address:      host.Address,
		User:         host.User,
		IdentityFile: host.IdentityFile,
		HostKey:      host.HostKey,
		Retry:        remote.DefaultRetryPolicy(),
		Logger:       logger,
	})

	orchestrator, err := deploy.New(cfg, hostName, runner, masterKey, logger, nil)
	if err != nil {
		runner.Close()
		masterKey.Close()
		return nil, err
	}

	return &session{
		cfg:          cfg,
		hostName:     hostName,
		masterKey:    masterKey,
		runner:       runner,
		orchestrator: orchestrator,
	}, nil
}

func (s *session) Close() {
	s.orchestrator.Close()
	s.runner.Close()
	s.masterKey.Close()
}

// hostArg extracts the single positional <host> argument.
func hostArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", cli.Validation("expected exactly one argument: <host>")
	}
	return args[0], nil
}
