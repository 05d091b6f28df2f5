// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Outpost.
//
// Configuration is loaded from a single file specified by:
//   - OUTPOST_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "3m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for Outpost.
type Config struct {
	// StateDir is the local directory holding per-host state:
	// manifests, the version ledger, snapshot archives.
	StateDir string `yaml:"state_dir"`

	// MasterKeyFile is the path to the hex-encoded master key used to
	// encrypt secret bundles. The key never leaves this machine.
	MasterKeyFile string `yaml:"master_key_file"`

	// Hosts maps a host name to its deployment target.
	Hosts map[string]*Host `yaml:"hosts"`

	// Backup configures snapshot creation and retention.
	Backup BackupConfig `yaml:"backup"`

	// Health configures the post-deployment readiness probe.
	Health HealthConfig `yaml:"health"`

	// Requirements configures the preflight checks run by `init` and
	// `doctor`.
	Requirements Requirements `yaml:"requirements"`
}

// Host describes one deployment target.
type Host struct {
	// Address is the SSH endpoint, host:port.
	Address string `yaml:"address"`

	// User is the SSH login user.
	User string `yaml:"user"`

	// IdentityFile is the path to the SSH private key.
	IdentityFile string `yaml:"identity_file"`

	// HostKey is the expected host public key in authorized_keys
	// format. When empty, host key verification is disabled and a
	// warning is logged on every connection.
	HostKey string `yaml:"host_key"`

	// Workload is what gets deployed to this host.
	Workload Workload `yaml:"workload"`

	// SecretsFile is the local path of the encrypted secret bundle for
	// this host's workload. Default: <state_dir>/<host>/secrets.vault
	SecretsFile string `yaml:"secrets_file"`
}

// Workload describes the deployed application.
type Workload struct {
	// ID identifies the workload. It is bound into the secret
	// bundle's authenticated data, so renaming it invalidates the
	// bundle.
	ID string `yaml:"id"`

	// Artifact is the local directory containing the workload bundle:
	// a compose.yaml plus whatever files it references.
	Artifact string `yaml:"artifact"`

	// RemoteDir is where the artifact is installed on the host.
	RemoteDir string `yaml:"remote_dir"`

	// DataDir is the workload's mutable state directory on the host.
	// This is what snapshots capture. Default: <remote_dir>/data
	DataDir string `yaml:"data_dir"`

	// Port is the TCP port the workload serves on.
	Port int `yaml:"port"`

	// ProbePath is the HTTP path polled to decide readiness.
	// Default: /healthz
	ProbePath string `yaml:"probe_path"`
}

// BackupConfig configures snapshot creation and retention.
type BackupConfig struct {
	// Keep is how many snapshots to retain per host. Default: 10
	Keep int `yaml:"keep"`

	// MaxAgeDays prunes snapshots older than this many days.
	// Default: 30
	MaxAgeDays int `yaml:"max_age_days"`

	// Compression selects the archive codec: "lz4" (default) or
	// "zstd".
	Compression string `yaml:"compression"`

	// EncryptTo lists age recipients. When non-empty, snapshot
	// archives are encrypted at rest.
	EncryptTo []string `yaml:"encrypt_to"`

	// IdentityFile is the age identity used to decrypt snapshots
	// during restore. Required when EncryptTo is set.
	IdentityFile string `yaml:"identity_file"`
}

// HealthConfig configures the readiness probe.
type HealthConfig struct {
	// Attempts is how many probe attempts before declaring the
	// deployment degraded. Default: 5
	Attempts int `yaml:"attempts"`

	// Interval is the pause between attempts. Default: 3s
	Interval Duration `yaml:"interval"`

	// Timeout bounds the whole verification. Default: 30s
	Timeout Duration `yaml:"timeout"`
}

// Requirements configures preflight host validation.
type Requirements struct {
	// MinKernel is the minimum kernel release, e.g. "5.10".
	MinKernel string `yaml:"min_kernel"`

	// MinDiskMB is the minimum free disk space in the workload's
	// remote directory. Default: 1024
	MinDiskMB int64 `yaml:"min_disk_mb"`

	// Ports lists TCP ports that must be free (beyond the workload
	// port, which is always checked).
	Ports []int `yaml:"ports"`
}

// Default returns the default configuration. These defaults are a
// base before loading the config file, not a substitute for it.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".outpost")

	return &Config{
		StateDir:      stateDir,
		MasterKeyFile: filepath.Join(stateDir, "master.key"),
		Hosts:         map[string]*Host{},
		Backup: BackupConfig{
			Keep:        10,
			MaxAgeDays:  30,
			Compression: "lz4",
		},
		Health: HealthConfig{
			Attempts: 5,
			Interval: Duration(3 * time.Second),
			Timeout:  Duration(30 * time.Second),
		},
		Requirements: Requirements{
			MinDiskMB: 1024,
		},
	}
}

// Load loads configuration from the OUTPOST_CONFIG environment
// variable. There are no fallbacks: if OUTPOST_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("OUTPOST_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("OUTPOST_CONFIG environment variable not set; " +
			"set it to the path of your outpost.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values. The only expansion performed is ${HOME}
// and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	cfg.applyHostDefaults()
	return cfg, nil
}

// applyHostDefaults fills per-host values that derive from other
// fields and so cannot live in Default().
func (c *Config) applyHostDefaults() {
	for name, host := range c.Hosts {
		if host == nil {
			continue
		}
		if host.SecretsFile == "" {
			host.SecretsFile = filepath.Join(c.StateDir, name, "secrets.vault")
		}
		if host.Workload.DataDir == "" && host.Workload.RemoteDir != "" {
			host.Workload.DataDir = host.Workload.RemoteDir + "/data"
		}
		if host.Workload.ProbePath == "" {
			host.Workload.ProbePath = "/healthz"
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.StateDir = expandVars(c.StateDir, vars)
	vars["OUTPOST_STATE"] = c.StateDir // Available to dependent paths.

	c.MasterKeyFile = expandVars(c.MasterKeyFile, vars)
	c.Backup.IdentityFile = expandVars(c.Backup.IdentityFile, vars)
	for _, host := range c.Hosts {
		if host == nil {
			continue
		}
		host.IdentityFile = expandVars(host.IdentityFile, vars)
		host.SecretsFile = expandVars(host.SecretsFile, vars)
		host.Workload.Artifact = expandVars(host.Workload.Artifact, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Host names and workload IDs end up in filesystem paths and in the
// secret bundle's authenticated data, so the charset is restricted.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Validate checks the configuration for errors. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}
	if c.MasterKeyFile == "" {
		errs = append(errs, fmt.Errorf("master_key_file is required"))
	}
	if len(c.Hosts) == 0 {
		errs = append(errs, fmt.Errorf("at least one host is required"))
	}

	for name, host := range c.Hosts {
		if !namePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("host name %q: must be lowercase alphanumeric with ._-", name))
		}
		if host == nil {
			errs = append(errs, fmt.Errorf("host %s: empty definition", name))
			continue
		}
		if host.Address == "" {
			errs = append(errs, fmt.Errorf("host %s: address is required", name))
		} else if !strings.Contains(host.Address, ":") {
			errs = append(errs, fmt.Errorf("host %s: address %q must be host:port", name, host.Address))
		}
		if host.User == "" {
			errs = append(errs, fmt.Errorf("host %s: user is required", name))
		}
		if host.IdentityFile == "" {
			errs = append(errs, fmt.Errorf("host %s: identity_file is required", name))
		}

		w := host.Workload
		if w.ID == "" {
			errs = append(errs, fmt.Errorf("host %s: workload.id is required", name))
		} else if !namePattern.MatchString(w.ID) {
			errs = append(errs, fmt.Errorf("host %s: workload.id %q: must be lowercase alphanumeric with ._-", name, w.ID))
		}
		if w.Artifact == "" {
			errs = append(errs, fmt.Errorf("host %s: workload.artifact is required", name))
		}
		if w.RemoteDir == "" {
			errs = append(errs, fmt.Errorf("host %s: workload.remote_dir is required", name))
		} else if !strings.HasPrefix(w.RemoteDir, "/") {
			errs = append(errs, fmt.Errorf("host %s: workload.remote_dir must be absolute", name))
		}
		if w.Port < 1 || w.Port > 65535 {
			errs = append(errs, fmt.Errorf("host %s: workload.port %d out of range", name, w.Port))
		}
		if !strings.HasPrefix(w.ProbePath, "/") {
			errs = append(errs, fmt.Errorf("host %s: workload.probe_path must start with /", name))
		}
	}

	switch c.Backup.Compression {
	case "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("backup.compression must be lz4 or zstd, got %q", c.Backup.Compression))
	}
	if c.Backup.Keep < 1 {
		errs = append(errs, fmt.Errorf("backup.keep must be at least 1"))
	}
	if c.Backup.MaxAgeDays < 1 {
		errs = append(errs, fmt.Errorf("backup.max_age_days must be at least 1"))
	}
	if len(c.Backup.EncryptTo) > 0 && c.Backup.IdentityFile == "" {
		errs = append(errs, fmt.Errorf("backup.identity_file is required when backup.encrypt_to is set; without it restore cannot decrypt snapshots"))
	}

	if c.Health.Attempts < 1 {
		errs = append(errs, fmt.Errorf("health.attempts must be at least 1"))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, fmt.Errorf("health.interval must be positive"))
	}
	if c.Health.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("health.timeout must be positive"))
	}

	if c.Requirements.MinDiskMB < 0 {
		errs = append(errs, fmt.Errorf("requirements.min_disk_mb must not be negative"))
	}
	for _, port := range c.Requirements.Ports {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("requirements.ports: %d out of range", port))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HostNamed returns the named host.
func (c *Config) HostNamed(name string) (*Host, error) {
	host, ok := c.Hosts[name]
	if !ok || host == nil {
		known := make([]string, 0, len(c.Hosts))
		for n := range c.Hosts {
			known = append(known, n)
		}
		return nil, fmt.Errorf("host %q is not configured (known hosts: %s)", name, strings.Join(known, ", "))
	}
	return host, nil
}

// HostStateDir returns the local state directory for the named host.
func (c *Config) HostStateDir(name string) string {
	return filepath.Join(c.StateDir, name)
}
