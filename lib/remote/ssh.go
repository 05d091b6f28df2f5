// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/bureau-foundation/outpost/lib/clock"
)

// SSHConfig holds the parameters for reaching the deployment target
// over SSH.
type SSHConfig struct {
	// Address is the host:port of the target's SSH daemon.
	Address string

	// User is the login user on the target.
	User string

	// IdentityFile is the path to the local private key used for
	// public-key authentication.
	IdentityFile string

	// HostKey is the target's public host key in authorized_keys
	// format. When set, the connection is rejected unless the host
	// presents exactly this key. When empty, any host key is accepted
	// and a warning is logged — acceptable for lab hosts, not for
	// production.
	HostKey string

	// ConnectTimeout bounds a single dial attempt. Zero means 10s.
	ConnectTimeout time.Duration

	// Retry governs dial retries. Zero value means a single attempt.
	Retry RetryPolicy

	// Clock is used for backoff sleeps. Nil means the real clock.
	Clock clock.Clock

	// Logger receives connection lifecycle messages. Nil discards.
	Logger *slog.Logger
}

// SSHRunner is the production Runner. It dials lazily on first use
// and keeps one multiplexed connection; sessions are cheap, so every
// command gets a fresh session on the shared connection.
type SSHRunner struct {
	config SSHConfig
	clk    clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHRunner creates a runner for the given target. No connection
// is made until the first operation.
func NewSSHRunner(config SSHConfig) *SSHRunner {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	return &SSHRunner{config: config, clk: clk, logger: logger}
}

// Run executes a command and captures its output.
func (r *SSHRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	return r.exec(ctx, cmd, nil, nil)
}

// Push executes a command with stdin connected to the given reader.
func (r *SSHRunner) Push(ctx context.Context, cmd Command, stdin io.Reader) (Result, error) {
	return r.exec(ctx, cmd, stdin, nil)
}

// Pull executes a command with stdout connected to the given writer.
func (r *SSHRunner) Pull(ctx context.Context, cmd Command, stdout io.Writer) (Result, error) {
	return r.exec(ctx, cmd, nil, stdout)
}

// Close tears down the connection, if any.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *SSHRunner) exec(ctx context.Context, cmd Command, stdin io.Reader, stdout io.Writer) (Result, error) {
	client, err := r.ensureClient(ctx)
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		// The connection is broken; discard it so the next operation
		// redials.
		r.discard()
		return Result{}, fmt.Errorf("opening session on %s: %w", r.config.Address, err)
	}
	defer session.Close()

	var stdoutBuffer, stderrBuffer bytes.Buffer
	if stdout != nil {
		session.Stdout = stdout
	} else {
		session.Stdout = &stdoutBuffer
	}
	session.Stderr = &stderrBuffer
	if stdin != nil {
		session.Stdin = stdin
	}

	rendered := cmd.String()
	if err := session.Start(rendered); err != nil {
		r.discard()
		return Result{}, fmt.Errorf("starting %s: %w", rendered, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		// The command's remote side effect is unknown; kill the whole
		// connection rather than reuse a channel in an unknown state.
		session.Close()
		r.discard()
		return Result{}, &TimeoutError{Cmd: rendered, Err: ctx.Err()}
	case waitErr := <-done:
		result := Result{
			Stdout: stdoutBuffer.String(),
			Stderr: stderrBuffer.String(),
		}
		if waitErr == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, &CommandError{Cmd: rendered, ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
		r.discard()
		return result, fmt.Errorf("running %s: %w", rendered, waitErr)
	}
}

// ensureClient returns the shared connection, dialing with the retry
// policy if there is none.
func (r *SSHRunner) ensureClient(ctx context.Context) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	clientConfig, err := r.clientConfig()
	if err != nil {
		return nil, err
	}

	attempts := r.config.Retry.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := r.config.Retry.delay(attempt - 1)
			r.logger.Info("retrying connection",
				"address", r.config.Address,
				"attempt", attempt,
				"delay", delay,
			)
			select {
			case <-ctx.Done():
				return nil, &ConnectError{Address: r.config.Address, Attempts: attempt - 1, Err: ctx.Err()}
			case <-r.clk.After(delay):
			}
		}

		client, dialErr := r.dial(ctx, clientConfig)
		if dialErr == nil {
			r.client = client
			return client, nil
		}
		lastErr = dialErr
		r.logger.Warn("connection attempt failed",
			"address", r.config.Address,
			"attempt", attempt,
			"error", dialErr,
		)
	}
	return nil, &ConnectError{Address: r.config.Address, Attempts: attempts, Err: lastErr}
}

func (r *SSHRunner) dial(ctx context.Context, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: r.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.config.Address)
	if err != nil {
		return nil, err
	}
	sshConn, channels, requests, err := ssh.NewClientConn(conn, r.config.Address, clientConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, channels, requests), nil
}

func (r *SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	keyData, err := os.ReadFile(r.config.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", r.config.IdentityFile, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec fallback below warns
	if r.config.HostKey != "" {
		publicKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(r.config.HostKey))
		if err != nil {
			return nil, fmt.Errorf("parsing pinned host key: %w", err)
		}
		hostKeyCallback = ssh.FixedHostKey(publicKey)
	} else {
		r.logger.Warn("no host key pinned; accepting any host key", "address", r.config.Address)
	}

	return &ssh.ClientConfig{
		User:            r.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.config.ConnectTimeout,
	}, nil
}

// discard drops the shared connection so the next operation redials.
func (r *SSHRunner) discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}
