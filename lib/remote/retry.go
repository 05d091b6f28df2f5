// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"math/rand"
	"time"
)

// RetryPolicy governs connection-establishment retries. One policy is
// injected into the runner at construction and reused identically for
// every dial — no call site carries its own backoff arithmetic.
//
// Only connection attempts are retried. Commands are never retried by
// the runner: a command that failed or timed out may have had its
// remote side effect, and re-running it blind is the orchestrator's
// decision to make, not the transport's.
type RetryPolicy struct {
	// MaxAttempts is the total number of dial attempts, including the
	// first. Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. Each further
	// attempt doubles it.
	BaseDelay time.Duration

	// Jitter is the fraction of the delay randomized away, in [0, 1].
	// 0.2 means the actual delay is uniform in [0.8d, d]. Jitter keeps
	// a wave of retries from synchronizing.
	Jitter float64
}

// DefaultRetryPolicy matches the documented default: three attempts
// with a doubling base delay of one second and 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Jitter: 0.2}
}

// attempts returns the effective attempt count.
func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// delay returns the backoff before the given attempt (attempt 1 is
// the retry after the first failure).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if p.Jitter > 0 {
		fraction := 1 - p.Jitter*rand.Float64()
		d = time.Duration(float64(d) * fraction)
	}
	return d
}
