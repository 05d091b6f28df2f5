// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"testing"
	"time"
)

func TestRetryPolicyDoubles(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond}
	wants := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for attempt, want := range wants {
		if got := policy.delay(attempt + 1); got != want {
			t.Errorf("delay(%d) = %v, want %v", attempt+1, got, want)
		}
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Jitter: 0.5}
	for range 100 {
		d := policy.delay(1)
		if d < 500*time.Millisecond || d > time.Second {
			t.Fatalf("jittered delay %v outside [500ms, 1s]", d)
		}
	}
}

func TestRetryPolicyMinimumOneAttempt(t *testing.T) {
	policy := RetryPolicy{}
	if got := policy.attempts(); got != 1 {
		t.Errorf("attempts() = %d, want 1", got)
	}
}
