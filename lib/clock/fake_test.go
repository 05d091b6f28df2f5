// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeSleepAdvances(t *testing.T) {
	initial := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clk := Fake(initial)

	clk.Sleep(3 * time.Second)
	clk.Sleep(5 * time.Second)

	if got := clk.Elapsed(); got != 8*time.Second {
		t.Errorf("Elapsed = %v, want 8s", got)
	}
	if got := clk.Now(); !got.Equal(initial.Add(8 * time.Second)) {
		t.Errorf("Now = %v", got)
	}
}

func TestFakeAfterIsImmediatelyReady(t *testing.T) {
	clk := Fake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	select {
	case <-clk.After(time.Minute):
	default:
		t.Fatal("After channel not ready")
	}
	if got := clk.Elapsed(); got != time.Minute {
		t.Errorf("Elapsed = %v, want 1m", got)
	}
}

func TestFakeNegativeAdvanceIgnored(t *testing.T) {
	clk := Fake(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	clk.Advance(-time.Hour)
	if got := clk.Elapsed(); got != 0 {
		t.Errorf("Elapsed after negative advance = %v, want 0", got)
	}
}

func TestRealClockMonotonic(t *testing.T) {
	clk := Real()
	before := clk.Now()
	clk.Sleep(time.Millisecond)
	if after := clk.Now(); !after.After(before) {
		t.Errorf("real clock did not advance: %v -> %v", before, after)
	}
}
