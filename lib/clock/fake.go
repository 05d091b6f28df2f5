// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time.
//
// Unlike a blocking fake, Sleep and After advance the fake time
// immediately and return. Outpost's retry and polling loops are
// strictly sequential, so "sleeping" in a test only needs to move the
// clock forward — there is never a second goroutine waiting to be
// woken. Tests assert on Elapsed() to verify backoff schedules.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial, start: initial}
}

// FakeClock is a deterministic Clock for tests. Safe for concurrent
// use, though Outpost's flows only ever touch it from one goroutine.
type FakeClock struct {
	mu      sync.Mutex
	start   time.Time
	current time.Time
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep advances the fake time by d and returns immediately.
func (c *FakeClock) Sleep(d time.Duration) {
	c.Advance(d)
}

// After advances the fake time by d and returns a channel that is
// already ready.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	channel := make(chan time.Time, 1)
	channel <- c.Now()
	return channel
}

// Advance moves the fake time forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.current = c.current.Add(d)
	}
}

// Elapsed returns how much fake time has passed since construction.
// Retry and polling tests use this to assert on the backoff schedule.
func (c *FakeClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(c.start)
}
