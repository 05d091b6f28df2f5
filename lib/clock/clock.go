// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject a Fake with deterministic time
// control.
//
// Outpost's lifecycle commands are sequential: retry backoff and
// health-check polling are the only places that sleep. Every function
// that would call time.Now or time.Sleep accepts a Clock instead, so
// tests of the retry and polling paths complete instantly.
package clock

import "time"

// Clock provides the time operations Outpost needs: current time,
// sleeping, and a cancellable wait channel.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)

	// After returns a channel that receives the current time after
	// duration d elapses. Use in select statements alongside a
	// context's Done channel.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
