// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that
// time-driven code (throttles, rate limiters, schedulers, media-group
// timers) can be tested without sleeping. Production code injects
// Real(); tests inject Fake() and drive it with Advance.
package clock

import "time"

// Clock abstracts the subset of the time package the bridge uses.
// Structs that need time carry a Clock field instead of calling
// time.Now, time.After, time.AfterFunc, time.NewTicker, or time.Sleep
// directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits d and then calls f. The returned Timer can
	// cancel the pending call with Stop; its C field is nil, matching
	// time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C at the given interval. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. C is buffered with capacity 1; ticks
// the consumer does not keep up with are dropped, matching
// time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stopFunc  func()
	resetFunc func(time.Duration)
}

// Stop turns the ticker off. It does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// Reset restarts the tick cycle with a new interval.
func (t *Ticker) Reset(d time.Duration) { t.resetFunc(d) }

// Timer represents a single scheduled event. Timers returned by
// AfterFunc have a nil C.
type Timer struct {
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped the timer before it fired.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset changes the timer to fire after d. It reports whether the
// timer was still active.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
