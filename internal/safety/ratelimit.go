// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"sync"
	"time"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/lib/clock"
)

// RateLimiter is a per-user token bucket. Each bucket holds up to
// Requests tokens and refills continuously at Requests/Window. Every
// accepted request consumes one token.
type RateLimiter struct {
	enabled  bool
	capacity float64
	window   time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	buckets map[chat.UserID]*bucket
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter builds a limiter. When enabled is false, Check always
// passes.
func NewRateLimiter(enabled bool, requests int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &RateLimiter{
		enabled:  enabled,
		capacity: float64(requests),
		window:   window,
		clock:    clk,
		buckets:  make(map[chat.UserID]*bucket),
	}
}

// Check consumes one token for user. When the bucket is empty it
// returns false and the wait until one token becomes available.
func (l *RateLimiter) Check(user chat.UserID) (bool, time.Duration) {
	if !l.enabled {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[user]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[user] = b
	}

	refillPerSecond := l.capacity / l.window.Seconds()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*refillPerSecond)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit / refillPerSecond * float64(time.Second))
	return false, wait
}
