// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/messaging/messagingtest"
	"github.com/covebridge/courier/lib/clock"
	"github.com/covebridge/courier/lib/testutil"
)

func TestThrottledSpacesPerChatSends(t *testing.T) {
	fake := messagingtest.New()
	clk := clock.Fake(time.Unix(0, 0))
	throttled := messaging.NewThrottled(fake, messaging.ThrottleConfig{
		GlobalMinInterval:  0,
		PerChatMinInterval: time.Second,
	}, clk)

	ctx := context.Background()
	if _, err := throttled.SendHTML(ctx, 1, "first"); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		throttled.SendHTML(ctx, 1, "second")
		close(done)
	}()

	clk.WaitForTimers(1)
	if got := len(fake.CallsOf("send")); got != 1 {
		t.Fatalf("second send went through before the interval: %d sends", got)
	}
	clk.Advance(time.Second)
	testutil.RequireClosed(t, done, 5*time.Second, "second send")
	if got := len(fake.CallsOf("send")); got != 2 {
		t.Errorf("sends = %d, want 2", got)
	}
}

func TestThrottledChatsAreIndependent(t *testing.T) {
	fake := messagingtest.New()
	clk := clock.Fake(time.Unix(0, 0))
	throttled := messaging.NewThrottled(fake, messaging.ThrottleConfig{
		GlobalMinInterval:  0,
		PerChatMinInterval: time.Second,
	}, clk)

	ctx := context.Background()
	if _, err := throttled.SendHTML(ctx, 1, "chat one"); err != nil {
		t.Fatal(err)
	}
	if _, err := throttled.SendHTML(ctx, 2, "chat two"); err != nil {
		t.Fatal(err)
	}
	if got := len(fake.CallsOf("send")); got != 2 {
		t.Errorf("sends = %d, want 2 immediate sends across chats", got)
	}
}

func TestThrottledHonorsContextCancel(t *testing.T) {
	fake := messagingtest.New()
	clk := clock.Fake(time.Unix(0, 0))
	throttled := messaging.NewThrottled(fake, messaging.ThrottleConfig{
		PerChatMinInterval: time.Minute,
	}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	throttled.SendHTML(ctx, 1, "first")

	errs := make(chan error, 1)
	go func() {
		_, err := throttled.SendHTML(ctx, 1, "second")
		errs <- err
	}()

	clk.WaitForTimers(1)
	cancel()
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "cancelled send"); err == nil {
		t.Error("cancelled send returned nil error")
	}
}
