// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging/messagingtest"
	"github.com/covebridge/courier/lib/clock"
)

const testChat = chat.ChatID(42)

func newTestRenderer(t *testing.T) (*Renderer, *messagingtest.Fake, *clock.FakeClock) {
	t.Helper()
	fake := messagingtest.New()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reply := chat.MessageRef{Chat: testChat, Message: 7}
	return NewRenderer(fake, clk, log, testChat, reply), fake, clk
}

func TestRendererProgressLifecycle(t *testing.T) {
	r, fake, clk := newTestRenderer(t)
	ctx := context.Background()

	r.Begin(ctx)
	sends := fake.CallsOf("send")
	if len(sends) != 1 {
		t.Fatalf("expected one progress send, got %d", len(sends))
	}
	if sends[0].Body != "⠋ Working... (0:00)" {
		t.Fatalf("progress body = %q", sends[0].Body)
	}

	clk.Advance(1 * time.Second)
	r.Tick(ctx)
	edits := fake.CallsOf("edit")
	if len(edits) != 1 {
		t.Fatalf("expected one progress edit, got %d", len(edits))
	}
	if edits[0].Body != "⠙ Working... (0:01)" {
		t.Fatalf("tick body = %q", edits[0].Body)
	}

	clk.Advance(29 * time.Second)
	r.Complete(ctx, true)
	edits = fake.CallsOf("edit")
	final := edits[len(edits)-1].Body
	if !strings.HasPrefix(final, "✅ Completed\n⏰ 12:00:00 → 12:00:30 (0:30)") {
		t.Fatalf("completion footer = %q", final)
	}
}

func TestRendererTickThrottled(t *testing.T) {
	r, fake, _ := newTestRenderer(t)
	ctx := context.Background()

	r.Begin(ctx)
	r.Tick(ctx) // same instant as Begin, inside the edit window
	if edits := fake.CallsOf("edit"); len(edits) != 0 {
		t.Fatalf("tick should be throttled right after Begin, got %d edits", len(edits))
	}
}

func TestRendererSegmentEditFlow(t *testing.T) {
	r, fake, clk := newTestRenderer(t)
	ctx := context.Background()
	r.Begin(ctx)

	r.Segment(ctx, 0, "hello", false)
	sends := fake.CallsOf("send")
	// progress, content, re-anchored progress
	if len(sends) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sends))
	}
	contentRef := sends[1].Ref
	if fake.Content(contentRef) != "hello" {
		t.Fatalf("segment content = %q", fake.Content(contentRef))
	}
	if !fake.Deleted(sends[0].Ref) {
		t.Fatal("original progress message should be deleted on re-anchor")
	}

	// Inside the throttle window the growing segment is skipped.
	r.Segment(ctx, 0, "hello world", false)
	if fake.Content(contentRef) != "hello" {
		t.Fatal("edit should have been throttled")
	}

	clk.Advance(600 * time.Millisecond)
	r.Segment(ctx, 0, "hello world", false)
	if fake.Content(contentRef) != "hello world" {
		t.Fatalf("segment content = %q after throttle window", fake.Content(contentRef))
	}

	// Identical content is never re-sent, even outside the window.
	clk.Advance(time.Second)
	before := len(fake.CallsOf("edit"))
	r.Segment(ctx, 0, "hello world", false)
	if after := len(fake.CallsOf("edit")); after != before {
		t.Fatal("identical content should be skipped")
	}

	// The final update bypasses the throttle.
	r.Segment(ctx, 0, "hello world, done", true)
	if fake.Content(contentRef) != "hello world, done" {
		t.Fatalf("final content = %q", fake.Content(contentRef))
	}
}

func TestRendererOverflowSplits(t *testing.T) {
	r, fake, _ := newTestRenderer(t)
	fake.Caps.MaxMessageLen = 100
	fake.Caps.SafeMessageLen = 80
	ctx := context.Background()
	r.Begin(ctx)

	long := strings.Repeat("alpha beta ", 30)
	r.Segment(ctx, 0, long, false)

	var contentChunks []messagingtest.Call
	for _, call := range fake.CallsOf("send") {
		if strings.Contains(call.Body, "Working...") {
			continue
		}
		contentChunks = append(contentChunks, call)
	}
	if len(contentChunks) < 2 {
		t.Fatalf("expected chunked sends, got %d", len(contentChunks))
	}
	for _, call := range contentChunks {
		if len(call.Body) > 80 {
			t.Fatalf("chunk over limit: %d bytes", len(call.Body))
		}
	}
}

func TestRendererActivityCleanup(t *testing.T) {
	r, fake, clk := newTestRenderer(t)
	ctx := context.Background()
	r.Begin(ctx)

	r.Activity(ctx, "🔧 Bash: <code>ls</code>")
	sends := fake.CallsOf("send")
	activityRef := sends[1].Ref
	if fake.Content(activityRef) != "🔧 Bash: <code>ls</code>" {
		t.Fatalf("activity content = %q", fake.Content(activityRef))
	}

	clk.Advance(time.Second)
	r.Segment(ctx, 0, "answer", true)
	r.Complete(ctx, true)

	if !fake.Deleted(activityRef) {
		t.Fatal("activity line should be deleted on completion")
	}
	reactions := fake.CallsOf("reaction")
	if len(reactions) != 1 || reactions[0].Emoji != "👍" {
		t.Fatalf("expected 👍 reaction on the answer, got %v", reactions)
	}
}

func TestRendererStoppedFooter(t *testing.T) {
	r, fake, _ := newTestRenderer(t)
	ctx := context.Background()
	r.Begin(ctx)
	r.Complete(ctx, false)

	edits := fake.CallsOf("edit")
	if len(edits) != 1 || edits[0].Body != "🛑 Stopped" {
		t.Fatalf("expected stopped footer, got %v", edits)
	}
	if reactions := fake.CallsOf("reaction"); len(reactions) != 0 {
		t.Fatalf("no reaction expected on stop, got %v", reactions)
	}
}

func TestRendererSurvivesTransportErrors(t *testing.T) {
	r, fake, clk := newTestRenderer(t)
	ctx := context.Background()
	r.Begin(ctx)

	fake.FailWith = errors.New("boom")
	r.Segment(ctx, 0, "hello", false)
	r.Activity(ctx, "line")

	fake.FailWith = nil
	clk.Advance(time.Second)
	r.Segment(ctx, 0, "hello again", true)
	if _, ok := r.LastSegmentRef(); !ok {
		t.Fatal("segment should exist once the transport recovers")
	}
}
