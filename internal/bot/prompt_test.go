// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/covebridge/courier/internal/agent"
	"github.com/covebridge/courier/internal/safety"
	"github.com/covebridge/courier/internal/session"
)

func TestRateLimitedTextRejected(t *testing.T) {
	f := newFixture(t, nil, func(cfg *Config) {
		cfg.Limiter = safety.NewRateLimiter(true, 1, time.Minute, cfg.Clock)
	})

	f.bot.HandleUpdate(context.Background(), textUpdate(testOwner, "first"))
	f.bot.HandleUpdate(context.Background(), textUpdate(testOwner, "second"))

	if len(f.driver.started) != 1 {
		t.Fatalf("started %d queries, want 1", len(f.driver.started))
	}
	f.requireSent(t, "⏳ Rate limited. Please wait")
}

func TestCrashedQueryRetriesOnce(t *testing.T) {
	driver := &scriptDriver{
		events:  []agent.Event{{Type: agent.EventTypeInit, SessionID: "sess-1"}},
		waitErr: &agent.CrashError{Code: 1, Stderr: "boom"},
	}
	f := newFixture(t, driver, nil)

	f.bot.HandleUpdate(context.Background(), textUpdate(testOwner, "hello"))

	if len(driver.started) != 2 {
		t.Fatalf("started %d queries, want crash + retry", len(driver.started))
	}
	f.requireSent(t, "⚠️ Claude crashed, retrying...")
	f.requireSent(t, "❌ Error:")
}

func TestStoppedNoticeSuppressedAfterInterrupt(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.sess.MarkInterrupt()
	f.bot.notifyStopped(context.Background(), testChat)

	for _, body := range f.sentBodies() {
		if strings.Contains(body, "Query stopped") {
			t.Fatalf("interrupt stop must stay silent, sent %q", body)
		}
	}

	f.bot.notifyStopped(context.Background(), testChat)
	f.requireSent(t, "🛑 Query stopped.")
}

func TestAlarmMessages(t *testing.T) {
	budget := session.ContextReport{Used: 150_000, Limit: 200_000}
	cases := []struct {
		alarm session.Alarm
		want  string
	}{
		{session.Alarm70, "Context at 70%"},
		{session.Alarm85, "Context at 85%"},
		{session.AlarmSaveRequired, "Context at 90%"},
		{session.Alarm95, "Context at 95%"},
	}
	for _, tc := range cases {
		got := alarmMessage(tc.alarm, budget)
		if !strings.Contains(got, tc.want) {
			t.Errorf("alarmMessage(%v) = %q, want substring %q", tc.alarm, got, tc.want)
		}
		if !strings.Contains(got, "150000 / 200000 tokens (75%)") {
			t.Errorf("alarmMessage(%v) = %q lacks usage line", tc.alarm, got)
		}
	}
}

func TestAutoSaveBeforeNextText(t *testing.T) {
	f := newFixture(t, nil, nil)
	if _, err := f.sess.AccumulateUsage(&agent.Usage{InputTokens: 185_000}); err != nil {
		t.Fatal(err)
	}
	if !f.sess.SaveRequired() {
		t.Fatal("usage should have crossed the save threshold")
	}

	f.bot.HandleUpdate(context.Background(), textUpdate(testOwner, "keep going"))

	if len(f.driver.started) != 2 {
		t.Fatalf("started %d queries, want save + prompt", len(f.driver.started))
	}
	if !strings.Contains(f.driver.started[0].Prompt, "oh-my-claude:save") {
		t.Fatalf("first prompt %q is not the save skill", f.driver.started[0].Prompt)
	}
	if !strings.HasSuffix(f.driver.started[1].Prompt, "keep going") {
		t.Fatalf("second prompt %q", f.driver.started[1].Prompt)
	}

	raw, err := os.ReadFile(filepath.Join(f.app.WorkingDir, saveIDFileName))
	if err != nil {
		t.Fatalf("save marker: %v", err)
	}
	saveID := strings.TrimSpace(string(raw))
	if !saveIDPattern.MatchString(saveID) {
		t.Fatalf("save id %q", saveID)
	}
	f.requireSent(t, "💾 <b>Auto-saving context</b>")
	f.requireSent(t, "✅ Context saved:")
}

func TestQueryErrorTruncated(t *testing.T) {
	driver := &scriptDriver{
		events:  []agent.Event{{Type: agent.EventTypeInit, SessionID: "s"}},
		waitErr: os.ErrDeadlineExceeded,
	}
	f := newFixture(t, driver, nil)

	f.bot.HandleUpdate(context.Background(), textUpdate(testOwner, "hello"))

	f.requireSent(t, "❌ Error:")
}
