// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/covebridge/courier/internal/agent"
)

func TestStartupFreshStart(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.bot.Startup(context.Background())

	f.requireSent(t, "🆕 Fresh Start")
	f.requireSent(t, "Courier is online.")
}

func TestStartupAcknowledgesRestartMarker(t *testing.T) {
	f := newFixture(t, nil, nil)
	marker := fmt.Sprintf(`{"chat_id": %d, "message_id": 55, "timestamp": %d}`,
		testChat, f.clk.Now().UnixMilli()-5_000)
	if err := os.WriteFile(f.app.RestartFile, []byte(marker), 0o644); err != nil {
		t.Fatal(err)
	}

	f.bot.Startup(context.Background())

	edits := f.fake.CallsOf("edit")
	if len(edits) == 0 || edits[0].Body != "✅ Bot restarted" {
		t.Fatalf("edits %+v", edits)
	}
	if _, err := os.Stat(f.app.RestartFile); !os.IsNotExist(err) {
		t.Fatal("restart marker should be removed")
	}
}

func TestStartupIgnoresStaleRestartMarker(t *testing.T) {
	f := newFixture(t, nil, nil)
	marker := fmt.Sprintf(`{"chat_id": %d, "message_id": 55, "timestamp": %d}`,
		testChat, f.clk.Now().UnixMilli()-120_000)
	if err := os.WriteFile(f.app.RestartFile, []byte(marker), 0o644); err != nil {
		t.Fatal(err)
	}

	f.bot.Startup(context.Background())

	if len(f.fake.CallsOf("edit")) != 0 {
		t.Fatal("stale marker must not edit anything")
	}
	if _, err := os.Stat(f.app.RestartFile); !os.IsNotExist(err) {
		t.Fatal("stale marker should still be removed")
	}
}

func TestStartupRestoresSavedContext(t *testing.T) {
	driver := &scriptDriver{events: []agent.Event{
		{Type: agent.EventTypeInit, SessionID: "sess-1"},
		{Type: agent.EventTypeText, Text: &agent.TextEvent{
			Text: "Loaded Context: 20260301_110000", Snapshot: true,
		}},
		{Type: agent.EventTypeResult, Result: &agent.ResultEvent{}},
	}}
	f := newFixture(t, driver, nil)
	marker := filepath.Join(f.app.WorkingDir, saveIDFileName)
	if err := os.WriteFile(marker, []byte("20260301_110000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.bot.Startup(context.Background())

	if len(driver.started) != 1 {
		t.Fatalf("started %d queries", len(driver.started))
	}
	if !strings.Contains(driver.started[0].Prompt, "oh-my-claude:load") {
		t.Fatalf("prompt %q is not the load skill", driver.started[0].Prompt)
	}
	f.requireSent(t, "✅ <b>Context Restored</b>")
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("save marker should be removed after a verified load")
	}
	if !f.sess.Stats().RecentlyRestored {
		t.Fatal("session should be in the post-restore cooldown")
	}
}

func TestStartupRejectsInvalidSaveID(t *testing.T) {
	f := newFixture(t, nil, nil)
	marker := filepath.Join(f.app.WorkingDir, saveIDFileName)
	if err := os.WriteFile(marker, []byte("not-a-save-id\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.bot.Startup(context.Background())

	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("invalid marker should be discarded")
	}
	if len(f.driver.started) != 0 {
		t.Fatal("invalid save id must not trigger a load")
	}
	f.requireSent(t, "🆕 Fresh Start")
}

func TestStartupReportsFailedLoad(t *testing.T) {
	driver := happyDriver("nothing useful here")
	f := newFixture(t, driver, nil)
	marker := filepath.Join(f.app.WorkingDir, saveIDFileName)
	if err := os.WriteFile(marker, []byte("20260301_110000"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.bot.Startup(context.Background())

	f.requireSent(t, "🚨 <b>Auto-load Failed</b>")
	if _, err := os.Stat(marker); err != nil {
		t.Fatal("marker should survive a failed load for the next start")
	}
}

func TestStartupAnnouncesRestartContext(t *testing.T) {
	f := newFixture(t, nil, nil)
	dir := filepath.Join(f.app.WorkingDir, restartContextDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"restart-context-20260301_100000.md", "restart-context-20260301_110000.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("# note"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	f.bot.Startup(context.Background())

	f.requireSent(t, "🔄 SIGTERM Restart")
	if len(f.driver.started) != 1 {
		t.Fatalf("started %d queries", len(f.driver.started))
	}
	if !strings.Contains(f.driver.started[0].Prompt, "restart-context-20260301_110000.md") {
		t.Fatalf("prompt %q should reference the newest note", f.driver.started[0].Prompt)
	}
}

func TestWriteRestartContext(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.sess.SetLastMessage("deploy the release")
	if _, err := f.sess.AccumulateUsage(&agent.Usage{InputTokens: 12_000, OutputTokens: 800}); err != nil {
		t.Fatal(err)
	}

	if err := f.bot.WriteRestartContext(); err != nil {
		t.Fatalf("WriteRestartContext: %v", err)
	}

	dir := filepath.Join(f.app.WorkingDir, restartContextDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), restartContextPrefix) {
		t.Fatalf("entries %v", entries)
	}
	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	note := string(raw)
	if !strings.Contains(note, "# Restart Context") || !strings.Contains(note, "deploy the release") {
		t.Fatalf("note %q", note)
	}
	if !strings.Contains(note, "Context tokens: 12800") {
		t.Fatalf("note %q missing token count", note)
	}
}
