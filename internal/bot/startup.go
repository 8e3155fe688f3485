// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/covebridge/courier/internal/agent"
	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/render"
	"github.com/covebridge/courier/internal/session"
)

const (
	// restartAckWindow bounds how old a restart marker may be and
	// still get its "Restarting..." message edited.
	restartAckWindow = 30_000 // milliseconds

	restartContextDir    = "docs/tasks/save"
	restartContextPrefix = "restart-context-"
)

var saveIDPattern = regexp.MustCompile(`^\d{8}_\d{6}$`)

// Startup runs the post-launch sequence: acknowledge a pending
// restart marker, resume the previous session, sweep stale button
// requests, and brief the owner on how the bot came back up.
func (b *Bot) Startup(ctx context.Context) {
	b.acknowledgeRestart(ctx)

	resumed := false
	if ok, sessionID, err := b.cfg.Session.ResumeLast(); err != nil {
		b.cfg.Logger.Warn("resuming previous session failed", "error", err)
	} else if ok {
		resumed = true
		b.cfg.Logger.Info("resumed previous session", "session_id", sessionID)
	}

	if b.cfg.Buttons != nil {
		if removed := b.cfg.Buttons.SweepStale(b.cfg.Clock.Now()); removed > 0 {
			b.cfg.Logger.Info("swept stale button requests", "count", removed)
		}
	}

	if len(b.cfg.App.AllowedUsers) == 0 {
		return
	}
	owner := chat.ChatID(b.cfg.App.AllowedUsers[0])

	if b.restoreSavedContext(ctx, owner) {
		return
	}
	b.announceStartup(ctx, owner, resumed)
}

// acknowledgeRestart edits the "Restarting..." message left behind by
// /restart into a confirmation, if the marker is recent enough.
func (b *Bot) acknowledgeRestart(ctx context.Context) {
	raw, err := os.ReadFile(b.cfg.App.RestartFile)
	if err != nil {
		return
	}
	defer os.Remove(b.cfg.App.RestartFile)

	var data restartData
	if err := json.Unmarshal(raw, &data); err != nil {
		b.cfg.Logger.Warn("restart marker unreadable", "error", err)
		return
	}
	age := b.cfg.Clock.Now().UnixMilli() - data.TimestampMS
	if age < 0 || age >= restartAckWindow {
		return
	}
	ref := chat.MessageRef{Chat: chat.ChatID(data.ChatID), Message: chat.MessageID(data.MessageID)}
	if err := b.cfg.Messenger.EditHTML(ctx, ref, "✅ Bot restarted"); err != nil {
		b.cfg.Logger.Debug("editing restart message failed", "error", err)
	}
}

// restoreSavedContext replays the save recorded in .last-save-id. The
// marker file survives until the load output confirms the context
// actually came back, so a crashed load retries on the next start.
func (b *Bot) restoreSavedContext(ctx context.Context, owner chat.ChatID) bool {
	markerPath := filepath.Join(b.cfg.App.WorkingDir, saveIDFileName)
	raw, err := os.ReadFile(markerPath)
	if err != nil {
		return false
	}
	saveID := strings.TrimSpace(string(raw))
	if !saveIDPattern.MatchString(saveID) {
		b.cfg.Logger.Error("save marker invalid, discarding", "save_id", saveID)
		os.Remove(markerPath)
		return false
	}

	b.send(ctx, owner, fmt.Sprintf(
		"🔄 <b>Auto-restoring context</b>\n\nSave ID: <code>%s</code>\n\nExecuting /load...", saveID))

	sink := render.NewRenderer(b.cfg.Messenger, b.cfg.Clock, b.cfg.Logger, owner, chat.MessageRef{})
	out, err := b.cfg.Runner.Run(ctx, session.QueryRequest{
		ChatID:      owner,
		User:        b.cfg.App.AllowedUsers[0],
		Prompt:      fmt.Sprintf("Skill tool with skill='oh-my-claude:load' and args='%s'", saveID),
		Sink:        sink,
		ForkSession: true,
	})
	if err == nil && !strings.Contains(out.Text, "Loaded Context:") {
		err = fmt.Errorf("load output missing restored context")
	}
	if err != nil {
		b.cfg.Logger.Error("auto-load failed", "error", err, "save_id", saveID)
		b.send(ctx, owner, fmt.Sprintf(
			"🚨 <b>Auto-load Failed</b>\n\nError: <code>%s</code>\n\n⚠️ Starting fresh session.",
			render.EscapeHTML(truncateError(err, 200))))
		return true
	}

	b.cfg.Session.MarkRestored()
	os.Remove(markerPath)
	b.send(ctx, owner, fmt.Sprintf(
		"✅ <b>Context Restored</b>\n\nResumed from save: <code>%s</code>", saveID))
	return true
}

// announceStartup tells the owner how the bot came up and, when a
// restart context note exists, has the agent read it back.
func (b *Bot) announceStartup(ctx context.Context, owner chat.ChatID, resumed bool) {
	contextPath := b.latestRestartContext()

	label := "🆕 Fresh Start"
	switch {
	case contextPath != "":
		label = "🔄 SIGTERM Restart"
	case resumed:
		label = "♻️ Session Resumed"
	}

	b.send(ctx, owner, fmt.Sprintf(
		"%s\n\n🤖 Courier is online.\nWorking directory: <code>%s</code>",
		label, render.EscapeHTML(b.cfg.App.WorkingDir)))

	if contextPath == "" {
		return
	}

	sink := render.NewRenderer(b.cfg.Messenger, b.cfg.Clock, b.cfg.Logger, owner, chat.MessageRef{})
	prompt := fmt.Sprintf(
		"Read the restart context note at %s and summarize in a few sentences what was in progress before the restart.",
		contextPath)
	if _, err := b.cfg.Runner.Run(ctx, session.QueryRequest{
		ChatID: owner,
		User:   b.cfg.App.AllowedUsers[0],
		Prompt: prompt,
		Sink:   sink,
	}); err != nil {
		b.cfg.Logger.Warn("startup context summary failed", "error", err)
	}
}

// latestRestartContext returns the newest restart note, or "" when
// none exist. File names embed a sortable timestamp, so the
// lexicographically largest name is the newest.
func (b *Bot) latestRestartContext() string {
	dir := filepath.Join(b.cfg.App.WorkingDir, restartContextDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	latest := ""
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, restartContextPrefix) || !strings.HasSuffix(name, ".md") {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return ""
	}
	return filepath.Join(dir, latest)
}

// WriteRestartContext records the live session state as a markdown
// note before a SIGTERM shutdown so the next start can pick up the
// thread.
func (b *Bot) WriteRestartContext() error {
	stats := b.cfg.Session.Stats()
	now := b.cfg.Clock.Now()

	var note strings.Builder
	fmt.Fprintf(&note, "# Restart Context\n\n")
	fmt.Fprintf(&note, "Written: %s\n\n", now.Format("2006-01-02 15:04:05"))
	if stats.SessionID != "" {
		fmt.Fprintf(&note, "- Session: %s\n", stats.SessionID)
	}
	fmt.Fprintf(&note, "- Queries this session: %d\n", stats.Queries)
	if stats.TotalUsage != (agent.Usage{}) {
		fmt.Fprintf(&note, "- Context tokens: %d\n", stats.TotalUsage.ContextTokens())
	}
	if stats.LastMessage != "" {
		fmt.Fprintf(&note, "\n## Last user message\n\n%s\n", stats.LastMessage)
	}

	dir := filepath.Join(b.cfg.App.WorkingDir, restartContextDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bot: creating restart context dir: %w", err)
	}
	path := filepath.Join(dir, restartContextPrefix+now.Format("20060102_150405")+".md")
	if err := os.WriteFile(path, []byte(note.String()), 0o644); err != nil {
		return fmt.Errorf("bot: writing restart context: %w", err)
	}
	return nil
}
