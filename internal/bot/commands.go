// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/render"
)

// Sonnet per-MTok pricing used by the /stats cost estimate.
const (
	priceInput      = 3.0
	priceOutput     = 15.0
	priceCacheRead  = 0.3
	priceCacheWrite = 3.75
)

// restartData is the pointer file read back after /restart so the
// "Restarting..." message can be edited to a confirmation.
type restartData struct {
	ChatID      int64 `json:"chat_id"`
	MessageID   int64 `json:"message_id"`
	TimestampMS int64 `json:"timestamp"`
}

func (b *Bot) handleCommand(ctx context.Context, cmd *messaging.Command) {
	switch cmd.Name {
	case "start", "help":
		b.commandHelp(ctx, cmd.Chat)
	case "new":
		b.commandNew(ctx, cmd.Chat)
	case "stop":
		b.commandStop()
	case "status":
		b.commandStatus(ctx, cmd.Chat)
	case "stats":
		b.commandStats(ctx, cmd.Chat)
	case "context":
		b.commandContext(ctx, cmd.Chat)
	case "resume":
		b.commandResume(ctx, cmd.Chat)
	case "retry":
		b.commandRetry(ctx, cmd)
	case "restart":
		b.commandRestart(ctx, cmd.Chat)
	case "cron":
		b.commandCron(ctx, cmd.Chat, cmd.Args)
	default:
		b.send(ctx, cmd.Chat, "Unknown command: /"+render.EscapeHTML(cmd.Name))
	}
}

func (b *Bot) commandHelp(ctx context.Context, chatID chat.ChatID) {
	status := "No active session"
	if b.cfg.Session.Active() {
		status = "Active session"
	}
	body := fmt.Sprintf(`🤖 <b>Courier</b>

Status: %s
Working directory: <code>%s</code>

<b>📋 Commands:</b>
/start - Show this help message
/new - Start fresh session
/stop - Stop current query (silent)
/status - Show current session status
/stats - Show token usage &amp; cost stats
/context - Show context-budget estimate
/resume - Resume last saved session
/retry - Retry last message
/cron [reload] - Scheduled jobs status/reload
/restart - Restart the bot process

<b>💡 Tips:</b>
• Prefix with <code>!</code> to interrupt current query
• Use "think" keyword for extended reasoning
• Use "ultrathink" for deep analysis
• Send photos, voice messages, or documents
• Multiple photos = album (auto-grouped)`,
		status, render.EscapeHTML(b.cfg.Session.WorkingDir()))
	b.send(ctx, chatID, body)
}

func (b *Bot) commandNew(ctx context.Context, chatID chat.ChatID) {
	b.stopRunning()
	if err := b.cfg.Session.Kill(); err != nil {
		b.cfg.Logger.Warn("clearing session failed", "error", err)
	}
	b.send(ctx, chatID, "🆕 Session cleared. Next message starts fresh.")
}

// commandStop is silent: the runner posts the stop notice through the
// normal completion path.
func (b *Bot) commandStop() {
	b.stopRunning()
}

// The runner only notices a stop on its 1 s tick, so the wait must
// span at least one full tick.
const (
	stopWait = 2 * time.Second
	stopPoll = 100 * time.Millisecond
)

// stopRunning cancels the in-flight query and waits for the runner to
// wind it down. The flag is cleared afterwards either way so a stale
// stop cannot cancel the next query.
func (b *Bot) stopRunning() {
	if !b.cfg.Session.RequestStop() {
		return
	}
	deadline := b.cfg.Clock.Now().Add(stopWait)
	for b.cfg.Session.Running() && b.cfg.Clock.Now().Before(deadline) {
		b.cfg.Clock.Sleep(stopPoll)
	}
	b.cfg.Session.ClearStopRequested()
}

func (b *Bot) commandStatus(ctx context.Context, chatID chat.ChatID) {
	stats := b.cfg.Session.Stats()
	lines := []string{"📊 <b>Bot Status</b>\n"}

	if stats.SessionID != "" {
		short := stats.SessionID
		if len(short) > 8 {
			short = short[:8]
		}
		lines = append(lines, fmt.Sprintf("✅ Session: Active (%s...)", short))
		if !stats.StartedAt.IsZero() {
			elapsed := b.cfg.Clock.Now().Sub(stats.StartedAt)
			lines = append(lines, fmt.Sprintf("   └─ Duration: %s | %d queries",
				formatDuration(elapsed), stats.Queries))
		}
	} else {
		lines = append(lines, "⚪ Session: None")
	}

	if stats.Running {
		lines = append(lines, "🔄 Query: Running")
	} else {
		lines = append(lines, "⚪ Query: Idle")
	}

	if stats.LastUsage != nil {
		lines = append(lines, "\n📈 Last query usage:")
		lines = append(lines, fmt.Sprintf("   Input: %d tokens", stats.LastUsage.InputTokens))
		lines = append(lines, fmt.Sprintf("   Output: %d tokens", stats.LastUsage.OutputTokens))
		if stats.LastUsage.CacheReadInputTokens > 0 {
			lines = append(lines, fmt.Sprintf("   Cache read: %d", stats.LastUsage.CacheReadInputTokens))
		}
	}

	lines = append(lines, fmt.Sprintf("\n📁 Working dir: <code>%s</code>",
		render.EscapeHTML(b.cfg.Session.WorkingDir())))
	b.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) commandStats(ctx context.Context, chatID chat.ChatID) {
	stats := b.cfg.Session.Stats()
	lines := []string{"📊 <b>Session Statistics</b>\n"}

	if !stats.StartedAt.IsZero() {
		elapsed := b.cfg.Clock.Now().Sub(stats.StartedAt)
		lines = append(lines, "⏱️ Session duration: "+formatDuration(elapsed))
		lines = append(lines, fmt.Sprintf("🔢 Total queries: %d", stats.Queries))
	} else {
		lines = append(lines, "⚪ No active session")
	}

	if stats.Queries > 0 {
		totalIn := stats.TotalUsage.InputTokens
		totalOut := stats.TotalUsage.OutputTokens
		cacheRead := stats.TotalUsage.CacheReadInputTokens
		cacheWrite := stats.TotalUsage.CacheCreationInputTokens
		totalCache := cacheRead + cacheWrite

		lines = append(lines, "\n🧠 <b>Token Usage</b>")
		lines = append(lines, fmt.Sprintf("   Input: %d tokens", totalIn))
		lines = append(lines, fmt.Sprintf("   Output: %d tokens", totalOut))
		if totalCache > 0 {
			lines = append(lines, fmt.Sprintf("   Cache: %d tokens", totalCache))
			lines = append(lines, fmt.Sprintf("     └─ Read: %d", cacheRead))
			lines = append(lines, fmt.Sprintf("     └─ Create: %d", cacheWrite))
		}
		lines = append(lines, fmt.Sprintf("   <b>Total: %d tokens</b>", totalIn+totalOut))

		costIn := float64(totalIn) / 1e6 * priceInput
		costOut := float64(totalOut) / 1e6 * priceOutput
		costCache := float64(cacheRead)/1e6*priceCacheRead + float64(cacheWrite)/1e6*priceCacheWrite
		totalCost := costIn + costOut + costCache

		lines = append(lines, "\n💰 <b>Estimated Cost</b>")
		lines = append(lines, fmt.Sprintf("   Input: $%.4f", costIn))
		lines = append(lines, fmt.Sprintf("   Output: $%.4f", costOut))
		if totalCache > 0 {
			lines = append(lines, fmt.Sprintf("   Cache: $%.4f", costCache))
		}
		lines = append(lines, fmt.Sprintf("   <b>Total: $%.4f</b>", totalCost))

		if stats.Queries > 1 {
			lines = append(lines, "\n📈 <b>Per Query Average</b>")
			lines = append(lines, fmt.Sprintf("   Input: %d tokens", totalIn/stats.Queries))
			lines = append(lines, fmt.Sprintf("   Output: %d tokens", totalOut/stats.Queries))
			lines = append(lines, fmt.Sprintf("   Cost: $%.4f", totalCost/float64(stats.Queries)))
		}
	} else {
		lines = append(lines, "\n📭 No queries in this session yet")
	}

	if stats.LastUsage != nil {
		lines = append(lines, "\n🔍 <b>Last Query</b>")
		lines = append(lines, fmt.Sprintf("   Input: %d tokens", stats.LastUsage.InputTokens))
		lines = append(lines, fmt.Sprintf("   Output: %d tokens", stats.LastUsage.OutputTokens))
		if stats.LastUsage.CacheReadInputTokens > 0 {
			lines = append(lines, fmt.Sprintf("   Cache read: %d", stats.LastUsage.CacheReadInputTokens))
		}
	}

	lines = append(lines, "\n<i>Pricing: Claude Sonnet rates</i>")
	b.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) commandContext(ctx context.Context, chatID chat.ChatID) {
	budget := b.cfg.Session.ContextBudget()
	percent := int64(0)
	if budget.Limit > 0 {
		percent = budget.Used * 100 / budget.Limit
	}

	lines := []string{"🧮 <b>Context Budget</b>\n"}
	lines = append(lines, fmt.Sprintf("Estimated: %d / %d tokens (%d%%)",
		budget.Used, budget.Limit, percent))

	var flags []string
	if budget.Warned70 {
		flags = append(flags, "70%")
	}
	if budget.Warned85 {
		flags = append(flags, "85%")
	}
	if budget.SaveRequired {
		flags = append(flags, "save-required")
	}
	if budget.Warned95 {
		flags = append(flags, "95%")
	}
	if len(flags) > 0 {
		lines = append(lines, "Thresholds crossed: "+strings.Join(flags, ", "))
	} else {
		lines = append(lines, "No thresholds crossed")
	}
	if budget.RecentlyRestored {
		lines = append(lines, "\n<i>Recently restored: alarms are in cooldown.</i>")
	}
	b.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) commandResume(ctx context.Context, chatID chat.ChatID) {
	if b.cfg.Session.Active() {
		b.send(ctx, chatID, "Session already active. Use /new to start fresh first.")
		return
	}
	ok, message, err := b.cfg.Session.ResumeLast()
	switch {
	case err != nil:
		b.send(ctx, chatID, "❌ "+render.EscapeHTML(err.Error()))
	case ok:
		b.send(ctx, chatID, "✅ "+render.EscapeHTML(message))
	default:
		b.send(ctx, chatID, "❌ "+render.EscapeHTML(message))
	}
}

func (b *Bot) commandRetry(ctx context.Context, cmd *messaging.Command) {
	last := b.cfg.Session.LastMessage()
	if last == "" {
		b.send(ctx, cmd.Chat, "❌ No message to retry.")
		return
	}
	if b.cfg.Session.Running() {
		b.send(ctx, cmd.Chat, "⏳ A query is already running. Use /stop first.")
		return
	}

	preview := last
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	b.send(ctx, cmd.Chat, fmt.Sprintf("🔄 Retrying: \"%s\"", render.EscapeHTML(preview)))

	b.runPrompt(ctx, promptRequest{
		Chat:              cmd.Chat,
		From:              cmd.From,
		ReplyTo:           chat.MessageRef{Chat: cmd.Chat, Message: cmd.Message},
		Type:              "RETRY",
		Text:              last,
		RecordLastMessage: true,
	})
}

func (b *Bot) commandRestart(ctx context.Context, chatID chat.ChatID) {
	ref, err := b.cfg.Messenger.SendHTML(ctx, chatID, "🔄 Restarting bot...")
	if err != nil {
		b.cfg.Logger.Warn("sending restart notice failed", "error", err)
	}

	payload, _ := json.Marshal(restartData{
		ChatID:      int64(chatID),
		MessageID:   int64(ref.Message),
		TimestampMS: b.cfg.Clock.Now().UnixMilli(),
	})
	if err := os.WriteFile(b.cfg.App.RestartFile, payload, 0o644); err != nil {
		b.cfg.Logger.Warn("writing restart file failed", "error", err)
	}

	// Give the notice a moment to flush before the supervisor
	// relaunches us.
	b.cfg.Clock.Sleep(500 * time.Millisecond)
	b.cfg.Exit(0)
}

func (b *Bot) commandCron(ctx context.Context, chatID chat.ChatID, args string) {
	if b.cfg.Scheduler == nil {
		b.send(ctx, chatID, "No scheduler configured")
		return
	}

	if strings.EqualFold(strings.TrimSpace(args), "reload") {
		count, err := b.cfg.Scheduler.Reload()
		switch {
		case err != nil:
			b.send(ctx, chatID, "❌ "+render.EscapeHTML(err.Error()))
		case count == 0:
			b.send(ctx, chatID, "⚠️ No schedules found in cron.yaml")
		case count == 1:
			b.send(ctx, chatID, "🔄 Reloaded 1 scheduled job")
		default:
			b.send(ctx, chatID, fmt.Sprintf("🔄 Reloaded %d scheduled jobs", count))
		}
		return
	}

	status := b.cfg.Scheduler.StatusHTML()
	note := "\n\n<i>cron.yaml is auto-monitored for changes.\nYou can also use /cron reload to force reload.</i>"
	b.send(ctx, chatID, status+note)
}

// formatDuration renders an elapsed duration as 1h 2m 3s, dropping
// leading zero units.
func formatDuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
