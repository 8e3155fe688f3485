// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/covebridge/courier/internal/agent"
	"github.com/covebridge/courier/internal/audit"
	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/render"
	"github.com/covebridge/courier/internal/session"
)

// saveIDFileName is the handoff file read on startup and written after
// an auto-save.
const saveIDFileName = ".last-save-id"

// promptRequest is one prompt on its way to the runner.
type promptRequest struct {
	Chat    chat.ChatID
	From    messaging.Sender
	ReplyTo chat.MessageRef

	// Type labels the audit record: TEXT, VOICE, PHOTO, DOCUMENT,
	// ARCHIVE, CALLBACK, RETRY, STARTUP.
	Type string
	Text string

	RecordLastMessage bool
	SkipRateLimit     bool
	ForkSession       bool
}

// runPrompt executes one prompt end to end: rate limit, pending
// auto-save, typing loop, the query itself with a single retry on
// agent crash, then audit, alarms, and the cron queue drain.
func (b *Bot) runPrompt(ctx context.Context, req promptRequest) {
	if strings.TrimSpace(req.Text) == "" {
		return
	}
	if !req.SkipRateLimit && !b.allowRate(ctx, req.Chat, req.From) {
		return
	}

	// A crossed save threshold is acted on before the next real
	// prompt so the context survives a later compaction.
	if req.Type == "TEXT" && b.cfg.Session.SaveRequired() {
		b.autoSave(ctx, req.Chat, req.From)
	}

	if req.RecordLastMessage {
		b.cfg.Session.SetLastMessage(req.Text)
	}

	stopTyping := b.startTyping(ctx, req.Chat)
	defer stopTyping()

	out, err := b.query(ctx, req)

	switch {
	case err == nil:
		b.writeAudit(audit.Message(req.From.User, req.From.Username, req.Type, req.Text, out.Text))
		b.cfg.Session.NoteUserMessage()
		if !out.WaitingForUser && b.cfg.Scheduler != nil {
			b.cfg.Scheduler.ProcessQueue(ctx)
		}

	case errors.Is(err, session.ErrCancelled):
		b.notifyStopped(ctx, req.Chat)

	default:
		message := err.Error()
		if len(message) > 200 {
			message = message[:200] + "..."
		}
		b.send(ctx, req.Chat, "❌ Error: "+render.EscapeHTML(message))
		b.writeAudit(audit.Error(req.From.User, req.From.Username, message, req.Type))
	}

	for _, alarm := range out.Alarms {
		b.send(ctx, req.Chat, alarmMessage(alarm, b.cfg.Session.ContextBudget()))
	}
}

// query runs the prompt through the runner, retrying once with a
// fresh agent when the process crashes mid-query.
func (b *Bot) query(ctx context.Context, req promptRequest) (session.RunResult, error) {
	const maxRetries = 1
	var (
		out session.RunResult
		err error
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		sink := render.NewRenderer(b.cfg.Messenger, b.cfg.Clock, b.cfg.Logger, req.Chat, req.ReplyTo)
		out, err = b.cfg.Runner.Run(ctx, session.QueryRequest{
			ChatID:      req.Chat,
			User:        req.From.User,
			Username:    req.From.Username,
			Prompt:      req.Text,
			Sink:        sink,
			ForkSession: req.ForkSession,
		})

		var crash *agent.CrashError
		if errors.As(err, &crash) && attempt < maxRetries {
			b.cfg.Session.ClearSessionID()
			b.send(ctx, req.Chat, "⚠️ Claude crashed, retrying...")
			continue
		}
		break
	}

	if err == nil && out.Stopped {
		b.notifyStopped(ctx, req.Chat)
	}
	return out, err
}

// notifyStopped reports a stopped query unless the stop was an
// interrupt-and-replace, whose follow-up message speaks for itself.
func (b *Bot) notifyStopped(ctx context.Context, chatID chat.ChatID) {
	if b.cfg.Session.ConsumeInterruptFlag() {
		return
	}
	b.send(ctx, chatID, "🛑 Query stopped.")
}

// allowRate enforces the per-user limiter, telling the user how long
// to wait when throttled.
func (b *Bot) allowRate(ctx context.Context, chatID chat.ChatID, from messaging.Sender) bool {
	if b.cfg.Limiter == nil {
		return true
	}
	ok, retryAfter := b.cfg.Limiter.Check(from.User)
	if ok {
		return true
	}
	b.writeAudit(audit.RateLimit(from.User, from.Username, retryAfter))
	b.send(ctx, chatID, fmt.Sprintf("⏳ Rate limited. Please wait %.1f seconds.", retryAfter.Seconds()))
	return false
}

// startTyping sends a typing chat action every 3 seconds until the
// returned stop function is called.
func (b *Bot) startTyping(ctx context.Context, chatID chat.ChatID) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := b.cfg.Clock.NewTicker(3 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := b.cfg.Messenger.SendChatAction(ctx, chatID, messaging.ActionTyping); err != nil {
					b.cfg.Logger.Debug("chat action failed", "error", err)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

// autoSave asks the agent to persist its working context and records
// the save id for the next startup.
func (b *Bot) autoSave(ctx context.Context, chatID chat.ChatID, from messaging.Sender) {
	saveID := b.cfg.Clock.Now().Format("20060102_150405")
	b.send(ctx, chatID, fmt.Sprintf(
		"💾 <b>Auto-saving context</b>\n\nSave ID: <code>%s</code>", saveID))

	prompt := fmt.Sprintf("Skill tool with skill='oh-my-claude:save' and args='%s'", saveID)
	sink := render.NewRenderer(b.cfg.Messenger, b.cfg.Clock, b.cfg.Logger, chatID, chat.MessageRef{})
	_, err := b.cfg.Runner.Run(ctx, session.QueryRequest{
		ChatID:   chatID,
		User:     from.User,
		Username: from.Username,
		Prompt:   prompt,
		Sink:     sink,
	})
	if err != nil {
		b.cfg.Logger.Warn("auto-save failed", "error", err)
		b.send(ctx, chatID, "⚠️ Auto-save failed. Consider /new before the context fills up.")
		return
	}

	path := filepath.Join(b.cfg.Session.WorkingDir(), saveIDFileName)
	if err := os.WriteFile(path, []byte(saveID+"\n"), 0o644); err != nil {
		b.cfg.Logger.Warn("writing save id failed", "error", err, "path", path)
		return
	}
	b.cfg.Session.ClearSaveRequired()
	b.send(ctx, chatID, fmt.Sprintf("✅ Context saved: <code>%s</code>", saveID))
}

// alarmMessage renders one context-budget threshold notice.
func alarmMessage(alarm session.Alarm, budget session.ContextReport) string {
	percent := 0
	if budget.Limit > 0 {
		percent = int(budget.Used * 100 / budget.Limit)
	}
	usage := fmt.Sprintf("%d / %d tokens (%d%%)", budget.Used, budget.Limit, percent)

	switch alarm {
	case session.Alarm70:
		return "⚠️ <b>Context at 70%</b>\n\n" + usage + "\nConsider wrapping up or starting /new soon."
	case session.Alarm85:
		return "⚠️ <b>Context at 85%</b>\n\n" + usage + "\nAn auto-save will trigger at 90%."
	case session.AlarmSaveRequired:
		return "💾 <b>Context at 90%</b>\n\n" + usage + "\nThe next message will auto-save the working context first."
	case session.Alarm95:
		return "🚨 <b>Context at 95%</b>\n\n" + usage + "\nStart /new after the next save to avoid losing work."
	}
	return "⚠️ Context budget warning\n\n" + usage
}

// send is best-effort HTML delivery with overflow splitting.
func (b *Bot) send(ctx context.Context, chatID chat.ChatID, html string) {
	limit := b.cfg.App.SafeMessageLimit
	if limit <= 0 {
		limit = 4000
	}
	for _, chunk := range render.SplitHTML(html, limit) {
		if _, err := b.cfg.Messenger.SendHTML(ctx, chatID, chunk); err != nil {
			b.cfg.Logger.Warn("sending message failed", "error", err)
			return
		}
	}
}

func (b *Bot) writeAudit(event audit.Event) {
	if err := b.cfg.Audit.Write(event); err != nil {
		b.cfg.Logger.Warn("writing audit event failed", "error", err)
	}
}
