// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"strings"

	"github.com/covebridge/courier/internal/audit"
	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/safety"
)

// HandleUpdate routes one inbound update. Callers run it on its own
// goroutine; the per-chat lock inside provides the ordering guarantee
// for normal messages.
func (b *Bot) HandleUpdate(ctx context.Context, update messaging.Update) {
	switch {
	case update.Callback != nil:
		b.handleCallback(ctx, update.Callback)

	case update.Command != nil:
		cmd := update.Command
		if !b.authorize(ctx, cmd.Chat, cmd.From, "") {
			return
		}
		b.handleCommand(ctx, cmd)

	case update.Text != nil:
		msg := update.Text
		if !b.authorize(ctx, msg.Chat, msg.From, "") {
			return
		}
		b.handleText(ctx, msg)

	case update.Voice != nil:
		msg := update.Voice
		if !b.authorize(ctx, msg.Chat, msg.From, "") {
			return
		}
		unlock := b.locks.lock(msg.Chat)
		defer unlock()
		b.handleVoice(ctx, msg)

	case update.Photo != nil:
		msg := update.Photo
		if !b.authorize(ctx, msg.Chat, msg.From, "") {
			return
		}
		if msg.MediaGroupID == "" {
			unlock := b.locks.lock(msg.Chat)
			defer unlock()
		}
		b.handlePhoto(ctx, msg)

	case update.Document != nil:
		msg := update.Document
		if !b.authorize(ctx, msg.Chat, msg.From, "") {
			return
		}
		if msg.MediaGroupID == "" {
			unlock := b.locks.lock(msg.Chat)
			defer unlock()
		}
		b.handleDocument(ctx, msg)
	}
}

// authorize checks the allowlist. Unauthorized callers get a single
// notice and an audit record.
func (b *Bot) authorize(ctx context.Context, chatID chat.ChatID, from messaging.Sender, callbackID string) bool {
	if safety.IsAuthorized(from.User, b.cfg.App.AllowedUsers) {
		return true
	}
	b.writeAudit(audit.Auth(from.User, from.Username, false))
	if callbackID != "" {
		if err := b.cfg.Messenger.AnswerCallback(ctx, callbackID, "Unauthorized"); err != nil {
			b.cfg.Logger.Warn("answering unauthorized callback failed", "error", err)
		}
		return false
	}
	if _, err := b.cfg.Messenger.SendHTML(ctx, chatID, "Unauthorized. Contact the bot owner for access."); err != nil {
		b.cfg.Logger.Warn("sending unauthorized notice failed", "error", err)
	}
	return false
}

// handleText applies the interrupt and steering rules before running
// the prompt.
func (b *Bot) handleText(ctx context.Context, msg *messaging.TextMessage) {
	text := msg.Text
	isInterrupt := strings.HasPrefix(text, "!")
	if isInterrupt {
		text = strings.TrimSpace(strings.TrimPrefix(text, "!"))
	}

	if isInterrupt && b.cfg.Session.Running() {
		b.cfg.Session.MarkInterrupt()
		b.stopRunning()
	}

	if strings.TrimSpace(text) == "" {
		return
	}

	// A message arriving mid-query without the interrupt prefix is
	// steering: queue it for injection at the next tool boundary and
	// acknowledge with a reaction.
	if !isInterrupt && b.cfg.Session.Running() {
		ref := chat.MessageRef{Chat: msg.Chat, Message: msg.Message}
		if !b.cfg.Session.PushSteering(text) {
			if _, err := b.cfg.Messenger.SendHTML(ctx, msg.Chat, "⚠️ Steering buffer full, message dropped."); err != nil {
				b.cfg.Logger.Warn("sending steering notice failed", "error", err)
			}
			return
		}
		if err := b.cfg.Messenger.SetReaction(ctx, ref, "👀"); err != nil {
			b.cfg.Logger.Debug("steering reaction failed", "error", err)
		}
		return
	}

	unlock := b.locks.lock(msg.Chat)
	defer unlock()

	b.runPrompt(ctx, promptRequest{
		Chat:              msg.Chat,
		From:              msg.From,
		ReplyTo:           chat.MessageRef{Chat: msg.Chat, Message: msg.Message},
		Type:              "TEXT",
		Text:              text,
		RecordLastMessage: true,
	})
}
