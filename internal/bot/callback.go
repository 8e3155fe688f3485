// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/render"
)

// callbackPrefix tags inline keyboard callbacks minted for ask-user
// requests; the suffix is "<request_id>:<option_index>".
const callbackPrefix = "askuser"

// handleCallback resolves an inline keyboard press: it edits the
// keyboard message to show the choice, deletes the request file, and
// feeds the selected option back to the agent as a prompt. A running
// query is stopped first so the answer lands in a fresh turn.
func (b *Bot) handleCallback(ctx context.Context, cb *messaging.CallbackQuery) {
	if !b.authorize(ctx, cb.Chat, cb.From, cb.CallbackID) {
		return
	}

	parts := strings.Split(cb.Data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		b.answerCallback(ctx, cb.CallbackID, "Invalid callback data")
		return
	}
	requestID := parts[1]
	index, err := strconv.Atoi(parts[2])
	if err != nil {
		b.answerCallback(ctx, cb.CallbackID, "Invalid option")
		return
	}

	request, err := b.cfg.Buttons.Load(requestID)
	if err != nil || request.ChatID.Chat() != cb.Chat {
		b.answerCallback(ctx, cb.CallbackID, "Request expired or invalid")
		return
	}
	if index < 0 || index >= len(request.Options) {
		b.answerCallback(ctx, cb.CallbackID, "Invalid option")
		return
	}
	selected := request.Options[index]

	if err := b.cfg.Messenger.EditHTML(ctx, cb.Message, "✓ "+render.EscapeHTML(selected)); err != nil {
		b.cfg.Logger.Debug("editing keyboard message failed", "error", err)
	}

	preview := selected
	if len(preview) > 50 {
		preview = truncateChars(preview, 50) + "..."
	}
	b.answerCallback(ctx, cb.CallbackID, "Selected: "+preview)

	if err := b.cfg.Buttons.Resolve(requestID); err != nil {
		b.cfg.Logger.Warn("resolving button request failed", "error", err, "request", requestID)
	}

	// The agent is normally blocked on the question; release it
	// without raising the stopped notice.
	if b.cfg.Session.Running() {
		b.cfg.Session.MarkInterrupt()
		b.stopRunning()
	}

	unlock := b.locks.lock(cb.Chat)
	defer unlock()

	b.runPrompt(ctx, promptRequest{
		Chat:          cb.Chat,
		From:          cb.From,
		Type:          "CALLBACK",
		Text:          selected,
		SkipRateLimit: true,
	})
}

func (b *Bot) answerCallback(ctx context.Context, callbackID, text string) {
	if err := b.cfg.Messenger.AnswerCallback(ctx, callbackID, text); err != nil {
		b.cfg.Logger.Debug("answering callback failed", "error", err)
	}
}
