// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"os"
	"strings"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/render"
)

// voicePreviewChars bounds the transcript echoed back into the status
// message.
const voicePreviewChars = 300

func (b *Bot) handleVoice(ctx context.Context, msg *messaging.VoiceMessage) {
	if b.cfg.Transcriber == nil {
		b.send(ctx, msg.Chat, "Voice transcription is not configured. Set OPENAI_API_KEY in .env")
		return
	}
	if !b.allowRate(ctx, msg.Chat, msg.From) {
		return
	}

	status, err := b.cfg.Messenger.SendHTML(ctx, msg.Chat, "🎤 Transcribing...")
	if err != nil {
		b.cfg.Logger.Warn("sending voice status failed", "error", err)
	}

	path, err := b.download(ctx, msg.FileID, "voice.ogg")
	if err != nil {
		b.send(ctx, msg.Chat, "❌ Failed to download voice: "+render.EscapeHTML(truncateError(err, 200)))
		return
	}
	defer os.Remove(path)

	text, err := b.cfg.Transcriber.TranscribeFile(ctx, path, b.cfg.App.TranscriptionPrompt)
	if err != nil {
		b.cfg.Logger.Warn("transcription failed", "error", err)
		b.editStatus(ctx, status, "❌ Transcription failed.")
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		b.editStatus(ctx, status, "❌ Transcription returned no text.")
		return
	}

	preview := text
	if len(preview) > voicePreviewChars {
		preview = truncateChars(preview, voicePreviewChars) + "..."
	}
	b.editStatus(ctx, status, "🎤 \""+render.EscapeHTML(preview)+"\"")

	b.runPrompt(ctx, promptRequest{
		Chat:          msg.Chat,
		From:          msg.From,
		ReplyTo:       chat.MessageRef{Chat: msg.Chat, Message: msg.Message},
		Type:          "VOICE",
		Text:          text,
		SkipRateLimit: true,
	})
}

func (b *Bot) editStatus(ctx context.Context, ref chat.MessageRef, html string) {
	if ref.Zero() {
		return
	}
	if err := b.cfg.Messenger.EditHTML(ctx, ref, html); err != nil {
		b.cfg.Logger.Debug("editing status message failed", "error", err)
	}
}
