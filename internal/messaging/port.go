// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging defines the chat-transport port the bridge core
// renders into, plus transport-neutral update and keyboard types.
// Telegram is the first adapter; the surface is capability-flagged so
// other platforms can sit behind the same interface.
package messaging

import (
	"context"

	"github.com/covebridge/courier/internal/chat"
)

// Capabilities declares what a messenger implementation supports. The
// renderer degrades gracefully when a capability is absent.
type Capabilities struct {
	SupportsEdit            bool
	SupportsReactions       bool
	SupportsChatActions     bool
	SupportsInlineKeyboards bool

	// MaxMessageLen is the hard platform limit per message;
	// SafeMessageLen is the split target used for overflow chunks.
	MaxMessageLen  int
	SafeMessageLen int
}

// ChatAction is a transient activity indicator.
type ChatAction string

const (
	ActionTyping         ChatAction = "typing"
	ActionUploadPhoto    ChatAction = "upload_photo"
	ActionUploadDocument ChatAction = "upload_document"
)

// Button is one tappable inline-keyboard entry.
type Button struct {
	Label        string
	CallbackData string
}

// Keyboard is an inline keyboard laid out one button per row.
type Keyboard struct {
	Buttons []Button
}

// Messenger is the outbound chat-transport port.
type Messenger interface {
	Capabilities() Capabilities

	SendHTML(ctx context.Context, chatID chat.ChatID, html string) (chat.MessageRef, error)
	EditHTML(ctx context.Context, ref chat.MessageRef, html string) error
	DeleteMessage(ctx context.Context, ref chat.MessageRef) error

	SendChatAction(ctx context.Context, chatID chat.ChatID, action ChatAction) error
	SetReaction(ctx context.Context, ref chat.MessageRef, emoji string) error

	SendKeyboard(ctx context.Context, chatID chat.ChatID, text string, keyboard Keyboard) (chat.MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// FileFetcher downloads platform file references to local paths. Kept
// separate from Messenger so decorators that only shape outbound
// traffic need not forward it.
type FileFetcher interface {
	// DownloadFile fetches the platform file into destPath.
	DownloadFile(ctx context.Context, fileID, destPath string) error
}
