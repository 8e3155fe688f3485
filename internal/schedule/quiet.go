// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"context"
	"sync/atomic"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
)

// QuietMessenger suppresses the streaming chatter of a scheduled run:
// sends and edits become no-ops with minted refs so the renderer keeps
// working against them. Keyboards and callback answers pass through,
// because an ask-user question from a cron job still needs the user.
type QuietMessenger struct {
	real   messaging.Messenger
	nextID atomic.Int64
}

// NewQuietMessenger wraps real for one scheduled run.
func NewQuietMessenger(real messaging.Messenger) *QuietMessenger {
	return &QuietMessenger{real: real}
}

func (q *QuietMessenger) mint(chatID chat.ChatID) chat.MessageRef {
	return chat.MessageRef{Chat: chatID, Message: chat.MessageID(q.nextID.Add(1))}
}

func (q *QuietMessenger) Capabilities() messaging.Capabilities {
	return q.real.Capabilities()
}

func (q *QuietMessenger) SendHTML(_ context.Context, chatID chat.ChatID, _ string) (chat.MessageRef, error) {
	return q.mint(chatID), nil
}

func (q *QuietMessenger) EditHTML(context.Context, chat.MessageRef, string) error {
	return nil
}

func (q *QuietMessenger) DeleteMessage(context.Context, chat.MessageRef) error {
	return nil
}

func (q *QuietMessenger) SendChatAction(context.Context, chat.ChatID, messaging.ChatAction) error {
	return nil
}

func (q *QuietMessenger) SetReaction(context.Context, chat.MessageRef, string) error {
	return nil
}

func (q *QuietMessenger) SendKeyboard(ctx context.Context, chatID chat.ChatID, text string, keyboard messaging.Keyboard) (chat.MessageRef, error) {
	return q.real.SendKeyboard(ctx, chatID, text, keyboard)
}

func (q *QuietMessenger) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return q.real.AnswerCallback(ctx, callbackID, text)
}
