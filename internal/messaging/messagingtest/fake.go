// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messagingtest provides an in-memory Messenger for tests. It
// records every outbound call and mints sequential message ids.
package messagingtest

import (
	"context"
	"sync"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
)

// Call records one outbound operation.
type Call struct {
	Op         string // "send", "edit", "delete", "action", "reaction", "keyboard", "answer"
	Chat       chat.ChatID
	Ref        chat.MessageRef
	Body       string
	Emoji      string
	Action     messaging.ChatAction
	Keyboard   messaging.Keyboard
	CallbackID string
}

// Fake is a recording Messenger. The zero value is not usable; create
// with New.
type Fake struct {
	// Capability flags applied to Capabilities(). Defaults to a full
	// featured platform with Telegram-like limits.
	Caps messaging.Capabilities

	// FailWith, when non-nil, is returned from every outbound call.
	// Tests set it to simulate transport errors (for example a 429).
	FailWith error

	mu     sync.Mutex
	nextID chat.MessageID
	calls  []Call

	// current content per live message, keyed by ref
	content map[chat.MessageRef]string
	deleted map[chat.MessageRef]bool
}

// New returns a Fake with Telegram-shaped capabilities.
func New() *Fake {
	return &Fake{
		Caps: messaging.Capabilities{
			SupportsEdit:            true,
			SupportsReactions:       true,
			SupportsChatActions:     true,
			SupportsInlineKeyboards: true,
			MaxMessageLen:           4096,
			SafeMessageLen:          4000,
		},
		nextID:  100,
		content: make(map[chat.MessageRef]string),
		deleted: make(map[chat.MessageRef]bool),
	}
}

func (f *Fake) record(c Call) {
	f.calls = append(f.calls, c)
}

// Calls returns a copy of all recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsOf returns recorded calls filtered by op.
func (f *Fake) CallsOf(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Content returns the latest body of a live message, or "" if deleted
// or never sent.
func (f *Fake) Content(ref chat.MessageRef) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted[ref] {
		return ""
	}
	return f.content[ref]
}

// Deleted reports whether ref was deleted.
func (f *Fake) Deleted(ref chat.MessageRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[ref]
}

func (f *Fake) Capabilities() messaging.Capabilities { return f.Caps }

func (f *Fake) SendHTML(_ context.Context, chatID chat.ChatID, html string) (chat.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return chat.MessageRef{}, f.FailWith
	}
	f.nextID++
	ref := chat.MessageRef{Chat: chatID, Message: f.nextID}
	f.content[ref] = html
	f.record(Call{Op: "send", Chat: chatID, Ref: ref, Body: html})
	return ref, nil
}

func (f *Fake) EditHTML(_ context.Context, ref chat.MessageRef, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	f.content[ref] = html
	f.record(Call{Op: "edit", Chat: ref.Chat, Ref: ref, Body: html})
	return nil
}

func (f *Fake) DeleteMessage(_ context.Context, ref chat.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	f.deleted[ref] = true
	f.record(Call{Op: "delete", Chat: ref.Chat, Ref: ref})
	return nil
}

func (f *Fake) SendChatAction(_ context.Context, chatID chat.ChatID, action messaging.ChatAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	f.record(Call{Op: "action", Chat: chatID, Action: action})
	return nil
}

func (f *Fake) SetReaction(_ context.Context, ref chat.MessageRef, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	f.record(Call{Op: "reaction", Chat: ref.Chat, Ref: ref, Emoji: emoji})
	return nil
}

func (f *Fake) SendKeyboard(_ context.Context, chatID chat.ChatID, text string, keyboard messaging.Keyboard) (chat.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return chat.MessageRef{}, f.FailWith
	}
	f.nextID++
	ref := chat.MessageRef{Chat: chatID, Message: f.nextID}
	f.content[ref] = text
	f.record(Call{Op: "keyboard", Chat: chatID, Ref: ref, Body: text, Keyboard: keyboard})
	return ref, nil
}

func (f *Fake) AnswerCallback(_ context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	f.record(Call{Op: "answer", CallbackID: callbackID, Body: text})
	return nil
}
