// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat holds the identity types shared across the bridge:
// platform-issued chat, user, and message identifiers.
package chat

import "fmt"

// UserID is the chat platform's numeric account identifier. It is the
// principal for authorization and rate limiting.
type UserID int64

// ChatID is a numeric conversation identifier. One active agent
// session is associated with a chat at a time.
type ChatID int64

// MessageID identifies a message within a chat.
type MessageID int64

// MessageRef addresses one message for edits, deletes, and reactions.
type MessageRef struct {
	Chat    ChatID
	Message MessageID
}

func (r MessageRef) String() string {
	return fmt.Sprintf("%d/%d", r.Chat, r.Message)
}

// Zero reports whether the ref is the zero value (no message).
func (r MessageRef) Zero() bool { return r.Chat == 0 && r.Message == 0 }
