// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "github.com/covebridge/courier/internal/chat"

// Update is the transport-neutral inbound event. Exactly one of the
// pointer fields is set.
type Update struct {
	Command  *Command
	Text     *TextMessage
	Voice    *VoiceMessage
	Photo    *PhotoMessage
	Document *DocumentMessage
	Callback *CallbackQuery
}

// Sender identifies the authoring user of an update.
type Sender struct {
	User     chat.UserID
	Username string
}

// Command is a slash command, split into name and trailing argument.
type Command struct {
	Chat    chat.ChatID
	From    Sender
	Message chat.MessageID
	Name    string
	Args    string
}

// TextMessage is an ordinary text message, including `!`-prefixed
// interrupts (the prefix is preserved; the router strips it).
type TextMessage struct {
	Chat    chat.ChatID
	From    Sender
	Message chat.MessageID
	Text    string
}

// VoiceMessage references a voice note by platform file id.
type VoiceMessage struct {
	Chat            chat.ChatID
	From            Sender
	Message         chat.MessageID
	FileID          string
	DurationSeconds int
}

// PhotoMessage references the largest available size of a photo.
// MediaGroupID groups album members.
type PhotoMessage struct {
	Chat         chat.ChatID
	From         Sender
	Message      chat.MessageID
	FileID       string
	Caption      string
	MediaGroupID string
}

// DocumentMessage references an attached file.
type DocumentMessage struct {
	Chat         chat.ChatID
	From         Sender
	Message      chat.MessageID
	FileID       string
	FileName     string
	MIMEType     string
	FileSize     int64
	Caption      string
	MediaGroupID string
}

// CallbackQuery is a button tap on an inline keyboard.
type CallbackQuery struct {
	Chat       chat.ChatID
	From       Sender
	CallbackID string
	Data       string
	Message    chat.MessageRef
}
