// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
)

// rawUpdate mirrors the Bot API Update object, limited to the fields
// the bridge consumes.
type rawUpdate struct {
	UpdateID int64       `json:"update_id"`
	Message  *rawMessage `json:"message"`
	Callback *struct {
		ID   string  `json:"id"`
		From rawUser `json:"from"`
		Data string  `json:"data"`
		Msg  *struct {
			MessageID int64 `json:"message_id"`
			Chat      struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

type rawUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type rawMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From         *rawUser `json:"from"`
	Text         string   `json:"text"`
	Caption      string   `json:"caption"`
	MediaGroupID string   `json:"media_group_id"`
	Voice        *struct {
		FileID   string `json:"file_id"`
		Duration int    `json:"duration"`
	} `json:"voice"`
	Photo    []rawPhotoSize `json:"photo"`
	Document *struct {
		FileID   string `json:"file_id"`
		FileName string `json:"file_name"`
		MIMEType string `json:"mime_type"`
		FileSize int64  `json:"file_size"`
	} `json:"document"`
}

type rawPhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Poll long-polls getUpdates and delivers decoded updates until ctx is
// cancelled. Unsupported update kinds are skipped.
func (c *Client) Poll(ctx context.Context, deliver func(messaging.Update)) error {
	var offset int64
	for {
		var raws []rawUpdate
		err := c.call(ctx, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         50,
			"allowed_updates": []string{"message", "callback_query"},
		}, &raws)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("telegram: getUpdates failed, retrying", "error", err)
			continue
		}
		for _, raw := range raws {
			if raw.UpdateID >= offset {
				offset = raw.UpdateID + 1
			}
			if update, ok := decodeUpdate(raw); ok {
				deliver(update)
			}
		}
	}
}

func decodeUpdate(raw rawUpdate) (messaging.Update, bool) {
	if raw.Callback != nil {
		callback := &messaging.CallbackQuery{
			From:       messaging.Sender{User: chat.UserID(raw.Callback.From.ID), Username: raw.Callback.From.Username},
			CallbackID: raw.Callback.ID,
			Data:       raw.Callback.Data,
		}
		if raw.Callback.Msg != nil {
			callback.Chat = chat.ChatID(raw.Callback.Msg.Chat.ID)
			callback.Message = chat.MessageRef{
				Chat:    chat.ChatID(raw.Callback.Msg.Chat.ID),
				Message: chat.MessageID(raw.Callback.Msg.MessageID),
			}
		}
		return messaging.Update{Callback: callback}, true
	}

	message := raw.Message
	if message == nil || message.From == nil {
		return messaging.Update{}, false
	}
	sender := messaging.Sender{User: chat.UserID(message.From.ID), Username: message.From.Username}
	chatID := chat.ChatID(message.Chat.ID)
	messageID := chat.MessageID(message.MessageID)

	switch {
	case message.Voice != nil:
		return messaging.Update{Voice: &messaging.VoiceMessage{
			Chat: chatID, From: sender, Message: messageID,
			FileID:          message.Voice.FileID,
			DurationSeconds: message.Voice.Duration,
		}}, true

	case len(message.Photo) > 0:
		best := message.Photo[0]
		for _, size := range message.Photo[1:] {
			if size.Width*size.Height > best.Width*best.Height {
				best = size
			}
		}
		return messaging.Update{Photo: &messaging.PhotoMessage{
			Chat: chatID, From: sender, Message: messageID,
			FileID:       best.FileID,
			Caption:      message.Caption,
			MediaGroupID: message.MediaGroupID,
		}}, true

	case message.Document != nil:
		return messaging.Update{Document: &messaging.DocumentMessage{
			Chat: chatID, From: sender, Message: messageID,
			FileID:       message.Document.FileID,
			FileName:     message.Document.FileName,
			MIMEType:     message.Document.MIMEType,
			FileSize:     message.Document.FileSize,
			Caption:      message.Caption,
			MediaGroupID: message.MediaGroupID,
		}}, true

	case message.Text != "":
		if name, args, ok := parseCommand(message.Text); ok {
			return messaging.Update{Command: &messaging.Command{
				Chat: chatID, From: sender, Message: messageID,
				Name: name, Args: args,
			}}, true
		}
		return messaging.Update{Text: &messaging.TextMessage{
			Chat: chatID, From: sender, Message: messageID,
			Text: message.Text,
		}}, true
	}
	return messaging.Update{}, false
}

// parseCommand splits "/cmd@botname arg..." into a lowercase name and
// the trailing argument string.
func parseCommand(text string) (name, args string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	first, rest, _ := strings.Cut(trimmed, " ")
	name, _, _ = strings.Cut(strings.TrimPrefix(first, "/"), "@")
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(rest), true
}
