// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telegram implements the messaging port over the Telegram
// Bot API. One Client serves both directions: outbound methods behind
// messaging.Messenger and inbound long polling via GetUpdates.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Token is the bot token from BotFather. Required.
	Token string
	// BaseURL overrides the API endpoint, mainly for tests. Defaults
	// to https://api.telegram.org.
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client with a
	// 75s timeout is used (long polls run up to 50s server-side).
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client talks to the Telegram Bot API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the config and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("telegram: Token is required")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 75 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:      config.Token,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Error is a Bot API failure. Code is the HTTP-level error_code from
// the response envelope; RetryAfter is non-zero on 429 responses.
type Error struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram: %s (code %d, retry after %s)", e.Description, e.Code, e.RetryAfter)
	}
	return fmt.Sprintf("telegram: %s (code %d)", e.Description, e.Code)
}

// IsRateLimited reports whether e is a flood-control rejection.
func (e *Error) IsRateLimited() bool { return e.Code == http.StatusTooManyRequests }

// apiEnvelope is the uniform Bot API response wrapper.
type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// call invokes one Bot API method with a JSON body and decodes the
// result into out (when out is non-nil).
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	var body io.Reader
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("telegram: encode %s params: %w", method, err)
		}
		body = bytes.NewReader(encoded)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("telegram: build %s request: %w", method, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("telegram: parse %s response (status %d): %w", method, response.StatusCode, err)
	}
	if !envelope.OK {
		apiError := &Error{Code: envelope.ErrorCode, Description: envelope.Description}
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			apiError.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return apiError
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("telegram: parse %s result: %w", method, err)
		}
	}
	return nil
}

// Capabilities reports the Telegram feature set and message limits.
func (c *Client) Capabilities() messaging.Capabilities {
	return messaging.Capabilities{
		SupportsEdit:            true,
		SupportsReactions:       true,
		SupportsChatActions:     true,
		SupportsInlineKeyboards: true,
		MaxMessageLen:           4096,
		SafeMessageLen:          4000,
	}
}

// messageResult is the subset of a Message response the bridge needs.
type messageResult struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// SendHTML sends a message with HTML parse mode. If the platform
// rejects the entity markup it retries once as plain text so the user
// still sees the content.
func (c *Client) SendHTML(ctx context.Context, chatID chat.ChatID, html string) (chat.MessageRef, error) {
	var result messageResult
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  int64(chatID),
		"text":                     html,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}, &result)
	if isParseError(err) {
		c.logger.Debug("telegram: HTML rejected, resending as plain text", "chat", chatID)
		err = c.call(ctx, "sendMessage", map[string]any{
			"chat_id": int64(chatID),
			"text":    html,
		}, &result)
	}
	if err != nil {
		return chat.MessageRef{}, err
	}
	return chat.MessageRef{Chat: chat.ChatID(result.Chat.ID), Message: chat.MessageID(result.MessageID)}, nil
}

// EditHTML replaces the text of an existing message, with the same
// plain-text fallback as SendHTML.
func (c *Client) EditHTML(ctx context.Context, ref chat.MessageRef, html string) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":                  int64(ref.Chat),
		"message_id":               int64(ref.Message),
		"text":                     html,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}, nil)
	if isParseError(err) {
		err = c.call(ctx, "editMessageText", map[string]any{
			"chat_id":    int64(ref.Chat),
			"message_id": int64(ref.Message),
			"text":       html,
		}, nil)
	}
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, ref chat.MessageRef) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    int64(ref.Chat),
		"message_id": int64(ref.Message),
	}, nil)
}

func (c *Client) SendChatAction(ctx context.Context, chatID chat.ChatID, action messaging.ChatAction) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": int64(chatID),
		"action":  string(action),
	}, nil)
}

func (c *Client) SetReaction(ctx context.Context, ref chat.MessageRef, emoji string) error {
	var reaction []map[string]any
	if emoji != "" {
		reaction = []map[string]any{{"type": "emoji", "emoji": emoji}}
	}
	return c.call(ctx, "setMessageReaction", map[string]any{
		"chat_id":    int64(ref.Chat),
		"message_id": int64(ref.Message),
		"reaction":   reaction,
	}, nil)
}

func (c *Client) SendKeyboard(ctx context.Context, chatID chat.ChatID, text string, keyboard messaging.Keyboard) (chat.MessageRef, error) {
	rows := make([][]map[string]string, 0, len(keyboard.Buttons))
	for _, button := range keyboard.Buttons {
		rows = append(rows, []map[string]string{{
			"text":          button.Label,
			"callback_data": button.CallbackData,
		}})
	}
	var result messageResult
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":      int64(chatID),
		"text":         text,
		"reply_markup": map[string]any{"inline_keyboard": rows},
	}, &result)
	if err != nil {
		return chat.MessageRef{}, err
	}
	return chat.MessageRef{Chat: chat.ChatID(result.Chat.ID), Message: chat.MessageID(result.MessageID)}, nil
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// Me identifies the bot account.
type Me struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// GetMe fetches the bot's own account info.
func (c *Client) GetMe(ctx context.Context) (*Me, error) {
	var me Me
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// DownloadFile resolves fileID through getFile and streams the file
// contents to destPath.
func (c *Client) DownloadFile(ctx context.Context, fileID, destPath string) error {
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return err
	}
	if file.FilePath == "" {
		return fmt.Errorf("telegram: getFile returned no path for %s", fileID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, file.FilePath)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("telegram: build download request: %w", err)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("telegram: download %s: %w", fileID, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: download %s: status %d", fileID, response.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("telegram: create %s: %w", destPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, response.Body); err != nil {
		return fmt.Errorf("telegram: write %s: %w", destPath, err)
	}
	return nil
}

// isParseError detects entity-parse rejections that warrant a
// plain-text retry.
func isParseError(err error) bool {
	apiError, ok := err.(*Error)
	if !ok {
		return false
	}
	return apiError.Code == http.StatusBadRequest &&
		strings.Contains(apiError.Description, "can't parse entities")
}
