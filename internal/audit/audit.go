// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit appends a tamper-evident record of user activity:
// messages, authorization outcomes, tool invocations, errors, and
// rate-limit hits. Records go to a single append-only file, either as
// JSON lines or in a human-readable block format.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/lib/clock"
)

// maxText bounds free-text fields so one pasted file cannot bloat the
// log.
const maxText = 500

// Event is one audit record.
type Event struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`

	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	MessageType string `json:"message_type,omitempty"`
	Content     string `json:"content,omitempty"`
	Response    string `json:"response,omitempty"`

	Authorized *bool `json:"authorized,omitempty"`

	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Blocked   *bool          `json:"blocked,omitempty"`
	Reason    string         `json:"reason,omitempty"`

	Error   string `json:"error,omitempty"`
	Context string `json:"context,omitempty"`

	RetryAfter float64 `json:"retry_after,omitempty"`
}

// Message records a user message and the bridge's response.
func Message(user chat.UserID, username, messageType, content, response string) Event {
	return Event{
		Event:       "message",
		UserID:      int64(user),
		Username:    username,
		MessageType: messageType,
		Content:     content,
		Response:    response,
	}
}

// Auth records an authorization decision.
func Auth(user chat.UserID, username string, authorized bool) Event {
	return Event{
		Event:      "auth",
		UserID:     int64(user),
		Username:   username,
		Authorized: &authorized,
	}
}

// ToolUse records a tool invocation, including blocked ones.
func ToolUse(user chat.UserID, username, toolName string, input map[string]any, blocked bool, reason string) Event {
	return Event{
		Event:     "tool_use",
		UserID:    int64(user),
		Username:  username,
		ToolName:  toolName,
		ToolInput: input,
		Blocked:   &blocked,
		Reason:    reason,
	}
}

// Error records a failure surfaced to the user.
func Error(user chat.UserID, username, message, context string) Event {
	return Event{
		Event:    "error",
		UserID:   int64(user),
		Username: username,
		Error:    message,
		Context:  context,
	}
}

// RateLimit records a rejected request and the suggested wait.
func RateLimit(user chat.UserID, username string, retryAfter time.Duration) Event {
	return Event{
		Event:      "rate_limit",
		UserID:     int64(user),
		Username:   username,
		RetryAfter: retryAfter.Seconds(),
	}
}

// Logger appends events to a file. A nil *Logger discards events, so
// callers never need to guard audit calls on configuration.
type Logger struct {
	path  string
	json  bool
	clock clock.Clock

	mu sync.Mutex
}

// NewLogger writes to path. When jsonLines is true each event is one
// JSON object per line; otherwise a readable block format is used.
func NewLogger(path string, jsonLines bool, clk clock.Clock) *Logger {
	return &Logger{path: path, json: jsonLines, clock: clk}
}

// Path returns the log file location.
func (l *Logger) Path() string { return l.path }

// Write appends one event. Free-text fields are truncated first.
func (l *Logger) Write(event Event) error {
	if l == nil {
		return nil
	}

	event.Timestamp = l.clock.Now().UTC().Format(time.RFC3339)
	event.Content = truncate(event.Content)
	event.Response = truncate(event.Response)
	event.ToolInput = truncateStrings(event.ToolInput)

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: opening %s: %w", l.path, err)
	}
	defer file.Close()

	if l.json {
		line, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("audit: encoding event: %w", err)
		}
		if _, err := fmt.Fprintf(file, "%s\n", line); err != nil {
			return fmt.Errorf("audit: writing %s: %w", l.path, err)
		}
		return nil
	}

	if _, err := file.WriteString(formatBlock(event)); err != nil {
		return fmt.Errorf("audit: writing %s: %w", l.path, err)
	}
	return nil
}

// formatBlock renders the event as a separator line followed by one
// "key: value" line per set field, in a fixed order.
func formatBlock(event Event) string {
	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(strings.Repeat("=", 60))

	write := func(key, value string) {
		if value == "" {
			return
		}
		out.WriteString("\n")
		out.WriteString(key)
		out.WriteString(": ")
		out.WriteString(value)
	}

	write("timestamp", event.Timestamp)
	write("event", event.Event)
	if event.UserID != 0 {
		write("user_id", fmt.Sprintf("%d", event.UserID))
	}
	write("username", event.Username)
	write("message_type", event.MessageType)
	write("content", event.Content)
	write("response", event.Response)
	if event.Authorized != nil {
		write("authorized", fmt.Sprintf("%t", *event.Authorized))
	}
	write("tool_name", event.ToolName)
	if event.ToolInput != nil {
		if data, err := json.Marshal(event.ToolInput); err == nil {
			write("tool_input", string(data))
		}
	}
	if event.Blocked != nil {
		write("blocked", fmt.Sprintf("%t", *event.Blocked))
	}
	write("reason", event.Reason)
	write("error", event.Error)
	write("context", event.Context)
	if event.RetryAfter > 0 {
		write("retry_after", fmt.Sprintf("%.1f", event.RetryAfter))
	}
	out.WriteString("\n")
	return out.String()
}

func truncate(s string) string {
	if len(s) <= maxText {
		return s
	}
	cut := maxText
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}

// truncateStrings bounds every string value nested in a tool input.
func truncateStrings(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	out := make(map[string]any, len(value))
	for key, entry := range value {
		out[key] = truncateAny(entry)
	}
	return out
}

func truncateAny(value any) any {
	switch typed := value.(type) {
	case string:
		return truncate(typed)
	case map[string]any:
		return truncateStrings(typed)
	case []any:
		out := make([]any, len(typed))
		for i, entry := range typed {
			out[i] = truncateAny(entry)
		}
		return out
	default:
		return value
	}
}
