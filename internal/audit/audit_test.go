// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/lib/clock"
)

func newTestLogger(t *testing.T, jsonLines bool) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	return NewLogger(path, jsonLines, clk), path
}

func TestWriteJSONLines(t *testing.T) {
	logger, path := newTestLogger(t, true)

	if err := logger.Write(Message(chat.UserID(7), "alice", "TEXT", "hello", "world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := logger.Write(Auth(chat.UserID(8), "bob", false)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Event != "message" || first.UserID != 7 || first.Content != "hello" {
		t.Fatalf("first = %+v", first)
	}
	if first.Timestamp != "2026-03-01T09:30:00Z" {
		t.Fatalf("timestamp = %q", first.Timestamp)
	}

	var second Event
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if second.Authorized == nil || *second.Authorized {
		t.Fatalf("second = %+v", second)
	}
}

func TestWriteHumanBlocks(t *testing.T) {
	logger, path := newTestLogger(t, false)

	input := map[string]any{"command": "rm -rf /data"}
	if err := logger.Write(ToolUse(chat.UserID(7), "alice", "Bash", input, true, "blocked pattern")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		strings.Repeat("=", 60),
		"event: tool_use",
		"tool_name: Bash",
		"blocked: true",
		"reason: blocked pattern",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("log missing %q:\n%s", want, text)
		}
	}
}

func TestWriteTruncatesLongContent(t *testing.T) {
	logger, path := newTestLogger(t, true)

	long := strings.Repeat("x", 2000)
	if err := logger.Write(Message(chat.UserID(1), "u", "TEXT", long, "")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(event.Content) != maxText+3 || !strings.HasSuffix(event.Content, "...") {
		t.Fatalf("content length = %d", len(event.Content))
	}
}

func TestWriteTruncatesNestedToolInput(t *testing.T) {
	logger, path := newTestLogger(t, true)

	input := map[string]any{
		"outer": map[string]any{"inner": strings.Repeat("y", 1000)},
		"list":  []any{strings.Repeat("z", 1000)},
	}
	if err := logger.Write(ToolUse(chat.UserID(1), "u", "Write", input, false, "")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, _ := os.ReadFile(path)
	var event Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	inner := event.ToolInput["outer"].(map[string]any)["inner"].(string)
	if len(inner) != maxText+3 {
		t.Fatalf("inner length = %d", len(inner))
	}
	item := event.ToolInput["list"].([]any)[0].(string)
	if len(item) != maxText+3 {
		t.Fatalf("list item length = %d", len(item))
	}
}

func TestNilLoggerDiscards(t *testing.T) {
	var logger *Logger
	if err := logger.Write(Auth(chat.UserID(1), "u", true)); err != nil {
		t.Fatalf("nil logger should discard, got %v", err)
	}
}
