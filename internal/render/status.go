// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"
	"path"
	"strings"
)

// imageExtensions marks Read targets rendered as "Viewing" instead of
// "Reading".
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".svg"}

// ToolStatusLine formats one tool invocation for the chat, already
// HTML-escaped.
func ToolStatusLine(name string, input map[string]any) string {
	switch name {
	case "Bash":
		command := stringField(input, "command")
		if len(command) > 100 {
			command = command[:100] + "..."
		}
		return "🔧 Bash: <code>" + EscapeHTML(command) + "</code>"

	case "Read":
		target := stringField(input, "file_path")
		if isImagePath(target) {
			return "👀 Viewing: " + EscapeHTML(ShortenPath(target))
		}
		return "📖 Reading: " + EscapeHTML(ShortenPath(target))

	case "Write":
		return "📝 Writing: " + EscapeHTML(ShortenPath(stringField(input, "file_path")))

	case "Edit", "MultiEdit", "NotebookEdit":
		return "✏️ Editing: " + EscapeHTML(ShortenPath(stringField(input, "file_path")))

	case "Glob":
		return "🔍 Globbing: <code>" + EscapeHTML(stringField(input, "pattern")) + "</code>"

	case "Grep":
		return "🔍 Searching: <code>" + EscapeHTML(stringField(input, "pattern")) + "</code>"

	case "WebFetch":
		return "🌐 Fetching: " + EscapeHTML(stringField(input, "url"))

	case "WebSearch":
		return "🌐 Searching: " + EscapeHTML(stringField(input, "query"))

	case "Task":
		return "🤖 Subtask: " + EscapeHTML(stringField(input, "description"))

	case "TodoWrite":
		return "📋 Updating task list"
	}

	if strings.HasPrefix(name, "mcp__") {
		parts := strings.SplitN(name, "__", 3)
		label := parts[len(parts)-1]
		return "🔌 " + EscapeHTML(label)
	}
	return "⚙️ " + EscapeHTML(name)
}

// ShortenPath keeps the last two components of a path so status lines
// stay readable.
func ShortenPath(p string) string {
	if p == "" {
		return ""
	}
	dir, file := path.Split(strings.TrimSuffix(p, "/"))
	parent := path.Base(strings.TrimSuffix(dir, "/"))
	if parent == "." || parent == "/" || parent == "" {
		return file
	}
	return parent + "/" + file
}

func isImagePath(p string) bool {
	lower := strings.ToLower(p)
	for _, extension := range imageExtensions {
		if strings.HasSuffix(lower, extension) {
			return true
		}
	}
	return false
}

func stringField(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if value, ok := input[key].(string); ok {
		return value
	}
	return ""
}

// FormatElapsed renders a duration as m:ss for progress and completion
// footers.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
