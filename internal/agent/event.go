// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "encoding/json"

// EventType classifies decoded stream events.
type EventType string

const (
	// EventTypeInit is the first event of a run. It carries the
	// session id used for later resumes.
	EventTypeInit EventType = "init"

	// EventTypeText is assistant response text.
	EventTypeText EventType = "text"

	// EventTypeThinking is a reasoning block from the assistant.
	EventTypeThinking EventType = "thinking"

	// EventTypeToolUse is a tool invocation by the assistant.
	EventTypeToolUse EventType = "tool_use"

	// EventTypeResult is the terminal event of a run, carrying final
	// usage and the concatenated result text.
	EventTypeResult EventType = "result"

	// EventTypeUnknown is any top-level type the decoder does not
	// recognize. The raw line is preserved; unknown events are never
	// fatal.
	EventTypeUnknown EventType = "unknown"
)

// Event is one decoded entry from the agent's NDJSON output stream.
// Exactly one of the payload pointers is set, matching Type.
type Event struct {
	Type EventType

	// SessionID is set on any event that carried a session id on the
	// wire, not only init events.
	SessionID string

	Text     *TextEvent
	Thinking *ThinkingEvent
	ToolUse  *ToolUseEvent
	Result   *ResultEvent

	// Raw preserves the original line for unknown events.
	Raw json.RawMessage
}

// TextEvent is assistant response text.
type TextEvent struct {
	Text string

	// Snapshot is true when Text is the full joined text of an
	// all-text assistant message rather than an incremental block.
	// The pipeline diffs snapshots against the text seen so far.
	Snapshot bool
}

// ThinkingEvent is a reasoning block.
type ThinkingEvent struct {
	Text string
}

// ToolUseEvent is a tool invocation.
type ToolUseEvent struct {
	ID    string
	Name  string
	Input map[string]any
}

// StringInput returns the named input field if it is a string.
func (e *ToolUseEvent) StringInput(key string) string {
	if e.Input == nil {
		return ""
	}
	if value, ok := e.Input[key].(string); ok {
		return value
	}
	return ""
}

// ResultEvent is the run's terminal event.
type ResultEvent struct {
	Text       string
	IsError    bool
	Usage      *Usage
	DurationMS int64
	NumTurns   int
}

// Usage is the token accounting reported by the agent.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

// ContextTokens is the number of tokens occupying the context window
// after the query this usage describes.
func (u *Usage) ContextTokens() int64 {
	return u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens + u.OutputTokens
}

// Add accumulates other into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
}
