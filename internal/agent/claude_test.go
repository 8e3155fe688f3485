// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"slices"
	"strings"
	"testing"
)

func TestBuildArgsMinimal(t *testing.T) {
	args := buildArgs(SpawnOptions{Prompt: "hello"})
	want := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", "bypassPermissions",
		"--dangerously-skip-permissions",
		"hello",
	}
	if !slices.Equal(args, want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func TestBuildArgsFull(t *testing.T) {
	args := buildArgs(SpawnOptions{
		Prompt:          "do the thing",
		Model:           "sonnet",
		SystemPrompt:    "be careful",
		AddDirs:         []string{"/work", "/data"},
		MCPConfigPath:   "/tmp/mcp.json",
		ResumeSessionID: "abc-123",
		ForkSession:     true,
	})

	assertPair := func(flag, value string) {
		t.Helper()
		i := slices.Index(args, flag)
		if i < 0 || i+1 >= len(args) || args[i+1] != value {
			t.Fatalf("expected %s %s in %v", flag, value, args)
		}
	}
	assertPair("--model", "sonnet")
	assertPair("--append-system-prompt", "be careful")
	assertPair("--resume", "abc-123")
	assertPair("--mcp-config", "/tmp/mcp.json")
	if !slices.Contains(args, "--fork-session") {
		t.Fatalf("expected --fork-session in %v", args)
	}
	dirIndex := slices.Index(args, "--add-dir")
	if dirIndex < 0 || args[dirIndex+1] != "/work" || args[dirIndex+2] != "/data" {
		t.Fatalf("expected --add-dir /work /data in %v", args)
	}
	if args[len(args)-1] != "do the thing" {
		t.Fatalf("prompt must be the last argument, got %v", args)
	}
}

func parseAll(t *testing.T, stream string) []Event {
	t.Helper()
	driver := &ClaudeDriver{}
	events := make(chan Event, 64)
	err := driver.ParseOutput(context.Background(), strings.NewReader(stream), events)
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	close(events)
	var out []Event
	for event := range events {
		out = append(out, event)
	}
	return out
}

func TestParseOutputInitCarriesSessionID(t *testing.T) {
	events := parseAll(t, `{"type":"system","subtype":"init","session_id":"sess-1"}`+"\n")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventTypeInit || events[0].SessionID != "sess-1" {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestParseOutputAllTextBecomesSnapshot(t *testing.T) {
	line := `{"type":"assistant","session_id":"s","message":{"content":[` +
		`{"type":"text","text":"Hello "},{"type":"text","text":"world"}]}}`
	events := parseAll(t, line+"\n")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	text := events[0].Text
	if text == nil || !text.Snapshot || text.Text != "Hello world" {
		t.Fatalf("text event = %+v", text)
	}
}

func TestParseOutputMixedBlocksFanOut(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"thinking","thinking":"hmm"},` +
		`{"type":"text","text":"Let me check."},` +
		`{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`
	events := parseAll(t, line+"\n")
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != EventTypeThinking || events[0].Thinking.Text != "hmm" {
		t.Fatalf("thinking event = %+v", events[0])
	}
	if events[1].Type != EventTypeText || events[1].Text.Snapshot {
		t.Fatalf("mixed-content text must not be a snapshot: %+v", events[1])
	}
	tool := events[2].ToolUse
	if events[2].Type != EventTypeToolUse || tool.Name != "Bash" || tool.StringInput("command") != "ls" {
		t.Fatalf("tool event = %+v", events[2])
	}
}

func TestParseOutputResult(t *testing.T) {
	line := `{"type":"result","session_id":"s","result":"done","is_error":false,` +
		`"duration_ms":1234,"num_turns":3,` +
		`"usage":{"input_tokens":10,"output_tokens":20,"cache_read_input_tokens":5,"cache_creation_input_tokens":2}}`
	events := parseAll(t, line+"\n")
	if len(events) != 1 || events[0].Type != EventTypeResult {
		t.Fatalf("events = %+v", events)
	}
	result := events[0].Result
	if result.Text != "done" || result.DurationMS != 1234 || result.NumTurns != 3 {
		t.Fatalf("result = %+v", result)
	}
	if result.Usage.ContextTokens() != 37 {
		t.Fatalf("context tokens = %d, want 37", result.Usage.ContextTokens())
	}
}

func TestParseOutputToleratesGarbage(t *testing.T) {
	stream := "not json at all\n" +
		`{"type":"tool_progress","session_id":"s","detail":"x"}` + "\n" +
		`{"type":"result","result":"ok"}` + "\n"
	events := parseAll(t, stream)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != EventTypeUnknown || string(events[0].Raw) != "not json at all" {
		t.Fatalf("malformed line event = %+v", events[0])
	}
	if events[1].Type != EventTypeUnknown || events[1].SessionID != "s" {
		t.Fatalf("unknown type should keep its session id: %+v", events[1])
	}
	if events[2].Type != EventTypeResult {
		t.Fatalf("stream should continue past garbage: %+v", events[2])
	}
}

func TestUsageAccumulation(t *testing.T) {
	var total Usage
	total.Add(&Usage{InputTokens: 1, OutputTokens: 2, CacheReadInputTokens: 3, CacheCreationInputTokens: 4})
	total.Add(nil)
	total.Add(&Usage{InputTokens: 10})
	if total.InputTokens != 11 || total.OutputTokens != 2 || total.ContextTokens() != 20 {
		t.Fatalf("total = %+v", total)
	}
}
