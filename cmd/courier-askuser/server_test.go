// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func handleString(t *testing.T, s *server, line string) map[string]any {
	t.Helper()
	raw := s.HandleLine([]byte(line))
	if raw == nil {
		t.Fatalf("no response for %q", line)
	}
	var response map[string]any
	if err := json.Unmarshal(raw, &response); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return response
}

func TestInitializeEchoesProtocolVersion(t *testing.T) {
	s := newServer(t.TempDir(), "123")

	response := handleString(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)

	result := response["result"].(map[string]any)
	if result["protocolVersion"] != "2024-11-05" {
		t.Fatalf("result %+v", result)
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "ask-user" {
		t.Fatalf("serverInfo %+v", info)
	}
}

func TestToolsListContainsAskUser(t *testing.T) {
	s := newServer(t.TempDir(), "123")

	response := handleString(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	tools := response["result"].(map[string]any)["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools %+v", tools)
	}
	tool := tools[0].(map[string]any)
	if tool["name"] != "ask_user" {
		t.Fatalf("tool %+v", tool)
	}
}

func TestCallWritesRequestFile(t *testing.T) {
	dir := t.TempDir()
	s := newServer(dir, "123")

	response := handleString(t, s,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ask_user","arguments":{"question":"Deploy?","options":["Yes","No"]}}}`)

	result := response["result"].(map[string]any)
	content := result["content"].([]any)[0].(map[string]any)
	if !strings.Contains(content["text"].(string), "STOP HERE") {
		t.Fatalf("content %+v", content)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries %v", entries)
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "ask-user-") || !strings.HasSuffix(name, ".json") {
		t.Fatalf("file name %q", name)
	}

	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	var file requestFile
	if err := json.Unmarshal(raw, &file); err != nil {
		t.Fatal(err)
	}
	if file.Question != "Deploy?" || file.Status != "pending" || file.ChatID != "123" {
		t.Fatalf("request %+v", file)
	}
	if len(file.RequestID) != 8 {
		t.Fatalf("request id %q", file.RequestID)
	}
	if fmt.Sprintf("ask-user-%s.json", file.RequestID) != name {
		t.Fatalf("id %q does not match file %q", file.RequestID, name)
	}
}

func TestCallValidation(t *testing.T) {
	cases := []struct {
		name   string
		chatID string
		line   string
		want   string
	}{
		{
			name:   "one option",
			chatID: "123",
			line:   `{"id":1,"method":"tools/call","params":{"name":"ask_user","arguments":{"question":"Q?","options":["only"]}}}`,
			want:   "question and at least 2 options required",
		},
		{
			name:   "empty question",
			chatID: "123",
			line:   `{"id":1,"method":"tools/call","params":{"name":"ask_user","arguments":{"question":"  ","options":["a","b"]}}}`,
			want:   "question and at least 2 options required",
		},
		{
			name:   "wrong tool",
			chatID: "123",
			line:   `{"id":1,"method":"tools/call","params":{"name":"other","arguments":{}}}`,
			want:   "Unknown tool",
		},
		{
			name:   "missing chat id",
			chatID: "",
			line:   `{"id":1,"method":"tools/call","params":{"name":"ask_user","arguments":{"question":"Q?","options":["a","b"]}}}`,
			want:   "TELEGRAM_CHAT_ID env var is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newServer(t.TempDir(), tc.chatID)
			response := handleString(t, s, tc.line)
			rpcErr := response["error"].(map[string]any)
			if rpcErr["message"] != tc.want {
				t.Fatalf("error %+v, want %q", rpcErr, tc.want)
			}
		})
	}
}

func TestNotificationsAndGarbageIgnored(t *testing.T) {
	s := newServer(t.TempDir(), "123")
	for _, line := range []string{
		"",
		"   ",
		"not json",
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":null,"method":"tools/list"}`,
	} {
		if out := s.HandleLine([]byte(line)); out != nil {
			t.Fatalf("line %q produced response %s", line, out)
		}
	}
}

func TestUnknownMethod(t *testing.T) {
	s := newServer(t.TempDir(), "123")

	response := handleString(t, s, `{"id":1,"method":"resources/list"}`)

	rpcErr := response["error"].(map[string]any)
	if rpcErr["message"] != "Method not found" {
		t.Fatalf("error %+v", rpcErr)
	}
}

func TestRequestIDsAreUnique(t *testing.T) {
	s := newServer(t.TempDir(), "123")
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := s.nextRequestID()
		if len(id) != 8 {
			t.Fatalf("id %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
