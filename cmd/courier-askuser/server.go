// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
)

// stopInstruction is the tool result text. It steers the agent to end
// its turn so the turn pipeline can surface the keyboard.
const stopInstruction = "[Buttons sent to user. STOP HERE - do not output any more text. Wait for user to tap a button.]"

const askUserDescription = "Present options to the user as tappable inline buttons in Telegram. " +
	"IMPORTANT: After calling this tool, STOP and wait. Do NOT add any text after calling this tool - " +
	"the user will tap a button and their choice becomes their next message. " +
	"Just call the tool and end your turn."

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInternal       = -32000
)

// requestFile is the on-disk handoff to the bridge. The chat id is a
// string on the wire; the bridge tolerates both forms.
type requestFile struct {
	RequestID string   `json:"request_id"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Status    string   `json:"status"`
	ChatID    string   `json:"chat_id"`
	CreatedAt string   `json:"created_at"`
}

type server struct {
	dir     string
	chatID  string
	counter atomic.Uint64
}

func newServer(dir, chatID string) *server {
	if dir == "" {
		dir = os.TempDir()
	}
	return &server{dir: dir, chatID: chatID}
}

// HandleLine processes one JSON-RPC line. Returns nil for blank
// lines, unparseable input, and notifications.
func (s *server) HandleLine(line []byte) []byte {
	if len(strings.TrimSpace(string(line))) == 0 {
		return nil
	}
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return nil
	}
	if len(req.ID) == 0 || string(req.ID) == "null" {
		return nil
	}

	response := s.handle(req)
	out, err := json.Marshal(response)
	if err != nil {
		return nil
	}
	return out
}

func (s *server) handle(req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return s.initialize(req)
	case "tools/list":
		return ok(req.ID, map[string]any{"tools": []any{toolSchema()}})
	case "tools/call":
		return s.call(req)
	default:
		return fail(req.ID, codeMethodNotFound, "Method not found")
	}
}

func (s *server) initialize(req rpcRequest) rpcResponse {
	protocol := "unknown"
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(req.Params, &params); err == nil && params.ProtocolVersion != "" {
		protocol = params.ProtocolVersion
	}
	return ok(req.ID, map[string]any{
		"protocolVersion": protocol,
		"serverInfo":      map[string]any{"name": "ask-user", "version": "1.0.0"},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	})
}

func toolSchema() map[string]any {
	return map[string]any{
		"name":        "ask_user",
		"description": askUserDescription,
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "The question to ask the user",
				},
				"options": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "List of options for the user to choose from (2-6 options recommended)",
					"minItems":    2,
					"maxItems":    10,
				},
			},
			"required": []string{"question", "options"},
		},
	}
}

func (s *server) call(req rpcRequest) rpcResponse {
	var params struct {
		Name      string `json:"name"`
		Arguments struct {
			Question string   `json:"question"`
			Options  []string `json:"options"`
		} `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return fail(req.ID, codeInvalidParams, "Missing params")
	}
	if params.Name != "ask_user" {
		return fail(req.ID, codeInvalidParams, "Unknown tool")
	}

	question := strings.TrimSpace(params.Arguments.Question)
	options := params.Arguments.Options
	if question == "" || len(options) < 2 {
		return fail(req.ID, codeInvalidParams, "question and at least 2 options required")
	}
	if strings.TrimSpace(s.chatID) == "" {
		return fail(req.ID, codeInvalidParams, "TELEGRAM_CHAT_ID env var is required")
	}
	if len(options) > 10 {
		options = options[:10]
	}

	if _, err := s.writeRequest(question, options); err != nil {
		return fail(req.ID, codeInternal, fmt.Sprintf("failed to write request file: %v", err))
	}

	return ok(req.ID, map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": stopInstruction},
		},
	})
}

func (s *server) writeRequest(question string, options []string) (string, error) {
	requestID := s.nextRequestID()
	data, err := json.MarshalIndent(requestFile{
		RequestID: requestID,
		Question:  question,
		Options:   options,
		Status:    "pending",
		ChatID:    s.chatID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, "ask-user-"+requestID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return requestID, nil
}

// nextRequestID derives a short id from the current time, the pid,
// and a process-local counter. Eight hex characters is plenty for ids
// that live only as long as one unanswered question.
func (s *server) nextRequestID() string {
	seed := fmt.Sprintf("%d:%d:%d", time.Now().UnixNano(), os.Getpid(), s.counter.Add(1))
	sum := blake3.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:4])
}

func ok(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func fail(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}
