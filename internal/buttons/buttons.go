// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buttons implements the file-based channel between the bridge
// and the auxiliary ask-user tool server. The tool server writes a
// request file per question; the bridge discovers pending requests,
// renders them as inline keyboards, and deletes the file once the
// user picks an option.
package buttons

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/covebridge/courier/internal/chat"
)

const (
	filePrefix = "ask-user-"
	fileSuffix = ".json"

	// StatusPending marks a request the bridge has not surfaced yet.
	StatusPending = "pending"
	// StatusSent marks a request whose keyboard is in the chat.
	StatusSent = "sent"

	// staleAfter is how long an unanswered request survives before
	// the startup sweep removes it.
	staleAfter = 24 * time.Hour
)

// Request is one question from the tool server.
type Request struct {
	RequestID string      `json:"request_id"`
	Question  string      `json:"question"`
	Options   []string    `json:"options"`
	Status    string      `json:"status"`
	ChatID    ChatIDValue `json:"chat_id"`
	CreatedAt string      `json:"created_at"`
}

// ChatIDValue decodes a chat id that may arrive as a JSON number or a
// string; the tool server reads it from an environment variable.
type ChatIDValue int64

func (c *ChatIDValue) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	if text == "" || text == "null" {
		*c = 0
		return nil
	}
	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return fmt.Errorf("buttons: chat_id %q: %w", text, err)
	}
	*c = ChatIDValue(value)
	return nil
}

func (c ChatIDValue) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(c), 10)), nil
}

// Chat returns the id as the bridge's chat type.
func (c ChatIDValue) Chat() chat.ChatID { return chat.ChatID(c) }

// Channel reads and mutates request files in a single directory.
type Channel struct {
	dir string
}

// NewChannel watches dir (normally the shared temp directory).
func NewChannel(dir string) *Channel {
	return &Channel{dir: dir}
}

// RequestPath returns the file path for a request id.
func (c *Channel) RequestPath(requestID string) string {
	return filepath.Join(c.dir, filePrefix+requestID+fileSuffix)
}

// Pending returns all pending requests targeting chatID. Unreadable
// or malformed files are skipped; the tool server may still be
// writing them.
func (c *Channel) Pending(chatID chat.ChatID) ([]Request, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("buttons: reading %s: %w", c.dir, err)
	}

	var pending []Request
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		request, err := c.load(filepath.Join(c.dir, name))
		if err != nil {
			continue
		}
		if request.Status != StatusPending || request.ChatID.Chat() != chatID {
			continue
		}
		if request.RequestID == "" || len(request.Options) == 0 {
			continue
		}
		pending = append(pending, request)
	}
	return pending, nil
}

// Load reads the request with the given id. Returns os.ErrNotExist
// when no such request file exists.
func (c *Channel) Load(requestID string) (Request, error) {
	return c.load(c.RequestPath(requestID))
}

func (c *Channel) load(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Request{}, err
	}
	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		return Request{}, fmt.Errorf("buttons: parsing %s: %w", path, err)
	}
	return request, nil
}

// MarkSent rewrites the request with status "sent" so a second scan
// does not surface the same keyboard twice.
func (c *Channel) MarkSent(request Request) error {
	request.Status = StatusSent
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("buttons: encoding request: %w", err)
	}
	path := c.RequestPath(request.RequestID)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("buttons: writing %s: %w", path, err)
	}
	return nil
}

// Resolve removes the request file after the user answered.
func (c *Channel) Resolve(requestID string) error {
	err := os.Remove(c.RequestPath(requestID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("buttons: removing request %s: %w", requestID, err)
	}
	return nil
}

// SweepStale removes request files older than a day. Called at
// startup so crashed runs do not leave keyboards that can never be
// answered. Returns the number of files removed.
func (c *Channel) SweepStale(now time.Time) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < staleAfter {
			continue
		}
		if os.Remove(filepath.Join(c.dir, name)) == nil {
			removed++
		}
	}
	return removed
}
