// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buttons

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/covebridge/courier/internal/chat"
)

func writeRequest(t *testing.T, dir, body string, id string) string {
	t.Helper()
	path := filepath.Join(dir, filePrefix+id+fileSuffix)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestPendingFiltersByChatAndStatus(t *testing.T) {
	dir := t.TempDir()
	channel := NewChannel(dir)

	writeRequest(t, dir, `{"request_id":"aa11","question":"Deploy?","options":["Yes","No"],"status":"pending","chat_id":42}`, "aa11")
	writeRequest(t, dir, `{"request_id":"bb22","question":"Other chat","options":["X"],"status":"pending","chat_id":99}`, "bb22")
	writeRequest(t, dir, `{"request_id":"cc33","question":"Already sent","options":["X"],"status":"sent","chat_id":42}`, "cc33")
	writeRequest(t, dir, `{not json`, "dd44")

	pending, err := channel.Pending(chat.ChatID(42))
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].RequestID != "aa11" {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].Question != "Deploy?" || len(pending[0].Options) != 2 {
		t.Fatalf("request = %+v", pending[0])
	}
}

func TestPendingAcceptsStringChatID(t *testing.T) {
	dir := t.TempDir()
	channel := NewChannel(dir)
	writeRequest(t, dir, `{"request_id":"ee55","question":"Q","options":["A","B"],"status":"pending","chat_id":"42"}`, "ee55")

	pending, err := channel.Pending(chat.ChatID(42))
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("string chat_id not matched: %+v", pending)
	}
}

func TestMarkSentAndResolve(t *testing.T) {
	dir := t.TempDir()
	channel := NewChannel(dir)
	writeRequest(t, dir, `{"request_id":"ff66","question":"Q","options":["A"],"status":"pending","chat_id":1}`, "ff66")

	request, err := channel.Load("ff66")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := channel.MarkSent(request); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	reloaded, err := channel.Load("ff66")
	if err != nil {
		t.Fatalf("Load after MarkSent: %v", err)
	}
	if reloaded.Status != StatusSent {
		t.Fatalf("status = %q", reloaded.Status)
	}

	pending, err := channel.Pending(chat.ChatID(1))
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("sent request still pending: %+v", pending)
	}

	if err := channel.Resolve("ff66"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := channel.Load("ff66"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist after Resolve, got %v", err)
	}
	// Resolving twice is not an error.
	if err := channel.Resolve("ff66"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
}

func TestSweepStale(t *testing.T) {
	dir := t.TempDir()
	channel := NewChannel(dir)
	fresh := writeRequest(t, dir, `{"request_id":"a1","question":"Q","options":["A"],"status":"pending","chat_id":1}`, "a1")
	stale := writeRequest(t, dir, `{"request_id":"b2","question":"Q","options":["A"],"status":"pending","chat_id":1}`, "b2")

	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed := channel.SweepStale(time.Now())
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("stale request should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh request should remain: %v", err)
	}
}
