// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	_, found, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if found {
		t.Fatal("expected found=false for a missing file")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	saved := FileData{
		Provider:   "claude_cli",
		SessionID:  "abc-123",
		SavedAt:    "2026-03-01T09:30:00Z",
		WorkingDir: "/work",
	}
	if err := SaveFile(path, saved); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	loaded, found, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if loaded != saved {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", loaded, saved)
	}
}

func TestLoadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	_, found, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if found {
		t.Fatal("expected found=false for an empty file")
	}
}

func TestRemoveFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := RemoveFile(path); err != nil {
		t.Fatalf("RemoveFile on missing file: %v", err)
	}
}
