// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileData is the on-disk session checkpoint. It survives bridge
// restarts so /resume can pick up the previous agent conversation
// with its cumulative counters intact; without them the context
// budget alarms would start from zero on a resumed session.
type FileData struct {
	Provider          string `json:"provider"`
	SessionID         string `json:"session_id"`
	SavedAt           string `json:"saved_at"`
	WorkingDir        string `json:"working_dir"`
	TotalInputTokens  int64  `json:"total_input_tokens"`
	TotalOutputTokens int64  `json:"total_output_tokens"`
	TotalQueries      int64  `json:"total_queries"`
	SessionStart      string `json:"session_start_time,omitempty"`
}

// LoadFile reads a checkpoint. Returns false when the file is absent
// or empty; both mean "no saved session" rather than an error.
func LoadFile(path string) (FileData, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return FileData{}, false, nil
	}
	if err != nil {
		return FileData{}, false, fmt.Errorf("session: reading %s: %w", path, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return FileData{}, false, nil
	}
	var data FileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return FileData{}, false, fmt.Errorf("session: parsing %s: %w", path, err)
	}
	return data, true, nil
}

// SaveFile writes a checkpoint atomically: a temp file in the same
// directory is renamed over the target so a crash mid-write never
// leaves a torn checkpoint.
func SaveFile(path string, data FileData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("session: encoding checkpoint: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("session: creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: replacing %s: %w", path, err)
	}
	return nil
}

// RemoveFile deletes the checkpoint. Missing files are fine.
func RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: removing %s: %w", path, err)
	}
	return nil
}
