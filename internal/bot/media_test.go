// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"strings"
	"testing"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
)

func photoUpdate(user chat.UserID, groupID, caption string) messaging.Update {
	return messaging.Update{Photo: &messaging.PhotoMessage{
		Chat:         chat.ChatID(user),
		From:         messaging.Sender{User: user, Username: "tester"},
		Message:      1,
		FileID:       "file-photo",
		Caption:      caption,
		MediaGroupID: groupID,
	}}
}

func documentUpdate(user chat.UserID, name, mimeType string, size int64) messaging.Update {
	return messaging.Update{Document: &messaging.DocumentMessage{
		Chat:     chat.ChatID(user),
		From:     messaging.Sender{User: user, Username: "tester"},
		Message:  1,
		FileID:   "file-doc",
		FileName: name,
		MIMEType: mimeType,
		FileSize: size,
	}}
}

func TestSinglePhotoPrompt(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.bot.HandleUpdate(context.Background(), photoUpdate(testOwner, "", "what is this?"))

	if len(f.driver.started) != 1 {
		t.Fatalf("started %d queries", len(f.driver.started))
	}
	prompt := f.driver.started[0].Prompt
	if !strings.Contains(prompt, "[Photo: ") || !strings.Contains(prompt, "what is this?") {
		t.Fatalf("prompt %q", prompt)
	}
	if len(f.fetcher.fetched) != 1 || f.fetcher.fetched[0] != "file-photo" {
		t.Fatalf("fetched %v", f.fetcher.fetched)
	}
	f.requireSent(t, "📷 Processing image...")
}

func TestPhotoAlbumBuffered(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, photoUpdate(testOwner, "album-1", ""))
	f.bot.HandleUpdate(ctx, photoUpdate(testOwner, "album-1", "both of these"))

	if len(f.driver.started) != 0 {
		t.Fatal("album members must wait for the group window")
	}
	f.requireSent(t, "📷 Receiving photos...")

	f.clk.Advance(f.app.MediaGroupWindow)

	if len(f.driver.started) != 1 {
		t.Fatalf("started %d queries after window", len(f.driver.started))
	}
	prompt := f.driver.started[0].Prompt
	if !strings.Contains(prompt, "1. ") || !strings.Contains(prompt, "2. ") {
		t.Fatalf("prompt %q lacks the numbered photo list", prompt)
	}
	if !strings.Contains(prompt, "both of these") {
		t.Fatalf("prompt %q lacks the caption", prompt)
	}

	edits := f.fake.CallsOf("edit")
	if len(edits) == 0 || !strings.Contains(edits[0].Body, "Processing 2 photos") {
		t.Fatalf("edits %+v", edits)
	}
}

func TestAlbumWindowExtendsPerMember(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, photoUpdate(testOwner, "album-1", ""))
	f.clk.Advance(f.app.MediaGroupWindow / 2)
	f.bot.HandleUpdate(ctx, photoUpdate(testOwner, "album-1", ""))
	f.clk.Advance(f.app.MediaGroupWindow / 2)

	if len(f.driver.started) != 0 {
		t.Fatal("second member should have extended the window")
	}

	f.clk.Advance(f.app.MediaGroupWindow / 2)
	if len(f.driver.started) != 1 {
		t.Fatalf("started %d queries", len(f.driver.started))
	}
}

func TestDocumentTooLarge(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.bot.HandleUpdate(context.Background(),
		documentUpdate(testOwner, "huge.txt", "text/plain", 11*1024*1024))

	f.requireSent(t, "❌ File too large. Maximum size is 10MB.")
	if len(f.fetcher.fetched) != 0 {
		t.Fatal("oversized file must not be downloaded")
	}
}

func TestDocumentUnsupportedType(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.bot.HandleUpdate(context.Background(),
		documentUpdate(testOwner, "tool.exe", "application/octet-stream", 1024))

	f.requireSent(t, "❌ Unsupported file type.")
	if len(f.driver.started) != 0 {
		t.Fatal("unsupported document must not reach the agent")
	}
}

func TestTextDocumentPrompt(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fetcher.payload = []byte("alpha beta gamma")

	f.bot.HandleUpdate(context.Background(),
		documentUpdate(testOwner, "notes.md", "text/markdown", 64))

	if len(f.driver.started) != 1 {
		t.Fatalf("started %d queries", len(f.driver.started))
	}
	prompt := f.driver.started[0].Prompt
	if !strings.Contains(prompt, "Please analyze this document (notes.md):") {
		t.Fatalf("prompt %q", prompt)
	}
	if !strings.Contains(prompt, "alpha beta gamma") {
		t.Fatalf("prompt %q lacks the file content", prompt)
	}
}

func TestVoiceWithoutTranscriber(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.bot.HandleUpdate(context.Background(), messaging.Update{Voice: &messaging.VoiceMessage{
		Chat:   testChat,
		From:   messaging.Sender{User: testOwner},
		FileID: "file-voice",
	}})

	f.requireSent(t, "Voice transcription is not configured.")
	if len(f.driver.started) != 0 {
		t.Fatal("voice without transcriber must not reach the agent")
	}
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) TranscribeFile(context.Context, string, string) (string, error) {
	return f.text, f.err
}

func TestVoiceTranscribedAndRun(t *testing.T) {
	f := newFixture(t, nil, func(cfg *Config) {
		cfg.Transcriber = &fakeTranscriber{text: "turn on the lights"}
	})

	f.bot.HandleUpdate(context.Background(), messaging.Update{Voice: &messaging.VoiceMessage{
		Chat:    testChat,
		From:    messaging.Sender{User: testOwner},
		Message: 1,
		FileID:  "file-voice",
	}})

	if len(f.driver.started) != 1 {
		t.Fatalf("started %d queries", len(f.driver.started))
	}
	if !strings.HasSuffix(f.driver.started[0].Prompt, "turn on the lights") {
		t.Fatalf("prompt %q", f.driver.started[0].Prompt)
	}

	edits := f.fake.CallsOf("edit")
	found := false
	for _, edit := range edits {
		if strings.Contains(edit.Body, `🎤 "turn on the lights"`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("no transcript echo in edits %+v", edits)
	}
}

func TestBuildPhotoPrompt(t *testing.T) {
	cases := []struct {
		name    string
		paths   []string
		caption string
		want    []string
	}{
		{
			name:  "single no caption",
			paths: []string{"/tmp/a.jpg"},
			want:  []string{"Please analyze this image: /tmp/a.jpg"},
		},
		{
			name:    "single with caption",
			paths:   []string{"/tmp/a.jpg"},
			caption: "what model?",
			want:    []string{"[Photo: /tmp/a.jpg]", "what model?"},
		},
		{
			name:  "multiple no caption",
			paths: []string{"/tmp/a.jpg", "/tmp/b.jpg"},
			want:  []string{"Please analyze these 2 images:", "1. /tmp/a.jpg", "2. /tmp/b.jpg"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := buildPhotoPrompt(tc.paths, tc.caption)
			for _, want := range tc.want {
				if !strings.Contains(got, want) {
					t.Errorf("prompt %q lacks %q", got, want)
				}
			}
		})
	}
}

func TestBuildDocumentsPrompt(t *testing.T) {
	docs := []extractedDoc{
		{name: "a.txt", content: "first"},
		{name: "b.txt", content: "second"},
	}
	got := buildDocumentsPrompt(docs, "")
	for _, want := range []string{"--- Document 1: a.txt ---", "--- Document 2: b.txt ---", "first", "second"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt %q lacks %q", got, want)
		}
	}
}

func TestBuildArchivePrompt(t *testing.T) {
	got := buildArchivePrompt("src.zip",
		[]string{"main.go", "go.mod"},
		[]extractedDoc{{name: "go.mod", content: "module demo"}},
		"")
	for _, want := range []string{
		"Please analyze this archive (src.zip):",
		"File tree (2 files):",
		"--- go.mod ---",
		"module demo",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt %q lacks %q", got, want)
		}
	}
}

func TestIsTextFile(t *testing.T) {
	cases := []struct {
		name string
		mime string
		want bool
	}{
		{"notes.md", "", true},
		{"data.JSON", "", true},
		{"readme", "text/plain", true},
		{"binary.bin", "application/octet-stream", false},
		{"photo.jpg", "image/jpeg", false},
	}
	for _, tc := range cases {
		if got := isTextFile(tc.name, tc.mime); got != tc.want {
			t.Errorf("isTextFile(%q, %q) = %v, want %v", tc.name, tc.mime, got, tc.want)
		}
	}
}

func TestTruncateCharsRespectsRuneBoundary(t *testing.T) {
	s := "héllo wörld"
	got := truncateChars(s, 2)
	if !strings.HasPrefix(s, got) {
		t.Fatalf("truncation %q is not a prefix of %q", got, s)
	}
	if strings.ContainsRune(got, '�') {
		t.Fatalf("truncation %q split a rune", got)
	}
	if truncateChars("short", 100) != "short" {
		t.Fatal("short strings must pass through")
	}
}
