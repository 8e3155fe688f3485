// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
)

func writeButtonRequest(t *testing.T, f *fixture, requestID string, chatID chat.ChatID, options []string) string {
	t.Helper()
	opts := `"` + strings.Join(options, `","`) + `"`
	body := fmt.Sprintf(`{
		"request_id": %q,
		"question": "Which one?",
		"options": [%s],
		"status": "sent",
		"chat_id": %d,
		"created_at": "2026-03-01T12:00:00Z"
	}`, requestID, opts, chatID)
	path := f.bot.cfg.Buttons.RequestPath(requestID)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func callbackUpdate(user chat.UserID, data string) messaging.Update {
	return messaging.Update{Callback: &messaging.CallbackQuery{
		Chat:       chat.ChatID(user),
		From:       messaging.Sender{User: user, Username: "tester"},
		CallbackID: "cb-1",
		Data:       data,
		Message:    chat.MessageRef{Chat: chat.ChatID(user), Message: 55},
	}}
}

func TestCallbackSelectsOption(t *testing.T) {
	f := newFixture(t, nil, nil)
	path := writeButtonRequest(t, f, "req1", testChat, []string{"Deploy", "Rollback"})

	f.bot.HandleUpdate(context.Background(), callbackUpdate(testOwner, "askuser:req1:1"))

	edits := f.fake.CallsOf("edit")
	if len(edits) != 1 || edits[0].Body != "✓ Rollback" {
		t.Fatalf("edits %+v", edits)
	}
	answers := f.fake.CallsOf("answer")
	if len(answers) != 1 || answers[0].Body != "Selected: Rollback" {
		t.Fatalf("answers %+v", answers)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("request file should be deleted after selection")
	}
	if len(f.driver.started) != 1 {
		t.Fatalf("started %d queries", len(f.driver.started))
	}
	if !strings.HasSuffix(f.driver.started[0].Prompt, "Rollback") {
		t.Fatalf("prompt %q", f.driver.started[0].Prompt)
	}
}

func TestCallbackUnknownRequest(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.bot.HandleUpdate(context.Background(), callbackUpdate(testOwner, "askuser:missing:0"))

	answers := f.fake.CallsOf("answer")
	if len(answers) != 1 || answers[0].Body != "Request expired or invalid" {
		t.Fatalf("answers %+v", answers)
	}
	if len(f.driver.started) != 0 {
		t.Fatal("expired request must not start a query")
	}
}

func TestCallbackChatMismatch(t *testing.T) {
	f := newFixture(t, nil, nil)
	writeButtonRequest(t, f, "req1", chat.ChatID(4242), []string{"Yes"})

	f.bot.HandleUpdate(context.Background(), callbackUpdate(testOwner, "askuser:req1:0"))

	answers := f.fake.CallsOf("answer")
	if len(answers) != 1 || answers[0].Body != "Request expired or invalid" {
		t.Fatalf("answers %+v", answers)
	}
}

func TestCallbackMalformedData(t *testing.T) {
	f := newFixture(t, nil, nil)

	cases := []struct {
		data string
		want string
	}{
		{"not-askuser:req1:0", "Invalid callback data"},
		{"askuser:req1", "Invalid callback data"},
		{"askuser:req1:notanumber", "Invalid option"},
	}
	for _, tc := range cases {
		f.bot.HandleUpdate(context.Background(), callbackUpdate(testOwner, tc.data))
	}

	answers := f.fake.CallsOf("answer")
	if len(answers) != len(cases) {
		t.Fatalf("answers %+v", answers)
	}
	for i, tc := range cases {
		if answers[i].Body != tc.want {
			t.Errorf("data %q answered %q, want %q", tc.data, answers[i].Body, tc.want)
		}
	}
}

func TestCallbackIndexOutOfRange(t *testing.T) {
	f := newFixture(t, nil, nil)
	writeButtonRequest(t, f, "req1", testChat, []string{"Only"})

	f.bot.HandleUpdate(context.Background(), callbackUpdate(testOwner, "askuser:req1:5"))

	answers := f.fake.CallsOf("answer")
	if len(answers) != 1 || answers[0].Body != "Invalid option" {
		t.Fatalf("answers %+v", answers)
	}
}
