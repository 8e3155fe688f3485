// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{Token: "token", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("NewClient accepted an empty token")
	}
}

func TestSendHTMLDecodesMessageRef(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatal(err)
		}
		if params["parse_mode"] != "HTML" {
			t.Errorf("parse_mode = %v", params["parse_mode"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 7,
				"chat":       map[string]any{"id": 42},
			},
		})
	})

	ref, err := client.SendHTML(context.Background(), 42, "<b>hi</b>")
	if err != nil {
		t.Fatalf("SendHTML: %v", err)
	}
	want := chat.MessageRef{Chat: 42, Message: 7}
	if ref != want {
		t.Errorf("ref = %v, want %v", ref, want)
	}
}

func TestSendHTMLFallsBackToPlainText(t *testing.T) {
	calls := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)
		if calls == 1 {
			if params["parse_mode"] != "HTML" {
				t.Error("first attempt was not HTML")
			}
			json.NewEncoder(w).Encode(map[string]any{
				"ok":          false,
				"error_code":  400,
				"description": "Bad Request: can't parse entities: unclosed tag",
			})
			return
		}
		if _, hasMode := params["parse_mode"]; hasMode {
			t.Error("fallback attempt still sets parse_mode")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 1, "chat": map[string]any{"id": 42}},
		})
	})

	if _, err := client.SendHTML(context.Background(), 42, "<b>broken"); err != nil {
		t.Fatalf("SendHTML fallback: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCallSurfacesRetryAfter(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  429,
			"description": "Too Many Requests: retry after 12",
			"parameters":  map[string]any{"retry_after": 12},
		})
	})

	err := client.EditHTML(context.Background(), chat.MessageRef{Chat: 1, Message: 2}, "body")
	apiError, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type %T, want *Error", err)
	}
	if !apiError.IsRateLimited() {
		t.Error("429 not reported as rate limited")
	}
	if apiError.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %v, want 12s", apiError.RetryAfter)
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in         string
		name, args string
		ok         bool
	}{
		{"/start", "start", "", true},
		{"/cron reload", "cron", "reload", true},
		{"/STATUS@courier_bot", "status", "", true},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, c := range cases {
		name, args, ok := parseCommand(c.in)
		if name != c.name || args != c.args || ok != c.ok {
			t.Errorf("parseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.in, name, args, ok, c.name, c.args, c.ok)
		}
	}
}

func TestDecodeUpdatePicksLargestPhoto(t *testing.T) {
	raw := rawUpdate{
		Message: &rawMessage{
			MessageID: 5,
			From:      &rawUser{ID: 9, Username: "u"},
			Photo: []rawPhotoSize{
				{FileID: "small", Width: 90, Height: 90},
				{FileID: "large", Width: 1280, Height: 960},
				{FileID: "medium", Width: 320, Height: 240},
			},
			Caption:      "look",
			MediaGroupID: "g1",
		},
	}
	raw.Message.Chat.ID = 42

	update, ok := decodeUpdate(raw)
	if !ok || update.Photo == nil {
		t.Fatal("photo update not decoded")
	}
	if update.Photo.FileID != "large" {
		t.Errorf("FileID = %s, want large", update.Photo.FileID)
	}
	if update.Photo.MediaGroupID != "g1" || update.Photo.Caption != "look" {
		t.Errorf("decoded photo = %+v", update.Photo)
	}
}

func TestDecodeUpdateCommandVersusText(t *testing.T) {
	raw := rawUpdate{Message: &rawMessage{MessageID: 1, From: &rawUser{ID: 9}, Text: "/new"}}
	raw.Message.Chat.ID = 42
	update, ok := decodeUpdate(raw)
	if !ok || update.Command == nil || update.Command.Name != "new" {
		t.Errorf("command not decoded: %+v", update)
	}

	raw.Message.Text = "!stop doing that"
	update, ok = decodeUpdate(raw)
	if !ok || update.Text == nil || update.Text.Text != "!stop doing that" {
		t.Errorf("interrupt text not decoded verbatim: %+v", update)
	}
}

var _ messaging.Messenger = (*Client)(nil)
var _ messaging.FileFetcher = (*Client)(nil)
