// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcribe converts voice notes to text via the OpenAI
// audio transcription endpoint.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// defaultModel is the transcription model. Voice notes are short, so
// the streaming variants buy nothing here.
const defaultModel = "gpt-4o-transcribe"

// ClientConfig configures a transcription Client.
type ClientConfig struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the API root. Defaults to the public
	// endpoint; tests point this at a local server.
	BaseURL string

	// Model overrides the transcription model.
	Model string

	// HTTPClient is the underlying transport. Defaults to a client
	// with a 60 second timeout; uploads carry audio payloads.
	HTTPClient *http.Client

	// Logger for request diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

// Client calls the transcription endpoint.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	log     *slog.Logger
}

// NewClient validates the config and returns a ready client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcribe: APIKey is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		http:    httpClient,
		log:     logger,
	}, nil
}

// TranscribeFile uploads the audio file at path and returns its
// transcript. prompt optionally biases the decoder toward expected
// vocabulary.
func (c *Client) TranscribeFile(ctx context.Context, path, prompt string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("transcribe: reading %s: %w", path, err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("transcribe: building form: %w", err)
	}
	if prompt != "" {
		if err := form.WriteField("prompt", prompt); err != nil {
			return "", fmt.Errorf("transcribe: building form: %w", err)
		}
	}
	name := filepath.Base(path)
	if name == "." || name == "/" {
		name = "audio.ogg"
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("transcribe: building form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("transcribe: building form: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("transcribe: building form: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("transcribe: building request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", form.FormDataContentType())

	response, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("transcribe: request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 200))
		return "", fmt.Errorf("transcribe: API returned %d: %s", response.StatusCode, detail)
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("transcribe: decoding response: %w", err)
	}
	if decoded.Text == "" {
		return "", fmt.Errorf("transcribe: API returned empty text")
	}
	return decoded.Text, nil
}
