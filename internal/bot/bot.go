// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bot routes inbound chat updates to the session runner. It
// owns the per-chat serialization discipline: normal messages from one
// chat run strictly in arrival order, while commands, `!`-prefixed
// interrupts, and button callbacks bypass the queue. Media albums are
// buffered per group id and submitted as a single prompt.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/covebridge/courier/internal/audit"
	"github.com/covebridge/courier/internal/buttons"
	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/config"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/safety"
	"github.com/covebridge/courier/internal/schedule"
	"github.com/covebridge/courier/internal/session"
	"github.com/covebridge/courier/lib/clock"
)

// Transcriber converts a downloaded voice note into text.
type Transcriber interface {
	TranscribeFile(ctx context.Context, path, prompt string) (string, error)
}

// Config wires the bot's collaborators.
type Config struct {
	App *config.Config

	Session   *session.Session
	Runner    *session.Runner
	Scheduler *schedule.Scheduler

	Messenger messaging.Messenger
	Fetcher   messaging.FileFetcher
	Buttons   *buttons.Channel
	Audit     *audit.Logger
	Limiter   *safety.RateLimiter

	// Transcriber is nil when no transcription key is configured.
	Transcriber Transcriber

	Clock  clock.Clock
	Logger *slog.Logger

	// Exit terminates the process after /restart. Defaults to os.Exit.
	Exit func(code int)
}

// Bot dispatches updates to handlers. One Bot serves all authorized
// chats; HandleUpdate is called once per inbound update, typically on
// its own goroutine.
type Bot struct {
	cfg Config

	locks  chatLocks
	photos *groupBuffer
	docs   *groupBuffer
}

// New validates the config and returns a ready bot.
func New(cfg Config) (*Bot, error) {
	if cfg.App == nil {
		return nil, errors.New("bot: Config.App is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("bot: Config.Session is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("bot: Config.Runner is required")
	}
	if cfg.Messenger == nil {
		return nil, errors.New("bot: Config.Messenger is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("bot: Config.Clock is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}

	b := &Bot{cfg: cfg}
	b.photos = newGroupBuffer(b, "📷", "photos", b.processPhotoGroup)
	b.docs = newGroupBuffer(b, "📄", "documents", b.processDocumentGroup)
	return b, nil
}

// chatLocks serializes normal-message processing per chat. Locks are
// created lazily and never reclaimed; the allowlist bounds the map.
type chatLocks struct {
	mu    sync.Mutex
	inner map[chat.ChatID]*sync.Mutex
}

func (c *chatLocks) lock(chatID chat.ChatID) func() {
	c.mu.Lock()
	if c.inner == nil {
		c.inner = make(map[chat.ChatID]*sync.Mutex)
	}
	lock, ok := c.inner[chatID]
	if !ok {
		lock = &sync.Mutex{}
		c.inner[chatID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
