// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/lib/clock"
)

// ThrottleConfig spaces outbound calls to stay under the platform's
// flood limits. Defaults match Telegram: ~25 calls/sec globally and
// just under 1 message/sec per chat.
type ThrottleConfig struct {
	GlobalMinInterval  time.Duration
	PerChatMinInterval time.Duration
}

// DefaultThrottleConfig is conservative for streaming/edit-heavy use.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		GlobalMinInterval:  40 * time.Millisecond,
		PerChatMinInterval: 1050 * time.Millisecond,
	}
}

// Throttled is a Messenger decorator that paces calls. It reduces
// platform 429 responses; the adapter underneath still handles the
// ones that get through.
type Throttled struct {
	inner  Messenger
	config ThrottleConfig
	clock  clock.Clock

	mu      sync.Mutex
	global  *slotLimiter
	perChat map[chat.ChatID]*slotLimiter
}

// NewThrottled wraps inner with pacing. A nil clk uses real time.
func NewThrottled(inner Messenger, config ThrottleConfig, clk clock.Clock) *Throttled {
	if clk == nil {
		clk = clock.Real()
	}
	return &Throttled{
		inner:   inner,
		config:  config,
		clock:   clk,
		global:  &slotLimiter{interval: config.GlobalMinInterval},
		perChat: make(map[chat.ChatID]*slotLimiter),
	}
}

// slotLimiter hands out evenly spaced execution slots.
type slotLimiter struct {
	interval time.Duration
	next     time.Time
}

// reserve claims the next slot and returns how long to wait for it.
func (l *slotLimiter) reserve(now time.Time) time.Duration {
	start := now
	if l.next.After(now) {
		start = l.next
	}
	l.next = start.Add(l.interval)
	return start.Sub(now)
}

func (t *Throttled) waitChat(ctx context.Context, chatID chat.ChatID) error {
	t.mu.Lock()
	now := t.clock.Now()
	wait := t.global.reserve(now)
	limiter, ok := t.perChat[chatID]
	if !ok {
		limiter = &slotLimiter{interval: t.config.PerChatMinInterval}
		t.perChat[chatID] = limiter
	}
	if chatWait := limiter.reserve(now); chatWait > wait {
		wait = chatWait
	}
	t.mu.Unlock()

	return t.sleep(ctx, wait)
}

func (t *Throttled) waitGlobal(ctx context.Context) error {
	t.mu.Lock()
	wait := t.global.reserve(t.clock.Now())
	t.mu.Unlock()
	return t.sleep(ctx, wait)
}

func (t *Throttled) sleep(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	select {
	case <-t.clock.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Throttled) Capabilities() Capabilities { return t.inner.Capabilities() }

func (t *Throttled) SendHTML(ctx context.Context, chatID chat.ChatID, html string) (chat.MessageRef, error) {
	if err := t.waitChat(ctx, chatID); err != nil {
		return chat.MessageRef{}, err
	}
	return t.inner.SendHTML(ctx, chatID, html)
}

func (t *Throttled) EditHTML(ctx context.Context, ref chat.MessageRef, html string) error {
	if err := t.waitChat(ctx, ref.Chat); err != nil {
		return err
	}
	return t.inner.EditHTML(ctx, ref, html)
}

func (t *Throttled) DeleteMessage(ctx context.Context, ref chat.MessageRef) error {
	if err := t.waitChat(ctx, ref.Chat); err != nil {
		return err
	}
	return t.inner.DeleteMessage(ctx, ref)
}

func (t *Throttled) SendChatAction(ctx context.Context, chatID chat.ChatID, action ChatAction) error {
	if err := t.waitChat(ctx, chatID); err != nil {
		return err
	}
	return t.inner.SendChatAction(ctx, chatID, action)
}

func (t *Throttled) SetReaction(ctx context.Context, ref chat.MessageRef, emoji string) error {
	if err := t.waitChat(ctx, ref.Chat); err != nil {
		return err
	}
	return t.inner.SetReaction(ctx, ref, emoji)
}

func (t *Throttled) SendKeyboard(ctx context.Context, chatID chat.ChatID, text string, keyboard Keyboard) (chat.MessageRef, error) {
	if err := t.waitChat(ctx, chatID); err != nil {
		return chat.MessageRef{}, err
	}
	return t.inner.SendKeyboard(ctx, chatID, text, keyboard)
}

// AnswerCallback has no chat id; only global pacing applies.
func (t *Throttled) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := t.waitGlobal(ctx); err != nil {
		return err
	}
	return t.inner.AnswerCallback(ctx, callbackID, text)
}
