// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package render turns an agent's streaming output into a live set of
// chat messages: response text grows in place through edits, tool and
// thinking activity appears as ephemeral status lines, and a spinner
// message anchored at the bottom shows elapsed time until the query
// completes.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/lib/clock"
)

// editInterval is the minimum spacing between edits to the same
// message. Telegram tolerates roughly one edit per second per chat;
// the per-message throttle here combines with the transport throttle
// to stay under that.
const editInterval = 500 * time.Millisecond

// spinnerFrames cycles through Braille dots on the progress message.
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Sink receives rendering events from the event pipeline. Renderer is
// the production implementation; tests substitute a recorder.
type Sink interface {
	Begin(ctx context.Context)
	Segment(ctx context.Context, index int, markdown string, final bool)
	Activity(ctx context.Context, line string)
	Thinking(ctx context.Context, text string)
	Tick(ctx context.Context)
	Complete(ctx context.Context, ok bool)
}

// Renderer drives one chat's view of a running query. It is not safe
// for concurrent use by multiple queries; the per-chat lock in the
// router serializes access.
type Renderer struct {
	messenger messaging.Messenger
	clock     clock.Clock
	log       *slog.Logger
	chatID    chat.ChatID

	// replyTo is the user message that triggered the query, used for
	// the rate-limit fallback reaction.
	replyTo chat.MessageRef

	mu        sync.Mutex
	started   time.Time
	frame     int
	progress  chat.MessageRef
	segments  map[int]chat.MessageRef
	lastEdit  map[chat.MessageID]time.Time
	lastHTML  map[chat.MessageID]string
	ephemeral []chat.MessageRef
	limited   bool
}

// NewRenderer prepares a renderer for a single query in the given
// chat. replyTo may be zero when the query was not triggered by a
// user message (cron jobs, startup notifications).
func NewRenderer(m messaging.Messenger, clk clock.Clock, log *slog.Logger, chatID chat.ChatID, replyTo chat.MessageRef) *Renderer {
	return &Renderer{
		messenger: m,
		clock:     clk,
		log:       log,
		chatID:    chatID,
		replyTo:   replyTo,
		segments:  make(map[int]chat.MessageRef),
		lastEdit:  make(map[chat.MessageID]time.Time),
		lastHTML:  make(map[chat.MessageID]string),
	}
}

// Begin records the start time and posts the spinner message.
func (r *Renderer) Begin(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = r.clock.Now()
	r.sendProgress(ctx)
}

// Segment creates or updates the message for one response segment.
// Non-final updates are throttled and skipped when the content has
// not changed; the final update always goes through so the last words
// of a segment are never lost to the throttle.
func (r *Renderer) Segment(ctx context.Context, index int, markdown string, final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	html := MarkdownToHTML(markdown)
	if html == "" {
		return
	}
	caps := r.messenger.Capabilities()

	ref, exists := r.segments[index]
	if exists && r.lastHTML[ref.Message] == html {
		return
	}
	if exists && !final && r.clock.Now().Sub(r.lastEdit[ref.Message]) < editInterval {
		return
	}

	if len(html) > caps.SafeMessageLen {
		r.overflow(ctx, index, html, caps.SafeMessageLen)
		return
	}

	if !exists {
		newRef, err := r.sendAnchored(ctx, html)
		if err != nil {
			r.handleSendError(ctx, err, "segment send")
			return
		}
		r.segments[index] = newRef
		r.lastEdit[newRef.Message] = r.clock.Now()
		r.lastHTML[newRef.Message] = html
		return
	}

	if err := r.messenger.EditHTML(ctx, ref, html); err != nil {
		r.handleSendError(ctx, err, "segment edit")
		return
	}
	r.lastEdit[ref.Message] = r.clock.Now()
	r.lastHTML[ref.Message] = html
}

// overflow replaces a segment message that outgrew the transport
// limit with a run of chunked messages. The last chunk becomes the
// segment's live message so later edits keep flowing into it.
func (r *Renderer) overflow(ctx context.Context, index int, html string, limit int) {
	if ref, ok := r.segments[index]; ok {
		if err := r.messenger.DeleteMessage(ctx, ref); err != nil {
			r.log.Warn("delete overflowing message failed", "error", err)
		}
		delete(r.lastEdit, ref.Message)
		delete(r.lastHTML, ref.Message)
		delete(r.segments, index)
	}

	chunks := SplitHTML(html, limit)
	for i, chunk := range chunks {
		ref, err := r.sendAnchored(ctx, chunk)
		if err != nil {
			r.handleSendError(ctx, err, "overflow send")
			return
		}
		if i == len(chunks)-1 {
			r.segments[index] = ref
			r.lastEdit[ref.Message] = r.clock.Now()
			r.lastHTML[ref.Message] = chunk
		}
	}
}

// Activity posts an ephemeral tool status line below the response.
func (r *Renderer) Activity(ctx context.Context, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, err := r.sendAnchored(ctx, line)
	if err != nil {
		r.handleSendError(ctx, err, "activity send")
		return
	}
	r.ephemeral = append(r.ephemeral, ref)
}

// Thinking posts an ephemeral italic excerpt of the model's thinking.
func (r *Renderer) Thinking(ctx context.Context, text string) {
	const maxThinking = 200
	if len(text) > maxThinking {
		text = text[:maxThinking] + "..."
	}
	r.Activity(ctx, "💭 <i>"+EscapeHTML(text)+"</i>")
}

// Tick advances the spinner. Edits to the progress message share the
// per-message throttle so a chatty event stream cannot amplify it.
func (r *Renderer) Tick(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress.Zero() {
		return
	}
	if r.clock.Now().Sub(r.lastEdit[r.progress.Message]) < editInterval {
		return
	}
	r.frame = (r.frame + 1) % len(spinnerFrames)
	if err := r.messenger.EditHTML(ctx, r.progress, r.progressText()); err != nil {
		r.handleSendError(ctx, err, "progress edit")
		return
	}
	r.lastEdit[r.progress.Message] = r.clock.Now()
}

// Complete finalizes the query's messages: ephemeral status lines are
// removed, the spinner becomes a completion footer, and the last
// response message gets a thumbs-up so the outcome is visible even
// with notifications muted.
func (r *Renderer) Complete(ctx context.Context, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range r.ephemeral {
		if err := r.messenger.DeleteMessage(ctx, ref); err != nil {
			r.log.Debug("delete ephemeral message failed", "error", err)
		}
	}
	r.ephemeral = nil

	if !r.progress.Zero() {
		ended := r.clock.Now()
		elapsed := int(ended.Sub(r.started).Seconds())
		var footer string
		if ok {
			footer = fmt.Sprintf("✅ Completed\n⏰ %s → %s (%s)",
				r.started.Format("15:04:05"), ended.Format("15:04:05"), FormatElapsed(elapsed))
		} else {
			footer = "🛑 Stopped"
		}
		if err := r.messenger.EditHTML(ctx, r.progress, footer); err != nil {
			r.log.Warn("completion footer edit failed", "error", err)
		}
		r.progress = chat.MessageRef{}
	}

	if ok {
		if last, found := r.lastSegment(); found {
			if err := r.messenger.SetReaction(ctx, last, "👍"); err != nil {
				r.log.Debug("completion reaction failed", "error", err)
			}
		}
	}
}

// LastSegmentRef exposes the newest response message, used by the
// router to reply-thread follow-up notifications.
func (r *Renderer) LastSegmentRef() (chat.MessageRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSegment()
}

func (r *Renderer) lastSegment() (chat.MessageRef, bool) {
	best := -1
	for index := range r.segments {
		if index > best {
			best = index
		}
	}
	if best < 0 {
		return chat.MessageRef{}, false
	}
	return r.segments[best], true
}

// sendAnchored sends a message while keeping the spinner as the
// bottom message in the chat: the old spinner is deleted and a fresh
// one posted after the content.
func (r *Renderer) sendAnchored(ctx context.Context, html string) (chat.MessageRef, error) {
	if !r.progress.Zero() {
		if err := r.messenger.DeleteMessage(ctx, r.progress); err != nil {
			r.log.Debug("delete progress for reanchor failed", "error", err)
		}
		delete(r.lastEdit, r.progress.Message)
		r.progress = chat.MessageRef{}
	}
	ref, err := r.messenger.SendHTML(ctx, r.chatID, html)
	if err != nil {
		return chat.MessageRef{}, err
	}
	r.sendProgress(ctx)
	return ref, nil
}

func (r *Renderer) sendProgress(ctx context.Context) {
	ref, err := r.messenger.SendHTML(ctx, r.chatID, r.progressText())
	if err != nil {
		r.log.Warn("progress send failed", "error", err)
		return
	}
	r.progress = ref
	r.lastEdit[ref.Message] = r.clock.Now()
}

func (r *Renderer) progressText() string {
	elapsed := int(r.clock.Now().Sub(r.started).Seconds())
	return fmt.Sprintf("%s Working... (%s)", spinnerFrames[r.frame], FormatElapsed(elapsed))
}

// handleSendError degrades gracefully when the transport throttles
// us: the first 429 swaps the visible signal to a reaction on the
// triggering message, which does not count against message-send
// limits. Other errors are logged and the stream keeps going; a
// transient send failure should not kill the query.
func (r *Renderer) handleSendError(ctx context.Context, err error, op string) {
	if messaging.IsRateLimited(err) {
		r.log.Warn("transport rate limited", "op", op, "error", err)
		if !r.limited && !r.replyTo.Zero() {
			r.limited = true
			if rerr := r.messenger.SetReaction(ctx, r.replyTo, "✍"); rerr != nil {
				r.log.Debug("rate-limit reaction failed", "error", rerr)
			}
		}
		return
	}
	r.log.Warn("render operation failed", "op", op, "error", err)
}
