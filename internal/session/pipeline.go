// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/covebridge/courier/internal/agent"
	"github.com/covebridge/courier/internal/audit"
	"github.com/covebridge/courier/internal/buttons"
	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/render"
	"github.com/covebridge/courier/internal/safety"
	"github.com/covebridge/courier/lib/clock"
)

const (
	// segmentEmitThreshold keeps tiny partial segments out of the
	// chat; the first live edit waits until this much text exists.
	segmentEmitThreshold = 20

	// segmentEmitInterval throttles live-edit emissions per segment.
	segmentEmitInterval = 500 * time.Millisecond

	// buttonLabelMax truncates option labels for inline keyboards.
	buttonLabelMax = 50

	// noResponseFallback is returned when the agent produced no text
	// at all and no terminal result carried any either.
	noResponseFallback = "No response from Claude."

	// waitingSentinel is the turn text when an interactive question
	// was surfaced; the real answer arrives via the button callback.
	waitingSentinel = "[Waiting for user selection]"
)

// TurnOutput is the outcome of one processed event stream.
type TurnOutput struct {
	Text           string
	WaitingForUser bool
	Usage          *agent.Usage
	SessionID      string
}

// PipelineConfig wires one pipeline run.
type PipelineConfig struct {
	ChatID chat.ChatID
	Sink   render.Sink

	Commands *safety.CommandPolicy
	Paths    *safety.PathPolicy

	// WorkingDir resolves relative paths in Bash safety checks.
	WorkingDir string

	Buttons   *buttons.Channel
	Messenger messaging.Messenger

	// DrainSteering returns and clears messages queued mid-query.
	// Called immediately before each tool emission.
	DrainSteering func() []SteeredMessage

	// Stdin is the agent's input pipe for steering injection. May be
	// nil when the driver exposes no stdin (tests).
	Stdin io.Writer

	// Cancel stops the agent process. Invoked on policy violations
	// and after surfacing an interactive question.
	Cancel func()

	// Audit records tool invocations. Nil disables auditing.
	Audit    *audit.Logger
	User     chat.UserID
	Username string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Pipeline folds the agent's event stream into renderer calls,
// enforcing tool policy along the way. Not safe for concurrent use;
// one pipeline handles one query on one goroutine.
type Pipeline struct {
	cfg PipelineConfig

	responseParts []string
	segmentID     int
	segmentText   strings.Builder
	lastSnapshot  string
	lastEmit      time.Time

	sessionID       string
	lastUsage       *agent.Usage
	finalResult     string
	askUserTrigger  bool
	buttonsSent     bool
	policyViolation *PolicyViolationError
}

// NewPipeline validates deps and returns a pipeline for one query.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg}
}

// Violation returns the policy violation that terminated the stream,
// if any.
func (p *Pipeline) Violation() *PolicyViolationError { return p.policyViolation }

// WaitingForUser reports whether an interactive question was
// surfaced.
func (p *Pipeline) WaitingForUser() bool { return p.askUserTrigger }

// HandleEvent processes one decoded event. A non-nil error means the
// stream must stop (policy violation); the caller cancels the agent.
func (p *Pipeline) HandleEvent(ctx context.Context, event agent.Event) error {
	if p.sessionID == "" && event.SessionID != "" {
		p.sessionID = event.SessionID
	}

	switch event.Type {
	case agent.EventTypeText:
		if event.Text.Snapshot {
			p.handleSnapshot(ctx, event.Text.Text)
		} else {
			p.appendDelta(ctx, event.Text.Text)
		}
		return nil

	case agent.EventTypeThinking:
		p.cfg.Sink.Thinking(ctx, event.Thinking.Text)
		return nil

	case agent.EventTypeToolUse:
		return p.handleToolUse(ctx, event.ToolUse)

	case agent.EventTypeResult:
		p.finalResult = event.Result.Text
		if event.Result.Usage != nil {
			copied := *event.Result.Usage
			p.lastUsage = &copied
		}
		return nil

	default:
		return nil
	}
}

// handleSnapshot diffs a full-text assistant message against the text
// already seen. Agents that re-send the whole message per event
// would otherwise duplicate everything.
func (p *Pipeline) handleSnapshot(ctx context.Context, snapshot string) {
	if strings.HasPrefix(snapshot, p.lastSnapshot) {
		delta := snapshot[len(p.lastSnapshot):]
		if delta != "" {
			p.appendDelta(ctx, delta)
		}
		p.lastSnapshot = snapshot
		return
	}
	// Prefix mismatch: treat the whole snapshot as new text rather
	// than resetting mid-turn.
	if snapshot != "" {
		p.appendDelta(ctx, snapshot)
	}
	p.lastSnapshot = snapshot
}

func (p *Pipeline) appendDelta(ctx context.Context, text string) {
	if text == "" {
		return
	}
	p.responseParts = append(p.responseParts, text)
	p.segmentText.WriteString(text)

	now := p.cfg.Clock.Now()
	if p.segmentText.Len() <= segmentEmitThreshold {
		return
	}
	if !p.lastEmit.IsZero() && now.Sub(p.lastEmit) <= segmentEmitInterval {
		return
	}
	p.cfg.Sink.Segment(ctx, p.segmentID, p.segmentText.String(), false)
	p.lastEmit = now
}

func (p *Pipeline) handleToolUse(ctx context.Context, tool *agent.ToolUseEvent) error {
	if reason := p.checkToolPolicy(tool); reason != "" {
		p.auditTool(tool, true, reason)
		p.cfg.Sink.Activity(ctx, "🚫 BLOCKED: "+render.EscapeHTML(reason))
		p.policyViolation = &PolicyViolationError{Reason: reason}
		if p.cfg.Cancel != nil {
			p.cfg.Cancel()
		}
		return p.policyViolation
	}
	p.auditTool(tool, false, "")

	// The segment ends where the tool begins.
	if p.segmentText.Len() > 0 {
		p.cfg.Sink.Segment(ctx, p.segmentID, p.segmentText.String(), true)
		p.segmentID++
		p.segmentText.Reset()
		p.lastSnapshot = ""
		p.lastEmit = time.Time{}
	}

	p.injectSteering()

	if isAskUserTool(tool.Name) {
		p.askUserTrigger = true
		p.surfaceButtonRequests(ctx)
		if p.cfg.Cancel != nil {
			p.cfg.Cancel()
		}
		return nil
	}

	p.cfg.Sink.Activity(ctx, render.ToolStatusLine(tool.Name, tool.Input))
	return nil
}

// checkToolPolicy returns a denial reason, or "" when the tool call
// is acceptable.
func (p *Pipeline) checkToolPolicy(tool *agent.ToolUseEvent) string {
	switch tool.Name {
	case "Bash":
		return p.cfg.Commands.Check(tool.StringInput("command"), p.cfg.WorkingDir)

	case "Read":
		path := tool.StringInput("file_path")
		if path == "" || p.cfg.Paths.ReadAllowed(path) {
			return ""
		}
		return fmt.Sprintf("access denied: %s", path)

	case "Write", "Edit":
		path := tool.StringInput("file_path")
		if path == "" || p.cfg.Paths.Allowed(path) {
			return ""
		}
		return fmt.Sprintf("access denied: %s", path)
	}
	return ""
}

// injectSteering writes queued user messages into the agent's stdin
// inside a delimited frame, so the agent sees them at the tool
// boundary instead of after the query finishes.
func (p *Pipeline) injectSteering() {
	if p.cfg.DrainSteering == nil || p.cfg.Stdin == nil {
		return
	}
	queued := p.cfg.DrainSteering()
	if len(queued) == 0 {
		return
	}
	texts := make([]string, len(queued))
	for i, message := range queued {
		texts[i] = message.Text
	}
	frame := "[USER SENT MESSAGE DURING EXECUTION]\n" + strings.Join(texts, "\n") + "\n[END USER MESSAGE]\n"
	if _, err := io.WriteString(p.cfg.Stdin, frame); err != nil {
		p.cfg.Logger.Warn("steering injection failed", "error", err)
	}
}

// surfaceButtonRequests polls for the request file the tool server
// writes. The tool call event can outrun the file write, so poll a
// short ladder before giving up.
func (p *Pipeline) surfaceButtonRequests(ctx context.Context) {
	if p.cfg.Buttons == nil || p.cfg.Messenger == nil {
		return
	}
	p.cfg.Clock.Sleep(200 * time.Millisecond)
	for attempt := 0; attempt < 3; attempt++ {
		if p.sendPendingKeyboards(ctx) {
			p.buttonsSent = true
			return
		}
		if attempt < 2 {
			p.cfg.Clock.Sleep(100 * time.Millisecond)
		}
	}
}

func (p *Pipeline) sendPendingKeyboards(ctx context.Context) bool {
	pending, err := p.cfg.Buttons.Pending(p.cfg.ChatID)
	if err != nil {
		p.cfg.Logger.Warn("scanning button requests failed", "error", err)
		return false
	}
	sent := false
	for _, request := range pending {
		keyboard := buildKeyboard(request)
		text := "❓ " + render.EscapeHTML(request.Question)
		if _, err := p.cfg.Messenger.SendKeyboard(ctx, p.cfg.ChatID, text, keyboard); err != nil {
			p.cfg.Logger.Warn("sending keyboard failed", "error", err)
			continue
		}
		if err := p.cfg.Buttons.MarkSent(request); err != nil {
			p.cfg.Logger.Warn("marking request sent failed", "error", err)
		}
		sent = true
	}
	return sent
}

func buildKeyboard(request buttons.Request) messaging.Keyboard {
	keyboard := messaging.Keyboard{Buttons: make([]messaging.Button, len(request.Options))}
	for i, option := range request.Options {
		label := option
		if len(label) > buttonLabelMax {
			label = label[:buttonLabelMax] + "..."
		}
		keyboard.Buttons[i] = messaging.Button{
			Label:        label,
			CallbackData: fmt.Sprintf("askuser:%s:%d", request.RequestID, i),
		}
	}
	return keyboard
}

// Finish flushes the trailing segment, completes the renderer, and
// assembles the turn output. stopped marks a user-initiated stop; the
// renderer shows the stopped footer instead of the completed one.
func (p *Pipeline) Finish(ctx context.Context, stopped bool) TurnOutput {
	if p.askUserTrigger {
		p.cfg.Sink.Complete(ctx, true)
		text := waitingSentinel
		if !p.buttonsSent {
			text = "[Waiting for user selection (no request file found yet)]"
		}
		return TurnOutput{
			Text:           text,
			WaitingForUser: true,
			Usage:          p.lastUsage,
			SessionID:      p.sessionID,
		}
	}

	if p.segmentText.Len() > 0 {
		p.cfg.Sink.Segment(ctx, p.segmentID, p.segmentText.String(), true)
	}
	p.cfg.Sink.Complete(ctx, !stopped && p.policyViolation == nil)

	text := strings.Join(p.responseParts, "")
	if text == "" {
		text = p.finalResult
	}
	if text == "" {
		text = noResponseFallback
	}
	return TurnOutput{
		Text:      text,
		Usage:     p.lastUsage,
		SessionID: p.sessionID,
	}
}

func (p *Pipeline) auditTool(tool *agent.ToolUseEvent, blocked bool, reason string) {
	if p.cfg.Audit == nil {
		return
	}
	event := audit.ToolUse(p.cfg.User, p.cfg.Username, tool.Name, tool.Input, blocked, reason)
	if err := p.cfg.Audit.Write(event); err != nil {
		p.cfg.Logger.Warn("audit write failed", "error", err)
	}
}

func isAskUserTool(name string) bool {
	return strings.HasPrefix(name, "mcp__ask-user") || name == "AskUserQuestion"
}
