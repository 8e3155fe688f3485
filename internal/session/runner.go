// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
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

// killGrace is how long after a graceful interrupt the runner waits
// before escalating to a hard kill.
const killGrace = 5 * time.Second

// RunnerConfig carries everything a query needs beyond the prompt.
type RunnerConfig struct {
	Driver  agent.Driver
	Session *Session

	Commands *safety.CommandPolicy
	Paths    *safety.PathPolicy

	Buttons   *buttons.Channel
	Messenger messaging.Messenger
	Audit     *audit.Logger

	Clock  clock.Clock
	Logger *slog.Logger

	// Model is the agent model alias. Empty uses the agent default.
	Model string

	// SystemPrompt is appended to the agent's system prompt.
	SystemPrompt string

	// AddDirs extends the agent's file-tool scope beyond the working
	// directory.
	AddDirs []string

	// MCPServers is the tool-server inventory; a per-chat config file
	// is materialized for each query.
	MCPServers agent.MCPServers

	// TempDir receives per-chat tool-server config files. Empty uses
	// the system temp directory.
	TempDir string

	// ThinkingKeywords and DeepThinkingKeywords select the thinking
	// budget per prompt.
	ThinkingKeywords      []string
	DeepThinkingKeywords  []string
	DefaultThinkingBudget int

	// QueryTimeout bounds one query end to end. Zero means no limit.
	QueryTimeout time.Duration
}

// QueryRequest is one prompt to run.
type QueryRequest struct {
	ChatID   chat.ChatID
	User     chat.UserID
	Username string
	Prompt   string
	Sink     render.Sink

	// ForkSession branches the resumed conversation instead of
	// appending to it. Used when restoring a saved context.
	ForkSession bool
}

// RunResult is the outcome of one query.
type RunResult struct {
	TurnOutput

	// Alarms are the context-budget thresholds this query crossed.
	Alarms []Alarm

	// Stopped is set when the user stopped the query mid-flight.
	Stopped bool
}

// Runner executes queries against the agent, one at a time per
// session. The router's per-chat lock guarantees the one-at-a-time
// part.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner validates the config and returns a runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Driver == nil {
		return nil, errors.New("session: RunnerConfig.Driver is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session: RunnerConfig.Session is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("session: RunnerConfig.Clock is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Runner{cfg: cfg}, nil
}

// Run processes one prompt to completion. It spawns the agent, folds
// the event stream through the pipeline into the sink, waits for the
// process, and folds usage into the session. A CrashError return
// means the agent died unexpectedly; the caller may retry once with a
// cleared session id.
func (r *Runner) Run(ctx context.Context, req QueryRequest) (RunResult, error) {
	sess := r.cfg.Session
	if err := sess.BeginQuery(); err != nil {
		return RunResult{}, err
	}
	defer sess.EndQuery()

	if r.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.QueryTimeout)
		defer cancel()
	}

	prompt := req.Prompt
	resumeID := sess.SessionID()
	if resumeID == "" {
		// A fresh agent has no notion of the current date. Queries on
		// an existing session inherit it from the first one.
		prompt = fmt.Sprintf("[Current date/time: %s]\n\n%s",
			r.cfg.Clock.Now().Format("Monday, January 02, 2006, 15:04 MST"), prompt)
	}

	mcpPath, err := agent.WriteMCPConfigForChat(r.cfg.TempDir, req.ChatID, r.cfg.MCPServers)
	if err != nil {
		return RunResult{}, fmt.Errorf("session: writing tool server config: %w", err)
	}
	if mcpPath != "" {
		defer os.Remove(mcpPath)
	}

	opts := agent.SpawnOptions{
		Prompt:           prompt,
		WorkingDirectory: sess.WorkingDir(),
		Model:            r.cfg.Model,
		MaxThinkingTokens: BudgetForPrompt(req.Prompt,
			r.cfg.ThinkingKeywords, r.cfg.DeepThinkingKeywords, r.cfg.DefaultThinkingBudget),
		SystemPrompt:    r.cfg.SystemPrompt,
		AddDirs:         r.cfg.AddDirs,
		MCPConfigPath:   mcpPath,
		ResumeSessionID: resumeID,
		ForkSession:     req.ForkSession && resumeID != "",
	}

	req.Sink.Begin(ctx)

	process, stdout, err := r.cfg.Driver.Start(ctx, opts)
	if err != nil {
		req.Sink.Complete(ctx, false)
		return RunResult{}, fmt.Errorf("session: starting agent: %w", err)
	}

	pipe := NewPipeline(PipelineConfig{
		ChatID:        req.ChatID,
		Sink:          req.Sink,
		Commands:      r.cfg.Commands,
		Paths:         r.cfg.Paths,
		WorkingDir:    sess.WorkingDir(),
		Buttons:       r.cfg.Buttons,
		Messenger:     r.cfg.Messenger,
		DrainSteering: sess.DrainSteering,
		Stdin:         process.Stdin(),
		Cancel: func() {
			if err := process.Kill(); err != nil {
				r.cfg.Logger.Warn("killing agent failed", "error", err)
			}
		},
		Audit:    r.cfg.Audit,
		User:     req.User,
		Username: req.Username,
		Clock:    r.cfg.Clock,
		Logger:   r.cfg.Logger,
	})

	events := make(chan agent.Event, 64)
	parseDone := make(chan error, 1)
	go func() {
		parseDone <- r.cfg.Driver.ParseOutput(ctx, stdout, events)
		close(events)
	}()

	ticker := r.cfg.Clock.NewTicker(time.Second)
	defer ticker.Stop()

	var (
		stopped       bool
		violated      bool
		interruptedAt time.Time
	)
	done := ctx.Done()
	for events != nil {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if violated {
				// The process is already being killed; drain the
				// rest of the stream without processing it.
				continue
			}
			if err := pipe.HandleEvent(ctx, event); err != nil {
				violated = true
			}

		case <-ticker.C:
			req.Sink.Tick(ctx)
			if sess.StopRequested() && !stopped {
				stopped = true
				interruptedAt = r.cfg.Clock.Now()
				if err := r.cfg.Driver.Interrupt(process); err != nil {
					r.cfg.Logger.Warn("interrupting agent failed", "error", err)
				}
			} else if stopped && r.cfg.Clock.Now().Sub(interruptedAt) >= killGrace {
				if err := process.Kill(); err != nil {
					r.cfg.Logger.Warn("killing agent failed", "error", err)
				}
			}

		case <-done:
			// CommandContext kills the process; the stream closes on
			// its own shortly.
			stopped = true
			done = nil
		}
	}

	waitErr := process.Wait()
	if parseErr := <-parseDone; parseErr != nil && !errors.Is(parseErr, context.Canceled) {
		r.cfg.Logger.Warn("parsing agent output failed", "error", parseErr)
	}

	out := pipe.Finish(ctx, stopped)

	if err := sess.ObserveSessionID(out.SessionID); err != nil {
		r.cfg.Logger.Warn("checkpointing session failed", "error", err)
	}
	alarms, err := sess.AccumulateUsage(out.Usage)
	if err != nil {
		r.cfg.Logger.Warn("checkpointing usage failed", "error", err)
	}

	result := RunResult{TurnOutput: out, Alarms: alarms, Stopped: stopped}

	if violation := pipe.Violation(); violation != nil {
		return result, violation
	}
	if stopped || out.WaitingForUser {
		// The exit status of an interrupted or canceled agent is not
		// meaningful.
		return result, nil
	}
	var crash *agent.CrashError
	if errors.As(waitErr, &crash) {
		return result, crash
	}
	if waitErr != nil {
		return result, fmt.Errorf("session: waiting for agent: %w", waitErr)
	}
	return result, nil
}
