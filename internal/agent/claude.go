// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// stderrLimit bounds the diagnostic buffer so a chatty agent cannot
// grow it without bound.
const stderrLimit = 16 * 1024

// ClaudeDriver runs the Claude Code CLI in non-interactive streaming
// mode.
type ClaudeDriver struct {
	// BinaryPath is the agent executable. Empty means "claude" from
	// PATH.
	BinaryPath string

	// ConfigDir sets CLAUDE_CONFIG_DIR for the child so the bridge
	// can isolate agent state from the operator's own installation.
	ConfigDir string

	// Logger receives decode diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

func (d *ClaudeDriver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// buildArgs assembles the CLI invocation for one run. The permission
// prompt is bypassed; per-call enforcement happens in the safety
// layer before each tool event is surfaced.
func buildArgs(opts SpawnOptions) []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", "bypassPermissions",
		"--dangerously-skip-permissions",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	if len(opts.AddDirs) > 0 {
		args = append(args, "--add-dir")
		args = append(args, opts.AddDirs...)
	}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
		if opts.ForkSession {
			args = append(args, "--fork-session")
		}
	}
	if opts.MCPConfigPath != "" {
		args = append(args, "--mcp-config", opts.MCPConfigPath)
	}
	return append(args, opts.Prompt)
}

// claudeProcess wraps the child process. The agent spawns its own
// tool subprocesses, so signals and kills target the process group.
type claudeProcess struct {
	command *exec.Cmd
	stdin   io.WriteCloser

	stderrMu sync.Mutex
	stderr   bytes.Buffer
}

func (p *claudeProcess) Wait() error {
	err := p.command.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CrashError{Code: exitErr.ExitCode(), Stderr: p.stderrTail()}
	}
	return fmt.Errorf("agent: wait: %w", err)
}

func (p *claudeProcess) Stdin() io.Writer { return p.stdin }

func (p *claudeProcess) Signal(signal os.Signal) error {
	if p.command.Process == nil {
		return fmt.Errorf("agent: process not started")
	}
	sig, ok := signal.(syscall.Signal)
	if !ok {
		return p.command.Process.Signal(signal)
	}
	return unix.Kill(-p.command.Process.Pid, sig)
}

func (p *claudeProcess) Kill() error {
	if p.command.Process == nil {
		return nil
	}
	err := unix.Kill(-p.command.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// stderrTail returns the buffered diagnostics, truncated from the
// front if the agent wrote more than the buffer keeps.
func (p *claudeProcess) stderrTail() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	text := strings.TrimSpace(p.stderr.String())
	if len(text) > stderrLimit {
		text = text[len(text)-stderrLimit:]
	}
	return text
}

func (p *claudeProcess) appendStderr(line []byte) {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	if p.stderr.Len() < stderrLimit {
		p.stderr.Write(line)
		p.stderr.WriteByte('\n')
	}
}

// Start spawns the agent in its own process group.
func (d *ClaudeDriver) Start(ctx context.Context, opts SpawnOptions) (Process, io.ReadCloser, error) {
	binary := d.BinaryPath
	if binary == "" {
		binary = "claude"
	}

	command := exec.CommandContext(ctx, binary, buildArgs(opts)...)
	command.Dir = opts.WorkingDirectory
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	env := append(os.Environ(), opts.ExtraEnv...)
	if d.ConfigDir != "" {
		env = append(env, "CLAUDE_CONFIG_DIR="+d.ConfigDir)
	}
	if opts.MaxThinkingTokens > 0 {
		env = append(env, "MAX_THINKING_TOKENS="+strconv.Itoa(opts.MaxThinkingTokens))
	}
	command.Env = env

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("agent: stdin pipe: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	stderr, err := command.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("agent: stderr pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("agent: starting %s: %w", binary, err)
	}

	process := &claudeProcess{command: command, stdin: stdin}

	// Drain stderr so the pipe never blocks the agent; keep a tail
	// for crash diagnostics.
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 4*1024), 256*1024)
		for scanner.Scan() {
			process.appendStderr(scanner.Bytes())
		}
	}()

	return process, stdout, nil
}

// ParseOutput decodes stream-json lines into events. Malformed lines
// and unknown types become EventTypeUnknown; the stream keeps going.
func (d *ClaudeDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- Event) error {
	scanner := bufio.NewScanner(stdout)
	// Tool results can embed large file contents on a single line.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		for _, event := range decodeLine(line) {
			if event.Type == EventTypeUnknown {
				d.logger().Debug("unrecognized agent event", "line", string(event.Raw))
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("agent: reading output: %w", err)
	}
	return nil
}

// Interrupt sends SIGINT; the agent finishes the current tool call
// and exits.
func (d *ClaudeDriver) Interrupt(process Process) error {
	return process.Signal(syscall.SIGINT)
}

// wireEvent is the stream-json envelope.
type wireEvent struct {
	Type       string       `json:"type"`
	Subtype    string       `json:"subtype"`
	SessionID  string       `json:"session_id"`
	Message    *wireMessage `json:"message"`
	Result     string       `json:"result"`
	IsError    bool         `json:"is_error"`
	Usage      *Usage       `json:"usage"`
	DurationMS int64        `json:"duration_ms"`
	NumTurns   int          `json:"num_turns"`
}

type wireMessage struct {
	Content []wireBlock `json:"content"`
	Usage   *Usage      `json:"usage"`
}

type wireBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Thinking string         `json:"thinking"`
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Input    map[string]any `json:"input"`
}

// decodeLine turns one NDJSON line into zero or more events. An
// assistant message fans out into one event per content block, except
// that an all-text message collapses into a single snapshot event so
// the consumer can diff it against text seen so far.
func decodeLine(line []byte) []Event {
	var wire wireEvent
	if err := json.Unmarshal(line, &wire); err != nil {
		return []Event{unknownEvent(line)}
	}

	switch wire.Type {
	case "system":
		if wire.Subtype == "init" {
			return []Event{{Type: EventTypeInit, SessionID: wire.SessionID}}
		}
		return []Event{{Type: EventTypeUnknown, SessionID: wire.SessionID, Raw: copyLine(line)}}

	case "assistant":
		if wire.Message == nil {
			return []Event{unknownEvent(line)}
		}
		return decodeAssistant(wire.SessionID, wire.Message)

	case "result":
		return []Event{{
			Type:      EventTypeResult,
			SessionID: wire.SessionID,
			Result: &ResultEvent{
				Text:       wire.Result,
				IsError:    wire.IsError,
				Usage:      wire.Usage,
				DurationMS: wire.DurationMS,
				NumTurns:   wire.NumTurns,
			},
		}}

	default:
		event := unknownEvent(line)
		event.SessionID = wire.SessionID
		return []Event{event}
	}
}

func decodeAssistant(sessionID string, message *wireMessage) []Event {
	allText := len(message.Content) > 0
	for _, block := range message.Content {
		if block.Type != "text" {
			allText = false
			break
		}
	}
	if allText {
		var joined strings.Builder
		for _, block := range message.Content {
			joined.WriteString(block.Text)
		}
		return []Event{{
			Type:      EventTypeText,
			SessionID: sessionID,
			Text:      &TextEvent{Text: joined.String(), Snapshot: true},
		}}
	}

	var events []Event
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			events = append(events, Event{
				Type:      EventTypeText,
				SessionID: sessionID,
				Text:      &TextEvent{Text: block.Text},
			})
		case "thinking":
			events = append(events, Event{
				Type:      EventTypeThinking,
				SessionID: sessionID,
				Thinking:  &ThinkingEvent{Text: block.Thinking},
			})
		case "tool_use":
			events = append(events, Event{
				Type:      EventTypeToolUse,
				SessionID: sessionID,
				ToolUse:   &ToolUseEvent{ID: block.ID, Name: block.Name, Input: block.Input},
			})
		}
	}
	return events
}

func unknownEvent(line []byte) Event {
	return Event{Type: EventTypeUnknown, Raw: copyLine(line)}
}

// copyLine detaches the raw bytes from the scanner's reused buffer.
func copyLine(line []byte) json.RawMessage {
	return json.RawMessage(append([]byte(nil), line...))
}
