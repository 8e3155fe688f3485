// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent drives the coding agent as a child process. The agent
// speaks newline-delimited JSON on stdout; this package spawns it,
// decodes the stream into Events, and manages the process lifecycle.
package agent

import (
	"context"
	"fmt"
	"io"
	"os"
)

// SpawnOptions configures one agent run.
type SpawnOptions struct {
	// Prompt is the user prompt, passed as the final positional
	// argument.
	Prompt string

	// WorkingDirectory is the directory the agent starts in.
	WorkingDirectory string

	// Model is the model alias to run. Empty uses the agent's
	// default.
	Model string

	// MaxThinkingTokens caps the reasoning budget. Zero disables
	// extended thinking.
	MaxThinkingTokens int

	// SystemPrompt is appended to the agent's system prompt. Used
	// for the safety preamble.
	SystemPrompt string

	// AddDirs lists directories the agent's file tools may touch, in
	// addition to the working directory.
	AddDirs []string

	// MCPConfigPath points at a tool-server config file. Empty
	// disables auxiliary tool servers.
	MCPConfigPath string

	// ResumeSessionID resumes an existing agent session. Empty
	// starts fresh.
	ResumeSessionID string

	// ForkSession branches the resumed session instead of appending
	// to it. Only meaningful with ResumeSessionID.
	ForkSession bool

	// ExtraEnv is additional environment in "KEY=VALUE" form.
	ExtraEnv []string
}

// Process is a running agent process.
type Process interface {
	// Wait blocks until the process exits. Returns nil on exit
	// status 0 and a CrashError otherwise.
	Wait() error

	// Stdin returns the write end of the process's stdin pipe.
	// Writing a line injects a user message into the running agent.
	Stdin() io.Writer

	// Signal sends an OS signal to the process group.
	Signal(signal os.Signal) error

	// Kill forcefully terminates the process group.
	Kill() error
}

// Driver is the boundary between session management and
// agent-specific behavior.
type Driver interface {
	// Start spawns the agent. The returned reader is the agent's
	// stdout; the caller must drain it (via ParseOutput) before
	// calling Process.Wait.
	Start(ctx context.Context, opts SpawnOptions) (Process, io.ReadCloser, error)

	// ParseOutput decodes the agent's stdout into events. Blocks
	// until EOF or context cancellation. The caller closes the
	// events channel after ParseOutput returns.
	ParseOutput(ctx context.Context, stdout io.Reader, events chan<- Event) error

	// Interrupt asks the agent to stop gracefully. The agent
	// finishes its current tool call and exits.
	Interrupt(process Process) error
}

// CrashError reports an agent process that exited non-zero. The text
// handler retries a crashed query once after clearing the session id.
type CrashError struct {
	Code   int
	Stderr string
}

func (e *CrashError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("agent: process exited with code %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("agent: process exited with code %d", e.Code)
}
