// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the conversation with the agent: one session
// per bridge process, at most one running query, cumulative token
// accounting with context-budget alarms, a steering buffer for
// messages that arrive mid-query, and a checkpoint file that lets a
// restarted bridge resume where it left off.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/covebridge/courier/internal/agent"
	"github.com/covebridge/courier/lib/clock"
)

const (
	// contextLimit is the agent's context window in tokens.
	contextLimit = 200_000

	// restoreCooldown is how many completed queries after a context
	// restore the budget alarms stay silent. A freshly restored
	// session reports inflated usage until the window is re-settled.
	restoreCooldown = 50

	// steeringCap bounds the mid-query message buffer.
	steeringCap = 20

	providerName = "claude_cli"
)

// Alarm is a context-budget threshold crossing.
type Alarm int

const (
	Alarm70 Alarm = iota
	Alarm85
	Alarm95
	AlarmSaveRequired
)

// SteeredMessage is one user message queued while a query was
// running.
type SteeredMessage struct {
	Text      string
	ArrivedAt time.Time
}

// Stats is a point-in-time snapshot for /status and /stats.
type Stats struct {
	SessionID   string
	Running     bool
	LastMessage string

	StartedAt        time.Time
	TotalUsage       agent.Usage
	Queries          int64
	LastUsage        *agent.Usage
	RecentlyRestored bool
}

// Session tracks one chat's agent conversation. All methods are safe
// for concurrent use; the router still serializes queries per chat,
// but /status and /stats read from other goroutines.
type Session struct {
	filePath   string
	workingDir string
	clock      clock.Clock

	mu sync.Mutex

	sessionID     string
	running       bool
	stopRequested bool
	interrupted   bool
	lastMessage   string
	steering      []SteeredMessage

	startedAt time.Time
	totals    agent.Usage
	queries   int64
	lastUsage *agent.Usage

	warned70     bool
	warned85     bool
	warned95     bool
	saveRequired bool

	recentlyRestored     bool
	messagesSinceRestore int
}

// New creates an empty session persisting to filePath, bound to
// workingDir.
func New(filePath, workingDir string, clk clock.Clock) *Session {
	return &Session{filePath: filePath, workingDir: workingDir, clock: clk}
}

// WorkingDir returns the directory the session is bound to.
func (s *Session) WorkingDir() string { return s.workingDir }

// Active reports whether an agent session id is held.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != ""
}

// Running reports whether a query is in flight.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SessionID returns the held agent session id, or "".
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// MarkInterrupt flags that the next stop is an interrupt-and-replace,
// not a plain /stop, so the "query stopped" notice is suppressed.
func (s *Session) MarkInterrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupted = true
}

// ClearStopRequested allows a new query to start after an interrupt
// without consuming the interrupt marker.
func (s *Session) ClearStopRequested() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = false
}

// ConsumeInterruptFlag returns whether the last stop was an interrupt
// and resets the marker.
func (s *Session) ConsumeInterruptFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.interrupted
	s.interrupted = false
	if was {
		s.stopRequested = false
	}
	return was
}

// RequestStop flags the running query for cancellation. Returns false
// when nothing is running.
func (s *Session) RequestStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.stopRequested = true
	return true
}

// StopRequested reports whether a stop is pending for the running
// query. The runner polls this on its tick to interrupt the agent.
func (s *Session) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// BeginQuery transitions to running. Fails when a stop was requested
// between scheduling and spawn.
func (s *Session) BeginQuery() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopRequested {
		s.stopRequested = false
		return ErrCancelled
	}
	s.running = true
	return nil
}

// EndQuery transitions back to idle.
func (s *Session) EndQuery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.stopRequested = false
}

// Kill clears all session state, in memory and on disk. Used by /new.
func (s *Session) Kill() error {
	s.mu.Lock()
	s.sessionID = ""
	s.running = false
	s.stopRequested = false
	s.interrupted = false
	s.lastMessage = ""
	s.steering = nil
	s.startedAt = time.Time{}
	s.totals = agent.Usage{}
	s.queries = 0
	s.lastUsage = nil
	s.warned70 = false
	s.warned85 = false
	s.warned95 = false
	s.saveRequired = false
	s.recentlyRestored = false
	s.messagesSinceRestore = 0
	s.mu.Unlock()

	return RemoveFile(s.filePath)
}

// SetLastMessage records the most recent user prompt for /retry.
func (s *Session) SetLastMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMessage = message
}

// LastMessage returns the most recent user prompt, or "".
func (s *Session) LastMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage
}

// ClearSessionID drops the held session id without touching counters.
// Used before retrying a crashed query with a fresh agent.
func (s *Session) ClearSessionID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
}

// PushSteering queues a message that arrived while a query was
// running. Returns false when the buffer is full; the caller tells
// the user the message was dropped.
func (s *Session) PushSteering(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steering) >= steeringCap {
		return false
	}
	s.steering = append(s.steering, SteeredMessage{Text: text, ArrivedAt: s.clock.Now()})
	return true
}

// DrainSteering returns and clears the queued messages.
func (s *Session) DrainSteering() []SteeredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.steering
	s.steering = nil
	return drained
}

// ObserveSessionID stores the agent-minted id the first time it is
// seen and checkpoints it immediately.
func (s *Session) ObserveSessionID(id string) error {
	s.mu.Lock()
	if id == "" || s.sessionID != "" {
		s.mu.Unlock()
		return nil
	}
	s.sessionID = id
	if s.startedAt.IsZero() {
		s.startedAt = s.clock.Now()
	}
	s.mu.Unlock()
	return s.checkpoint(id)
}

func (s *Session) checkpoint(id string) error {
	s.mu.Lock()
	data := FileData{
		Provider:          providerName,
		SessionID:         id,
		SavedAt:           s.clock.Now().UTC().Format(time.RFC3339),
		WorkingDir:        s.workingDir,
		TotalInputTokens:  s.totals.InputTokens,
		TotalOutputTokens: s.totals.OutputTokens,
		TotalQueries:      s.queries,
	}
	if !s.startedAt.IsZero() {
		data.SessionStart = s.startedAt.UTC().Format(time.RFC3339)
	}
	s.mu.Unlock()
	return SaveFile(s.filePath, data)
}

// ResumeLast restores the session id from the checkpoint file. The
// checkpoint must have been written for the same working directory;
// resuming a conversation about different files would confuse the
// agent and the user alike.
func (s *Session) ResumeLast() (bool, string, error) {
	data, found, err := LoadFile(s.filePath)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "No saved session found", nil
	}
	if data.WorkingDir != s.workingDir {
		return false, fmt.Sprintf("Session was for different directory: %s", data.WorkingDir), nil
	}

	s.mu.Lock()
	s.sessionID = data.SessionID
	s.totals = agent.Usage{
		InputTokens:  data.TotalInputTokens,
		OutputTokens: data.TotalOutputTokens,
	}
	s.queries = data.TotalQueries
	if start, perr := time.Parse(time.RFC3339, data.SessionStart); perr == nil {
		s.startedAt = start
	} else if s.startedAt.IsZero() {
		s.startedAt = s.clock.Now()
	}
	s.mu.Unlock()

	return true, fmt.Sprintf("Resumed session `%s` (saved at %s)", shortID(data.SessionID), data.SavedAt), nil
}

// AccumulateUsage folds a completed query's usage into the cumulative
// counters, checkpoints, and returns any context-budget thresholds
// crossed by this query. Alarms are suppressed during the
// post-restore cooldown.
func (s *Session) AccumulateUsage(usage *agent.Usage) ([]Alarm, error) {
	if usage == nil {
		return nil, nil
	}

	s.mu.Lock()
	if s.startedAt.IsZero() {
		s.startedAt = s.clock.Now()
	}
	s.totals.Add(usage)
	s.queries++
	copied := *usage
	s.lastUsage = &copied

	var alarms []Alarm
	if !s.recentlyRestored {
		consumed := s.totals.InputTokens + s.totals.OutputTokens
		if !s.warned70 && consumed >= contextLimit*70/100 {
			s.warned70 = true
			alarms = append(alarms, Alarm70)
		}
		if !s.warned85 && consumed >= contextLimit*85/100 {
			s.warned85 = true
			alarms = append(alarms, Alarm85)
		}
		if !s.saveRequired && consumed >= contextLimit*90/100 {
			s.saveRequired = true
			alarms = append(alarms, AlarmSaveRequired)
		}
		if !s.warned95 && consumed >= contextLimit*95/100 {
			s.warned95 = true
			alarms = append(alarms, Alarm95)
		}
	}
	id := s.sessionID
	s.mu.Unlock()

	if id == "" {
		return alarms, nil
	}
	return alarms, s.checkpoint(id)
}

// SaveRequired reports whether the save threshold has been crossed
// and not yet acted on.
func (s *Session) SaveRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRequired
}

// ClearSaveRequired resets the save flag after a successful
// auto-save.
func (s *Session) ClearSaveRequired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveRequired = false
}

// MarkRestored starts the post-restore cooldown and clears all
// warning flags.
func (s *Session) MarkRestored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentlyRestored = true
	s.messagesSinceRestore = 0
	s.warned70 = false
	s.warned85 = false
	s.warned95 = false
	s.saveRequired = false
}

// NoteUserMessage advances the cooldown counter. After the cooldown
// has elapsed the alarms re-arm.
func (s *Session) NoteUserMessage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recentlyRestored {
		return
	}
	s.messagesSinceRestore++
	if s.messagesSinceRestore >= restoreCooldown {
		s.recentlyRestored = false
		s.messagesSinceRestore = 0
	}
}

// ContextReport is a snapshot of the context-budget estimate.
type ContextReport struct {
	Used  int64
	Limit int64

	Warned70     bool
	Warned85     bool
	Warned95     bool
	SaveRequired bool

	RecentlyRestored bool
}

// ContextBudget estimates how much of the agent's context window the
// session has consumed, with the one-shot threshold flags.
func (s *Session) ContextBudget() ContextReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ContextReport{
		Used:             s.totals.InputTokens + s.totals.OutputTokens,
		Limit:            contextLimit,
		Warned70:         s.warned70,
		Warned85:         s.warned85,
		Warned95:         s.warned95,
		SaveRequired:     s.saveRequired,
		RecentlyRestored: s.recentlyRestored,
	}
}

// Stats returns a snapshot for status commands.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *agent.Usage
	if s.lastUsage != nil {
		copied := *s.lastUsage
		last = &copied
	}
	return Stats{
		SessionID:        s.sessionID,
		Running:          s.running,
		LastMessage:      s.lastMessage,
		StartedAt:        s.startedAt,
		TotalUsage:       s.totals,
		Queries:          s.queries,
		LastUsage:        last,
		RecentlyRestored: s.recentlyRestored,
	}
}

// BudgetForPrompt picks the thinking-token budget by keyword match.
// Deep keywords win over plain ones; no match uses defaultBudget.
func BudgetForPrompt(prompt string, keywords, deepKeywords []string, defaultBudget int) int {
	lower := strings.ToLower(prompt)
	for _, keyword := range deepKeywords {
		if keyword != "" && strings.Contains(lower, keyword) {
			return 50_000
		}
	}
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(lower, keyword) {
			return 10_000
		}
	}
	return defaultBudget
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
