// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/render"
	"github.com/covebridge/courier/internal/safety"
	"github.com/covebridge/courier/lib/clock"
)

const (
	// maxJobsPerHour bounds executions in a sliding window. A
	// misconfigured every-minute schedule must not burn the API quota.
	maxJobsPerHour = 60

	// maxPendingQueue caps jobs queued behind a busy session. The
	// queue drops its oldest entry on overflow.
	maxPendingQueue = 100

	// pollInterval drives the manifest mtime fallback poll and the
	// opportunistic queue drain.
	pollInterval = 2 * time.Second

	// notifySnippetLimit truncates the completion summary text.
	notifySnippetLimit = 3500

	// notifyErrorLimit truncates the failure summary text.
	notifyErrorLimit = 500
)

// RunFunc executes one prompt against the session and returns the
// final response text. The messenger passed in replaces the normal one
// for the duration of the run.
type RunFunc func(ctx context.Context, chatID chat.ChatID, prompt string, messenger messaging.Messenger) (string, error)

// SchedulerConfig wires a Scheduler.
type SchedulerConfig struct {
	// ManifestPath is the cron.yaml location, usually
	// <working_dir>/cron.yaml.
	ManifestPath string

	Paths *safety.PathPolicy

	// ChatID receives notifications and ask-user keyboards from
	// scheduled runs.
	ChatID chat.ChatID

	Messenger messaging.Messenger
	Run       RunFunc

	// Busy reports whether a user query is in flight. Jobs firing
	// while busy are queued.
	Busy func() bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Scheduler fires manifest jobs on their cron schedules.
type Scheduler struct {
	cfg SchedulerConfig

	mu           sync.Mutex
	jobs         []Job
	pending      []Job
	executions   []time.Time
	executing    bool
	lastModified time.Time
}

// NewScheduler validates the config and loads the manifest once.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.ManifestPath == "" {
		return nil, errors.New("schedule: SchedulerConfig.ManifestPath is required")
	}
	if cfg.Messenger == nil {
		return nil, errors.New("schedule: SchedulerConfig.Messenger is required")
	}
	if cfg.Run == nil {
		return nil, errors.New("schedule: SchedulerConfig.Run is required")
	}
	if cfg.Busy == nil {
		return nil, errors.New("schedule: SchedulerConfig.Busy is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("schedule: SchedulerConfig.Clock is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{cfg: cfg}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the manifest and replaces the job set. Queued jobs
// survive a reload; they were already due.
func (s *Scheduler) Reload() (int, error) {
	jobs, err := LoadManifest(s.cfg.ManifestPath, s.cfg.Paths, s.cfg.Logger)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()

	s.cfg.Logger.Info("schedule manifest loaded", "jobs", len(jobs))
	return len(jobs), nil
}

// JobCount returns the number of loaded jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Run drives the scheduler until ctx is done: a minute-grained cron
// check, a manifest watcher (fsnotify with an mtime-poll fallback),
// and the queue drain.
func (s *Scheduler) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		// Watch the directory: editors replace cron.yaml rather than
		// writing it in place, which drops a file-level watch.
		if err := watcher.Add(filepath.Dir(s.cfg.ManifestPath)); err != nil {
			s.cfg.Logger.Warn("watching manifest directory failed", "error", err)
		}
		defer watcher.Close()
	} else {
		s.cfg.Logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
	}

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	ticker := s.cfg.Clock.NewTicker(pollInterval)
	defer ticker.Stop()

	lastMinute := s.cfg.Clock.Now().Truncate(time.Minute)
	for {
		select {
		case <-ctx.Done():
			return

		case event := <-events:
			if filepath.Base(event.Name) != filepath.Base(s.cfg.ManifestPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.cfg.Logger.Info("manifest changed, reloading")
			if _, err := s.Reload(); err != nil {
				s.cfg.Logger.Warn("manifest reload failed", "error", err)
			}

		case <-ticker.C:
			s.pollManifest()
			now := s.cfg.Clock.Now()
			if minute := now.Truncate(time.Minute); !minute.Equal(lastMinute) {
				lastMinute = minute
				s.fireDue(ctx, minute)
			}
			s.ProcessQueue(ctx)
		}
	}
}

// pollManifest is the fallback change detector for filesystems where
// fsnotify misses events.
func (s *Scheduler) pollManifest() {
	info, err := os.Stat(s.cfg.ManifestPath)
	if err != nil {
		return
	}
	modified := info.ModTime()

	s.mu.Lock()
	changed := !s.lastModified.IsZero() && modified.After(s.lastModified)
	s.lastModified = modified
	s.mu.Unlock()

	if changed {
		s.cfg.Logger.Info("manifest mtime changed, reloading")
		if _, err := s.Reload(); err != nil {
			s.cfg.Logger.Warn("manifest reload failed", "error", err)
		}
	}
}

// fireDue executes every job whose schedule matches the given minute.
func (s *Scheduler) fireDue(ctx context.Context, minute time.Time) {
	s.mu.Lock()
	due := make([]Job, 0, 1)
	for _, job := range s.jobs {
		if job.Expr.Matches(minute) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.Execute(ctx, job)
	}
}

// Execute runs one job now, queueing it instead when the session is
// busy and skipping it when the hourly execution budget is spent.
func (s *Scheduler) Execute(ctx context.Context, job Job) {
	if s.cfg.Busy() {
		s.enqueue(job)
		return
	}

	s.mu.Lock()
	if s.executing {
		s.mu.Unlock()
		s.enqueue(job)
		return
	}
	now := s.cfg.Clock.Now()
	s.pruneExecutionsLocked(now)
	if len(s.executions) >= maxJobsPerHour {
		s.mu.Unlock()
		s.cfg.Logger.Warn("hourly job budget spent, skipping", "name", job.Name)
		return
	}
	s.executing = true
	s.executions = append(s.executions, now)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.executing = false
		s.mu.Unlock()
	}()

	s.cfg.Logger.Info("executing scheduled job", "name", job.Name)
	quiet := NewQuietMessenger(s.cfg.Messenger)
	text, err := s.cfg.Run(ctx, s.cfg.ChatID, job.Prompt, quiet)
	if err != nil {
		s.cfg.Logger.Error("scheduled job failed", "name", job.Name, "error", err)
		if job.Notify {
			s.notify(ctx, fmt.Sprintf("❌ <b>Scheduled job failed: %s</b>\n\n%s",
				render.EscapeHTML(job.Name),
				render.EscapeHTML(truncate(err.Error(), notifyErrorLimit))))
		}
		return
	}

	s.cfg.Logger.Info("scheduled job completed", "name", job.Name)
	if job.Notify {
		s.notify(ctx, fmt.Sprintf("🕐 <b>Scheduled: %s</b>\n\n%s",
			render.EscapeHTML(job.Name),
			render.EscapeHTML(truncate(text, notifySnippetLimit))))
	}
}

func (s *Scheduler) notify(ctx context.Context, html string) {
	if _, err := s.cfg.Messenger.SendHTML(ctx, s.cfg.ChatID, html); err != nil {
		s.cfg.Logger.Warn("sending job notification failed", "error", err)
	}
}

func (s *Scheduler) enqueue(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= maxPendingQueue {
		s.cfg.Logger.Warn("job queue full, dropping oldest", "dropped", s.pending[0].Name)
		s.pending = s.pending[1:]
	}
	s.cfg.Logger.Info("session busy, queueing job", "name", job.Name)
	s.pending = append(s.pending, job)
}

// ProcessQueue runs at most one queued job if the session is idle.
// Called from the scheduler's own tick and by the router when a user
// query completes.
func (s *Scheduler) ProcessQueue(ctx context.Context) {
	if s.cfg.Busy() {
		return
	}

	s.mu.Lock()
	if s.executing || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	job := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	s.cfg.Logger.Info("processing queued job", "name", job.Name)
	s.Execute(ctx, job)
}

// PendingCount returns the queued job count.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// StatusHTML renders the job table for /cron.
func (s *Scheduler) StatusHTML() string {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	pending := append([]Job(nil), s.pending...)
	s.mu.Unlock()

	if len(jobs) == 0 {
		return "No scheduled jobs"
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	now := s.cfg.Clock.Now()
	lines := []string{fmt.Sprintf("📅 <b>Scheduled Jobs (%d)</b>", len(jobs))}
	for _, job := range jobs {
		nextText := "never"
		if next, err := job.Expr.Next(now); err == nil {
			nextText = next.Format("15:04")
		}
		lines = append(lines, fmt.Sprintf("• %s: next at %s", render.EscapeHTML(job.Name), nextText))
	}

	if len(pending) > 0 {
		lines = append(lines, fmt.Sprintf("\n⏳ <b>Queued Jobs (%d)</b>", len(pending)))
		for _, job := range pending {
			lines = append(lines, "• "+render.EscapeHTML(job.Name))
		}
	}
	return strings.Join(lines, "\n")
}

func (s *Scheduler) pruneExecutionsLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := s.executions[:0]
	for _, at := range s.executions {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	s.executions = kept
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
