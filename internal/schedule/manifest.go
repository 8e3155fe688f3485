// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schedule runs cron-scheduled prompts against the agent
// session. The manifest is a cron.yaml file in the working directory;
// jobs that fire while a query is running are queued and drained when
// the session goes idle.
package schedule

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/covebridge/courier/internal/safety"
	"github.com/covebridge/courier/lib/cron"
)

// maxPromptLength rejects manifest entries whose prompt would blow the
// agent's argv.
const maxPromptLength = 10_000

// manifestEntry is one schedule as written in cron.yaml.
type manifestEntry struct {
	Name    string `yaml:"name"`
	Cron    string `yaml:"cron"`
	Prompt  string `yaml:"prompt"`
	Enabled *bool  `yaml:"enabled"`
	Notify  bool   `yaml:"notify"`
}

type manifest struct {
	Schedules []manifestEntry `yaml:"schedules"`
}

// Job is a validated, parsed schedule ready to run.
type Job struct {
	Name   string
	Expr   cron.Schedule
	Prompt string

	// Notify sends a completion summary to the chat. Streaming output
	// is suppressed for scheduled runs either way.
	Notify bool
}

// LoadManifest reads and validates cron.yaml. A missing file is not an
// error; it returns no jobs. The manifest path itself must pass the
// path policy, since its prompts end up executed.
func LoadManifest(path string, paths *safety.PathPolicy, log *slog.Logger) ([]Job, error) {
	if paths != nil && !paths.Allowed(path) {
		return nil, fmt.Errorf("schedule: manifest path %s not in allowed directories", path)
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: reading manifest: %w", err)
	}

	var parsed manifest
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("schedule: parsing manifest: %w", err)
	}

	var jobs []Job
	for _, entry := range parsed.Schedules {
		if entry.Enabled != nil && !*entry.Enabled {
			log.Debug("skipping disabled schedule", "name", entry.Name)
			continue
		}
		if err := validateEntry(entry); err != nil {
			return nil, err
		}
		expr, err := cron.Parse(entry.Cron)
		if err != nil {
			// A bad expression disables one schedule, not the whole
			// manifest.
			log.Warn("invalid cron expression", "name", entry.Name, "error", err)
			continue
		}
		jobs = append(jobs, Job{
			Name:   entry.Name,
			Expr:   expr,
			Prompt: entry.Prompt,
			Notify: entry.Notify,
		})
	}
	return jobs, nil
}

func validateEntry(entry manifestEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("schedule: manifest entry missing name")
	}
	if entry.Cron == "" {
		return fmt.Errorf("schedule: schedule %q missing cron expression", entry.Name)
	}
	if entry.Prompt == "" {
		return fmt.Errorf("schedule: schedule %q missing prompt", entry.Name)
	}
	if len(entry.Prompt) > maxPromptLength {
		return fmt.Errorf("schedule: schedule %q prompt too long: %d chars", entry.Name, len(entry.Prompt))
	}
	return nil
}
