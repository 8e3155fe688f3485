// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Courier bridges a Telegram chat to a local coding agent. It long
// polls the Bot API, serializes messages per chat, runs each prompt
// through the agent CLI, and streams the response back as edited
// Telegram messages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/covebridge/courier/internal/agent"
	"github.com/covebridge/courier/internal/audit"
	"github.com/covebridge/courier/internal/bot"
	"github.com/covebridge/courier/internal/buttons"
	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/config"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/messaging/telegram"
	"github.com/covebridge/courier/internal/render"
	"github.com/covebridge/courier/internal/safety"
	"github.com/covebridge/courier/internal/schedule"
	"github.com/covebridge/courier/internal/session"
	"github.com/covebridge/courier/internal/transcribe"
	"github.com/covebridge/courier/lib/clock"
	"github.com/covebridge/courier/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "courier: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := pflag.String("env-file", ".env", "environment file to load before reading config")
	logLevel := pflag.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("courier %s\n", version.Info())
		return nil
	}

	logger, err := buildLogger(*logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}

	clk := clock.Real()

	client, err := telegram.NewClient(telegram.ClientConfig{
		Token:  cfg.BotToken,
		Logger: logger.With("component", "telegram"),
	})
	if err != nil {
		return err
	}
	messenger := messaging.NewThrottled(client, messaging.DefaultThrottleConfig(), clk)

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	paths := safety.NewPathPolicy(cfg.AllowedPaths, cfg.TempPrefixes, home, cfg.WorkingDir)
	commands := safety.NewCommandPolicy(cfg.BlockedPatterns, paths)

	auditLog := audit.NewLogger(cfg.AuditLogPath, cfg.AuditLogJSON, clk)
	sess := session.New(cfg.SessionFile, cfg.WorkingDir, clk)
	channel := buttons.NewChannel(cfg.ButtonsDir)

	servers, err := agent.LoadMCPServers(cfg.MCPConfigPath)
	if err != nil {
		return err
	}
	if err := ensureAskUserServer(servers, cfg.ButtonsDir); err != nil {
		return err
	}

	runner, err := session.NewRunner(session.RunnerConfig{
		Driver: &agent.ClaudeDriver{
			BinaryPath: cfg.AgentBinaryPath,
			ConfigDir:  cfg.AgentConfigDir,
			Logger:     logger.With("component", "agent"),
		},
		Session:               sess,
		Commands:              commands,
		Paths:                 paths,
		Buttons:               channel,
		Messenger:             messenger,
		Audit:                 auditLog,
		Clock:                 clk,
		Logger:                logger.With("component", "runner"),
		Model:                 cfg.Model,
		SystemPrompt:          cfg.SafetyPrompt,
		AddDirs:               cfg.AllowedPaths,
		MCPServers:            servers,
		TempDir:               cfg.TempDir,
		ThinkingKeywords:      cfg.ThinkingKeywords,
		DeepThinkingKeywords:  cfg.ThinkingDeepKeywords,
		DefaultThinkingBudget: cfg.DefaultThinkingTokens,
		QueryTimeout:          cfg.QueryTimeout,
	})
	if err != nil {
		return err
	}

	var transcriber bot.Transcriber
	if cfg.TranscriptionAvailable() {
		client, err := transcribe.NewClient(transcribe.ClientConfig{APIKey: cfg.OpenAIAPIKey})
		if err != nil {
			return err
		}
		transcriber = client
	}

	scheduler, err := schedule.NewScheduler(schedule.SchedulerConfig{
		ManifestPath: filepath.Join(cfg.WorkingDir, "cron.yaml"),
		Paths:        paths,
		ChatID:       chat.ChatID(cfg.AllowedUsers[0]),
		Messenger:    messenger,
		Run: func(ctx context.Context, chatID chat.ChatID, prompt string, m messaging.Messenger) (string, error) {
			sink := render.NewRenderer(m, clk, logger.With("component", "render"), chatID, chat.MessageRef{})
			out, err := runner.Run(ctx, session.QueryRequest{
				ChatID: chatID,
				User:   cfg.AllowedUsers[0],
				Prompt: prompt,
				Sink:   sink,
			})
			if err != nil {
				return "", err
			}
			return out.Text, nil
		},
		Busy:   sess.Running,
		Clock:  clk,
		Logger: logger.With("component", "schedule"),
	})
	if err != nil {
		return err
	}

	b, err := bot.New(bot.Config{
		App:         cfg,
		Session:     sess,
		Runner:      runner,
		Scheduler:   scheduler,
		Messenger:   messenger,
		Fetcher:     client,
		Buttons:     channel,
		Audit:       auditLog,
		Limiter:     safety.NewRateLimiter(cfg.RateLimitEnabled, cfg.RateLimitRequests, cfg.RateLimitWindow, clk),
		Transcriber: transcriber,
		Clock:       clk,
		Logger:      logger.With("component", "bot"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("shutting down", "signal", sig)
		if sig == syscall.SIGTERM {
			if err := b.WriteRestartContext(); err != nil {
				logger.Warn("writing restart context failed", "error", err)
			}
		}
		cancel()
	}()

	if _, err := scheduler.Reload(); err != nil {
		logger.Warn("loading cron manifest failed", "error", err)
	}
	go scheduler.Run(ctx)

	b.Startup(ctx)

	logger.Info("polling for updates",
		"working_dir", cfg.WorkingDir, "allowed_users", len(cfg.AllowedUsers))
	if err := client.Poll(ctx, func(update messaging.Update) {
		go b.HandleUpdate(ctx, update)
	}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// ensureAskUserServer registers the bundled ask-user tool server when
// the operator's MCP config does not define one. The binary is looked
// up next to the running executable.
func ensureAskUserServer(servers agent.MCPServers, buttonsDir string) error {
	if _, ok := servers["ask-user"]; ok {
		return nil
	}
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}
	tool := filepath.Join(filepath.Dir(self), "courier-askuser")
	if _, err := os.Stat(tool); err != nil {
		// Not bundled; the agent just runs without the ask_user tool.
		return nil
	}
	servers["ask-user"] = agent.MCPServer{
		Command: tool,
		Env:     map[string]string{"BUTTONS_DIR": buttonsDir},
	}
	return nil
}

func buildLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
}
