// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the bridge configuration from environment
// variables. The environment is the external contract: a .env file is
// folded in first (never overriding variables already set in the
// process), then every knob reads from the merged environment with a
// documented default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/safety"
)

// Config is the resolved bridge configuration.
type Config struct {
	// Telegram.
	BotToken     string
	AllowedUsers []chat.UserID

	// Agent.
	WorkingDir      string
	AgentBinaryPath string
	AgentConfigDir  string
	Model           string
	MCPConfigPath   string

	// Transcription. Empty APIKey disables voice messages.
	OpenAIAPIKey        string
	TranscriptionPrompt string

	// Safety.
	AllowedPaths    []string
	TempPrefixes    []string
	BlockedPatterns []string
	SafetyPrompt    string

	// Files and directories.
	TempDir     string
	SessionFile string
	RestartFile string
	ButtonsDir  string

	// Limits.
	QueryTimeout      time.Duration
	MediaGroupWindow  time.Duration
	MessageLimit      int
	SafeMessageLimit  int
	StreamingThrottle time.Duration

	// Thinking budgets.
	DefaultThinkingTokens int
	ThinkingKeywords      []string
	ThinkingDeepKeywords  []string

	// Audit.
	AuditLogPath string
	AuditLogJSON bool

	// Rate limiting.
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load resolves the configuration. envFile, when non-empty, is folded
// into the process environment first; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if token == "" {
		return nil, fmt.Errorf("config: TELEGRAM_BOT_TOKEN is required")
	}
	users, err := parseUserList(os.Getenv("TELEGRAM_ALLOWED_USERS"))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("config: TELEGRAM_ALLOWED_USERS is required")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: resolving home directory: %w", err)
	}

	workingDir := envString("CLAUDE_WORKING_DIR", home)

	allowedPaths := splitList(os.Getenv("ALLOWED_PATHS"))
	if len(allowedPaths) == 0 {
		allowedPaths = []string{
			workingDir,
			filepath.Join(home, "Documents"),
			filepath.Join(home, "Downloads"),
			filepath.Join(home, "Desktop"),
			filepath.Join(home, ".claude"),
		}
	}

	cfg := &Config{
		BotToken:     token,
		AllowedUsers: users,

		WorkingDir:      workingDir,
		AgentBinaryPath: envString("CLAUDE_CLI_PATH", "claude"),
		AgentConfigDir:  os.Getenv("CLAUDE_CONFIG_DIR"),
		Model:           os.Getenv("CLAUDE_MODEL"),
		MCPConfigPath:   envString("MCP_CONFIG_PATH", "mcp-config.json"),

		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		TranscriptionPrompt: transcriptionPrompt(),

		AllowedPaths:    allowedPaths,
		TempPrefixes:    safety.DefaultTempPrefixes,
		BlockedPatterns: safety.DefaultBlockedPatterns,

		TempDir:     envString("TEMP_DIR", "/tmp/courier"),
		SessionFile: envString("SESSION_FILE", "/tmp/courier-session.json"),
		RestartFile: envString("RESTART_FILE", "/tmp/courier-restart.json"),
		ButtonsDir:  envString("BUTTONS_DIR", os.TempDir()),

		QueryTimeout:      envDurationMS("QUERY_TIMEOUT_MS", 180_000),
		MediaGroupWindow:  envDurationMS("MEDIA_GROUP_TIMEOUT", 1_000),
		MessageLimit:      envInt("TELEGRAM_MESSAGE_LIMIT", 4096),
		SafeMessageLimit:  envInt("TELEGRAM_SAFE_LIMIT", 4000),
		StreamingThrottle: envDurationMS("STREAMING_THROTTLE_MS", 500),

		DefaultThinkingTokens: min(envInt("DEFAULT_THINKING_TOKENS", 0), 128_000),
		ThinkingKeywords:      splitLower(envString("THINKING_KEYWORDS", "think,pensa,ragiona")),
		ThinkingDeepKeywords:  splitLower(envString("THINKING_DEEP_KEYWORDS", "ultrathink,think hard,pensa bene")),

		AuditLogPath: envString("AUDIT_LOG_PATH", "/tmp/courier-audit.log"),
		AuditLogJSON: envBool("AUDIT_LOG_JSON", false),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,
	}
	cfg.SafetyPrompt = buildSafetyPrompt(cfg.AllowedPaths)

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: creating temp dir: %w", err)
	}

	return cfg, nil
}

// TranscriptionAvailable reports whether voice messages can be
// transcribed.
func (c *Config) TranscriptionAvailable() bool { return c.OpenAIAPIKey != "" }

// buildSafetyPrompt is appended to the agent's system prompt. The
// hard enforcement lives in the safety package; this steers the agent
// away from tripping it.
func buildSafetyPrompt(allowedPaths []string) string {
	var list strings.Builder
	for _, path := range allowedPaths {
		fmt.Fprintf(&list, "   - %s (and subdirectories)\n", path)
	}

	return fmt.Sprintf(`
CRITICAL SAFETY RULES FOR TELEGRAM BOT:

1. NEVER delete, remove, or overwrite files without EXPLICIT confirmation from the user.
   - If user asks to delete something, respond: "Are you sure you want to delete [file]? Reply 'yes delete it' to confirm."
   - Only proceed with deletion if user replies with explicit confirmation like "yes delete it", "confirm delete"
   - This applies to: rm, trash, unlink, shred, or any file deletion

2. You can ONLY access files in these directories:
%s   - REFUSE any file operations outside these paths

3. NEVER run dangerous commands like:
   - rm -rf (recursive force delete)
   - Any command that affects files outside allowed directories
   - Commands that could damage the system

4. For any destructive or irreversible action, ALWAYS ask for confirmation first.

You are running via Telegram, so the user cannot easily undo mistakes. Be extra careful!
`, list.String())
}

func transcriptionPrompt() string {
	const base = "Transcribe this voice message accurately.\n" +
		"The speaker may use multiple languages (English, and possibly others).\n" +
		"Focus on accuracy for proper nouns, technical terms, and commands."

	extra := strings.TrimSpace(os.Getenv("TRANSCRIPTION_CONTEXT"))
	if extra == "" {
		return base
	}
	return base + "\n\nAdditional context:\n" + extra
}

func parseUserList(raw string) ([]chat.UserID, error) {
	var users []chat.UserID
	for _, part := range splitList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: TELEGRAM_ALLOWED_USERS entry %q: %w", part, err)
		}
		users = append(users, chat.UserID(id))
	}
	return users, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitLower(raw string) []string {
	parts := splitList(raw)
	for i, part := range parts {
		parts[i] = strings.ToLower(part)
	}
	return parts
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "true", "yes", "on", "1":
		return true
	case "false", "no", "off", "0":
		return false
	}
	return fallback
}

func envDurationMS(key string, fallbackMS int) time.Duration {
	return time.Duration(envInt(key, fallbackMS)) * time.Millisecond
}
