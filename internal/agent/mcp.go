// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/covebridge/courier/internal/chat"
)

// MCPServer is one tool-server entry, matching the agent's MCP
// config schema. Stdio servers set Command; HTTP servers set Type and
// URL.
type MCPServer struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// MCPServers maps server name to configuration.
type MCPServers map[string]MCPServer

type mcpConfigFile struct {
	MCPServers MCPServers `json:"mcpServers"`
}

// LoadMCPServers reads a tool-server config file. Comments and
// trailing commas are tolerated, and `${VAR}` placeholders in string
// values are expanded from the environment (unset variables become
// empty). A missing file yields an empty map.
func LoadMCPServers(path string) (MCPServers, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return MCPServers{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agent: reading mcp config: %w", err)
	}

	clean := jsonc.ToJSON(raw)

	// Accept both the wrapped {"mcpServers": {...}} shape the agent
	// documents and a bare server map.
	var wrapped mcpConfigFile
	if err := json.Unmarshal(clean, &wrapped); err == nil && len(wrapped.MCPServers) > 0 {
		return interpolateServers(wrapped.MCPServers), nil
	}
	var bare MCPServers
	if err := json.Unmarshal(clean, &bare); err != nil {
		return nil, fmt.Errorf("agent: parsing mcp config %s: %w", path, err)
	}
	return interpolateServers(bare), nil
}

func interpolateServers(servers MCPServers) MCPServers {
	out := make(MCPServers, len(servers))
	for name, server := range servers {
		server.Command = interpolateEnv(server.Command)
		server.URL = interpolateEnv(server.URL)
		for i, arg := range server.Args {
			server.Args[i] = interpolateEnv(arg)
		}
		server.Env = interpolateMap(server.Env)
		server.Headers = interpolateMap(server.Headers)
		out[name] = server
	}
	return out
}

func interpolateMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for key, value := range m {
		out[key] = interpolateEnv(value)
	}
	return out
}

// interpolateEnv expands ${VAR} placeholders. No default syntax;
// unset variables expand to the empty string.
func interpolateEnv(s string) string {
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start+2:], "}")
		if end < 0 {
			return s
		}
		name := s[start+2 : start+2+end]
		s = s[:start] + os.Getenv(name) + s[start+2+end+1:]
	}
}

// WriteMCPConfigForChat materializes a per-chat config file in
// tempDir, injecting the chat id into the button tool server's
// environment so its requests target the right conversation. Returns
// "" when there are no servers to configure.
func WriteMCPConfigForChat(tempDir string, chatID chat.ChatID, servers MCPServers) (string, error) {
	if len(servers) == 0 {
		return "", nil
	}

	prepared := make(MCPServers, len(servers))
	for name, server := range servers {
		if name == "ask-user" && server.Command != "" {
			env := make(map[string]string, len(server.Env)+1)
			for key, value := range server.Env {
				env[key] = value
			}
			env["TELEGRAM_CHAT_ID"] = fmt.Sprintf("%d", chatID)
			server.Env = env
		}
		prepared[name] = server
	}

	data, err := json.MarshalIndent(mcpConfigFile{MCPServers: prepared}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agent: encoding mcp config: %w", err)
	}

	path := filepath.Join(tempDir, fmt.Sprintf("mcp-config-%d-%d.json", chatID, os.Getpid()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("agent: writing mcp config: %w", err)
	}
	return path, nil
}
