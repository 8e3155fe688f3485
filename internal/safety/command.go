// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultBlockedPatterns are literal substrings that fail any Bash
// command outright. The system prompt carries the primary policy;
// this list is defense in depth.
var DefaultBlockedPatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf $HOME",
	"sudo rm",
	":(){ :|:& };:",
	"> /dev/sd",
	"mkfs.",
	"dd if=",
}

// CommandPolicy screens shell commands from Bash tool events.
type CommandPolicy struct {
	blockedPatterns []string
	paths           *PathPolicy
}

// NewCommandPolicy lowercases the patterns once; matching is
// case-insensitive.
func NewCommandPolicy(blockedPatterns []string, paths *PathPolicy) *CommandPolicy {
	lowered := make([]string, len(blockedPatterns))
	for i, pattern := range blockedPatterns {
		lowered[i] = strings.ToLower(pattern)
	}
	return &CommandPolicy{blockedPatterns: lowered, paths: paths}
}

// Check returns a non-empty deny reason when the command must not run.
//
// Two screens: a literal blocked-pattern match, and an rm argument
// walk that validates every path argument against the path policy,
// resolving relative arguments against workingDir.
func (c *CommandPolicy) Check(command, workingDir string) (reason string) {
	lowered := strings.ToLower(command)
	for _, pattern := range c.blockedPatterns {
		if strings.Contains(lowered, pattern) {
			return fmt.Sprintf("blocked pattern %q", pattern)
		}
	}

	tokens := SplitShellWords(command)
	for i, token := range tokens {
		if token != "rm" && token != "/bin/rm" && token != "/usr/bin/rm" {
			continue
		}
		for _, argument := range tokens[i+1:] {
			if isShellOperator(argument) {
				break
			}
			if strings.HasPrefix(argument, "-") {
				continue
			}
			resolved := argument
			if !filepath.IsAbs(resolved) && !strings.HasPrefix(resolved, "~") {
				resolved = filepath.Join(workingDir, resolved)
			}
			if !c.paths.Allowed(resolved) {
				return fmt.Sprintf("rm targets path outside allowed directories: %s", argument)
			}
		}
	}
	return ""
}

func isShellOperator(token string) bool {
	switch token {
	case "&&", "||", ";", "|", "&":
		return true
	}
	return false
}

// SplitShellWords tokenizes a command respecting single quotes, double
// quotes, and backslash escapes. It is not a full shell parser; it
// only needs to be good enough to find rm path arguments.
func SplitShellWords(command string) []string {
	var words []string
	var current strings.Builder
	inWord := false

	const (
		outside = iota
		single
		double
	)
	state := outside
	escaped := false

	for _, r := range command {
		if escaped {
			current.WriteRune(r)
			inWord = true
			escaped = false
			continue
		}
		switch state {
		case single:
			if r == '\'' {
				state = outside
			} else {
				current.WriteRune(r)
			}
		case double:
			switch r {
			case '"':
				state = outside
			case '\\':
				escaped = true
			default:
				current.WriteRune(r)
			}
		default:
			switch r {
			case '\'':
				state = single
				inWord = true
			case '"':
				state = double
				inWord = true
			case '\\':
				escaped = true
			case ' ', '\t', '\n':
				if inWord {
					words = append(words, current.String())
					current.Reset()
					inWord = false
				}
			default:
				current.WriteRune(r)
				inWord = true
			}
		}
	}
	if inWord {
		words = append(words, current.String())
	}
	return words
}
