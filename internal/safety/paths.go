// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package safety is the policy layer between the agent's tool stream
// and the host: user allowlisting, per-user rate limiting, path
// containment, shell command screening, and archive extraction
// hardening. The agent runs with permission prompts bypassed, so every
// tool event is checked here instead.
package safety

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/covebridge/courier/internal/chat"
)

// DefaultTempPrefixes are always readable: downloaded media and other
// scratch files live under them.
var DefaultTempPrefixes = []string{"/tmp/", "/private/tmp/", "/var/folders/"}

// PathPolicy decides whether the agent may touch a filesystem path.
// The zero value denies everything; build one with NewPathPolicy.
type PathPolicy struct {
	allowed      []string // canonicalized allowed roots
	tempPrefixes []string
	homeDir      string
	baseDir      string // working directory for resolving relative paths
}

// NewPathPolicy canonicalizes each allowed root up front. Roots that
// do not exist are kept lexically cleaned so the policy still covers
// directories created later.
func NewPathPolicy(allowedPaths []string, tempPrefixes []string, homeDir, baseDir string) *PathPolicy {
	policy := &PathPolicy{
		tempPrefixes: tempPrefixes,
		homeDir:      homeDir,
		baseDir:      baseDir,
	}
	for _, path := range allowedPaths {
		policy.allowed = append(policy.allowed, policy.canonicalize(policy.expand(path)))
	}
	return policy
}

// IsAuthorized is allowlist membership.
func IsAuthorized(user chat.UserID, allowedUsers []chat.UserID) bool {
	return slices.Contains(allowedUsers, user)
}

// Allowed reports whether path may be read or written. Symlinks are
// resolved first; only then is the canonical form matched against the
// temp prefixes and the allowed roots, so a symlink planted under
// /tmp cannot reach its target. Containment is directory containment,
// never string prefix: /foo-bar is not beneath /foo.
func (p *PathPolicy) Allowed(path string) bool {
	expanded := p.expand(path)
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(p.baseDir, expanded)
	}
	canonical := p.canonicalize(expanded)

	for _, prefix := range p.tempPrefixes {
		if strings.HasPrefix(canonical, prefix) {
			return true
		}
	}

	for _, root := range p.allowed {
		if canonical == root || strings.HasPrefix(canonical, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ReadAllowed is Allowed plus the read-only exceptions: temp prefixes
// (already covered) and agent configuration under any .claude
// directory.
func (p *PathPolicy) ReadAllowed(path string) bool {
	expanded := p.expand(path)
	if strings.Contains(expanded, "/.claude/") || strings.HasSuffix(expanded, "/.claude") {
		return true
	}
	return p.Allowed(path)
}

// expand replaces a leading ~ with the home directory.
func (p *PathPolicy) expand(path string) string {
	if path == "~" {
		return p.homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(p.homeDir, path[2:])
	}
	return path
}

// canonicalize resolves symlinks on the path, or on the deepest
// existing ancestor when the leaf does not exist, re-appending the
// unresolved tail. The result is always lexically cleaned.
func (p *PathPolicy) canonicalize(path string) string {
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	prefix := path
	var tail []string
	for {
		parent := filepath.Dir(prefix)
		if parent == prefix {
			break
		}
		tail = append(tail, filepath.Base(prefix))
		prefix = parent
		if resolved, err := filepath.EvalSymlinks(prefix); err == nil {
			slices.Reverse(tail)
			return filepath.Join(append([]string{resolved}, tail...)...)
		}
	}
	return path
}
