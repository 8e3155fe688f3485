// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func testCommandPolicy(t *testing.T) (*CommandPolicy, string) {
	t.Helper()
	root := t.TempDir()
	work := filepath.Join(root, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	paths := NewPathPolicy([]string{work}, nil, root, work)
	return NewCommandPolicy(DefaultBlockedPatterns, paths), work
}

func TestCheckBlockedPatterns(t *testing.T) {
	policy, work := testCommandPolicy(t)

	for _, command := range []string{
		"rm -rf /",
		"sudo rm /etc/hosts",
		"echo x && rm -rf ~",
		"RM -RF /",
		"dd if=/dev/zero of=/dev/sda",
	} {
		if reason := policy.Check(command, work); reason == "" {
			t.Errorf("Check(%q) allowed, want deny", command)
		}
	}
}

func TestCheckAllowsOrdinaryCommands(t *testing.T) {
	policy, work := testCommandPolicy(t)

	for _, command := range []string{
		"ls -la",
		"go test ./...",
		"git status",
		"rm build/output.log",
	} {
		if reason := policy.Check(command, work); reason != "" {
			t.Errorf("Check(%q) denied: %s", command, reason)
		}
	}
}

func TestCheckRmOutsideAllowedPaths(t *testing.T) {
	policy, work := testCommandPolicy(t)

	reason := policy.Check("rm -f /etc/hosts", work)
	if reason == "" {
		t.Fatal("rm outside allowed paths was permitted")
	}
	if !strings.Contains(reason, "/etc/hosts") {
		t.Errorf("deny reason %q does not name the offending argument", reason)
	}

	if reason := policy.Check("rm -rf ./build", work); reason != "" {
		t.Errorf("rm inside working dir denied: %s", reason)
	}
}

func TestCheckRmIgnoresFlagsAndStopsAtOperators(t *testing.T) {
	policy, work := testCommandPolicy(t)

	if reason := policy.Check("rm -rf --verbose subdir && cat /etc/hosts", work); reason != "" {
		t.Errorf("flags or post-operator tokens treated as rm targets: %s", reason)
	}
}

func TestSplitShellWords(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`rm -rf "my dir"`, []string{"rm", "-rf", "my dir"}},
		{`echo 'single quoted arg'`, []string{"echo", "single quoted arg"}},
		{`rm a\ b`, []string{"rm", "a b"}},
		{"ls\t-la\n", []string{"ls", "-la"}},
		{``, nil},
	}
	for _, c := range cases {
		got := SplitShellWords(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("SplitShellWords(%q) = %#v, want %#v", c.in, got, c.want)
		}
	}
}
