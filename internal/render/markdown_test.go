// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package render

import "testing"

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     string
	}{
		{
			name:     "plain text",
			markdown: "hello world",
			want:     "hello world",
		},
		{
			name:     "bold and italic",
			markdown: "**bold** and *slanted*",
			want:     "<b>bold</b> and <i>slanted</i>",
		},
		{
			name:     "heading becomes bold",
			markdown: "# Title\n\nbody",
			want:     "<b>Title</b>\n\nbody",
		},
		{
			name:     "code span escaped",
			markdown: "run `a < b` now",
			want:     "run <code>a &lt; b</code> now",
		},
		{
			name:     "fenced block escaped",
			markdown: "```\nx < y\n```",
			want:     "<pre>x &lt; y\n</pre>",
		},
		{
			name:     "bullet list",
			markdown: "- first\n- second",
			want:     "• first\n• second",
		},
		{
			name:     "ordered list keeps numbering",
			markdown: "1. one\n2. two",
			want:     "1. one\n2. two",
		},
		{
			name:     "nested list indents",
			markdown: "- outer\n  - inner",
			want:     "• outer\n  • inner",
		},
		{
			name:     "blockquote",
			markdown: "> quoted line",
			want:     "<blockquote>quoted line</blockquote>",
		},
		{
			name:     "link",
			markdown: "[docs](https://example.com)",
			want:     `<a href="https://example.com">docs</a>`,
		},
		{
			name:     "raw html neutralized",
			markdown: "try <script>alert(1)</script> here",
			want:     "try &lt;script&gt;alert(1)&lt;/script&gt; here",
		},
		{
			name:     "thematic break",
			markdown: "above\n\n---\n\nbelow",
			want:     "above\n\n———\n\nbelow",
		},
		{
			name:     "ampersand escaped once",
			markdown: "salt & pepper",
			want:     "salt &amp; pepper",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MarkdownToHTML(tt.markdown)
			if got != tt.want {
				t.Fatalf("MarkdownToHTML(%q) = %q, want %q", tt.markdown, got, tt.want)
			}
		})
	}
}

func TestEscapeHTML(t *testing.T) {
	got := EscapeHTML(`<a href="x">&</a>`)
	want := "&lt;a href=&quot;x&quot;&gt;&amp;&lt;/a&gt;"
	if got != want {
		t.Fatalf("EscapeHTML = %q, want %q", got, want)
	}
}
