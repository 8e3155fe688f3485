// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package render turns the agent's event stream into live-edited chat
// messages: Markdown conversion to the platform's restricted HTML,
// tag-balanced overflow splitting, tool status lines, and the
// streaming renderer itself.
package render

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// EscapeHTML escapes the characters Telegram's HTML parse mode treats
// specially. Escaping already-escaped output again is intentionally
// not a no-op on entities; callers escape raw text exactly once.
func EscapeHTML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return replacer.Replace(s)
}

// MarkdownToHTML converts agent Markdown to the restricted tag set
// Telegram accepts: b, i, code, pre, a, blockquote. Code spans and
// fenced blocks are preserved byte-identical modulo HTML escaping.
// Bullet markers become the • glyph. Anything the converter does not
// understand degrades to escaped plain text.
func MarkdownToHTML(markdown string) string {
	source := []byte(markdown)
	document := goldmark.DefaultParser().Parse(text.NewReader(source))

	var out strings.Builder
	renderBlocks(&out, document, source, 0)

	html := strings.TrimRight(out.String(), "\n")
	for strings.Contains(html, "\n\n\n") {
		html = strings.ReplaceAll(html, "\n\n\n", "\n\n")
	}
	return html
}

// renderBlocks walks top-level block children of node, separating them
// with blank lines.
func renderBlocks(out *strings.Builder, node ast.Node, source []byte, depth int) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		renderBlock(out, child, source, depth)
	}
}

func renderBlock(out *strings.Builder, node ast.Node, source []byte, depth int) {
	switch block := node.(type) {
	case *ast.Heading:
		out.WriteString("<b>")
		renderInline(out, block, source)
		out.WriteString("</b>\n\n")

	case *ast.Paragraph, *ast.TextBlock:
		renderInline(out, node, source)
		out.WriteString("\n\n")

	case *ast.FencedCodeBlock:
		out.WriteString("<pre>")
		writeCodeLines(out, block, source)
		out.WriteString("</pre>\n\n")

	case *ast.CodeBlock:
		out.WriteString("<pre>")
		writeCodeLines(out, block, source)
		out.WriteString("</pre>\n\n")

	case *ast.Blockquote:
		out.WriteString("<blockquote>")
		var inner strings.Builder
		renderBlocks(&inner, block, source, depth)
		out.WriteString(strings.TrimRight(inner.String(), "\n"))
		out.WriteString("</blockquote>\n\n")

	case *ast.List:
		index := block.Start
		for item := block.FirstChild(); item != nil; item = item.NextSibling() {
			out.WriteString(strings.Repeat("  ", depth))
			if block.IsOrdered() {
				fmt.Fprintf(out, "%d. ", index)
				index++
			} else {
				out.WriteString("• ")
			}
			renderListItem(out, item, source, depth)
			out.WriteString("\n")
		}
		out.WriteString("\n")

	case *ast.ThematicBreak:
		out.WriteString("———\n\n")

	case *ast.HTMLBlock:
		writeCodeLines(out, block, source)
		out.WriteString("\n\n")

	default:
		renderInline(out, node, source)
		out.WriteString("\n\n")
	}
}

// renderListItem renders an item's first text block inline and any
// nested lists beneath it.
func renderListItem(out *strings.Builder, item ast.Node, source []byte, depth int) {
	for child := item.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *ast.List:
			out.WriteString("\n")
			renderBlock(out, child, source, depth+1)
		default:
			renderInline(out, child, source)
		}
	}
}

// writeCodeLines emits the raw lines of a code or HTML block, escaped.
func writeCodeLines(out *strings.Builder, node ast.Node, source []byte) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		out.WriteString(EscapeHTML(string(segment.Value(source))))
	}
}

// renderInline renders the inline children of node.
func renderInline(out *strings.Builder, node ast.Node, source []byte) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch inline := child.(type) {
		case *ast.Text:
			out.WriteString(EscapeHTML(string(inline.Segment.Value(source))))
			if inline.HardLineBreak() || inline.SoftLineBreak() {
				out.WriteString("\n")
			}

		case *ast.String:
			out.WriteString(EscapeHTML(string(inline.Value)))

		case *ast.CodeSpan:
			out.WriteString("<code>")
			for grand := inline.FirstChild(); grand != nil; grand = grand.NextSibling() {
				if textNode, ok := grand.(*ast.Text); ok {
					out.WriteString(EscapeHTML(string(textNode.Segment.Value(source))))
				}
			}
			out.WriteString("</code>")

		case *ast.Emphasis:
			tag := "i"
			if inline.Level >= 2 {
				tag = "b"
			}
			out.WriteString("<" + tag + ">")
			renderInline(out, inline, source)
			out.WriteString("</" + tag + ">")

		case *ast.Link:
			fmt.Fprintf(out, `<a href="%s">`, EscapeHTML(string(inline.Destination)))
			renderInline(out, inline, source)
			out.WriteString("</a>")

		case *ast.AutoLink:
			url := string(inline.URL(source))
			fmt.Fprintf(out, `<a href="%s">%s</a>`, EscapeHTML(url), EscapeHTML(url))

		case *ast.Image:
			// No image embedding in text messages; show the alt text.
			renderInline(out, inline, source)

		case *ast.RawHTML:
			segments := inline.Segments
			for i := 0; i < segments.Len(); i++ {
				segment := segments.At(i)
				out.WriteString(EscapeHTML(string(segment.Value(source))))
			}

		default:
			renderInline(out, child, source)
		}
	}
}
