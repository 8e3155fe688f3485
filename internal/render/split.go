// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"strings"
	"unicode/utf8"
)

// SplitHTML breaks html into chunks of at most limit bytes, keeping
// the restricted tag set balanced in every chunk: tags open at a chunk
// boundary are closed at the end of the chunk and reopened at the
// start of the next one.
func SplitHTML(html string, limit int) []string {
	if len(html) <= limit {
		return []string{html}
	}

	splitter := &htmlSplitter{limit: limit}
	for _, token := range tokenizeHTML(html) {
		if token.isTag {
			splitter.pushTag(token.value)
		} else {
			splitter.pushText(token.value)
		}
	}
	splitter.flush()
	return splitter.chunks
}

type htmlToken struct {
	value string
	isTag bool
}

// tokenizeHTML splits html into tag and text tokens. A lone '<' with
// no closing '>' is treated as text.
func tokenizeHTML(html string) []htmlToken {
	var tokens []htmlToken
	for len(html) > 0 {
		open := strings.IndexByte(html, '<')
		if open < 0 {
			tokens = append(tokens, htmlToken{value: html})
			break
		}
		if open > 0 {
			tokens = append(tokens, htmlToken{value: html[:open]})
			html = html[open:]
		}
		end := strings.IndexByte(html, '>')
		if end < 0 {
			tokens = append(tokens, htmlToken{value: html})
			break
		}
		tokens = append(tokens, htmlToken{value: html[:end+1], isTag: true})
		html = html[end+1:]
	}
	return tokens
}

type openTag struct {
	name    string
	opening string // full opening tag including attributes
}

type htmlSplitter struct {
	limit   int
	chunks  []string
	current strings.Builder
	stack   []openTag
	// content tracks whether the current chunk holds anything beyond
	// reopened tags; tag-only chunks are discarded instead of sent.
	content bool
}

func (s *htmlSplitter) closeLen() int {
	total := 0
	for _, tag := range s.stack {
		total += len(tag.name) + 3 // </name>
	}
	return total
}

func (s *htmlSplitter) flush() {
	if !s.content {
		s.current.Reset()
		return
	}
	var chunk strings.Builder
	chunk.WriteString(s.current.String())
	for i := len(s.stack) - 1; i >= 0; i-- {
		chunk.WriteString("</" + s.stack[i].name + ">")
	}
	s.chunks = append(s.chunks, chunk.String())
	s.current.Reset()
	s.content = false
}

func (s *htmlSplitter) reopen() {
	for _, tag := range s.stack {
		s.current.WriteString(tag.opening)
	}
}

func (s *htmlSplitter) pushTag(tag string) {
	name, closing := parseTagName(tag)
	if name == "" {
		s.pushText(tag)
		return
	}

	if closing {
		// The closing tag always fits logically with its opener; emit
		// it and pop the stack.
		s.current.WriteString(tag)
		for i := len(s.stack) - 1; i >= 0; i-- {
			if s.stack[i].name == name {
				s.stack = append(s.stack[:i], s.stack[i+1:]...)
				break
			}
		}
		return
	}

	futureClose := s.closeLen() + len(name) + 3
	if s.current.Len()+len(tag)+futureClose > s.limit && s.content {
		s.flush()
		s.reopen()
	}
	s.current.WriteString(tag)
	s.stack = append(s.stack, openTag{name: name, opening: tag})
}

func (s *htmlSplitter) pushText(text string) {
	for len(text) > 0 {
		available := s.limit - s.closeLen() - s.current.Len()
		if available <= 0 {
			s.flush()
			s.reopen()
			continue
		}
		if len(text) <= available {
			s.current.WriteString(text)
			s.content = true
			return
		}

		cut := utf8Boundary(text, available)
		if cut == 0 {
			s.flush()
			s.reopen()
			continue
		}
		s.current.WriteString(text[:cut])
		s.content = true
		text = text[cut:]
		s.flush()
		s.reopen()
	}
}

// utf8Boundary returns the largest index <= max that does not split a
// UTF-8 sequence.
func utf8Boundary(s string, max int) int {
	if max >= len(s) {
		return len(s)
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return max
}

// parseTagName extracts the lowercase element name from a tag token
// and reports whether it is a closing tag. Returns "" for malformed
// or self-closing tags.
func parseTagName(tag string) (name string, closing bool) {
	inner := strings.TrimSuffix(strings.TrimPrefix(tag, "<"), ">")
	if strings.HasSuffix(inner, "/") {
		return "", false
	}
	if strings.HasPrefix(inner, "/") {
		inner = inner[1:]
		closing = true
	}
	var builder strings.Builder
	for _, r := range inner {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		break
	}
	return strings.ToLower(builder.String()), closing
}
