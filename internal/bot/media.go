// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/covebridge/courier/internal/audit"
	"github.com/covebridge/courier/internal/chat"
	"github.com/covebridge/courier/internal/messaging"
	"github.com/covebridge/courier/internal/render"
	"github.com/covebridge/courier/internal/safety"
	"github.com/covebridge/courier/lib/clock"
)

const (
	// maxDocumentBytes gates inbound documents before download.
	maxDocumentBytes = 10 * 1024 * 1024

	// maxTextFileChars bounds how much of a text file is read back
	// into the prompt.
	maxTextFileChars = 100_000

	// Archive read-back bounds: entries listed, chars per file, and
	// total chars returned to the agent.
	maxArchiveEntries   = 100
	maxArchiveFileChars = 10_000
	maxArchiveContent   = 50_000
)

// textExtensions are the file suffixes treated as readable text.
var textExtensions = []string{
	".md", ".txt", ".json", ".yaml", ".yml", ".csv", ".xml", ".html",
	".css", ".js", ".ts", ".py", ".sh", ".env", ".log", ".cfg", ".ini", ".toml",
}

func isTextFile(name, mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range textExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func isPDF(name, mimeType string) bool {
	return mimeType == "application/pdf" || strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// download fetches a platform file into the temp dir under a unique
// name and returns the local path.
func (b *Bot) download(ctx context.Context, fileID, name string) (string, error) {
	if b.cfg.Fetcher == nil {
		return "", fmt.Errorf("bot: no file fetcher configured")
	}
	base := safety.SanitizeFilename(name)
	unique := uuid.NewString()[:8]
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext) + "_" + unique + ext
	} else {
		base = base + "_" + unique
	}
	path := filepath.Join(b.cfg.App.TempDir, base)
	if err := b.cfg.Fetcher.DownloadFile(ctx, fileID, path); err != nil {
		return "", err
	}
	return path, nil
}

// group buffering

// groupItem is one album member waiting for its siblings.
type groupItem struct {
	path    string
	caption string
}

type pendingGroup struct {
	items  []groupItem
	from   messaging.Sender
	chat   chat.ChatID
	status chat.MessageRef
	timer  *clock.Timer
}

// groupBuffer collects album members arriving as independent updates
// under a shared media_group_id. The first arrival starts a timer;
// each arrival extends it; expiry submits the whole group as one
// prompt.
type groupBuffer struct {
	bot     *Bot
	emoji   string
	label   string
	process func(ctx context.Context, from messaging.Sender, chatID chat.ChatID, paths []string, caption string)

	mu      sync.Mutex
	pending map[string]*pendingGroup
}

func newGroupBuffer(b *Bot, emoji, label string, process func(context.Context, messaging.Sender, chat.ChatID, []string, string)) *groupBuffer {
	return &groupBuffer{
		bot:     b,
		emoji:   emoji,
		label:   label,
		process: process,
		pending: make(map[string]*pendingGroup),
	}
}

// add buffers one album member. The rate limiter is consulted only on
// the first member so an album costs one token.
func (g *groupBuffer) add(ctx context.Context, groupID string, from messaging.Sender, chatID chat.ChatID, path, caption string) {
	g.mu.Lock()
	group, ok := g.pending[groupID]
	if ok {
		group.items = append(group.items, groupItem{path: path, caption: caption})
		group.timer.Stop()
		group.timer = g.startTimer(ctx, groupID)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if !g.bot.allowRate(ctx, chatID, from) {
		return
	}

	status, err := g.bot.cfg.Messenger.SendHTML(ctx, chatID,
		fmt.Sprintf("%s Receiving %s...", g.emoji, g.label))
	if err != nil {
		g.bot.cfg.Logger.Warn("sending album status failed", "error", err)
	}

	g.mu.Lock()
	// Re-check: another member may have created the group while the
	// lock was released for the rate check.
	if group, ok := g.pending[groupID]; ok {
		group.items = append(group.items, groupItem{path: path, caption: caption})
		group.timer.Stop()
		group.timer = g.startTimer(ctx, groupID)
		g.mu.Unlock()
		return
	}
	g.pending[groupID] = &pendingGroup{
		items:  []groupItem{{path: path, caption: caption}},
		from:   from,
		chat:   chatID,
		status: status,
		timer:  g.startTimer(ctx, groupID),
	}
	g.mu.Unlock()
}

func (g *groupBuffer) startTimer(ctx context.Context, groupID string) *clock.Timer {
	window := g.bot.cfg.App.MediaGroupWindow
	return g.bot.cfg.Clock.AfterFunc(window, func() {
		g.flush(ctx, groupID)
	})
}

func (g *groupBuffer) flush(ctx context.Context, groupID string) {
	g.mu.Lock()
	group, ok := g.pending[groupID]
	if ok {
		delete(g.pending, groupID)
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	if !group.status.Zero() {
		if err := g.bot.cfg.Messenger.EditHTML(ctx, group.status,
			fmt.Sprintf("%s Processing %d %s...", g.emoji, len(group.items), g.label)); err != nil {
			g.bot.cfg.Logger.Debug("editing album status failed", "error", err)
		}
	}

	unlock := g.bot.locks.lock(group.chat)
	defer unlock()

	paths := make([]string, len(group.items))
	caption := ""
	for i, item := range group.items {
		paths[i] = item.path
		if caption == "" && strings.TrimSpace(item.caption) != "" {
			caption = item.caption
		}
	}
	g.process(ctx, group.from, group.chat, paths, caption)

	if !group.status.Zero() {
		if err := g.bot.cfg.Messenger.DeleteMessage(ctx, group.status); err != nil {
			g.bot.cfg.Logger.Debug("deleting album status failed", "error", err)
		}
	}
}

// photos

func (b *Bot) handlePhoto(ctx context.Context, msg *messaging.PhotoMessage) {
	if msg.MediaGroupID == "" && !b.allowRate(ctx, msg.Chat, msg.From) {
		return
	}

	var status chat.MessageRef
	if msg.MediaGroupID == "" {
		ref, err := b.cfg.Messenger.SendHTML(ctx, msg.Chat, "📷 Processing image...")
		if err != nil {
			b.cfg.Logger.Warn("sending photo status failed", "error", err)
		}
		status = ref
	}

	path, err := b.download(ctx, msg.FileID, "photo.jpg")
	if err != nil {
		b.send(ctx, msg.Chat, "❌ Failed to download photo: "+render.EscapeHTML(truncateError(err, 100)))
		return
	}

	if msg.MediaGroupID == "" {
		b.runPrompt(ctx, promptRequest{
			Chat:          msg.Chat,
			From:          msg.From,
			ReplyTo:       chat.MessageRef{Chat: msg.Chat, Message: msg.Message},
			Type:          "PHOTO",
			Text:          buildPhotoPrompt([]string{path}, msg.Caption),
			SkipRateLimit: true,
		})
		if !status.Zero() {
			if err := b.cfg.Messenger.DeleteMessage(ctx, status); err != nil {
				b.cfg.Logger.Debug("deleting photo status failed", "error", err)
			}
		}
		return
	}

	b.photos.add(ctx, msg.MediaGroupID, msg.From, msg.Chat, path, msg.Caption)
}

func (b *Bot) processPhotoGroup(ctx context.Context, from messaging.Sender, chatID chat.ChatID, paths []string, caption string) {
	b.runPrompt(ctx, promptRequest{
		Chat:          chatID,
		From:          from,
		Type:          "PHOTO",
		Text:          buildPhotoPrompt(paths, caption),
		SkipRateLimit: true,
	})
}

func buildPhotoPrompt(paths []string, caption string) string {
	caption = strings.TrimSpace(caption)
	if len(paths) == 1 {
		if caption != "" {
			return fmt.Sprintf("[Photo: %s]\n\n%s", paths[0], caption)
		}
		return "Please analyze this image: " + paths[0]
	}

	var list strings.Builder
	for i, path := range paths {
		fmt.Fprintf(&list, "%d. %s\n", i+1, path)
	}
	if caption != "" {
		return fmt.Sprintf("[Photos:\n%s]\n\n%s", strings.TrimRight(list.String(), "\n"), caption)
	}
	return fmt.Sprintf("Please analyze these %d images:\n%s", len(paths), strings.TrimRight(list.String(), "\n"))
}

// documents

func (b *Bot) handleDocument(ctx context.Context, msg *messaging.DocumentMessage) {
	if msg.FileSize > maxDocumentBytes {
		b.send(ctx, msg.Chat, "❌ File too large. Maximum size is 10MB.")
		return
	}

	name := msg.FileName
	if name == "" {
		name = "document"
	}

	if safety.DetectArchiveKind(name) != safety.ArchiveUnknown {
		b.handleArchive(ctx, msg, name)
		return
	}

	if !isPDF(name, msg.MIMEType) && !isTextFile(name, msg.MIMEType) {
		b.send(ctx, msg.Chat, fmt.Sprintf(
			"❌ Unsupported file type.\n\nSupported: PDF, archives (.zip,.tar,.tar.gz,.tgz), %s",
			strings.Join(textExtensions, ", ")))
		return
	}

	path, err := b.download(ctx, msg.FileID, name)
	if err != nil {
		b.send(ctx, msg.Chat, "❌ Failed to download document: "+render.EscapeHTML(truncateError(err, 100)))
		return
	}

	if msg.MediaGroupID != "" {
		b.docs.add(ctx, msg.MediaGroupID, msg.From, msg.Chat, path, msg.Caption)
		return
	}

	if !b.allowRate(ctx, msg.Chat, msg.From) {
		return
	}
	content := b.extractDocument(ctx, path, name)
	b.runPrompt(ctx, promptRequest{
		Chat:          msg.Chat,
		From:          msg.From,
		ReplyTo:       chat.MessageRef{Chat: msg.Chat, Message: msg.Message},
		Type:          "DOCUMENT",
		Text:          buildDocumentsPrompt([]extractedDoc{{name: name, content: content}}, msg.Caption),
		SkipRateLimit: true,
	})
}

func (b *Bot) processDocumentGroup(ctx context.Context, from messaging.Sender, chatID chat.ChatID, paths []string, caption string) {
	docs := make([]extractedDoc, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		docs = append(docs, extractedDoc{name: name, content: b.extractDocument(ctx, path, name)})
	}
	if len(docs) == 0 {
		b.send(ctx, chatID, "❌ Failed to extract any documents.")
		return
	}
	b.runPrompt(ctx, promptRequest{
		Chat:          chatID,
		From:          from,
		Type:          "DOCUMENT",
		Text:          buildDocumentsPrompt(docs, caption),
		SkipRateLimit: true,
	})
}

type extractedDoc struct {
	name    string
	content string
}

// extractDocument returns the text content of a downloaded file: PDFs
// go through pdftotext, everything else is read directly.
func (b *Bot) extractDocument(ctx context.Context, path, name string) string {
	if isPDF(name, "") {
		return extractPDF(ctx, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		b.cfg.Logger.Warn("reading document failed", "error", err, "path", path)
		return ""
	}
	return truncateChars(string(raw), maxTextFileChars)
}

// extractPDF shells out to pdftotext; layout mode keeps tables
// readable.
func extractPDF(ctx context.Context, path string) string {
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return "[PDF parsing failed - ensure pdftotext is installed]"
	}
	return string(out)
}

func buildDocumentsPrompt(docs []extractedDoc, caption string) string {
	caption = strings.TrimSpace(caption)
	if len(docs) == 1 {
		if caption != "" {
			return fmt.Sprintf("Document: %s\n\nContent:\n%s\n\n---\n\n%s", docs[0].name, docs[0].content, caption)
		}
		return fmt.Sprintf("Please analyze this document (%s):\n\n%s", docs[0].name, docs[0].content)
	}

	sections := make([]string, len(docs))
	for i, doc := range docs {
		sections[i] = fmt.Sprintf("--- Document %d: %s ---\n%s", i+1, doc.name, doc.content)
	}
	joined := strings.Join(sections, "\n\n")
	if caption != "" {
		return fmt.Sprintf("%d Documents:\n\n%s\n\n---\n\n%s", len(docs), joined, caption)
	}
	return fmt.Sprintf("Please analyze these %d documents:\n\n%s", len(docs), joined)
}

// archives

func (b *Bot) handleArchive(ctx context.Context, msg *messaging.DocumentMessage, name string) {
	if !b.allowRate(ctx, msg.Chat, msg.From) {
		return
	}

	status, err := b.cfg.Messenger.SendHTML(ctx, msg.Chat,
		fmt.Sprintf("📦 Extracting <b>%s</b>...", render.EscapeHTML(name)))
	if err != nil {
		b.cfg.Logger.Warn("sending archive status failed", "error", err)
	}

	archivePath, err := b.download(ctx, msg.FileID, name)
	if err != nil {
		b.send(ctx, msg.Chat, "❌ Failed to download archive: "+render.EscapeHTML(truncateError(err, 100)))
		return
	}

	extractDir := filepath.Join(b.cfg.App.TempDir, "archive_"+uuid.NewString()[:8])
	if err := safety.SafeExtract(archivePath, extractDir, safety.DefaultExtractLimits); err != nil {
		b.send(ctx, msg.Chat, "❌ Failed to extract archive: "+render.EscapeHTML(truncateError(err, 200)))
		return
	}
	defer os.RemoveAll(extractDir)

	tree, contents := readArchiveContent(extractDir)

	if !status.Zero() {
		if err := b.cfg.Messenger.EditHTML(ctx, status, fmt.Sprintf(
			"📦 Extracted <b>%s</b>: %d files", render.EscapeHTML(name), len(tree))); err != nil {
			b.cfg.Logger.Debug("editing archive status failed", "error", err)
		}
	}

	b.runPrompt(ctx, promptRequest{
		Chat:          msg.Chat,
		From:          msg.From,
		ReplyTo:       chat.MessageRef{Chat: msg.Chat, Message: msg.Message},
		Type:          "ARCHIVE",
		Text:          buildArchivePrompt(name, tree, contents, msg.Caption),
		SkipRateLimit: true,
	})

	if !status.Zero() {
		if err := b.cfg.Messenger.DeleteMessage(ctx, status); err != nil {
			b.cfg.Logger.Debug("deleting archive status failed", "error", err)
		}
	}
	b.writeAudit(audit.Message(msg.From.User, msg.From.Username, "ARCHIVE", name, ""))
}

// readArchiveContent walks the extraction directory collecting a
// bounded file tree and the readable text contents.
func readArchiveContent(root string) (tree []string, contents []extractedDoc) {
	total := 0
	filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if len(tree) >= maxArchiveEntries {
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		tree = append(tree, rel)

		if !isTextFile(rel, "") {
			return nil
		}
		info, infoErr := entry.Info()
		if infoErr != nil || info.Size() > maxTextFileChars {
			return nil
		}
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		text := truncateChars(string(raw), maxArchiveFileChars)
		if total+len(text) > maxArchiveContent {
			return filepath.SkipAll
		}
		total += len(text)
		contents = append(contents, extractedDoc{name: rel, content: text})
		return nil
	})
	sort.Strings(tree)
	return tree, contents
}

func buildArchivePrompt(name string, tree []string, contents []extractedDoc, caption string) string {
	treeText := "(empty)"
	if len(tree) > 0 {
		treeText = strings.Join(tree, "\n")
	}
	contentText := "(no readable text files)"
	if len(contents) > 0 {
		sections := make([]string, len(contents))
		for i, doc := range contents {
			sections[i] = fmt.Sprintf("--- %s ---\n%s", doc.name, doc.content)
		}
		contentText = strings.Join(sections, "\n\n")
	}

	caption = strings.TrimSpace(caption)
	if caption != "" {
		return fmt.Sprintf("Archive: %s\n\nFile tree (%d files):\n%s\n\nExtracted contents:\n%s\n\n---\n\n%s",
			name, len(tree), treeText, contentText, caption)
	}
	return fmt.Sprintf("Please analyze this archive (%s):\n\nFile tree (%d files):\n%s\n\nExtracted contents:\n%s",
		name, len(tree), treeText, contentText)
}

func truncateChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

func truncateError(err error, max int) string {
	message := err.Error()
	if len(message) > max {
		message = message[:max] + "..."
	}
	return message
}
