// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// ExtractLimits bounds archive extraction. Violating any bound aborts
// the extraction and removes the destination directory.
type ExtractLimits struct {
	MaxFiles     int
	MaxFileBytes int64
	MaxTotal     int64
}

// DefaultExtractLimits caps user-supplied archives.
var DefaultExtractLimits = ExtractLimits{
	MaxFiles:     100,
	MaxFileBytes: 512 * 1024,
	MaxTotal:     10 * 1024 * 1024,
}

// ArchiveKind identifies supported archive formats by file name.
type ArchiveKind int

const (
	ArchiveUnknown ArchiveKind = iota
	ArchiveZip
	ArchiveTar
	ArchiveTarGz
)

// DetectArchiveKind classifies by extension: .zip, .tar, .tar.gz, .tgz.
func DetectArchiveKind(name string) ArchiveKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return ArchiveZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return ArchiveTarGz
	case strings.HasSuffix(lower, ".tar"):
		return ArchiveTar
	}
	return ArchiveUnknown
}

// SafeExtract unpacks archivePath into dest, enforcing limits and
// rejecting path traversal, absolute entries, and any non-regular-file
// entry (symlinks, hardlinks, devices, fifos). On any violation dest
// is removed before returning the error.
func SafeExtract(archivePath, dest string, limits ExtractLimits) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("safety: create extraction dir: %w", err)
	}
	var err error
	switch DetectArchiveKind(archivePath) {
	case ArchiveZip:
		err = extractZip(archivePath, dest, limits)
	case ArchiveTar:
		err = extractTarFile(archivePath, dest, limits, false)
	case ArchiveTarGz:
		err = extractTarFile(archivePath, dest, limits, true)
	default:
		err = fmt.Errorf("safety: unsupported archive type: %s", filepath.Base(archivePath))
	}
	if err != nil {
		os.RemoveAll(dest)
		return err
	}
	return nil
}

func extractZip(archivePath, dest string, limits ExtractLimits) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("safety: open zip: %w", err)
	}
	defer reader.Close()

	files := 0
	var total int64
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if mode := entry.FileInfo().Mode(); mode&os.ModeType != 0 {
			return fmt.Errorf("safety: refusing non-regular zip entry %q (mode %v)", entry.Name, mode)
		}
		files++
		if files > limits.MaxFiles {
			return fmt.Errorf("safety: archive exceeds %d files", limits.MaxFiles)
		}

		target, err := sanitizeRelPath(dest, entry.Name)
		if err != nil {
			return err
		}
		source, err := entry.Open()
		if err != nil {
			return fmt.Errorf("safety: open zip entry %q: %w", entry.Name, err)
		}
		_, err = writeEntry(target, source, limits, &total)
		source.Close()
		if err != nil {
			return fmt.Errorf("safety: entry %q: %w", entry.Name, err)
		}
	}
	return nil
}

func extractTarFile(archivePath, dest string, limits ExtractLimits, gzipped bool) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("safety: open archive: %w", err)
	}
	defer file.Close()

	var stream io.Reader = file
	if gzipped {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("safety: open gzip stream: %w", err)
		}
		defer gz.Close()
		stream = gz
	}

	reader := tar.NewReader(stream)
	files := 0
	var total int64
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("safety: read tar: %w", err)
		}
		switch header.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
		default:
			return fmt.Errorf("safety: refusing non-regular tar entry %q (type %c)", header.Name, header.Typeflag)
		}

		files++
		if files > limits.MaxFiles {
			return fmt.Errorf("safety: archive exceeds %d files", limits.MaxFiles)
		}
		target, err := sanitizeRelPath(dest, header.Name)
		if err != nil {
			return err
		}
		if _, err := writeEntry(target, reader, limits, &total); err != nil {
			return fmt.Errorf("safety: entry %q: %w", header.Name, err)
		}
	}
}

// writeEntry copies one entry to target with per-file and total byte
// caps. It reads one byte beyond the per-file cap so oversized entries
// are detected without trusting archive headers.
func writeEntry(target string, source io.Reader, limits ExtractLimits, total *int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(source, limits.MaxFileBytes+1))
	if err != nil {
		return written, err
	}
	if written > limits.MaxFileBytes {
		return written, fmt.Errorf("exceeds per-file limit of %d bytes", limits.MaxFileBytes)
	}
	*total += written
	if *total > limits.MaxTotal {
		return written, fmt.Errorf("archive exceeds total limit of %d bytes", limits.MaxTotal)
	}
	return written, nil
}

// sanitizeRelPath joins entry under dest, rejecting absolute paths,
// parent-directory components, and empty names.
func sanitizeRelPath(dest, entry string) (string, error) {
	entry = filepath.ToSlash(entry)
	if entry == "" || entry == "." {
		return "", fmt.Errorf("safety: empty archive entry name")
	}
	if filepath.IsAbs(entry) || strings.HasPrefix(entry, "/") {
		return "", fmt.Errorf("safety: absolute archive entry %q", entry)
	}
	if len(entry) >= 2 && entry[1] == ':' {
		return "", fmt.Errorf("safety: drive-prefixed archive entry %q", entry)
	}
	for _, part := range strings.Split(entry, "/") {
		if part == ".." {
			return "", fmt.Errorf("safety: path traversal in archive entry %q", entry)
		}
	}
	return filepath.Join(dest, filepath.FromSlash(entry)), nil
}

// SanitizeFilename maps any character outside [A-Za-z0-9._-] to an
// underscore. Repeated application is a fixed point.
func SanitizeFilename(name string) string {
	var out strings.Builder
	out.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	if out.Len() == 0 {
		return "document"
	}
	return out.String()
}
