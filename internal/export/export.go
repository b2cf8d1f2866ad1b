// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/formchat/internal/storage"
	"github.com/jeranaias/formchat/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a transcript in one format.
type Exporter interface {
	// Export returns the rendered transcript.
	Export(t *storage.Transcript) ([]byte, error)

	// FileExtension returns the extension including the dot, e.g. ".md".
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// Format names accepted by ForFormat.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatHTML     = "html"
)

var errEmptyTranscript = errors.New("transcript has no messages")

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds session details (front matter in Markdown, a
	// header in HTML).
	IncludeMetadata bool

	// IncludeTimestamps adds per-message times.
	IncludeTimestamps bool

	// Theme for HTML export ("light" or "dark").
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "light",
	}
}

// =============================================================================
// SELECTION
// =============================================================================

// ForFormat returns the exporter for a format name or file extension.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")) {
	case "", "md", FormatMarkdown:
		return NewMarkdownExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(opts), nil
	case FormatHTML, "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (use markdown, json or html)", format)
	}
}

// ForPath picks the exporter from the extension of path. Paths without a
// known extension get Markdown.
func ForPath(path string, opts *Options) (Exporter, error) {
	ext := filepath.Ext(path)
	if exp, err := ForFormat(ext, opts); err == nil {
		return exp, nil
	}
	return NewMarkdownExporter(opts), nil
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ToFile renders t and writes it to path with owner-only permissions. When
// path is a directory a file name is generated from the transcript
// summary. It returns the path written.
func ToFile(t *storage.Transcript, exporter Exporter, path string) (string, error) {
	content, err := exporter.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if info, statErr := os.Stat(path); path == "" || (statErr == nil && info.IsDir()) {
		path = filepath.Join(path, FileName(t, exporter, time.Now()))
	}

	if err := util.AtomicWriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// FileName builds a file name such as
// "transcript_Which_emulsifier_20250304_103000.md".
func FileName(t *storage.Transcript, exporter Exporter, at time.Time) string {
	return fmt.Sprintf("transcript_%s_%s%s",
		sanitizeFilename(t.Summary),
		at.Format("20060102_150405"),
		exporter.FileExtension(),
	)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func validate(t *storage.Transcript) error {
	if t == nil {
		return errors.New("transcript is nil")
	}
	if len(t.Messages) == 0 {
		return errEmptyTranscript
	}
	return nil
}

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	if runes := []rune(s); len(runes) > maxLen {
		s = string(runes[:maxLen])
	}

	var out []rune
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			out = append(out, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = append(out, '_')
		case r < 32 || r == 127:
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		return "conversation"
	}
	return string(out)
}

// title returns the transcript title or its summary.
func title(t *storage.Transcript) string {
	if s := strings.TrimSpace(t.Title); s != "" {
		return s
	}
	if s := strings.TrimSpace(t.Summary); s != "" {
		return s
	}
	return fmt.Sprintf("Session %d", t.SessionID)
}

// roleLabel returns the display label of a stored role.
func roleLabel(role string) string {
	switch role {
	case "user":
		return "You"
	case "assistant":
		return "Assistant"
	case "":
		return "Unknown"
	default:
		runes := []rune(role)
		return strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
}

// attachmentLabel renders an attachment as "name (size)".
func attachmentLabel(name, size string) string {
	if size == "" {
		return name
	}
	return name + " (" + size + ")"
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
