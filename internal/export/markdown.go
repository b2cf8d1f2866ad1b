// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/formchat/internal/storage"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown.
type MarkdownExporter struct {
	options *Options
	now     func() time.Time
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts, now: time.Now}
}

// Export converts a transcript to Markdown. Replies are written as they
// were displayed; they are Markdown already.
func (e *MarkdownExporter) Export(t *storage.Transcript) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	var sb strings.Builder
	heading := title(t)

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(heading))
		fmt.Fprintf(&sb, "session: %d\n", t.SessionID)
		if t.ConversationID != "" {
			fmt.Fprintf(&sb, "conversation: %s\n", escapeYAML(t.ConversationID))
		}
		if !t.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "date: %s\n", t.CreatedAt.Format(time.RFC3339))
		}
		if !t.UpdatedAt.IsZero() {
			fmt.Fprintf(&sb, "updated: %s\n", t.UpdatedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(&sb, "messages: %d\n", len(t.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", e.now().Format(time.RFC3339))
		sb.WriteString("generator: formchat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(heading))

	for i, msg := range t.Messages {
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", roleLabel(msg.Role), formatShortTimestamp(msg.Timestamp))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", roleLabel(msg.Role))
		}

		for _, a := range msg.Attachments {
			fmt.Fprintf(&sb, "- attachment: %s\n", attachmentLabel(a.DisplayName, a.SizeLabel))
		}
		if len(msg.Attachments) > 0 {
			sb.WriteString("\n")
		}

		content := strings.TrimSpace(msg.Content)
		if msg.Failed {
			content = "> **Error:** " + content
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
		if msg.Interrupted {
			sb.WriteString("_(interrupted)_\n\n")
		}

		if i < len(t.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	fmt.Fprintf(&sb, "---\n\n*Exported from formchat on %s*\n", e.now().Format("January 2, 2006 at 3:04 PM"))
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	return strings.NewReplacer(
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	).Replace(s)
}

// escapeYAML quotes a front matter value when it contains special
// characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.NewReplacer(
			`\`, `\\`,
			`"`, `\"`,
			"\n", `\n`,
			"\r", `\r`,
		).Replace(s)
		return `"` + s + `"`
	}
	return s
}
