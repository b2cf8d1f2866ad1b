// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/jeranaias/formchat/internal/storage"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports transcripts to a single HTML page with embedded CSS.
// Replies are rendered from Markdown; raw HTML in them is dropped.
type HTMLExporter struct {
	options *Options
	md      goldmark.Markdown
	now     func() time.Time
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{
		options: opts,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:     time.Now,
	}
}

// Export converts a transcript to HTML.
func (e *HTMLExporter) Export(t *storage.Transcript) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	theme := "light"
	if strings.EqualFold(e.options.Theme, "dark") {
		theme = "dark"
	}
	heading := html.EscapeString(title(t))

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", heading)
	sb.WriteString("    <meta name=\"generator\" content=\"formchat\">\n")
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n<div class=\"container\">\n", theme)

	if e.options.IncludeMetadata {
		e.renderHeader(&sb, t, heading)
	}

	sb.WriteString("<main class=\"conversation\">\n")
	for _, msg := range t.Messages {
		if err := e.renderMessage(&sb, msg); err != nil {
			return nil, err
		}
	}
	sb.WriteString("</main>\n")

	fmt.Fprintf(&sb, "<footer class=\"footer\">Exported from <strong>formchat</strong> on %s</footer>\n",
		e.now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("</div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(sb *strings.Builder, t *storage.Transcript, heading string) {
	sb.WriteString("<header class=\"header\">\n")
	fmt.Fprintf(sb, "    <h1>%s</h1>\n    <div class=\"metadata\">\n", heading)
	fmt.Fprintf(sb, "        <span><strong>Session:</strong> %d</span>\n", t.SessionID)
	if !t.CreatedAt.IsZero() {
		fmt.Fprintf(sb, "        <span><strong>Created:</strong> %s</span>\n", formatTimestamp(t.CreatedAt))
	}
	fmt.Fprintf(sb, "        <span><strong>Messages:</strong> %d</span>\n", len(t.Messages))
	sb.WriteString("    </div>\n</header>\n")
}

func (e *HTMLExporter) renderMessage(sb *strings.Builder, msg storage.StoredMessage) error {
	classes := "message " + html.EscapeString(strings.ToLower(msg.Role)) + "-message"
	if msg.Failed {
		classes += " failed"
	}
	fmt.Fprintf(sb, "<div class=\"%s\">\n<div class=\"message-header\">\n", classes)
	fmt.Fprintf(sb, "    <span class=\"role-label\">%s</span>\n", html.EscapeString(roleLabel(msg.Role)))
	if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
		fmt.Fprintf(sb, "    <span class=\"timestamp\">%s</span>\n", formatShortTimestamp(msg.Timestamp))
	}
	sb.WriteString("</div>\n")

	if len(msg.Attachments) > 0 {
		sb.WriteString("<ul class=\"attachments\">\n")
		for _, a := range msg.Attachments {
			fmt.Fprintf(sb, "    <li>%s</li>\n", html.EscapeString(attachmentLabel(a.DisplayName, a.SizeLabel)))
		}
		sb.WriteString("</ul>\n")
	}

	sb.WriteString("<div class=\"message-content\">\n")
	if msg.Role == "assistant" && !msg.Failed {
		var buf bytes.Buffer
		if err := e.md.Convert([]byte(msg.Content), &buf); err != nil {
			return fmt.Errorf("render message %s: %w", msg.ID, err)
		}
		sb.Write(buf.Bytes())
	} else {
		fmt.Fprintf(sb, "<p>%s</p>\n", strings.ReplaceAll(html.EscapeString(msg.Content), "\n", "<br>\n"))
	}
	if msg.Interrupted {
		sb.WriteString("<p class=\"interrupted\">(interrupted)</p>\n")
	}
	sb.WriteString("</div>\n</div>\n")
	return nil
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const css = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        .light-theme {
            --bg-primary: #ffffff; --bg-secondary: #f7f8fa; --bg-tertiary: #e1e4e8;
            --text-primary: #24292e; --text-muted: #6a737d; --border: #e1e4e8;
            --user-bg: #f1f8ff; --code-bg: #f6f8fa; --accent: #0366d6; --error: #d73a49;
        }
        .dark-theme {
            --bg-primary: #1a1b26; --bg-secondary: #24283b; --bg-tertiary: #414868;
            --text-primary: #c0caf5; --text-muted: #565f89; --border: #414868;
            --user-bg: #1f2335; --code-bg: #1a1b26; --accent: #7aa2f7; --error: #f7768e;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            line-height: 1.6; color: var(--text-primary); background: var(--bg-primary); padding: 20px;
        }
        .container { max-width: 900px; margin: 0 auto; background: var(--bg-secondary); border-radius: 12px; overflow: hidden; }
        .header { padding: 28px 32px; background: var(--bg-tertiary); }
        .header h1 { font-size: 26px; margin-bottom: 12px; }
        .metadata { display: flex; flex-wrap: wrap; gap: 16px; font-size: 14px; color: var(--text-muted); }
        .conversation { padding: 24px 32px; }
        .message { padding: 16px 20px; margin-bottom: 16px; border: 1px solid var(--border); border-radius: 8px; }
        .user-message { background: var(--user-bg); }
        .message.failed { border-color: var(--error); color: var(--error); }
        .message-header { display: flex; justify-content: space-between; margin-bottom: 8px; }
        .role-label { font-weight: 600; color: var(--accent); }
        .timestamp, .interrupted { font-size: 13px; color: var(--text-muted); }
        .attachments { margin: 0 0 8px 20px; font-size: 14px; color: var(--text-muted); }
        .message-content p, .message-content ul, .message-content ol, .message-content table { margin-bottom: 10px; }
        .message-content ul, .message-content ol { padding-left: 24px; }
        .message-content pre { background: var(--code-bg); padding: 12px; border-radius: 6px; overflow-x: auto; }
        .message-content code { font-family: "SF Mono", Monaco, Consolas, monospace; font-size: 14px; }
        .message-content table { border-collapse: collapse; }
        .message-content th, .message-content td { border: 1px solid var(--border); padding: 4px 10px; }
        .footer { padding: 16px 32px; font-size: 13px; color: var(--text-muted); border-top: 1px solid var(--border); }
    </style>
`
