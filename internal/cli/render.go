// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/reconcile"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// newMarkdownRenderer builds a glamour renderer for finished replies. It
// returns nil when markdown is off or the renderer cannot be built.
func newMarkdownRenderer(style string, width int) *glamour.TermRenderer {
	if width <= 0 {
		width = min(GetTerminalWidth(), MaxRenderWidth)
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	switch strings.ToLower(style) {
	case "", "auto":
		opts = append(opts, glamour.WithAutoStyle())
	default:
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil
	}
	return r
}

// =============================================================================
// REPLY PRINTER
// =============================================================================

// replyPrinter writes a streaming reply as it grows. Without a markdown
// renderer the display text is printed incrementally; with one, the reply
// is printed once it is finalized so the formatting is correct.
type replyPrinter struct {
	out io.Writer
	md  *glamour.TermRenderer

	mu      sync.Mutex
	gen     uint64
	printed string
	open    bool
}

func newReplyPrinter(out io.Writer, md *glamour.TermRenderer) *replyPrinter {
	return &replyPrinter{out: out, md: md}
}

// observe is a reconcile.Observer.
func (p *replyPrinter) observe(ev reconcile.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case reconcile.EventMessageAppended:
		if ev.Message.IsAssistant() && ev.Message.IsStreaming {
			p.gen, p.printed, p.open = ev.Generation, "", true
			fmt.Fprintf(p.out, "\n%s\n", RenderRole(false))
		}

	case reconcile.EventChunk:
		if ev.Generation != p.gen || !p.open || p.md != nil {
			return
		}
		p.writeDelta(ev.Message.Response)

	case reconcile.EventFinalized:
		if ev.Generation != p.gen || !p.open {
			return
		}
		p.open = false
		p.finish(ev.Message)
	}
}

// writeDelta prints what text adds to the printed prefix. Extraction from
// partial JSON can rewrite earlier text; the reply is then restarted on a
// new line.
func (p *replyPrinter) writeDelta(text string) {
	if strings.HasPrefix(text, p.printed) {
		fmt.Fprint(p.out, text[len(p.printed):])
	} else {
		fmt.Fprint(p.out, "\n"+text)
	}
	p.printed = text
}

func (p *replyPrinter) finish(msg model.Message) {
	switch {
	case msg.Failed:
		if p.printed != "" {
			fmt.Fprintln(p.out)
		}
		fmt.Fprintln(p.out, ErrorStyle.Render(msg.Response))
	case p.md != nil:
		fmt.Fprint(p.out, renderMarkdown(p.md, msg.Response))
	default:
		p.writeDelta(msg.Response)
		fmt.Fprintln(p.out)
	}

	if msg.Interrupted {
		fmt.Fprintln(p.out, DimStyle.Render("[interrupted]"))
	}
	if q := msg.Question; q != nil && q.AwaitingAnswer {
		printQuestion(p.out, *q)
	}
	fmt.Fprintln(p.out)
}

func renderMarkdown(md *glamour.TermRenderer, text string) string {
	if md == nil {
		return text + "\n"
	}
	out, err := md.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

// printQuestion lists the choices of a structured question.
func printQuestion(w io.Writer, q model.Question) {
	if len(q.Options) == 0 {
		fmt.Fprintln(w, DimStyle.Render("Reply with /answer <text>"))
		return
	}
	for i, opt := range q.Options {
		fmt.Fprintf(w, "  %s %s\n", CommandStyle.Render(fmt.Sprintf("%d.", i+1)), opt)
	}
	hint := "Reply with /answer <number or text>"
	if q.Type == model.QuestionCheckbox {
		hint = "Reply with /answer <numbers or texts, comma separated>"
	}
	fmt.Fprintln(w, DimStyle.Render(hint))
}

// printMessages prints a transcript, user prompts and replies alike.
func printMessages(w io.Writer, msgs []model.Message, md *glamour.TermRenderer) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("[No messages yet]"))
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "%s %s\n", RenderRole(m.IsUser()), DimStyle.Render(m.Timestamp.Local().Format("15:04")))
		for _, a := range m.Attachments {
			label := a.DisplayName
			if a.SizeLabel != "" {
				label += " (" + a.SizeLabel + ")"
			}
			fmt.Fprintf(w, "  %s %s\n", DimStyle.Render("attachment:"), label)
		}
		switch {
		case m.IsUser():
			fmt.Fprintln(w, m.Prompt)
		case m.Failed:
			fmt.Fprintln(w, ErrorStyle.Render(m.Response))
		default:
			fmt.Fprint(w, renderMarkdown(md, m.Response))
		}
		if m.Interrupted {
			fmt.Fprintln(w, DimStyle.Render("[interrupted]"))
		}
		fmt.Fprintln(w)
	}
}
