// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for formchat.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Examples:
//   formchat chat                 Start a new conversation
//   formchat chat --session 42    Continue session 42
//
// Interactive Commands (during chat):
//   /help                 Show available commands
//   /new                  Start a new conversation
//   /cancel               Stop the reply being received
//   /attach <path>        Attach a local file to the next message
//   /resource <id>        Attach a library resource
//   /quote <id>           Attach a quote
//   /kb <id>              Attach a knowledge-base document
//   /template <id>        Attach a chat template
//   /attachments          Show, or with "clear" drop, the pending attachments
//   /answer <choice>      Answer the assistant's question
//   /history [id]         Show this conversation, or load session <id>
//   /sessions             List your sessions
//   /save [path]          Archive the conversation, or export it (.md, .json, .html)
//   /quit                 Exit chat
//   Ctrl+C                Cancel the current reply
//   Ctrl+D                Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"

	"github.com/jeranaias/formchat/internal/attach"
	"github.com/jeranaias/formchat/internal/backend"
	"github.com/jeranaias/formchat/internal/commands"
	"github.com/jeranaias/formchat/internal/config"
	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/reconcile"
	"github.com/jeranaias/formchat/internal/storage"
	"github.com/jeranaias/formchat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor and loads earlier input history. A
// non-nil completer enables tab completion.
func NewChatCLI(completer *commands.Completer) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	if completer != nil {
		line.SetTabCompletionStyle(liner.TabPrints)
		line.SetCompleter(completer.Lines)
	}

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads a line and records non-empty input in the history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (c *ChatCLI) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatSession is the state of one interactive chat.
type chatSession struct {
	app     *App
	ctrl    *reconcile.Controller
	out     io.Writer
	md      *glamour.TermRenderer
	printer *replyPrinter
	sel     attach.Selection
	cmds    *commands.Registry
	catalog *catalogCache

	// interrupts delivers Ctrl+C while a reply streams.
	interrupts <-chan os.Signal
}

func newChatSession(app *App, out io.Writer, md *glamour.TermRenderer) *chatSession {
	s := &chatSession{
		app:     app,
		ctrl:    app.NewController(),
		out:     out,
		md:      md,
		printer: newReplyPrinter(out, md),
		cmds:    commands.NewRegistry(),
		catalog: newCatalogCache(app),
	}
	s.ctrl.Subscribe(s.printer.observe)
	return s
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChatCommand runs the interactive chat loop.
func HandleChatCommand(ctx context.Context, app *App, args Args) error {
	p := args.Parser()
	var md *glamour.TermRenderer
	if app.Config.UI.Markdown && IsStdoutTTY() {
		md = newMarkdownRenderer(app.Config.UI.Style, app.Config.UI.Width)
	}

	s := newChatSession(app, app.Out, md)
	if id, ok, err := p.FlagInt64("session"); err != nil {
		return err
	} else if ok {
		if err := s.loadSession(ctx, id); err != nil {
			return err
		}
	}

	if !args.Quiet {
		s.printWelcome()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	s.interrupts = sigs

	input := NewChatCLI(s.completer(ctx))
	defer input.Close()

	for {
		line, err := input.ReadInput(PromptStyle.Render("formchat> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D, or a closed stdin.
			fmt.Fprintln(s.out)
			s.printExit()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			s.printExit()
			return nil
		}

		if strings.HasPrefix(line, "/") {
			keepGoing, err := s.handleSlashCommand(ctx, line)
			if err != nil {
				DisplayError(app.Err, err, false)
			}
			if !keepGoing {
				s.printExit()
				return nil
			}
			continue
		}

		if err := s.send(ctx, line); err != nil {
			DisplayError(app.Err, err, false)
		}
	}
}

// send starts a turn for text with the pending attachments and waits for
// it to finish.
func (s *chatSession) send(ctx context.Context, text string) error {
	turn, err := s.ctrl.SendMessage(ctx, text, s.sel)
	if err != nil {
		return err
	}
	s.sel.Clear()
	_, err = s.wait(ctx, turn)
	return err
}

// wait blocks until turn ends. An interrupt cancels the reply and keeps
// waiting for it to be finalized.
func (s *chatSession) wait(ctx context.Context, turn *reconcile.Turn) (reconcile.Result, error) {
	for {
		select {
		case <-turn.Done():
			return turn.Result(), nil
		case <-s.interrupts:
			s.ctrl.CancelActive()
		case <-ctx.Done():
			s.ctrl.CancelActive()
			<-turn.Done()
			return turn.Result(), ctx.Err()
		}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs one slash command. It returns false to exit.
func (s *chatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	res := commands.NewParser(s.cmds).Parse(line)
	if res.Command == nil {
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", res.CommandName)
	}
	if err := commands.ValidateArgs(res.Command, res.Args); err != nil {
		return true, err
	}
	rest := res.RawArgs

	switch res.Command.Name {
	case "/help":
		s.printHelp()

	case "/quit":
		return false, nil

	case "/new":
		s.ctrl.StartNewSession()
		s.sel.Clear()
		fmt.Fprintln(s.out, SuccessStyle.Render("[New conversation]"))

	case "/cancel":
		if !s.ctrl.CancelActive() {
			fmt.Fprintln(s.out, DimStyle.Render("Nothing to cancel."))
		}

	case "/attach":
		return true, s.attachFile(strings.Trim(rest, `"'`))

	case "/resource":
		return true, s.attachResource(ctx, rest, "", attach.CategoryResource)
	case "/quote":
		return true, s.attachResource(ctx, rest, model.ResourceCategoryQuotes, attach.CategoryQuote)
	case "/kb":
		return true, s.attachResource(ctx, rest, model.ResourceCategoryKnowledge, attach.CategoryKnowledge)
	case "/template":
		return true, s.attachTemplate(ctx, rest)

	case "/attachments":
		if strings.EqualFold(rest, "clear") {
			s.sel.Clear()
		}
		s.printSelection()

	case "/answer":
		return true, s.answer(ctx, rest)

	case "/history":
		if rest == "" {
			printMessages(s.out, s.ctrl.Messages(), s.md)
			return true, nil
		}
		id, err := ParseID(rest, "session id")
		if err != nil {
			return true, err
		}
		return true, s.loadSession(ctx, id)

	case "/sessions":
		return true, listSessions(ctx, s.app, s.out, "", false)

	case "/save":
		return true, s.save(strings.Trim(rest, `"'`))

	default:
		return true, fmt.Errorf("%s is not available in chat", res.Command.Name)
	}
	return true, nil
}

func (s *chatSession) attachFile(path string) error {
	if path == "" {
		return ErrMissingArgument("path", "/attach ~/specs/base-lotion.pdf")
	}
	f, err := attach.LocalFileFromPath(util.ExpandHome(path))
	if err != nil {
		return err
	}
	s.sel.AddFile(f)
	fmt.Fprintf(s.out, "%s %s (%s, %s)\n", SuccessStyle.Render("[Attached]"), f.Name, attach.FormatFileSize(f.Size), f.MimeType)
	return nil
}

// attachResource looks id up in the approved resources of category and
// adds it to the selection.
func (s *chatSession) attachResource(ctx context.Context, arg, category string, cat attach.Category) error {
	id, err := ParseID(arg, "resource id")
	if err != nil {
		return err
	}
	resources, err := s.app.Client.Resources(ctx, category)
	if err != nil {
		return fmt.Errorf("load resources: %w", err)
	}
	for _, r := range resources {
		if r.ID != id {
			continue
		}
		ref := attach.FromResource(r, cat)
		if !s.sel.AddReference(ref) {
			fmt.Fprintln(s.out, DimStyle.Render("Already attached."))
			return nil
		}
		fmt.Fprintf(s.out, "%s %s%s\n", SuccessStyle.Render("[Attached]"), cat.Prefix(), ref.Label)
		return nil
	}
	return NewNotFoundError("approved resource", arg)
}

func (s *chatSession) attachTemplate(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingArgument("template id", "/template lotion-base")
	}
	templates, err := s.app.Client.Templates(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	for _, t := range templates {
		if t.ID != id {
			continue
		}
		ref := attach.FromTemplate(t)
		if s.sel.AddReference(ref) {
			fmt.Fprintf(s.out, "%s %s%s\n", SuccessStyle.Render("[Attached]"), attach.CategoryTemplate.Prefix(), ref.Label)
		}
		return nil
	}
	return NewNotFoundError("template", id)
}

// answer replies to the assistant's open question. Numbers pick options
// by position.
func (s *chatSession) answer(ctx context.Context, arg string) error {
	q, ok := openQuestion(s.ctrl.Messages())
	if !ok {
		return reconcile.ErrNoQuestion
	}
	values := resolveAnswer(q, arg)
	if len(values) == 0 {
		return ErrMissingArgument("answer", "/answer 1,3")
	}
	turn, err := s.ctrl.AnswerQuestion(ctx, values)
	if err != nil {
		return err
	}
	_, err = s.wait(ctx, turn)
	return err
}

// openQuestion returns the question of the last assistant reply if it is
// still awaiting an answer.
func openQuestion(msgs []model.Message) (model.Question, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != model.RoleAssistant {
			continue
		}
		if q := msgs[i].Question; q != nil && q.AwaitingAnswer {
			return *q, true
		}
		return model.Question{}, false
	}
	return model.Question{}, false
}

// resolveAnswer splits arg into answer values. For option questions each
// comma separated number in range selects that option.
func resolveAnswer(q model.Question, arg string) []string {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil
	}
	if !q.Type.HasOptions() {
		return []string{arg}
	}
	var values []string
	for _, part := range strings.Split(arg, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil && n >= 1 && n <= len(q.Options) {
			part = q.Options[n-1]
		}
		values = append(values, part)
	}
	return values
}

func (s *chatSession) loadSession(ctx context.Context, id int64) error {
	if err := s.ctrl.LoadHistory(ctx, id); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return NewNotFoundError("session", strconv.FormatInt(id, 10))
		}
		return err
	}
	s.sel.Clear()
	fmt.Fprintf(s.out, "%s session %d (%d messages)\n\n", SuccessStyle.Render("[Loaded]"), id, len(s.ctrl.Messages()))
	printMessages(s.out, s.ctrl.Messages(), s.md)
	return nil
}

// save archives the conversation, or exports it to path.
func (s *chatSession) save(path string) error {
	snap := s.ctrl.Snapshot()
	if snap.SessionID == 0 {
		return errors.New("nothing to save yet")
	}
	t := storage.FromSnapshot(snap)

	if path != "" {
		return exportTranscript(s.app, t, path, "", false)
	}

	if s.app.Store == nil {
		return errors.New("transcript archive is disabled (storage.driver = none); use /save <path>")
	}
	id, err := s.app.Store.Save(t)
	if err != nil {
		return fmt.Errorf("archive transcript: %w", err)
	}
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render("[Saved]"), id)
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (s *chatSession) printWelcome() {
	cfg := s.app.Config
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("formchat"))
	fmt.Fprintln(s.out, RenderSeparator(30))
	fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Backend:"), ValueStyle.Render(cfg.API.BaseURL))
	if id, ok := s.app.Identity.UserID(); ok {
		fmt.Fprintf(s.out, "%s %d\n", RenderLabel("User:"), id)
	} else {
		fmt.Fprintf(s.out, "%s %s\n", RenderLabel("User:"), WarningStyle.Render("not signed in"))
	}
	archive := "off"
	if s.app.Store != nil {
		archive = cfg.Storage.Driver
	}
	fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Archive:"), ValueStyle.Render(archive))
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printHelp() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Available Commands"))
	for _, g := range s.cmds.Groups() {
		fmt.Fprintf(s.out, "\n%s\n", RenderLabel(g.Category))
		for _, c := range g.Commands {
			fmt.Fprintf(s.out, "  %s  %s\n", CommandStyle.Render(fmt.Sprintf("%-22s", c.UsageOrName())), DimStyle.Render(c.Description))
		}
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Tab completes commands and IDs. Ctrl+C cancels the current reply, Ctrl+D exits"))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printSelection() {
	atts := attach.Build(s.sel)
	if len(atts) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("No attachments pending."))
		return
	}
	for _, a := range atts {
		label := a.DisplayName
		if a.SizeLabel != "" {
			label += " (" + a.SizeLabel + ")"
		}
		fmt.Fprintf(s.out, "  - %s\n", label)
	}
}

func (s *chatSession) printExit() {
	if id, ok := s.ctrl.SessionID(); ok {
		fmt.Fprintf(s.out, "%s %d\n", DimStyle.Render("Session:"), id)
	}
	fmt.Fprintln(s.out, DimStyle.Render("Goodbye!"))
}
