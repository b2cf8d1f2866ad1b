// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single question command for formchat.
//
// Command: ask
// Short:   Ask one question and print the reply
//
// Examples:
//   formchat ask "Suggest a preservative for a pH 5.5 lotion"
//   formchat ask --file spec.pdf "Review this spec"
//   formchat ask --session 42 "And with 2% glycerin?"
//   formchat ask --json "What is HLB?"

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/formchat/internal/attach"
	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/reconcile"
	"github.com/jeranaias/formchat/internal/util"
)

// AskData is the JSON form of an answered question.
type AskData struct {
	SessionID      int64           `json:"session_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	InteractionID  int64           `json:"interaction_id,omitempty"`
	Outcome        string          `json:"outcome"`
	Response       string          `json:"response"`
	Question       *model.Question `json:"question,omitempty"`
}

// HandleAskCommand sends one prompt and prints the reply as it streams.
func HandleAskCommand(ctx context.Context, app *App, args Args) error {
	p := args.Parser()
	query := JoinPositionalArgs(p, 0)
	if query == "" {
		return ErrMissingArgument("question", `formchat ask "Which emulsifier suits a light lotion?"`)
	}

	sel, err := askSelection(ctx, app, p)
	if err != nil {
		return err
	}

	var opts []reconcile.Option
	if args.JSON {
		// JSON output waits for the final reply.
		opts = append(opts, reconcile.WithThrottle(0))
	}
	ctrl := app.NewController(opts...)

	if id, ok, err := p.FlagInt64("session"); err != nil {
		return err
	} else if ok {
		if err := ctrl.LoadHistory(ctx, id); err != nil {
			return fmt.Errorf("load session %d: %w", id, err)
		}
	}

	if !args.JSON {
		var md *glamour.TermRenderer
		if app.Config.UI.Markdown && IsStdoutTTY() {
			md = newMarkdownRenderer(app.Config.UI.Style, app.Config.UI.Width)
		}
		unsubscribe := ctrl.Subscribe(newReplyPrinter(app.Out, md).observe)
		defer unsubscribe()
	}

	turn, err := ctrl.SendMessage(ctx, query, sel)
	if err != nil {
		return err
	}
	res, err := turn.Wait(ctx)
	if err != nil {
		return err
	}

	if args.JSON {
		if err := writeAskJSON(app.Out, ctrl, res); err != nil {
			return err
		}
	}
	return askError(res)
}

// askSelection builds the attachments named by --file, --resource and
// --template.
func askSelection(ctx context.Context, app *App, p *ArgParser) (attach.Selection, error) {
	var sel attach.Selection

	if path := p.Flag("file", "f"); path != "" {
		f, err := attach.LocalFileFromPath(util.ExpandHome(path))
		if err != nil {
			return sel, err
		}
		sel.AddFile(f)
	}

	if raw := p.Flag("resource"); raw != "" {
		id, err := ParseID(raw, "resource id")
		if err != nil {
			return sel, err
		}
		resources, err := app.Client.Resources(ctx, "")
		if err != nil {
			return sel, fmt.Errorf("load resources: %w", err)
		}
		found := false
		for _, r := range resources {
			if r.ID == id {
				sel.AddReference(attach.FromResource(r, attach.ResourceCategory(r.Category)))
				found = true
				break
			}
		}
		if !found {
			return sel, NewNotFoundError("approved resource", raw)
		}
	}

	if id := p.Flag("template"); id != "" {
		templates, err := app.Client.Templates(ctx)
		if err != nil {
			return sel, fmt.Errorf("load templates: %w", err)
		}
		found := false
		for _, t := range templates {
			if t.ID == id {
				sel.AddReference(attach.FromTemplate(t))
				found = true
				break
			}
		}
		if !found {
			return sel, NewNotFoundError("template", id)
		}
	}
	return sel, nil
}

func writeAskJSON(w io.Writer, ctrl *reconcile.Controller, res reconcile.Result) error {
	snap := ctrl.Snapshot()
	return writeJSON(w, AskData{
		SessionID:      snap.SessionID,
		ConversationID: snap.ConversationID,
		InteractionID:  res.Reply.InteractionID,
		Outcome:        res.Outcome.String(),
		Response:       res.Reply.Response,
		Question:       res.Reply.Question,
	})
}

// askError turns an unsuccessful turn into the command's error.
func askError(res reconcile.Result) error {
	if res.Outcome == reconcile.OutcomeCompleted {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return errors.New("reply " + res.Outcome.String())
}

// formatSessionID renders a session ID for tables.
func formatSessionID(id int64) string {
	return strconv.FormatInt(id, 10)
}
