// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - Backend session and catalog commands for formchat.
//
// Commands:
//   formchat sessions [list] [--status active]
//   formchat sessions show <id>
//   formchat sessions delete <id> --confirm
//   formchat templates
//   formchat resources [category]

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/formchat/internal/attach"
	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/session"
	"github.com/jeranaias/formchat/internal/util"
)

// =============================================================================
// SESSIONS
// =============================================================================

// HandleSessionsCommand lists, shows or deletes backend sessions.
func HandleSessionsCommand(ctx context.Context, app *App, args Args) error {
	p := args.Parser()
	switch sub := strings.ToLower(p.Subcommand()); sub {
	case "", "list", "ls":
		return listSessions(ctx, app, app.Out, model.SessionStatus(p.Flag("status")), args.JSON)

	case "show":
		id, err := ParseID(p.Positional(1), "session id")
		if err != nil {
			return err
		}
		interactions, err := app.Client.History(ctx, id)
		if err != nil {
			return fmt.Errorf("load session %d: %w", id, err)
		}
		if args.JSON {
			return writeJSON(app.Out, interactions)
		}
		printMessages(app.Out, historyMessages(interactions), nil)
		return nil

	case "delete", "rm":
		id, err := ParseID(p.Positional(1), "session id")
		if err != nil {
			return err
		}
		if !p.BoolFlag("confirm", "y") {
			return &ValidationError{Field: "confirm", Reason: "deleting a session cannot be undone", Example: "formchat sessions delete " + formatSessionID(id) + " --confirm"}
		}
		if err := app.Client.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("delete session %d: %w", id, err)
		}
		fmt.Fprintf(app.Out, "%s session %d deleted\n", SuccessStyle.Render("[OK]"), id)
		return nil

	default:
		return NewValidationError("subcommand", sub, "expected list, show or delete")
	}
}

// listSessions prints the signed-in user's sessions.
func listSessions(ctx context.Context, app *App, w io.Writer, status model.SessionStatus, jsonMode bool) error {
	userID, err := app.UserID()
	if err != nil {
		return err
	}
	sessions, err := app.Client.ListSessions(ctx, userID, status)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if jsonMode {
		return writeJSON(w, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No sessions."))
		return nil
	}

	fmt.Fprintf(w, "%-8s %-17s %-8s %s\n", "ID", "Started", "Status", "Title")
	fmt.Fprintln(w, RenderSeparator(64))
	for _, s := range sessions {
		started := ""
		if !s.StartTime.IsZero() {
			started = s.StartTime.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%-8s %-17s %-8s %s\n",
			CommandStyle.Render(formatSessionID(s.ID)), started, string(s.Status),
			util.TruncateRunes(util.SingleLine(s.Title), 40))
	}
	return nil
}

// historyMessages converts stored interactions into display messages.
func historyMessages(interactions []model.Interaction) []model.Message {
	ptrs := session.MessagesFromInteractions(interactions)
	msgs := make([]model.Message, 0, len(ptrs))
	for _, m := range ptrs {
		msgs = append(msgs, *m)
	}
	return msgs
}

// =============================================================================
// CATALOG
// =============================================================================

// HandleTemplatesCommand lists chat templates.
func HandleTemplatesCommand(ctx context.Context, app *App, args Args) error {
	templates, err := app.Client.Templates(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	if args.JSON {
		return writeJSON(app.Out, templates)
	}
	if len(templates) == 0 {
		fmt.Fprintln(app.Out, DimStyle.Render("No templates."))
		return nil
	}
	for _, t := range templates {
		fmt.Fprintf(app.Out, "%s %s\n", CommandStyle.Render(t.ID), TitleStyle.Render(t.Title))
		if t.Description != "" {
			fmt.Fprintf(app.Out, "    %s\n", DimStyle.Render(util.TruncateRunes(util.SingleLine(t.Description), 72)))
		}
	}
	return nil
}

// HandleResourcesCommand lists approved resources, optionally of one
// category.
func HandleResourcesCommand(ctx context.Context, app *App, args Args) error {
	category := strings.ToLower(args.Parser().Positional(0))
	resources, err := app.Client.Resources(ctx, category)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	if args.JSON {
		return writeJSON(app.Out, resources)
	}
	if len(resources) == 0 {
		fmt.Fprintln(app.Out, DimStyle.Render("No approved resources."))
		return nil
	}

	fmt.Fprintf(app.Out, "%-6s %-10s %-8s %s\n", "ID", "Category", "Size", "Title")
	fmt.Fprintln(app.Out, RenderSeparator(64))
	for _, r := range resources {
		size := ""
		if r.FileSize > 0 {
			size = attach.FormatFileSize(r.FileSize)
		}
		fmt.Fprintf(app.Out, "%-6s %-10s %-8s %s\n",
			CommandStyle.Render(formatSessionID(r.ID)), r.Category, size,
			util.TruncateRunes(r.Label(), 44))
	}
	return nil
}
