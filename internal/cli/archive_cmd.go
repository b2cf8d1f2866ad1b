// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// archive_cmd.go - Local transcript archive commands for formchat.
//
// Command: archive [subcommand]
// Short:   Browse conversations archived on this machine
//
// Subcommands:
//   list (default)           List archived transcripts
//   show <id>                Print a transcript
//   export <id> [--output PATH] [--format md|json|html]
//                            Export a transcript
//   delete <id>              Delete a transcript
//
// A transcript ID is either the archive ID ("sess_42") or the backend
// session ID ("42").

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/formchat/internal/export"
	"github.com/jeranaias/formchat/internal/storage"
	"github.com/jeranaias/formchat/internal/util"
)

// errNoArchive is returned when the archive is disabled or failed to open.
var errNoArchive = errors.New("transcript archive is disabled (storage.driver = none or it could not be opened)")

// HandleArchiveCommand handles the "archive" command.
func HandleArchiveCommand(app *App, args Args) error {
	if app.Store == nil {
		return NewCommandError("archive", "open", errNoArchive.Error(), nil)
	}
	p := args.Parser()

	switch sub := strings.ToLower(p.Subcommand()); sub {
	case "", "list", "ls":
		metas, err := app.Store.List()
		if err != nil {
			return err
		}
		if args.JSON {
			return writeJSON(app.Out, metas)
		}
		fmt.Fprintln(app.Out, storage.FormatList(metas))
		return nil

	case "show":
		t, err := loadTranscript(app.Store, p.Positional(1))
		if err != nil {
			return err
		}
		if args.JSON {
			return writeJSON(app.Out, t)
		}
		fmt.Fprintf(app.Out, "%s %s\n\n", TitleStyle.Render(t.Title), DimStyle.Render(t.ID))
		printMessages(app.Out, t.ToMessages(), nil)
		return nil

	case "export":
		t, err := loadTranscript(app.Store, p.Positional(1))
		if err != nil {
			return err
		}
		return exportTranscript(app, t, p.Flag("output", "o"), p.Flag("format"), args.Quiet)

	case "delete", "rm":
		id := transcriptID(p.Positional(1))
		if id == "" {
			return ErrMissingArgument("transcript id", "formchat archive delete sess_42")
		}
		if err := app.Store.Delete(id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return NewNotFoundError("transcript", id)
			}
			return err
		}
		if !args.Quiet {
			fmt.Fprintf(app.Out, "%s transcript %s deleted\n", SuccessStyle.Render("[OK]"), id)
		}
		return nil

	default:
		return NewValidationError("subcommand", sub, "expected list, show, export or delete")
	}
}

// transcriptID accepts an archive ID or a bare session ID.
func transcriptID(arg string) string {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return ""
	}
	if id, err := ParseID(arg, "session id"); err == nil {
		return storage.TranscriptID(id)
	}
	return arg
}

func loadTranscript(store storage.Store, arg string) (*storage.Transcript, error) {
	id := transcriptID(arg)
	if id == "" {
		return nil, ErrMissingArgument("transcript id", "formchat archive show sess_42")
	}
	t, err := store.Load(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewNotFoundError("transcript", id)
	}
	return t, err
}

// exportTranscript writes t to out, or to stdout when out is empty. The
// format comes from --format, then from the file extension.
func exportTranscript(app *App, t *storage.Transcript, out, format string, quiet bool) error {
	opts := export.DefaultOptions()
	if app.Config.UI.Style == "dark" {
		opts.Theme = "dark"
	}

	var (
		exp export.Exporter
		err error
	)
	if format == "" && out != "" {
		exp, err = export.ForPath(out, opts)
	} else {
		exp, err = export.ForFormat(format, opts)
	}
	if err != nil {
		return NewValidationError("format", format, err.Error())
	}

	if out == "" {
		content, err := exp.Export(t)
		if err != nil {
			return err
		}
		_, err = app.Out.Write(content)
		return err
	}

	path, err := export.ToFile(t, exp, util.ExpandHome(out))
	if err != nil {
		return fmt.Errorf("export %s: %w", t.ID, err)
	}
	if !quiet {
		fmt.Fprintf(app.Out, "%s exported %s to %s\n", SuccessStyle.Render("[OK]"), t.ID, path)
	}
	return nil
}
