// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/jeranaias/formchat/internal/config"
	"github.com/jeranaias/formchat/internal/logging"
	"github.com/jeranaias/formchat/internal/util"
)

// Version information, set at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdSessions
	CmdTemplates
	CmdResources
	CmdArchive
	CmdConfig
	CmdVersion
	CmdHelp
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	JSON       bool
	Quiet      bool
	Verbose    bool
	ConfigPath string

	// Name is the command word as typed.
	Name string

	// Raw holds the arguments after the command word.
	Raw []string

	parser *ArgParser
}

// Parser returns the command's arguments parsed by ArgParser.
func (a Args) Parser() *ArgParser {
	if a.parser == nil {
		return NewArgParser(a.Raw, commandBoolFlags...)
	}
	return a.parser
}

// commandBoolFlags never take a value.
var commandBoolFlags = []string{"json", "confirm", "y", "force", "all", "quiet", "q", "verbose", "v"}

const usageText = `formchat - terminal client for the formulation assistant

Usage:
  formchat                          Start interactive chat (default)
  formchat chat [--session ID]      Interactive chat, optionally continuing a session
  formchat ask "question"           Ask a single question
    -f, --file PATH                 Attach a local file
    --resource ID                   Attach an approved library resource
    --template ID                   Attach a chat template
    --session ID                    Continue an existing session
  formchat sessions [list]          List your sessions
    --status STATUS                 Filter by status (active, closed)
  formchat sessions show ID         Show a session's messages
  formchat sessions delete ID --confirm
                                    Delete a session on the backend
  formchat templates                List chat templates
  formchat resources [CATEGORY]     List approved resources (quotes, knowledge, ...)
  formchat archive [list]           List locally archived transcripts
  formchat archive show ID          Print an archived transcript
  formchat archive export ID [--output PATH] [--format md|json|html]
                                    Export a transcript
  formchat archive delete ID        Delete an archived transcript
  formchat config [show]            Show the effective configuration
  formchat config get KEY           Print one setting (e.g. api.base_url)
  formchat config set KEY VALUE     Change a setting in the config file
  formchat config path              Print the config file location
  formchat config init              Write a config file with defaults
  formchat version                  Show version information

Global flags:
  --config PATH                     Use this config file
  --json                            Machine-readable output
  -q, --quiet                       Less output
  -v, --verbose                     Debug logging

Environment:
  FORMCHAT_API_URL, FORMCHAT_USER_ID, FORMCHAT_TOKEN, FORMCHAT_USER_FILE,
  FORMCHAT_TOKEN_FILE, FORMCHAT_LOG_LEVEL, FORMCHAT_STORAGE_DRIVER, ...

Version: %s
`

// PrintUsage prints the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// Parse splits argv (without the program name) into a command and its
// arguments.
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)
	if len(remaining) == 0 {
		return CmdChat, args
	}

	args.Name = strings.ToLower(remaining[0])
	args.Raw = remaining[1:]
	args.parser = NewArgParser(args.Raw, commandBoolFlags...)

	switch args.Name {
	case "chat":
		return CmdChat, args
	case "ask", "a":
		return CmdAsk, args
	case "sessions", "session":
		return CmdSessions, args
	case "templates", "template":
		return CmdTemplates, args
	case "resources", "resource":
		return CmdResources, args
	case "archive", "transcripts":
		return CmdArchive, args
	case "config":
		return CmdConfig, args
	case "version", "--version":
		return CmdVersion, args
	case "help", "--help", "-h":
		return CmdHelp, args
	default:
		return CmdUnknown, args
	}
}

// parseGlobalFlags pulls global flags out of argv wherever they appear.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var remaining []string
	var args Args

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--json":
			args.JSON = true
		case arg == "-q" || arg == "--quiet":
			args.Quiet = true
		case arg == "-v" || arg == "--verbose":
			args.Verbose = true
		case arg == "--config" && i+1 < len(argv):
			i++
			args.ConfigPath = argv[i]
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, args
}

// =============================================================================
// RUN
// =============================================================================

// Run executes argv and returns the process exit code.
func Run(ctx context.Context, argv []string) int {
	cmd, args := Parse(argv)

	switch cmd {
	case CmdHelp:
		PrintUsage(os.Stdout)
		return ExitSuccess
	case CmdVersion:
		HandleVersion(os.Stdout, args)
		return ExitSuccess
	case CmdUnknown:
		err := NewValidationError("command", args.Name, "unknown command (see formchat help)")
		DisplayError(os.Stderr, err, args.JSON)
		return GetExitCode(err)
	case CmdConfig:
		// Config commands must work even when the file does not validate.
		if err := HandleConfigCommand(os.Stdout, args); err != nil {
			DisplayError(os.Stderr, err, args.JSON)
			return GetExitCode(err)
		}
		return ExitSuccess
	}

	cfg, err := loadConfig(args)
	if err != nil {
		DisplayError(os.Stderr, err, args.JSON)
		return GetExitCode(err)
	}

	logOpts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: util.ExpandHome(cfg.Log.File)}
	if args.Verbose {
		logOpts.Level = "debug"
	}
	logger, logCloser, err := logging.New(logOpts)
	if err != nil {
		DisplayError(os.Stderr, err, args.JSON)
		return ExitConfigError
	}
	defer logCloser.Close()

	app, err := NewApp(cfg, logging.For(logger, logging.CLI))
	if err != nil {
		DisplayError(os.Stderr, err, args.JSON)
		return GetExitCode(err)
	}
	defer app.Close()

	if err := dispatch(ctx, app, cmd, args); err != nil {
		DisplayError(app.Err, err, args.JSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func dispatch(ctx context.Context, app *App, cmd Command, args Args) error {
	switch cmd {
	case CmdChat:
		return HandleChatCommand(ctx, app, args)
	case CmdAsk:
		return HandleAskCommand(ctx, app, args)
	case CmdSessions:
		return HandleSessionsCommand(ctx, app, args)
	case CmdTemplates:
		return HandleTemplatesCommand(ctx, app, args)
	case CmdResources:
		return HandleResourcesCommand(ctx, app, args)
	case CmdArchive:
		return HandleArchiveCommand(app, args)
	default:
		return fmt.Errorf("command %q not handled", args.Name)
	}
}

// loadConfig reads --config when given, otherwise the default location.
func loadConfig(args Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	return config.Load()
}

// =============================================================================
// VERSION
// =============================================================================

// VersionData is the JSON form of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// HandleVersion prints version information.
func HandleVersion(w io.Writer, args Args) {
	if args.JSON {
		_ = writeJSON(w, VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		})
		return
	}
	fmt.Fprintf(w, "formchat version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
