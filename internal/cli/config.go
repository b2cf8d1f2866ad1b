// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for formchat.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one setting
//   set <key> <value>   Change a setting in the config file
//   path                Show configuration file path
//   init [--force]      Write a config file with defaults
//
// Examples:
//   formchat config
//   formchat config get api.base_url
//   formchat config set api.base_url https://chat.example.com
//   formchat config set stream.throttle_ms 0
//   formchat config set storage.driver sqlite
//   formchat config --json

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/formchat/internal/config"
)

// ConfigPathData is the JSON form of "config path".
type ConfigPathData struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// HandleConfigCommand handles the "config" command. It does not require a
// valid configuration so a broken file can be inspected and repaired.
func HandleConfigCommand(w io.Writer, args Args) error {
	p := args.Parser()
	path, err := configFilePath(args)
	if err != nil {
		return err
	}

	switch sub := strings.ToLower(p.Subcommand()); sub {
	case "", "show":
		cfg := effectiveConfig(args, os.Stderr)
		if args.JSON {
			_, err := fmt.Fprintln(w, cfg.String())
			return err
		}
		showConfig(w, cfg, path)
		return nil

	case "get":
		key := p.Positional(1)
		if key == "" {
			return ErrMissingArgument("key", "formchat config get api.base_url")
		}
		v, err := effectiveConfig(args, os.Stderr).Get(key)
		if err != nil {
			return &ValidationError{Field: "key", Value: key, Reason: err.Error(), Example: "formchat config get api.base_url"}
		}
		if args.JSON {
			return writeJSON(w, map[string]any{"key": key, "value": v})
		}
		_, err = fmt.Fprintln(w, v)
		return err

	case "set":
		key, value := p.Positional(1), p.Positional(2)
		if key == "" || p.PositionalCount() < 3 {
			return ErrMissingArgument("key and value", "formchat config set stream.throttle_ms 0")
		}
		return setConfigValue(w, path, key, value, args.Quiet)

	case "path":
		_, statErr := os.Stat(path)
		if args.JSON {
			return writeJSON(w, ConfigPathData{Path: path, Exists: statErr == nil})
		}
		_, err := fmt.Fprintln(w, path)
		return err

	case "init":
		if _, err := os.Stat(path); err == nil && !p.BoolFlag("force") {
			return NewCommandError("config", "init", path+" already exists (use --force to overwrite)", nil)
		}
		if err := config.SaveTOML(config.Default(), path); err != nil {
			return err
		}
		if !args.Quiet {
			fmt.Fprintf(w, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
		}
		return nil

	default:
		return NewValidationError("subcommand", sub, "expected show, get, set, path or init")
	}
}

// configFilePath returns --config or the default location.
func configFilePath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPath()
}

// effectiveConfig loads the configuration like every other command does.
// When that fails the problem is reported to warn and the file's raw
// values are used instead.
func effectiveConfig(args Args, warn io.Writer) *config.Config {
	cfg, err := loadConfig(args)
	if err == nil {
		return cfg
	}
	fmt.Fprintf(warn, "%s %v\n", WarningStyle.Render("Warning:"), err)

	cfg = config.Default()
	if path, perr := configFilePath(args); perr == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			_ = config.LoadTOML(cfg, path)
		}
	}
	_ = cfg.ApplyEnvOverrides()
	return cfg
}

// setConfigValue updates one key in the file without baking environment
// overrides into it.
func setConfigValue(w io.Writer, path, key, value string, quiet bool) error {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := cfg.Set(key, value); err != nil {
		return &ValidationError{Field: "key", Value: key, Reason: err.Error(), Example: "formchat config set api.timeout_secs 60"}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
	}
	return nil
}

// showConfig prints every setting grouped by section.
func showConfig(w io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("formchat Configuration"))
	fmt.Fprintln(w, RenderSeparator(41))

	section := ""
	for _, key := range config.Keys() {
		sec, name, _ := strings.Cut(key, ".")
		if sec != section {
			section = sec
			fmt.Fprintf(w, "\n%s\n", CommandStyle.Render("["+sec+"]"))
		}
		v, _ := cfg.Get(key)
		display := fmt.Sprint(v)
		if key == "server.token" && display != "" {
			display = "[REDACTED]"
		}
		fmt.Fprintf(w, "  %s %s\n", RenderLabel(name+":"), ValueStyle.Render(display))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderSeparator(41))
	fmt.Fprintf(w, "Config file: %s\n\n", DimStyle.Render(path))
}
