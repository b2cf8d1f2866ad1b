// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jeranaias/formchat/internal/backend"
	"github.com/jeranaias/formchat/internal/config"
	"github.com/jeranaias/formchat/internal/reconcile"
	"github.com/jeranaias/formchat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError is a failed command with context.
type CommandError struct {
	Command string
	Action  string
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError is bad user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError is a missing session, resource or transcript.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewCommandError creates a command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// NewValidationError creates a validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ErrMissingArgument reports a required argument that was not given.
func ErrMissingArgument(argName, usage string) error {
	return &ValidationError{Field: argName, Reason: "required argument missing", Example: usage}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err to w, as JSON in JSON mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		out := map[string]any{
			"success":    false,
			"error":      err.Error(),
			"error_type": errorType(err),
			"exit_code":  GetExitCode(err),
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

func errorType(err error) string {
	var (
		verr *ValidationError
		nerr *NotFoundError
		cerr *CommandError
	)
	switch {
	case errors.As(err, &verr):
		return "validation_error"
	case errors.As(err, &nerr):
		return "not_found_error"
	case backend.IsUnauthorized(err):
		return "auth_error"
	case errors.As(err, &cerr):
		return "command_error"
	default:
		return "generic_error"
	}
}

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		verr   *ValidationError
		nerr   *NotFoundError
		cfgErr config.ValidateErrors
		netErr net.Error
	)
	switch {
	case errors.As(err, &verr):
		return ExitUsageError
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case backend.IsUnauthorized(err), errors.Is(err, reconcile.ErrNotAuthenticated):
		return ExitAuthError
	case errors.As(err, &nerr), errors.Is(err, backend.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return ExitNotFoundError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ExitTimeoutError
		}
		return ExitNetworkError
	}
	return ExitGeneralError
}
