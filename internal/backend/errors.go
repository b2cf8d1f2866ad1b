// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error variables for common backend failures.
var (
	// ErrUnauthorized indicates a missing, invalid or expired login.
	ErrUnauthorized = errors.New("not authorized")

	// ErrNotFound indicates the session or resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoBody indicates a streaming response without a body.
	ErrNoBody = errors.New("response has no body")
)

// APIError is a failure reported by the backend, either through an HTTP
// status or through an envelope with success set to false.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// Is maps authentication and lookup statuses to the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// errorFromResponse builds an APIError from a non-2xx body. The body may be
// an envelope, a {"detail": ...} object or plain text.
func errorFromResponse(status int, body []byte) error {
	apiErr := &APIError{Status: status}

	var env struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Message = firstNonEmpty(env.Message, rawText(env.Error), rawText(env.Detail))
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
