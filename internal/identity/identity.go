// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity resolves the signed-in user for outgoing chat requests.
//
// The chat controller never reads ambient login state. It is handed a
// Provider and asks it for the numeric user ID at send time; a Provider
// that cannot answer makes the send fail before any network call.
//
// # Key Types
//
//   - Provider: the user-ID lookup the controller depends on
//   - Static: a fixed ID, handy for tests and the -user flag
//   - TokenProvider: reads the ID from a JWT access token
//   - FileProvider: reads a stored login record and reloads it on change
//   - Chain: first Provider that resolves wins
package identity

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Provider resolves the current user ID. ok is false when nobody is signed
// in or the stored credentials are unusable.
type Provider interface {
	UserID() (id int64, ok bool)
}

// TokenSource supplies the bearer token sent to the backend.
type TokenSource interface {
	AccessToken() string
}

// Static is a Provider with a fixed ID. Zero and negative IDs never resolve.
type Static int64

// UserID implements Provider.
func (s Static) UserID() (int64, bool) {
	return int64(s), s > 0
}

// Anonymous never resolves.
var Anonymous Provider = Static(0)

// Func adapts a function to Provider.
type Func func() (int64, bool)

// UserID implements Provider.
func (f Func) UserID() (int64, bool) {
	return f()
}

// Chain tries each Provider in order.
type Chain []Provider

// UserID implements Provider.
func (c Chain) UserID() (int64, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if id, ok := p.UserID(); ok {
			return id, true
		}
	}
	return 0, false
}

// AccessToken returns the first non-empty token among providers that are
// also TokenSources.
func (c Chain) AccessToken() string {
	for _, p := range c {
		if ts, ok := p.(TokenSource); ok {
			if tok := ts.AccessToken(); tok != "" {
				return tok
			}
		}
	}
	return ""
}

// parseID accepts a positive integer written as a JSON number or string.
func parseID(n json.Number) (int64, bool) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
