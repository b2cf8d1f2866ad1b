// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when a token file is empty.
var ErrNoToken = errors.New("no access token")

type tokenClaims struct {
	UserID json.Number `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenProvider resolves the user from the claims of a JWT access token.
//
// The signature is not verified; the backend does that on every request.
// The client only needs the user_id claim (or a numeric subject) and the
// expiry, so that an expired login is reported as signed out.
type TokenProvider struct {
	token string
	now   func() time.Time
}

// NewTokenProvider returns a provider for the given raw token.
func NewTokenProvider(token string) *TokenProvider {
	return &TokenProvider{
		token: strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")),
		now:   time.Now,
	}
}

// LoadTokenFile reads a token stored as the only content of a file.
func LoadTokenFile(path string) (*TokenProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	p := NewTokenProvider(string(data))
	if p.token == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrNoToken)
	}
	return p, nil
}

// AccessToken implements TokenSource.
func (p *TokenProvider) AccessToken() string {
	return p.token
}

// UserID implements Provider.
func (p *TokenProvider) UserID() (int64, bool) {
	claims, err := p.claims()
	if err != nil {
		return 0, false
	}
	if claims.ExpiresAt != nil && !p.now().Before(claims.ExpiresAt.Time) {
		return 0, false
	}
	if id, ok := parseID(claims.UserID); ok {
		return id, true
	}
	return parseID(json.Number(claims.Subject))
}

// Expiry returns the token's expiry time, if it has one.
func (p *TokenProvider) Expiry() (time.Time, bool) {
	claims, err := p.claims()
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (p *TokenProvider) claims() (*tokenClaims, error) {
	if p.token == "" {
		return nil, ErrNoToken
	}
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(p.token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return claims, nil
}
