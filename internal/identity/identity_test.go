// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

// =============================================================================
// STATIC / CHAIN
// =============================================================================

func TestStatic(t *testing.T) {
	id, ok := Static(7).UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, ok = Anonymous.UserID()
	assert.False(t, ok)

	_, ok = Static(-1).UserID()
	assert.False(t, ok)
}

func TestChain(t *testing.T) {
	c := Chain{nil, Anonymous, Func(func() (int64, bool) { return 11, true }), Static(3)}
	id, ok := c.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(11), id)

	_, ok = Chain{Anonymous}.UserID()
	assert.False(t, ok)
}

func TestChain_AccessToken(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"user_id": 5})
	c := Chain{Static(1), NewTokenProvider(tok)}
	assert.Equal(t, tok, c.AccessToken())
	assert.Empty(t, Chain{Static(1)}.AccessToken())
}

// =============================================================================
// TOKEN PROVIDER
// =============================================================================

func TestTokenProvider_UserIDClaim(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	p := NewTokenProvider("Bearer " + tok)
	id, ok := p.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, tok, p.AccessToken())

	exp, ok := p.Expiry()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)
}

func TestTokenProvider_StringUserID(t *testing.T) {
	p := NewTokenProvider(signToken(t, jwt.MapClaims{"user_id": "19"}))
	id, ok := p.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(19), id)
}

func TestTokenProvider_SubjectFallback(t *testing.T) {
	p := NewTokenProvider(signToken(t, jwt.MapClaims{"sub": "8"}))
	id, ok := p.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(8), id)

	p = NewTokenProvider(signToken(t, jwt.MapClaims{"sub": "alice@example.com"}))
	_, ok = p.UserID()
	assert.False(t, ok)
}

func TestTokenProvider_Expired(t *testing.T) {
	p := NewTokenProvider(signToken(t, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(-time.Minute).Unix(),
	}))
	_, ok := p.UserID()
	assert.False(t, ok)
}

func TestTokenProvider_Garbage(t *testing.T) {
	_, ok := NewTokenProvider("not-a-jwt").UserID()
	assert.False(t, ok)

	_, ok = NewTokenProvider("").UserID()
	assert.False(t, ok)
}

func TestLoadTokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	tok := signToken(t, jwt.MapClaims{"user_id": 3})
	require.NoError(t, os.WriteFile(path, []byte(tok+"\n"), 0o600))

	p, err := LoadTokenFile(path)
	require.NoError(t, err)
	id, ok := p.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = LoadTokenFile(empty)
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = LoadTokenFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

// =============================================================================
// FILE PROVIDER
// =============================================================================

func TestFileProvider_MissingFile(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "user.json"))
	require.NoError(t, err)
	_, ok := p.UserID()
	assert.False(t, ok)
	assert.Empty(t, p.AccessToken())
	assert.NoError(t, p.Close())
}

func TestFileProvider_LoadsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"user_id":12,"access_token":"abc","email":"a@b.c"}`), 0o600))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	id, ok := p.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)
	assert.Equal(t, "abc", p.AccessToken())

	rec, found := p.Record()
	assert.True(t, found)
	assert.Equal(t, "a@b.c", rec.Email)
}

func TestFileProvider_UserIDFromToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	tok := signToken(t, jwt.MapClaims{"user_id": 77})
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"`+tok+`"}`), 0o600))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	id, ok := p.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(77), id)
}

func TestFileProvider_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte(`{oops`), 0o600))

	_, err := NewFileProvider(path)
	assert.Error(t, err)
}

func TestFileProvider_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user.json")

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	require.NoError(t, p.Watch())
	defer p.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"user_id":5}`), 0o600))
	assert.Eventually(t, func() bool {
		id, ok := p.UserID()
		return ok && id == 5
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, ok := p.UserID()
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
