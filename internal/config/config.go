// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/jeranaias/formchat/internal/util"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FORMCHAT_"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete formchat configuration.
type Config struct {
	API      APIConfig      `toml:"api" json:"api" envPrefix:"API_"`
	Identity IdentityConfig `toml:"identity" json:"identity"`
	Stream   StreamConfig   `toml:"stream" json:"stream" envPrefix:"STREAM_"`
	Storage  StorageConfig  `toml:"storage" json:"storage" envPrefix:"STORAGE_"`
	Log      LogConfig      `toml:"log" json:"log" envPrefix:"LOG_"`
	UI       UIConfig       `toml:"ui" json:"ui" envPrefix:"UI_"`
	Server   ServerConfig   `toml:"server" json:"server" envPrefix:"DEV_"`
}

// APIConfig locates the chat backend.
type APIConfig struct {
	// BaseURL is the backend root, e.g. "http://localhost:8080".
	BaseURL string `toml:"base_url" json:"base_url" env:"URL"`
	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" env:"TIMEOUT_SECS"`
}

// IdentityConfig says who the user is. A user file takes precedence over a
// token file, which takes precedence over a fixed user ID.
type IdentityConfig struct {
	UserID    int64  `toml:"user_id" json:"user_id" env:"USER_ID"`
	UserFile  string `toml:"user_file" json:"user_file" env:"USER_FILE"`
	TokenFile string `toml:"token_file" json:"token_file" env:"TOKEN_FILE"`

	// Token is an access token given through the environment. It is never
	// written to disk.
	Token string `toml:"-" json:"-" env:"TOKEN"`
}

// StreamConfig tunes reply streaming.
type StreamConfig struct {
	// ThrottleMS is the minimum spacing of display updates while a reply
	// streams. Zero updates on every chunk.
	ThrottleMS   int    `toml:"throttle_ms" json:"throttle_ms" env:"THROTTLE_MS"`
	SessionTitle string `toml:"session_title" json:"session_title" env:"SESSION_TITLE"`
}

// StorageConfig controls the local transcript archive.
type StorageConfig struct {
	// Driver is "file", "sqlite" or "none".
	Driver         string `toml:"driver" json:"driver" env:"DRIVER"`
	Dir            string `toml:"dir" json:"dir" env:"DIR"`
	MaxTranscripts int    `toml:"max_transcripts" json:"max_transcripts" env:"MAX_TRANSCRIPTS"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level" json:"level" env:"LEVEL"`
	// Format is "auto", "console" or "json".
	Format string `toml:"format" json:"format" env:"FORMAT"`
	// File receives log output instead of stderr when set.
	File string `toml:"file" json:"file" env:"FILE"`
}

// UIConfig controls the terminal host.
type UIConfig struct {
	// Markdown renders finished replies as Markdown.
	Markdown bool `toml:"markdown" json:"markdown" env:"MARKDOWN"`
	// Style is the glamour style: "auto", "dark", "light" or "notty".
	Style string `toml:"style" json:"style" env:"STYLE"`
	// Width wraps rendered replies; 0 uses the terminal width.
	Width int `toml:"width" json:"width" env:"WIDTH"`
}

// ServerConfig configures the development backend.
type ServerConfig struct {
	Addr         string  `toml:"addr" json:"addr" env:"ADDR"`
	Token        string  `toml:"token" json:"token" env:"TOKEN"`
	ChunkSize    int     `toml:"chunk_size" json:"chunk_size" env:"CHUNK_SIZE"`
	ChunkDelayMS int     `toml:"chunk_delay_ms" json:"chunk_delay_ms" env:"CHUNK_DELAY_MS"`
	RatePerSec   float64 `toml:"rate_per_sec" json:"rate_per_sec" env:"RATE_PER_SEC"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "http://localhost:8080",
			TimeoutSecs: 30,
		},
		Stream: StreamConfig{
			ThrottleMS:   50,
			SessionTitle: "New Chat",
		},
		Storage: StorageConfig{
			Driver:         "file",
			Dir:            "~/.formchat/transcripts",
			MaxTranscripts: 100,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "auto",
		},
		UI: UIConfig{
			Markdown: true,
			Style:    "auto",
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ChunkSize:    12,
			ChunkDelayMS: 30,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the formchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".formchat"), nil
}

// ConfigPath returns the path to the TOML config file. FORMCHAT_CONFIG
// overrides the default location.
func ConfigPath() (string, error) {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return util.ExpandHome(p), nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions restricts a config file to its owner.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config file if it exists, then applies environment
// overrides, defaults and validation.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		if !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", statErr)
		}
		return finish(Default())
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadTOML decodes path over cfg. Keys absent from the file keep their
// current values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies FORMCHAT_* environment variables to the
// config. Unset variables leave fields alone.
//
// Supported environment variables include:
//   - FORMCHAT_API_URL, FORMCHAT_API_TIMEOUT_SECS
//   - FORMCHAT_USER_ID, FORMCHAT_USER_FILE, FORMCHAT_TOKEN_FILE, FORMCHAT_TOKEN
//   - FORMCHAT_STREAM_THROTTLE_MS, FORMCHAT_STREAM_SESSION_TITLE
//   - FORMCHAT_STORAGE_DRIVER, FORMCHAT_STORAGE_DIR, FORMCHAT_STORAGE_MAX_TRANSCRIPTS
//   - FORMCHAT_LOG_LEVEL, FORMCHAT_LOG_FORMAT, FORMCHAT_LOG_FILE
//   - FORMCHAT_UI_MARKDOWN, FORMCHAT_UI_STYLE, FORMCHAT_UI_WIDTH
//   - FORMCHAT_DEV_ADDR, FORMCHAT_DEV_TOKEN, FORMCHAT_DEV_CHUNK_SIZE, ...
func (c *Config) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# formchat configuration file\n")
	buf.WriteString("# Environment variables (FORMCHAT_*) override these values.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	validDrivers   = map[string]bool{"file": true, "sqlite": true, "none": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats   = map[string]bool{"auto": true, "console": true, "json": true}
	validStyles    = map[string]bool{"auto": true, "dark": true, "light": true, "notty": true, "ascii": true}
	maxTimeoutSecs = 600
)

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("api.base_url", "must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > maxTimeoutSecs {
		add("api.timeout_secs", "must be between 1 and %d", maxTimeoutSecs)
	}

	if c.Identity.UserID < 0 {
		add("identity.user_id", "must not be negative")
	}

	if c.Stream.ThrottleMS < 0 || c.Stream.ThrottleMS > 5000 {
		add("stream.throttle_ms", "must be between 0 and 5000")
	}

	if !validDrivers[strings.ToLower(c.Storage.Driver)] {
		add("storage.driver", "invalid driver '%s', must be one of: file, sqlite, none", c.Storage.Driver)
	}
	if c.Storage.MaxTranscripts < 0 {
		add("storage.max_transcripts", "must not be negative")
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		add("log.format", "invalid format '%s', must be one of: auto, console, json", c.Log.Format)
	}

	if !validStyles[strings.ToLower(c.UI.Style)] {
		add("ui.style", "invalid style '%s'", c.UI.Style)
	}
	if c.UI.Width < 0 {
		add("ui.width", "must not be negative")
	}

	if c.Server.ChunkSize < 1 {
		add("server.chunk_size", "must be at least 1")
	}
	if c.Server.ChunkDelayMS < 0 {
		add("server.chunk_delay_ms", "must not be negative")
	}
	if c.Server.RatePerSec < 0 {
		add("server.rate_per_sec", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills empty fields with built-in values.
func (c *Config) SetDefaults() {
	d := Default()

	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if strings.TrimSpace(c.Stream.SessionTitle) == "" {
		c.Stream.SessionTitle = d.Stream.SessionTitle
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = d.Storage.Dir
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.UI.Style == "" {
		c.UI.Style = d.UI.Style
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ChunkSize == 0 {
		c.Server.ChunkSize = d.Server.ChunkSize
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Timeout returns the request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSecs) * time.Second
}

// Throttle returns the streaming display throttle.
func (c *Config) Throttle() time.Duration {
	return time.Duration(c.Stream.ThrottleMS) * time.Millisecond
}

// StorageDir returns the archive directory with ~ expanded.
func (c *Config) StorageDir() string {
	return util.ExpandHome(c.Storage.Dir)
}

// ChunkDelay returns the development backend's pause between chunks.
func (c *Config) ChunkDelay() time.Duration {
	return time.Duration(c.Server.ChunkDelayMS) * time.Millisecond
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get returns the value at a dotted TOML key such as "api.base_url".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the field at a dotted TOML key.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: expected a boolean: %w", key, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: expected an integer: %w", key, err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: expected a number: %w", key, err)
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("%s: unsupported type %s", key, field.Kind())
	}
	return nil
}

// Keys lists every settable dotted key.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := range t.NumField() {
		section := t.Field(i)
		prefix := tomlName(section)
		for j := range section.Type.NumField() {
			if name := tomlName(section.Type.Field(j)); name != "-" {
				keys = append(keys, prefix+"."+name)
			}
		}
	}
	return keys
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return reflect.Value{}, fmt.Errorf("invalid key %q, expected section.name", key)
	}

	v := reflect.ValueOf(c).Elem()
	for _, part := range parts {
		found := false
		for i := range v.NumField() {
			if name := tomlName(v.Type().Field(i)); name != "-" && name == part {
				v = v.Field(i)
				found = true
				break
			}
		}
		if !found {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", key)
		}
	}
	return v, nil
}

func tomlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

// =============================================================================
// DISPLAY
// =============================================================================

// String returns the configuration as JSON with secrets redacted.
func (c *Config) String() string {
	safe := *c
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
