// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for formchat.
//
// Settings come from a TOML file with environment variable overrides,
// followed by defaults and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - APIConfig: Backend address and request timeout
//   - IdentityConfig: Where the signed-in user is read from
//   - StorageConfig: Local transcript archive
//   - ServerConfig: Development backend settings
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (FORMCHAT_*)
//   - ~/.formchat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	client := backend.New(cfg.API.BaseURL).WithTimeout(cfg.Timeout())
package config
