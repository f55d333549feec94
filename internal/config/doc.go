// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for usertasks.
//
// Supports TOML and YAML files with defaults, environment overrides and
// validation.
//
// # Configuration Precedence
//
//   - Command-line flags (applied through LoadWithOverrides)
//   - Environment variables (USERTASKS_*)
//   - --config path, or ~/.usertasks/config.toml / config.yaml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.LoadFromPath("usertasks.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	addr := cfg.Server.Addr
package config
