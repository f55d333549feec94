// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the usertasks command line.
//
// Commands:
//
//	serve                      HTTP API with graceful shutdown
//	status list|get|cancel|delete|count
//	artifacts list|cat
//	report create|start|progress|succeed|fail|retry|attach
//	purge --older-than 720h
//	watch <id>                 live progress view
//	mcp                        MCP server on stdio
//	config init|show|validate
//	token create <user>
//	version
//
// Global flags (--config, --db, --blob-root, --user, --output) are bound
// through viper, so each can also be set as USERTASKS_<NAME>, with dashes
// replaced by underscores. Flags override the config file and the
// environment overrides applied by package config.
//
// Cancellation signals go to the log, to GET /api/v1/signals subscribers
// under serve, and to signals.webhook_url (USERTASKS_SIGNAL_WEBHOOK) when set.
package cli
