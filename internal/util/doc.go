// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across usertasks.
//
//   - AtomicWriteFile: crash-safe file writing with fsync, used by the blob store
//   - TruncateRunes / TruncateWidth / PadWidth: display helpers for CLI output
package util
