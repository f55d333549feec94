// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package service implements the operations on task status records and their
// artifacts.
//
// StatusService and ArtifactService act for a caller and enforce the access
// policy: records the caller cannot view are reported as ErrNotFound, and
// visible records the caller may not act on as ErrForbidden. Reporter is the
// execution engine's path for creating records and reporting progress.
package service
