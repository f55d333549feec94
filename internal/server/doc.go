// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes task statuses and artifacts over HTTP.
//
// # Endpoints
//
//   - GET    /api/v1/statuses/              - List visible statuses
//   - GET    /api/v1/statuses/:id/          - Retrieve a status
//   - DELETE /api/v1/statuses/:id/          - Delete a status and its artifact files
//   - POST   /api/v1/statuses/:id/cancel/   - Cancel a status
//   - GET    /api/v1/artifacts/             - List visible artifacts
//   - GET    /api/v1/artifacts/:id/         - Retrieve an artifact
//   - GET    /api/v1/artifacts/:id/file     - Download an artifact file
//   - GET    /health                        - Health check
//
// Records the caller may not view answer 404 exactly like missing ones.
// Visible records the caller may not act on answer 403.
//
// # Middleware
//
// Recovery, security headers, request logging, per-IP rate limiting and
// bearer token authentication, in that order.
//
// # Usage
//
//	srv, err := server.New(cfg.Server, server.AuthConfig{Enabled: true}, server.Deps{
//		Statuses:  statuses,
//		Artifacts: artifacts,
//		Tokens:    authorizer,
//	})
//	if err != nil {
//		return err
//	}
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
