// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mcpserver exposes task statuses to MCP clients over stdio.
//
// Every tool acts as a single configured user, so the same visibility and
// capability rules apply as over HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jeranaias/usertasks/internal/logger"
	"github.com/jeranaias/usertasks/internal/service"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// defaultLimit bounds list results when the client gives no limit.
const defaultLimit = 50

// StatusAPI is the status service as used by the tools.
type StatusAPI interface {
	List(ctx context.Context, caller string, f service.StatusFilter) ([]*tasks.Status, error)
	Retrieve(ctx context.Context, caller, id string) (*tasks.Status, error)
	Cancel(ctx context.Context, caller, id string) (*tasks.Status, error)
}

// ArtifactAPI is the artifact service as used by the tools.
type ArtifactAPI interface {
	List(ctx context.Context, caller string, f service.ArtifactFilter) ([]tasks.Artifact, error)
}

// Server is an MCP server bound to one caller identity.
type Server struct {
	statuses  StatusAPI
	artifacts ArtifactAPI
	caller    string
	mcp       *mcp.Server
}

// New registers the tools. caller is the user every tool call acts as.
func New(statuses StatusAPI, artifacts ArtifactAPI, caller, version string) *Server {
	s := &Server{
		statuses:  statuses,
		artifacts: artifacts,
		caller:    caller,
		mcp:       mcp.NewServer(&mcp.Implementation{Name: "usertasks", Version: version}, nil),
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_statuses",
		Description: "List task statuses visible to the configured user, newest first.",
	}, s.listStatuses)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_status",
		Description: "Get one task status with its artifacts.",
	}, s.getStatus)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cancel_status",
		Description: "Cancel a pending, running or retrying task. Finished tasks are returned unchanged.",
	}, s.cancelStatus)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_artifacts",
		Description: "List task artifacts visible to the configured user.",
	}, s.listArtifacts)

	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves over stdin/stdout until ctx is canceled or the client hangs up.
func (s *Server) Run(ctx context.Context) error {
	logger.Logger.Info().Str("event", "mcp_start").Str("user", s.caller).Msg("serving MCP over stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// =============================================================================
// TOOL HANDLERS
// =============================================================================

func (s *Server) listStatuses(ctx context.Context, _ *mcp.CallToolRequest, args ListStatusesArgs) (*mcp.CallToolResult, ListStatusesOutput, error) {
	out := ListStatusesOutput{Statuses: []StatusView{}}
	filter := service.StatusFilter{UserID: args.User, Name: args.Name, Limit: limitOrDefault(args.Limit)}
	for _, raw := range args.States {
		st, err := tasks.ParseState(raw)
		if err != nil {
			return errorResult(err), out, nil
		}
		filter.States = append(filter.States, st)
	}

	list, err := s.statuses.List(ctx, s.caller, filter)
	if err != nil {
		return errorResult(err), out, nil
	}
	for _, st := range list {
		out.Statuses = append(out.Statuses, statusView(st))
	}
	return textResult(out), out, nil
}

func (s *Server) getStatus(ctx context.Context, _ *mcp.CallToolRequest, args StatusIDArgs) (*mcp.CallToolResult, StatusOutput, error) {
	out := StatusOutput{Status: emptyStatusView()}
	st, err := s.statuses.Retrieve(ctx, s.caller, args.ID)
	if err != nil {
		return errorResult(err), out, nil
	}
	out.Status = statusView(st)
	return textResult(out), out, nil
}

func (s *Server) cancelStatus(ctx context.Context, _ *mcp.CallToolRequest, args StatusIDArgs) (*mcp.CallToolResult, CancelStatusOutput, error) {
	out := CancelStatusOutput{Status: emptyStatusView()}
	before, err := s.statuses.Retrieve(ctx, s.caller, args.ID)
	if err != nil {
		return errorResult(err), out, nil
	}
	st, err := s.statuses.Cancel(ctx, s.caller, args.ID)
	if st == nil {
		return errorResult(err), out, nil
	}
	if err != nil {
		logger.Logger.Warn().Err(err).Str("status_id", args.ID).Msg("cancel persisted but signal failed")
	}
	out.Status = statusView(st)
	out.Canceled = !before.State.IsTerminal() && st.State == tasks.StateCanceled
	return textResult(out), out, nil
}

func (s *Server) listArtifacts(ctx context.Context, _ *mcp.CallToolRequest, args ListArtifactsArgs) (*mcp.CallToolResult, ListArtifactsOutput, error) {
	out := ListArtifactsOutput{Artifacts: []ArtifactView{}}
	list, err := s.artifacts.List(ctx, s.caller, service.ArtifactFilter{
		StatusID: args.StatusID,
		Name:     args.Name,
		Limit:    limitOrDefault(args.Limit),
	})
	if err != nil {
		return errorResult(err), out, nil
	}
	for i := range list {
		out.Artifacts = append(out.Artifacts, artifactView(&list[i]))
	}
	return textResult(out), out, nil
}

// =============================================================================
// RESULTS
// =============================================================================

// emptyStatusView keeps array fields non-null in error results.
func emptyStatusView() StatusView {
	return StatusView{Artifacts: []ArtifactView{}}
}

func limitOrDefault(n int) int {
	if n <= 0 || n > 500 {
		return defaultLimit
	}
	return n
}

// textResult renders v as the JSON text content of a tool result.
func textResult(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}
}

// errorResult reports a failure to the model as tool output rather than as a
// protocol error.
func errorResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	switch {
	case errors.Is(err, service.ErrNotFound):
		msg = "not found"
	case errors.Is(err, service.ErrForbidden):
		msg = "permission denied"
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
