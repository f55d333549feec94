// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/usertasks/internal/mcpserver"
)

func newMCPCommand(e *env, versionInfo VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve task statuses to an MCP client over stdio",
		Long: `Runs a Model Context Protocol server on stdin/stdout. Every tool call acts
as mcp.user (or --user) with that user's configured roles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := e.openStack(nil, "")
			if err != nil {
				return err
			}
			defer st.Close()

			srv := mcpserver.New(st.statuses, st.artifacts, e.cfg.MCP.User, versionInfo.Version)
			return srv.Run(ctx)
		},
	}
}
