// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jeranaias/usertasks/internal/access"
	"github.com/jeranaias/usertasks/internal/logger"
	"github.com/jeranaias/usertasks/internal/server"
	"github.com/jeranaias/usertasks/internal/service"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// grantsDebounce coalesces the burst of events an editor save produces.
const grantsDebounce = 250 * time.Millisecond

func newServeCommand(e *env, versionInfo VersionInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task status HTTP API",
		Long: `Serves the task status API until interrupted. SIGINT and SIGTERM trigger a
graceful shutdown bounded by server.shutdown_timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return e.runServe(ctx, nil, versionInfo.Version)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	_ = e.v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// runServe serves on ln (or the configured address when ln is nil) until
// ctx is done.
func (e *env) runServe(ctx context.Context, ln net.Listener, version string) error {
	cfg := e.cfg

	broadcaster := tasks.NewBroadcaster(cfg.Signals.Buffer)
	st, err := e.openStack(broadcaster, "")
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Access.GrantsFile != "" {
		gw, err := access.NewGrantsWatcher(st.auth, cfg.Access.GrantsFile, grantsDebounce)
		if err != nil {
			return fmt.Errorf("grants file: %w", err)
		}
		go gw.Run(ctx)
	}

	if !e.verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv, err := server.New(cfg.Server,
		server.AuthConfig{Enabled: cfg.Auth.Enabled, AnonymousUser: cfg.Auth.AnonymousUser},
		server.Deps{
			Statuses:  st.statuses,
			Artifacts: st.artifacts,
			Signals:   service.NewSignalFeed(broadcaster, st.auth),
			Tokens:    st.auth,
			Blobs:     st.blobs,
			Health:    st.store,
			Limiters:  st.auth,
			Version:   version,
		})
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled {
		logger.Logger.Warn().
			Str("event", "auth_disabled").
			Str("anonymous_user", cfg.Auth.AnonymousUser).
			Msg("authentication is disabled; every request acts as the anonymous user")
	}

	errCh := make(chan error, 1)
	go func() {
		if ln != nil {
			errCh <- srv.Serve(ln)
		} else {
			errCh <- srv.Start()
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return err
	}
	logger.Logger.Info().Str("event", "server_stopped").Msg("server stopped")
	return nil
}
