// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeranaias/usertasks/internal/access"
	"github.com/jeranaias/usertasks/internal/blob"
	"github.com/jeranaias/usertasks/internal/config"
	"github.com/jeranaias/usertasks/internal/logger"
	"github.com/jeranaias/usertasks/internal/service"
	"github.com/jeranaias/usertasks/internal/storage"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// env is the state shared by every command of one root command: parsed
// flags, the viper instance they are bound to, and the loaded config.
type env struct {
	v       *viper.Viper
	verbose bool
	cfg     *config.Config
}

// NewRootCommand creates the usertasks root command with all subcommands.
func NewRootCommand(versionInfo VersionInfo) *cobra.Command {
	e := &env{v: viper.New()}

	root := &cobra.Command{
		Use:   "usertasks",
		Short: "Track and control long-running user tasks",
		Long: `usertasks records the progress of long-running background tasks,
serves it over HTTP and MCP, and lets users cancel or delete their tasks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.InitLogger(e.verbose)
			if e.verbose {
				logger.Logger.Debug().Msg("Verbose logging enabled.")
			}
			if skipConfig(cmd) {
				return nil
			}
			return e.loadConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Path to configuration file (TOML or YAML)")
	pf.BoolVarP(&e.verbose, "verbose", "v", false, "Enable verbose logging")
	pf.String("db", "", "Status database path (overrides storage.path)")
	pf.String("blob-root", "", "Artifact file directory (overrides blob.root)")
	pf.String("user", "", "User the store commands act as (overrides cli.user)")
	pf.StringP("output", "o", "auto", "Output format: auto, table or json")

	e.v.SetEnvPrefix("USERTASKS")
	e.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	e.v.AutomaticEnv()
	for _, name := range []string{"config", "db", "blob-root", "user", "output"} {
		_ = e.v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(
		newServeCommand(e, versionInfo),
		newStatusCommand(e),
		newArtifactsCommand(e),
		newReportCommand(e),
		newPurgeCommand(e),
		newWatchCommand(e),
		newMCPCommand(e, versionInfo),
		newConfigCommand(e),
		newTokenCommand(),
		NewVersionCommand(versionInfo),
	)
	return root
}

// skipConfig reports whether cmd runs without a loaded config.
func skipConfig(cmd *cobra.Command) bool {
	return cmd.Annotations["config"] == "none"
}

// loadConfig reads the config file, then lets flags and USERTASKS_*
// variables bound through viper override it.
func (e *env) loadConfig() error {
	cfg, err := config.LoadWithOverrides(e.v.GetString("config"), func(c *config.Config) {
		if v := e.v.GetString("db"); v != "" {
			c.Storage.Path = v
		}
		if v := e.v.GetString("blob-root"); v != "" {
			c.Blob.Root = v
		}
		if v := e.v.GetString("addr"); v != "" {
			c.Server.Addr = v
		}
		if v := e.v.GetString("user"); v != "" {
			c.CLI.User = v
			c.MCP.User = v
		}
	})
	if err != nil {
		return err
	}
	if !e.verbose {
		logger.Logger = logger.Logger.Level(logger.ParseLevel(cfg.Log.Level))
	}
	e.cfg = cfg
	return nil
}

// caller is the identity store commands act as.
func (e *env) caller() string {
	return e.cfg.CLI.User
}

// openAdminStack opens the stack for the store commands, acting as caller.
func (e *env) openAdminStack() (*stack, error) {
	return e.openStack(nil, e.caller())
}

// =============================================================================
// SERVICE STACK
// =============================================================================

// stack wires the store, blob store, authorizer and services from config.
type stack struct {
	store     *storage.Store
	blobs     *blob.FileStore
	auth      *access.Authorizer
	statuses  *service.StatusService
	artifacts *service.ArtifactService
	reporter  *service.Reporter
}

// openStack opens the database and builds the services. Cancellation signals
// are logged, posted to the configured webhook, and handed to local when it is
// non-nil. A non-empty admin user with no grant of its own is given the admin
// role.
func (e *env) openStack(local tasks.Signaler, admin string) (*stack, error) {
	cfg := e.cfg
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	auth, err := newAuthorizer(cfg, admin)
	if err != nil {
		return nil, err
	}

	var blobOpts []blob.Option
	if cfg.Blob.BaseURL != "" {
		blobOpts = append(blobOpts, blob.WithBaseURL(cfg.Blob.BaseURL))
	}
	blobs, err := blob.NewFileStore(cfg.Blob.Root, blobOpts...)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	signaler := newSignaler(cfg.Signals, local)
	return &stack{
		store:     store,
		blobs:     blobs,
		auth:      auth,
		statuses:  service.NewStatusService(store, blobs, auth, signaler),
		artifacts: service.NewArtifactService(store, blobs, auth),
		reporter:  service.NewReporter(store, blobs),
	}, nil
}

// Close releases the database.
func (s *stack) Close() error {
	return s.store.Close()
}

// newAuthorizer builds the authorizer from the static users in cfg.
func newAuthorizer(cfg *config.Config, admin string) (*access.Authorizer, error) {
	grants := make([]access.Grant, 0, len(cfg.Access.Users)+1)
	for _, u := range cfg.Access.Users {
		grants = append(grants, access.Grant{ID: u.ID, Roles: u.Roles, TokenHash: u.TokenHash})
	}
	if _, ok := cfg.FindUser(admin); admin != "" && !ok {
		grants = append(grants, access.Grant{ID: admin, Roles: []string{string(access.RoleAdmin)}})
	}
	auth, err := access.NewAuthorizer(grants,
		access.WithDefaultRole(access.Role(cfg.Access.DefaultRole)),
		access.WithCheckLimit(cfg.Access.ChecksPerSecond, cfg.Access.ChecksBurst),
	)
	if err != nil {
		return nil, fmt.Errorf("access grants: %w", err)
	}
	return auth, nil
}

// newSignaler composes the delivery paths for cancellation signals.
func newSignaler(cfg config.SignalsConfig, local tasks.Signaler) tasks.MultiSignaler {
	signalers := tasks.MultiSignaler{tasks.SignalFunc(logSignal)}
	if local != nil {
		signalers = append(signalers, local)
	}
	if cfg.WebhookURL != "" {
		signalers = append(signalers,
			tasks.NewWebhookSignaler(cfg.WebhookURL, cfg.Timeout).WithToken(cfg.WebhookToken))
	}
	return signalers
}

func logSignal(_ context.Context, sig tasks.Signal) error {
	logger.Logger.Info().
		Str("event", "cancel_signal").
		Str("status_id", sig.StatusID).
		Str("task_id", sig.TaskID).
		Msg("cancellation signal sent")
	return nil
}
