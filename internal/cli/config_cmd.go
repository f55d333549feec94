// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/usertasks/internal/config"
)

func newConfigCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and inspect the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigShowCommand(e), newConfigValidateCommand(e))
	return cmd
}

func newConfigValidateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a configuration file",
		Long: `Loads path (or --config, or the default file) with environment overrides
applied and reports every validation problem.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := e.v.GetString("config")
			if len(args) == 1 {
				path = args[0]
			}

			_, err := config.LoadFromPath(path)
			var verrs config.ValidateErrors
			if errors.As(err, &verrs) {
				for _, v := range verrs {
					fmt.Fprintln(cmd.ErrOrStderr(), ErrorStyle.Render("  "+v.Field+": ")+v.Message)
				}
				return fmt.Errorf("%d configuration problem(s)", len(verrs))
			}
			if err != nil {
				return err
			}

			if path == "" {
				path = "default configuration"
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("OK")+" "+path)
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init [path]",
		Short:       "Write a default configuration file",
		Long:        `Writes the default configuration to path, or ~/.usertasks/config.toml.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				dir, err := config.ConfigDir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, "config.toml")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCommand(e *env) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  `Prints the configuration after the file, environment and flags are applied.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case "toml":
				return toml.NewEncoder(out).Encode(e.cfg)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(e.cfg); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown format %q (want toml or yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "toml", "Output format: toml or yaml")
	return cmd
}
