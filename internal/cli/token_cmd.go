// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/usertasks/internal/access"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}
	cmd.AddCommand(newTokenCreateCommand())
	return cmd
}

func newTokenCreateCommand() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "create <user>",
		Short: "Generate a bearer token for a user",
		Long: `Generates a new token and prints it once, with the config entry that
registers its hash. Only the hash is stored; the token cannot be recovered.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, r := range roles {
				if _, err := access.ParseRole(r); err != nil {
					return err
				}
			}
			token, hash, err := access.GenerateToken(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render("\nAdd to the [access] section of your config or grants file:\n"))
			fmt.Fprintf(cmd.ErrOrStderr(), "[[access.users]]\nid = %q\nroles = %s\ntoken_hash = %q\n",
				args[0], tomlList(roles), hash)
			return nil
		},
	}
	known := make([]string, 0, len(access.Roles()))
	for _, r := range access.Roles() {
		known = append(known, string(r))
	}
	cmd.Flags().StringSliceVar(&roles, "role", []string{string(access.RoleUser)},
		"Roles for the config entry (repeatable): "+strings.Join(known, ", "))
	return cmd
}

func tomlList(items []string) string {
	s := "["
	for i, it := range items {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%q", it)
	}
	return s + "]"
}
