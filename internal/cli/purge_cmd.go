// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPurgeCommand(e *env) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete task statuses older than a cutoff",
		Long: `Deletes every status created before now minus --older-than, together with
its artifacts and their files. Defaults to storage.max_age.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("older-than") {
				olderThan = e.cfg.Storage.MaxAge
			}
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.statuses.Purge(cmd.Context(), olderThan)
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d task statuses older than %s\n", n, olderThan)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff, e.g. 720h (default storage.max_age)")
	return cmd
}
