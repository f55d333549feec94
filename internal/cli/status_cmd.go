// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/usertasks/internal/service"
	"github.com/jeranaias/usertasks/internal/tasks"
)

func newStatusCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"statuses"},
		Short:   "List, inspect, cancel and delete task statuses",
		Long: `Operates directly on the status database as the configured CLI user
(cli.user, or --user), which holds the admin role unless configured otherwise.`,
	}
	cmd.AddCommand(
		newStatusListCommand(e),
		newStatusGetCommand(e),
		newStatusCancelCommand(e),
		newStatusDeleteCommand(e),
		newStatusCountCommand(e),
	)
	return cmd
}

func newStatusCountCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count task statuses per state",
		Long:  `Counts every record by state. Needs permission to view all users' statuses.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := e.useTable(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := st.statuses.Counts(cmd.Context(), e.caller())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if table {
				renderCountTable(out, counts)
				return nil
			}
			byState := make(map[string]int, len(tasks.AllStates))
			for _, s := range tasks.AllStates {
				byState[string(s)] = counts[s]
			}
			return writeJSON(out, byState)
		},
	}
}

func newStatusListCommand(e *env) *cobra.Command {
	var (
		filter service.StatusFilter
		states []string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task statuses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range states {
				st, err := tasks.ParseState(s)
				if err != nil {
					return err
				}
				filter.States = append(filter.States, st)
			}

			table, err := e.useTable(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			statuses, err := st.statuses.List(cmd.Context(), e.caller(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if table {
				renderStatusTable(out, statuses, terminalWidth(out))
				return nil
			}
			list := make([]statusJSON, 0, len(statuses))
			for _, s := range statuses {
				list = append(list, toStatusJSON(s))
			}
			return writeJSON(out, list)
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.UserID, "owner", "", "Only statuses owned by this user")
	f.StringSliceVar(&states, "state", nil, "Only statuses in these states (repeatable)")
	f.StringVar(&filter.Name, "name", "", "Only statuses whose name contains this text")
	f.IntVar(&filter.Limit, "limit", 50, "Maximum number of statuses (0 for all)")
	f.IntVar(&filter.Offset, "offset", 0, "Number of statuses to skip")
	return cmd
}

func newStatusGetCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task status with its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := e.useTable(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			status, err := st.statuses.Retrieve(cmd.Context(), e.caller(), args[0])
			if err != nil {
				return err
			}
			return e.printStatus(cmd, status, table)
		},
	}
}

func newStatusCancelCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a task; a no-op once the task has finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := e.useTable(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			status, err := st.statuses.Cancel(cmd.Context(), e.caller(), args[0])
			if err != nil && status == nil {
				return err
			}
			if err != nil {
				// State is persisted; only the signal failed
				fmt.Fprintln(cmd.ErrOrStderr(), WarningStyle.Render("warning: "+err.Error()))
			}
			return e.printStatus(cmd, status, table)
		},
	}
}

func newStatusDeleteCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete task statuses and their artifact files",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			var errs []error
			for _, id := range args {
				if err := st.statuses.Destroy(cmd.Context(), e.caller(), id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return errors.Join(errs...)
		},
	}
}

// printStatus writes one record as a detail view or JSON.
func (e *env) printStatus(cmd *cobra.Command, status *tasks.Status, table bool) error {
	out := cmd.OutOrStdout()
	if table {
		renderStatusDetail(out, status, terminalWidth(out))
		return nil
	}
	return writeJSON(out, toStatusJSON(status))
}
