// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/usertasks/internal/service"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// newReportCommand exposes the reporter to execution engines that run as
// scripts: each subcommand is one progress report.
func newReportCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report task progress as an execution engine",
		Long: `Creates status records and reports their progress, outcome and artifacts.
Intended for execution engines driving usertasks from shell scripts.`,
	}
	cmd.AddCommand(
		newReportCreateCommand(e),
		newReportTransitionCommand(e, "start", "Mark a task as running", func(ctx context.Context, r *service.Reporter, id, _ string) (*tasks.Status, error) {
			return r.Start(ctx, id)
		}),
		newReportTransitionCommand(e, "succeed", "Mark a task as finished successfully", func(ctx context.Context, r *service.Reporter, id, _ string) (*tasks.Status, error) {
			return r.Succeed(ctx, id)
		}),
		newReportTransitionCommand(e, "fail", "Mark a task as failed", func(ctx context.Context, r *service.Reporter, id, reason string) (*tasks.Status, error) {
			return r.Fail(ctx, id, reason)
		}),
		newReportTransitionCommand(e, "retry", "Mark a task as being retried", func(ctx context.Context, r *service.Reporter, id, reason string) (*tasks.Status, error) {
			return r.Retry(ctx, id, reason)
		}),
		newReportProgressCommand(e),
		newReportAttachCommand(e),
	)
	return cmd
}

func newReportCreateCommand(e *env) *cobra.Command {
	var (
		owner  string
		name   string
		steps  int
		taskID string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending task status and print its ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			status, err := st.reporter.Create(cmd.Context(), owner, name, steps, taskID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&owner, "owner", "", "User that owns the task (required)")
	f.StringVar(&name, "name", "", "Human-readable task description (required)")
	f.IntVar(&steps, "steps", 0, "Expected number of steps (0 if unknown)")
	f.StringVar(&taskID, "task-id", "", "Execution engine handle for the task")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

type reportFunc func(ctx context.Context, r *service.Reporter, id, reason string) (*tasks.Status, error)

func newReportTransitionCommand(e *env, use, short string, fn reportFunc) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			status, err := fn(cmd.Context(), st.reporter, args[0], reason)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.Summary())
			return nil
		},
	}
	if use == "fail" || use == "retry" {
		cmd.Flags().StringVar(&reason, "reason", "", "Detail shown with the state")
	}
	return cmd
}

func newReportProgressCommand(e *env) *cobra.Command {
	var (
		completed int
		total     int
		increment int
	)
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Report completed steps",
		Long: `Sets the completed (and optionally total) step counters, or adds to the
completed counter with --increment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("increment") == flags.Changed("completed") {
				return errors.New("exactly one of --completed or --increment is required")
			}

			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			var status *tasks.Status
			if flags.Changed("increment") {
				status, err = st.reporter.IncrementSteps(cmd.Context(), args[0], increment)
			} else {
				if !flags.Changed("total") {
					cur, getErr := st.store.GetStatus(cmd.Context(), args[0])
					if getErr != nil {
						return getErr
					}
					total = cur.TotalSteps
				}
				status, err = st.reporter.SetProgress(cmd.Context(), args[0], completed, total)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.Summary())
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&completed, "completed", 0, "Number of completed steps")
	f.IntVar(&total, "total", 0, "Expected number of steps")
	f.IntVar(&increment, "increment", 0, "Add this many completed steps")
	return cmd
}

func newReportAttachCommand(e *env) *cobra.Command {
	var (
		in   service.ArtifactInput
		file string
	)
	cmd := &cobra.Command{
		Use:   "attach <id>",
		Short: "Attach a file, text or URL artifact to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in.File = f
			}

			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			a, err := st.reporter.AddArtifact(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "Artifact name, unique within the task (required)")
	f.StringVar(&in.Status, "label", "", "Advisory status label, e.g. error")
	f.StringVar(&file, "file", "", "Path of a file to store")
	f.StringVar(&in.Text, "text", "", "Inline text content")
	f.StringVar(&in.URL, "url", "", "External URL")
	_ = cmd.MarkFlagRequired("name")
	cmd.MarkFlagsMutuallyExclusive("file", "text", "url")
	cmd.MarkFlagsOneRequired("file", "text", "url")
	return cmd
}
