// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/usertasks/internal/service"
)

func newArtifactsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "artifacts",
		Aliases: []string{"artifact"},
		Short:   "List and read task artifacts",
	}
	cmd.AddCommand(
		newArtifactsListCommand(e),
		newArtifactsCatCommand(e),
	)
	return cmd
}

func newArtifactsListCommand(e *env) *cobra.Command {
	var filter service.ArtifactFilter
	cmd := &cobra.Command{
		Use:   "list [status-id]",
		Short: "List artifacts, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				filter.StatusID = args[0]
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

			artifacts, err := st.artifacts.List(cmd.Context(), e.caller(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if table {
				renderArtifactTable(out, artifacts, terminalWidth(out))
				return nil
			}
			list := make([]artifactJSON, 0, len(artifacts))
			for _, a := range artifacts {
				list = append(list, toArtifactJSON(a))
			}
			return writeJSON(out, list)
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.Name, "name", "", "Only artifacts with this exact name")
	f.IntVar(&filter.Limit, "limit", 50, "Maximum number of artifacts (0 for all)")
	f.IntVar(&filter.Offset, "offset", 0, "Number of artifacts to skip")
	return cmd
}

func newArtifactsCatCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <artifact-id>",
		Short: "Write an artifact's content to stdout",
		Long: `Streams a file artifact's stored bytes. Text artifacts print their text
and URL artifacts print the URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.openAdminStack()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			a, err := st.artifacts.Retrieve(cmd.Context(), e.caller(), args[0])
			if err != nil {
				return err
			}
			switch {
			case a.URL != "":
				_, err = fmt.Fprintln(out, a.URL)
				return err
			case !a.HasFile():
				_, err = io.WriteString(out, a.Text)
				return err
			}

			_, rc, err := st.artifacts.OpenFile(cmd.Context(), e.caller(), args[0])
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(out, rc)
			return err
		},
	}
}
