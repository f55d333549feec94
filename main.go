// usertasks - progress tracking and control for long-running user tasks.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/jeranaias/usertasks/internal/cli"
	"github.com/jeranaias/usertasks/internal/logger"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	versionInfo := cli.VersionInfo{
		Version: Version,
		Commit:  GitCommit,
		Date:    BuildDate,
	}

	rootCmd := cli.NewRootCommand(versionInfo)
	if err := rootCmd.Execute(); err != nil {
		logger.Logger.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
