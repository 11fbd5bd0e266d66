// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/hagate/internal/logging"
)

// NewRootCmd creates the root command for the hagate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hagate",
		Short: "hagate - role-based authorization for home-automation service calls",
		Long: `hagate decides whether a user may invoke a service on a home-automation
platform, using a declarative policy of roles, per-user restrictions and
platform-wide defaults.`,
		SilenceUsage: true,
	}

	registerConfigFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewServeCmd())

	return cmd
}

// setupLogging installs the process logger described by cfg.
func setupLogging(cfg *config, cmd *cobra.Command) {
	// Validate already rejected unknown levels.
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.SetDefault(logging.Options{
		Service: "hagate",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   level,
		Output:  cmd.ErrOrStderr(),
	})
}
