// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command tree for the authgate CLI.
package app

import (
	"github.com/spf13/cobra"

	"github.com/authgate/authgate/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "authgate",
	DisableAutoGenTag: true,
	Short:             "authgate is an embeddable OAuth 2.0 / OpenID Connect authorization server",
	Long: `authgate is a standalone OAuth 2.0 and OpenID Connect authorization server
built over a pluggable record store. It issues RS256-signed access, ID, and
refresh tokens; supports the authorization-code (with PKCE), client-credentials,
refresh-token, and password grants; and enforces per-IP and per-account
brute-force protection.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the authgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}
