// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command beringctl is the terminal client for a Bering resolution server.
//
// It resolves loose artifact phrases against the server, narrating slow
// resolves with live attempt-by-attempt progress, and offers a picker when
// several records tie. Piped or --json invocations skip all terminal UI and
// emit plain JSON, so the same commands work in scripts.
//
// Usage:
//
//	# Resolve a loose phrase (spinner + live progress on a TTY)
//	beringctl resolve incident dashboard widget
//
//	# Pin the kind and wait out index lag for up to two minutes
//	beringctl resolve --kind flow --max-wait 120 approval flow
//
//	# Confirm a record you just created is findable
//	beringctl verify --kind widget --name "Payroll Summary" --id a1b2c3
//
//	# Drop a stale cache entry
//	beringctl invalidate payroll widget
//
//	# Wire output for scripts
//	beringctl resolve --json payroll widget | jq .match.sys_id
//
// The server address comes from --server or BERING_SERVER_URL and defaults
// to http://localhost:8691.
package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// serverURL holds the --server persistent flag value.
var serverURL string

// Shared lipgloss styles. ANSI 256-color codes for broad terminal
// compatibility; chosen for dark backgrounds, the common case.
var (
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	nameStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")) // dim gray
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114")) // green
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")) // amber
	badStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")) // red
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75")) // blue
	cardStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
)

// NewRootCmd creates the root command for beringctl.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beringctl",
		Short: "Resolve loose artifact references against a Bering server",
		Long: `beringctl talks to a Bering resolution server.

Bering maps loosely-specified requests ("the payroll widget", "that flow I
just made") to specific records on a remote record platform whose search
index lags writes. The server retries through the lag; this client shows
the attempts as they happen and helps you pick when several records tie.

Examples:
  # Resolve a loose phrase
  beringctl resolve incident dashboard widget

  # Pin the kind and wait out index lag
  beringctl resolve --kind flow --max-wait 120 approval flow

  # Confirm a just-created record is findable under its name
  beringctl verify --kind widget --name "Payroll Summary"

  # Evict a stale cache entry, then resolve fresh
  beringctl invalidate payroll widget

  # Fetch one record by address
  beringctl record sp_widget a1b2c3d4

  # List the conversational tools the server exposes
  beringctl tools`,
		SilenceUsage: true,
	}

	defaultServer := os.Getenv("BERING_SERVER_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8691"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer,
		"Bering server base URL (env: BERING_SERVER_URL)")

	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newInvalidateCmd())
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newStatusCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// isInteractive reports whether stdout is a terminal. Pipes and
// redirections get plain output with no spinner, picker, or styling.
func isInteractive() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
