// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// toolsJSON holds the --json flag for the tools command.
var toolsJSON bool

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the conversational tools the server exposes",
		Long: `Tools lists the server's tool definitions in presentation order.

These are the function-calling schemas a model provider consumes; --json
prints them verbatim for pasting into a provider's tool configuration.`,
		Args: cobra.NoArgs,
		RunE: runToolsCmd,
	}

	cmd.Flags().BoolVar(&toolsJSON, "json", false, "Print the raw definitions JSON")

	return cmd
}

func runToolsCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := newAPIClient(serverURL)
	res, err := client.listTools(ctx)
	if err != nil {
		return describeAPIError(err)
	}

	out := cmd.OutOrStdout()
	if toolsJSON {
		return printJSON(out, res)
	}

	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(76).PaddingLeft(2)

	fmt.Fprintf(out, "%d tools\n\n", res.Count)
	for _, def := range res.Tools {
		fmt.Fprintln(out, accentStyle.Render(def.Function.Name))
		fmt.Fprintln(out, descStyle.Render(firstSentence(def.Function.Description)))
		if len(def.Function.Parameters.Required) > 0 {
			fmt.Fprintln(out, faintStyle.Render("  required: "+strings.Join(def.Function.Parameters.Required, ", ")))
		}
		fmt.Fprintln(out)
	}
	return nil
}

// firstSentence trims a model-facing tool description, which can run to
// paragraphs, down to its opening sentence for the listing.
func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	if i := strings.Index(s, ".\n"); i >= 0 {
		return s[:i+1]
	}
	return s
}
