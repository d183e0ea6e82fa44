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
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// Flags for the invalidate command.
var (
	invalidateKind string
	invalidateYes  bool
)

func newInvalidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invalidate [query...]",
		Short: "Evict the cached resolution for a query",
		Long: `Invalidate evicts the cached resolution for a query.

Use it when a cached answer went stale out of band: the record was renamed
or deleted directly on the platform and the server keeps serving yesterday's
sys_id. The next resolve for the query hits the platform fresh.

Examples:
  beringctl invalidate payroll widget
  beringctl invalidate --kind flow approval flow
  beringctl invalidate --yes payroll widget   # no confirmation prompt`,
		Args: cobra.ArbitraryArgs,
		RunE: runInvalidateCmd,
	}

	cmd.Flags().StringVarP(&invalidateKind, "kind", "k", "", "Artifact kind hint (scopes the cache key)")
	cmd.Flags().BoolVarP(&invalidateYes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func runInvalidateCmd(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return errors.New("nothing to invalidate: give the query whose cached answer went stale")
	}

	if isInteractive() && !invalidateYes {
		var confirmed bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Evict the cached resolution for %q?", query)).
				Description("The next resolve for this query will hit the platform fresh.").
				Affirmative("Evict").
				Negative("Keep").
				Value(&confirmed),
		))
		if err := form.Run(); err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing evicted.")
			return nil
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := newAPIClient(serverURL)
	res, err := client.invalidate(ctx, invalidateRequest{Query: query, Kind: invalidateKind})
	if err != nil {
		return describeAPIError(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", okStyle.Render("EVICTED"), res.Key)
	fmt.Fprintln(out, faintStyle.Render(fmt.Sprintf("[kind: %s, identifier: %q]", res.Kind, res.Identifier)))
	return nil
}
