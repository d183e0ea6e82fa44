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

	"github.com/spf13/cobra"
)

// Flags for the verify command.
var (
	verifyKind    string
	verifyName    string
	verifyID      string
	verifyMaxWait float64
	verifyJSON    bool
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm a record is findable under its kind and name",
		Long: `Verify confirms a just-created or just-renamed record is findable.

The server resolves strictly by kind and exact name, waiting out index lag
up to --max-wait. Exit code 0 means the record is findable (and matches
--id when given); a failed verification exits non-zero so the command
composes with && in scripts.

Examples:
  beringctl verify --kind widget --name "Payroll Summary"
  beringctl verify --kind flow --name "Approval Flow" --id a1b2c3 --max-wait 90`,
		Args: cobra.NoArgs,
		RunE: runVerifyCmd,
	}

	cmd.Flags().StringVarP(&verifyKind, "kind", "k", "", "Artifact kind (required)")
	cmd.Flags().StringVarP(&verifyName, "name", "n", "", "Exact record name (required)")
	cmd.Flags().StringVar(&verifyID, "id", "", "sys_id the record should have")
	cmd.Flags().Float64VarP(&verifyMaxWait, "max-wait", "w", 0, "Seconds to ride out index lag (0 = server default)")
	cmd.Flags().BoolVar(&verifyJSON, "json", false, "Print the raw response JSON")

	return cmd
}

func runVerifyCmd(cmd *cobra.Command, _ []string) error {
	if verifyKind == "" || verifyName == "" {
		return errors.New("--kind and --name are required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := newAPIClient(serverURL)
	res, err := client.verify(ctx, verifyRequest{
		Kind:           verifyKind,
		Name:           verifyName,
		ExpectedID:     verifyID,
		MaxWaitSeconds: verifyMaxWait,
	})
	if err != nil {
		return describeAPIError(err)
	}

	if verifyJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	if res.Verified {
		fmt.Fprintf(out, "%s %s %s\n",
			okStyle.Render("VERIFIED"),
			res.Match.Name,
			faintStyle.Render("("+res.Match.Collection+" · "+res.Match.SysID+")"),
		)
		fmt.Fprintln(out, faintStyle.Render(fmt.Sprintf("[%d attempts, %dms]", res.Attempts, res.DurationMS)))
		return nil
	}

	// A findable record under the wrong sys_id is worth spelling out: the
	// name is taken by something else.
	if res.Match != nil && verifyID != "" {
		return fmt.Errorf("not verified: %q is findable but has sys_id %s, not %s",
			verifyName, res.Match.SysID, verifyID)
	}
	return fmt.Errorf("not verified: no findable %s named %q after %d attempts (%dms); "+
		"if it was created moments ago, retry with a larger --max-wait",
		verifyKind, verifyName, res.Attempts, res.DurationMS)
}
