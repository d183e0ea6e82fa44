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
	"slices"
	"time"

	"github.com/spf13/cobra"
)

// recordJSON holds the --json flag for the record command.
var recordJSON bool

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <collection> <sys_id>",
		Short: "Fetch one record by collection and sys_id",
		Long: `Record fetches one record straight from the platform, no resolution.

Useful for inspecting what a resolve landed on, or checking whether a
sys_id still exists at all.

Examples:
  beringctl record sp_widget a1b2c3d4e5
  beringctl record wf_workflow f6e5d4 --json | jq .fields`,
		Args: cobra.ExactArgs(2),
		RunE: runRecordCmd,
	}

	cmd.Flags().BoolVar(&recordJSON, "json", false, "Print the raw response JSON")

	return cmd
}

func runRecordCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := newAPIClient(serverURL)
	res, err := client.getRecord(ctx, args[0], args[1])
	if err != nil {
		return describeAPIError(err)
	}

	out := cmd.OutOrStdout()
	if recordJSON {
		return printJSON(out, res)
	}

	fmt.Fprintln(out, nameStyle.Render(res.Name))
	fmt.Fprintln(out, labelStyle.Render("sys_id      ")+res.SysID)
	fmt.Fprintln(out, labelStyle.Render("collection  ")+res.Collection)
	active := okStyle.Render("active")
	if !res.Active {
		active = badStyle.Render("inactive")
	}
	fmt.Fprintln(out, labelStyle.Render("state       ")+active)
	if res.UpdatedAt != "" {
		fmt.Fprintln(out, labelStyle.Render("updated     ")+res.UpdatedAt)
	}

	if len(res.Fields) > 0 {
		fmt.Fprintln(out)
		keys := make([]string, 0, len(res.Fields))
		for k := range res.Fields {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s %s\n", labelStyle.Render(k+":"), res.Fields[k])
		}
	}
	return nil
}

// statusJSON holds the --json flag for the status command.
var statusJSON bool

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the server's liveness report",
		Args:  cobra.NoArgs,
		RunE:  runStatusCmd,
	}

	cmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw response JSON")

	return cmd
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := newAPIClient(serverURL)
	res, err := client.health(ctx)
	if err != nil {
		return describeAPIError(err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		return printJSON(out, res)
	}

	state := okStyle.Render(res.Status)
	if res.Status != "ok" {
		state = badStyle.Render(res.Status)
	}
	fmt.Fprintf(out, "%s %s\n", state, faintStyle.Render(serverURL))
	fmt.Fprintln(out, labelStyle.Render("version        ")+res.Version)
	fmt.Fprintln(out, labelStyle.Render("uptime         ")+(time.Duration(res.UptimeSeconds)*time.Second).String())
	fmt.Fprintln(out, labelStyle.Render("cache entries  ")+fmt.Sprint(res.CacheEntries))
	fmt.Fprintln(out, labelStyle.Render("known kinds    ")+fmt.Sprint(res.Kinds))
	return nil
}
