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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// Flags for the resolve command.
var (
	resolveKind     string
	resolveStrict   bool
	resolveMaxWait  float64
	resolveExpected string
	resolveLimit    int
	resolveJSON     bool
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [query...]",
		Short: "Resolve a loose phrase to one specific record",
		Long: `Resolve maps a loose phrase to one specific record.

On a terminal, slow resolves show a spinner with the server's live
attempt-by-attempt narration, and a tie between several records opens a
picker. Piped or --json invocations skip all of that and print JSON.

Examples:
  beringctl resolve incident dashboard widget
  beringctl resolve --kind flow --strict approval flow
  beringctl resolve --max-wait 120 "the widget I created a minute ago"
  beringctl resolve --json payroll widget | jq .match.sys_id`,
		Args: cobra.ArbitraryArgs,
		RunE: runResolveCmd,
	}

	cmd.Flags().StringVarP(&resolveKind, "kind", "k", "", "Artifact kind hint (widget, flow, script, ...)")
	cmd.Flags().BoolVar(&resolveStrict, "strict", false, "Reject unknown kinds and refuse to guess between ties")
	cmd.Flags().Float64VarP(&resolveMaxWait, "max-wait", "w", 0, "Seconds to ride out index lag (0 = server default)")
	cmd.Flags().StringVar(&resolveExpected, "expected-id", "", "sys_id the caller believes the record has")
	cmd.Flags().IntVar(&resolveLimit, "limit", 0, "Candidate list size for list-shaped queries")
	cmd.Flags().BoolVar(&resolveJSON, "json", false, "Print the raw response JSON")

	return cmd
}

func runResolveCmd(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" && resolveExpected == "" {
		return errors.New("nothing to resolve: give a query, or --expected-id to check an address")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := newAPIClient(serverURL)
	req := resolveRequest{
		Query:          query,
		Kind:           resolveKind,
		Strict:         resolveStrict,
		MaxWaitSeconds: resolveMaxWait,
		ExpectedID:     resolveExpected,
		Limit:          resolveLimit,
	}

	res, err := runResolveRequest(ctx, client, req)
	if err != nil {
		return describeAPIError(err)
	}

	// A tie on a terminal becomes a picker; picking re-resolves pinned to
	// the chosen sys_id, which also warms the cache for next time.
	if res.Outcome == outcomeAmbiguous && isInteractive() && !resolveJSON {
		choice, err := pickCandidate(res.Candidates)
		if err != nil {
			return err
		}
		if choice != "" {
			req.ExpectedID = choice
			req.Strict = false
			res, err = runResolveRequest(ctx, client, req)
			if err != nil {
				return describeAPIError(err)
			}
		}
	}

	return printResolution(cmd.OutOrStdout(), res, resolveJSON)
}

// runResolveRequest picks the transport: the websocket stream behind a
// spinner on a terminal, plain HTTP otherwise.
func runResolveRequest(ctx context.Context, client *apiClient, req resolveRequest) (*resolveResponse, error) {
	if !isInteractive() || resolveJSON {
		return client.resolve(ctx, req)
	}
	return resolveWithSpinner(ctx, client, req)
}

// =============================================================================
// Spinner TUI
// =============================================================================

type progressMsg streamFrame

type resolveFinishedMsg struct{ res *resolveResponse }

type resolveFailedMsg struct{ err error }

// resolveModel renders a spinner plus the latest progress line while a
// resolve rides out index lag server-side.
type resolveModel struct {
	spinner  spinner.Model
	query    string
	stats    string
	quitting bool
	result   *resolveResponse
	err      error
	cancel   context.CancelFunc
}

func newResolveModel(query string, cancel context.CancelFunc) resolveModel {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle
	return resolveModel{
		spinner: sp,
		query:   query,
		stats:   "classifying",
		cancel:  cancel,
	}
}

func (m resolveModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m resolveModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.cancel()
			m.quitting = true
			m.err = context.Canceled
			return m, tea.Quit
		}
		return m, nil
	case progressMsg:
		m.stats = describeProgress(streamFrame(msg))
		return m, nil
	case resolveFinishedMsg:
		m.result = msg.res
		m.quitting = true
		return m, tea.Quit
	case resolveFailedMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m resolveModel) View() string {
	if m.quitting {
		return ""
	}
	return fmt.Sprintf("%s Resolving %s  %s\n%s\n",
		m.spinner.View(),
		nameStyle.Render(m.query),
		faintStyle.Render(m.stats),
		faintStyle.Render("  esc to give up"),
	)
}

// resolveWithSpinner runs the websocket resolve behind a bubbletea spinner,
// falling back to plain HTTP (spinner still up) when the stream endpoint
// cannot be dialed.
func resolveWithSpinner(ctx context.Context, client *apiClient, req resolveRequest) (*resolveResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(newResolveModel(req.Query, cancel))

	go func() {
		res, err := client.resolveStream(ctx, req, func(f streamFrame) {
			program.Send(progressMsg(f))
		})
		if errors.Is(err, errStreamUnavailable) {
			res, err = client.resolve(ctx, req)
		}
		if err != nil {
			program.Send(resolveFailedMsg{err: err})
			return
		}
		program.Send(resolveFinishedMsg{res: res})
	}()

	final, err := program.Run()
	if err != nil {
		return nil, err
	}
	m := final.(resolveModel)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// describeProgress turns one progress frame into a spinner status line.
func describeProgress(f streamFrame) string {
	switch f.Stage {
	case "attempt":
		if f.Found > 0 {
			return fmt.Sprintf("attempt %d: found %d in %s", f.Attempt, f.Found, f.Collection)
		}
		return fmt.Sprintf("attempt %d: %s via %s, nothing yet", f.Attempt, f.Collection, f.Strategy)
	case "backoff":
		return fmt.Sprintf("index lag, waiting %dms", f.WaitMS)
	case "nudge":
		return "nudging the search index"
	case "id_lookup":
		return "checking the expected sys_id directly"
	case "fallback":
		if f.Collection != "" {
			return "sweeping " + f.Collection
		}
		return "sweeping the extended collections"
	default:
		return f.Stage
	}
}

// =============================================================================
// Candidate Picker
// =============================================================================

// pickCandidate prompts for one of the tied candidates. Returns the chosen
// sys_id, or "" when the user declines them all.
func pickCandidate(candidates []candidateView) (string, error) {
	options := make([]huh.Option[string], 0, len(candidates)+1)
	for _, c := range candidates {
		options = append(options, huh.NewOption(candidateLabel(c), c.SysID))
	}
	options = append(options, huh.NewOption("None of these", ""))

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Several records tied. Which one did you mean?").
			Options(options...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

// candidateLabel is the one-line picker and list rendering of a candidate.
func candidateLabel(c candidateView) string {
	return fmt.Sprintf("%s  (%s · %s)", c.Name, c.Collection, c.SysID)
}

// =============================================================================
// Rendering
// =============================================================================

// printResolution writes one resolution in the right shape for its outcome.
func printResolution(w io.Writer, res *resolveResponse, asJSON bool) error {
	if asJSON {
		return printJSON(w, res)
	}

	switch res.Outcome {
	case outcomeMatched, outcomeCached:
		fmt.Fprintln(w, renderMatchCard(res))
	case outcomeListed:
		fmt.Fprintln(w, nameStyle.Render(fmt.Sprintf("%d records for %q:", len(res.Candidates), res.Query)))
		for i, c := range res.Candidates {
			fmt.Fprintf(w, "  %2d. %s\n", i+1, candidateLabel(c))
		}
		fmt.Fprintln(w, footline(res))
	case outcomeAmbiguous:
		fmt.Fprintf(w, "%s %d records tied for %q:\n", warnStyle.Render("AMBIGUOUS"), len(res.Candidates), res.Query)
		for i, c := range res.Candidates {
			fmt.Fprintf(w, "  %2d. %s\n", i+1, candidateLabel(c))
		}
		fmt.Fprintln(w, faintStyle.Render("Re-run with --expected-id <sys_id> to pin one."))
	case outcomeNotFound:
		fmt.Fprintf(w, "%s no record for %q\n", badStyle.Render("NOT FOUND"), res.Query)
		fmt.Fprintln(w, faintStyle.Render("Absence was checked against the live platform, not just the index."))
		fmt.Fprintln(w, faintStyle.Render("If the record was created seconds ago, retry with --max-wait 60."))
		fmt.Fprintln(w, footline(res))
	default:
		return printJSON(w, res)
	}
	return nil
}

// renderMatchCard renders a matched artifact as a bordered card.
func renderMatchCard(res *resolveResponse) string {
	m := res.Match
	var b strings.Builder
	b.WriteString(nameStyle.Render(m.Name))
	if m.Summary != "" {
		b.WriteString("\n" + faintStyle.Render(m.Summary))
	}
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("kind        ") + m.Kind + "\n")
	b.WriteString(labelStyle.Render("sys_id      ") + m.SysID + "\n")
	b.WriteString(labelStyle.Render("collection  ") + m.Collection + "\n")
	b.WriteString(labelStyle.Render("score       ") + fmt.Sprintf("%.2f", m.Score))
	return cardStyle.Render(b.String()) + "\n" + footline(res)
}

// footline is the bracketed stat line after a result.
func footline(res *resolveResponse) string {
	stats := fmt.Sprintf("[%d attempts, %dms", res.Attempts, res.DurationMS)
	if res.FromCache {
		stats += ", cached"
	}
	if res.CorrelationID != "" {
		stats += ", correlation: " + res.CorrelationID
	}
	return faintStyle.Render(stats + "]")
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// describeAPIError folds a server explanation into the error a command
// returns, so the one-line failure still says what to do next.
func describeAPIError(err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Explanation != "" {
		return fmt.Errorf("%s\n  %s", apiErr.Error(), apiErr.Explanation)
	}
	return err
}
