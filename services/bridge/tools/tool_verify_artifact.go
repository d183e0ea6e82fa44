// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/bering/services/bridge/resolve"
)

// =============================================================================
// verify_artifact Tool
// =============================================================================

var verifyArtifactTracer = otel.Tracer("tools.verify_artifact")

// VerifyArtifactParams contains the validated input parameters.
type VerifyArtifactParams struct {
	// Kind is the artifact kind, from the catalog vocabulary.
	Kind string

	// Name is the artifact's exact or near-exact name.
	Name string

	// ExpectedID optionally pins the specific record the caller believes
	// this name belongs to.
	ExpectedID string

	// MaxWait bounds total retry wall time. 0 means the verify default.
	MaxWait time.Duration
}

// VerifyArtifactOutput contains the structured result.
type VerifyArtifactOutput struct {
	// Verified reports whether the named artifact was confirmed to exist
	// (and, when expected_id was given, to be that record).
	Verified bool `json:"verified"`

	// Outcome is the underlying resolution outcome.
	Outcome string `json:"outcome"`

	// Attempts is the retry attempt that produced the result.
	Attempts int `json:"attempts,omitempty"`

	// Match is the confirmed artifact, when verification succeeded or a
	// different record answered to the name.
	Match *ArtifactView `json:"match,omitempty"`

	// Candidates is the ranked list when the name was ambiguous.
	Candidates []CandidateView `json:"candidates,omitempty"`
}

// verifyArtifactTool confirms a specific artifact exists on the platform.
//
// # Description
//
// The higher-patience counterpart of resolve_artifact, for the moments after
// a write: the record exists but the search index has not caught up. Runs
// strict — the cache is bypassed (a cached answer proves nothing about the
// platform's current state) and an ambiguous name comes back as a candidate
// list rather than a guess.
//
// # Thread Safety
//
// Safe for concurrent use.
type verifyArtifactTool struct {
	engine *resolve.Engine
	logger *slog.Logger
}

// NewVerifyArtifactTool creates the verify_artifact tool.
//
// # Inputs
//
//   - engine: The resolution engine. Must not be nil.
//   - logger: Diagnostics logger. Nil gets slog.Default.
//
// # Outputs
//
//   - Tool: The verify_artifact tool implementation.
func NewVerifyArtifactTool(engine *resolve.Engine, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &verifyArtifactTool{engine: engine, logger: logger}
}

func (t *verifyArtifactTool) Name() string {
	return "verify_artifact"
}

func (t *verifyArtifactTool) Definition() Definition {
	return defineFunction(
		"verify_artifact",
		"Confirm that a specific artifact exists on the platform, waiting out search index lag. "+
			"Use after creating or importing an artifact, when resolve_artifact reported not_found "+
			"for something that should exist, or before telling the user a change is live. "+
			"Retries longer than resolve_artifact and never answers from cache.",
		map[string]ParamDef{
			"kind": {
				Type:        "string",
				Description: "Artifact kind, from the catalog vocabulary.",
				Enum:        kindEnum(t.engine.KnownKinds()),
			},
			"name": {
				Type:        "string",
				Description: "The artifact's name, as exact as known.",
			},
			"expected_id": {
				Type:        "string",
				Description: "sys_id the name is expected to belong to. Verification checks identity, not just existence, and short-circuits with a direct id lookup.",
			},
			"max_wait_seconds": {
				Type:        "number",
				Description: "Upper bound on total wall time spent retrying.",
			},
		},
		[]string{"kind", "name"},
	)
}

func (t *verifyArtifactTool) parseParams(params map[string]any) (VerifyArtifactParams, error) {
	var p VerifyArtifactParams
	var err error
	if p.Kind, err = requiredString(params, "kind"); err != nil {
		return p, err
	}
	if kinds := t.engine.KnownKinds(); !slices.Contains(kinds, p.Kind) {
		return p, fmt.Errorf("unknown kind %q; use one of %s", p.Kind, strings.Join(kinds, ", "))
	}
	if p.Name, err = requiredString(params, "name"); err != nil {
		return p, err
	}
	if p.ExpectedID, err = optionalString(params, "expected_id"); err != nil {
		return p, err
	}
	if p.MaxWait, err = optionalSeconds(params, "max_wait_seconds"); err != nil {
		return p, err
	}
	return p, nil
}

// Execute runs the verify_artifact tool.
func (t *verifyArtifactTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := verifyArtifactTracer.Start(ctx, "verifyArtifactTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "verify_artifact"),
			attribute.String("kind", p.Kind),
			attribute.Bool("expected_id_set", p.ExpectedID != ""),
		),
	)
	defer span.End()

	res, err := t.engine.Verify(ctx, p.Name, resolve.Options{
		KindHint:   p.Kind,
		Strict:     true,
		MaxWait:    p.MaxWait,
		ExpectedID: p.ExpectedID,
	})
	if err != nil {
		return resolveFailure(span, err, start)
	}

	out := VerifyArtifactOutput{
		Outcome:    string(res.Outcome),
		Attempts:   res.Attempts,
		Candidates: newCandidateViews(res.Candidates),
	}
	if res.Match != nil {
		view := newArtifactView(*res.Match)
		out.Match = &view
	}
	out.Verified = res.Outcome == resolve.OutcomeMatched &&
		(p.ExpectedID == "" || (res.Match != nil && res.Match.SysID == p.ExpectedID))

	span.SetAttributes(attribute.Bool("verified", out.Verified))
	return &Result{
		Success:    true,
		Output:     out,
		OutputText: t.formatText(p, res, out.Verified),
		Duration:   time.Since(start),
	}, nil
}

func (t *verifyArtifactTool) formatText(p VerifyArtifactParams, res *resolve.Resolution, verified bool) string {
	var b strings.Builder
	switch {
	case verified:
		m := res.Match
		fmt.Fprintf(&b, "Verified: %s %q exists as %s/%s.", m.Kind, m.Name, m.Collection, m.SysID)
		if res.Attempts > 1 {
			fmt.Fprintf(&b, " Surfaced on retry attempt %d; the index was still catching up.", res.Attempts)
		}

	case res.Outcome == resolve.OutcomeMatched:
		// A record answered to the name, but not the one the caller pinned.
		m := res.Match
		fmt.Fprintf(&b, "Not verified: a %s named %q exists, but it is %s/%s — not the expected %s.",
			m.Kind, m.Name, m.Collection, m.SysID, p.ExpectedID)

	case res.Outcome == resolve.OutcomeAmbiguous:
		fmt.Fprintf(&b, "Not verified: %d records answer to %q and none stands out:",
			len(res.Candidates), p.Name)
		writeCandidateLines(&b, res.Candidates, 5)
		b.WriteString("\nRe-verify with expected_id to pin the record.")

	default:
		fmt.Fprintf(&b, "Not verified: no %s named %q surfaced after the extended retry schedule.", p.Kind, p.Name)
		b.WriteString(" If it was created moments ago the index may still be lagging;" +
			" retry with a larger max_wait_seconds before concluding it is missing.")
	}
	return b.String()
}
