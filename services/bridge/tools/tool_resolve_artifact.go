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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/bering/services/bridge/resolve"
	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// resolve_artifact Tool
// =============================================================================

var resolveArtifactTracer = otel.Tracer("tools.resolve_artifact")

// ResolveArtifactParams contains the validated input parameters.
type ResolveArtifactParams struct {
	// Query is the request text naming the artifact.
	Query string

	// Kind optionally pins the artifact kind.
	Kind string

	// Strict rejects vague queries and surfaces ambiguity instead of
	// picking a winner.
	Strict bool

	// MaxWait bounds total retry wall time. 0 means the engine default.
	MaxWait time.Duration

	// Limit caps per-strategy results. 0 means the engine default.
	Limit int
}

// ResolveArtifactOutput contains the structured result.
type ResolveArtifactOutput struct {
	// Outcome is the resolution outcome: matched, listed, ambiguous,
	// not_found, or cached.
	Outcome string `json:"outcome"`

	// Ambiguous reports whether the top candidates scored within epsilon.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// FromCache reports whether the match came from the resolution cache.
	FromCache bool `json:"from_cache,omitempty"`

	// Attempts is the retry attempt that produced the result.
	Attempts int `json:"attempts,omitempty"`

	// Match is the winning artifact, when there is one.
	Match *ArtifactView `json:"match,omitempty"`

	// Candidates is the ranked candidate list.
	Candidates []CandidateView `json:"candidates,omitempty"`
}

// resolveArtifactTool maps loose requests to specific records.
//
// # Description
//
// The conversational entry point to the resolution engine: free text in,
// sys_id and collection out. Not-found and ambiguity are successful results
// with guidance attached, because the model's correct next move differs in
// each case and an opaque failure would hide which one applies.
//
// # Thread Safety
//
// Safe for concurrent use.
type resolveArtifactTool struct {
	engine *resolve.Engine
	logger *slog.Logger
}

// NewResolveArtifactTool creates the resolve_artifact tool.
//
// # Inputs
//
//   - engine: The resolution engine. Must not be nil.
//   - logger: Diagnostics logger. Nil gets slog.Default.
//
// # Outputs
//
//   - Tool: The resolve_artifact tool implementation.
func NewResolveArtifactTool(engine *resolve.Engine, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &resolveArtifactTool{engine: engine, logger: logger}
}

func (t *resolveArtifactTool) Name() string {
	return "resolve_artifact"
}

func (t *resolveArtifactTool) Definition() Definition {
	return defineFunction(
		"resolve_artifact",
		"Map a loosely-specified request to a specific record in the platform. "+
			"Use when the user names an artifact informally ('the payroll widget', 'that approval flow') "+
			"and you need its sys_id and collection before reading or changing it. "+
			"Retries through search index lag, so a just-created artifact usually resolves after a short wait. "+
			"Returns a single match, a ranked candidate list when the request is ambiguous, or not_found.",
		map[string]ParamDef{
			"query": {
				Type:        "string",
				Description: "The request text naming the artifact, as close to the user's words as possible.",
			},
			"kind": {
				Type:        "string",
				Description: "Artifact kind to pin, skipping keyword classification. Omit to classify from the query.",
				Enum:        kindEnum(t.engine.KnownKinds()),
			},
			"strict": {
				Type:        "boolean",
				Description: "Reject vague queries and surface ambiguity as a candidate list instead of silently picking a winner. Use before acting on the result.",
				Default:     false,
			},
			"max_wait_seconds": {
				Type:        "number",
				Description: "Upper bound on total wall time spent retrying through index lag.",
			},
			"limit": {
				Type:        "integer",
				Description: "Maximum results per search strategy.",
			},
		},
		[]string{"query"},
	)
}

func (t *resolveArtifactTool) parseParams(params map[string]any) (ResolveArtifactParams, error) {
	var p ResolveArtifactParams
	var err error
	if p.Query, err = requiredString(params, "query"); err != nil {
		return p, err
	}
	if p.Kind, err = optionalString(params, "kind"); err != nil {
		return p, err
	}
	if p.Strict, err = optionalBool(params, "strict", false); err != nil {
		return p, err
	}
	if p.MaxWait, err = optionalSeconds(params, "max_wait_seconds"); err != nil {
		return p, err
	}
	if p.Limit, err = optionalInt(params, "limit", 0); err != nil {
		return p, err
	}
	p.Limit = clampInt(p.Limit, 0, 100)
	return p, nil
}

// Execute runs the resolve_artifact tool.
func (t *resolveArtifactTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := resolveArtifactTracer.Start(ctx, "resolveArtifactTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "resolve_artifact"),
			attribute.String("kind", p.Kind),
			attribute.Bool("strict", p.Strict),
		),
	)
	defer span.End()

	res, err := t.engine.Resolve(ctx, p.Query, resolve.Options{
		KindHint: p.Kind,
		Strict:   p.Strict,
		MaxWait:  p.MaxWait,
		Limit:    p.Limit,
	})
	if err != nil {
		return resolveFailure(span, err, start)
	}

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	return &Result{
		Success:    true,
		Output:     buildResolveOutput(res),
		OutputText: formatResolutionText(res),
		Duration:   time.Since(start),
	}, nil
}

// =============================================================================
// Shared Resolution Rendering
// =============================================================================

// resolveFailure translates engine errors into tool results. Invalid intents
// and transport failures are conversation-repairable, so they come back as
// failure Results; anything else (context cancellation included) propagates.
func resolveFailure(span trace.Span, err error, start time.Time) (*Result, error) {
	switch {
	case errors.Is(err, resolve.ErrInvalidIntent):
		return &Result{
			Success:  false,
			Error:    err.Error() + "; name the artifact more specifically, or drop strict mode",
			Duration: time.Since(start),
		}, nil
	case platform.IsTransport(err):
		return &Result{
			Success:  false,
			Error:    "the record platform could not be reached, so absence was not established: " + err.Error(),
			Duration: time.Since(start),
		}, nil
	default:
		span.RecordError(err)
		return nil, err
	}
}

func buildResolveOutput(res *resolve.Resolution) ResolveArtifactOutput {
	out := ResolveArtifactOutput{
		Outcome:    string(res.Outcome),
		Ambiguous:  res.Ambiguous,
		FromCache:  res.FromCache,
		Attempts:   res.Attempts,
		Candidates: newCandidateViews(res.Candidates),
	}
	if res.Match != nil {
		view := newArtifactView(*res.Match)
		out.Match = &view
	}
	return out
}

// formatResolutionText renders a resolution for the conversation. Each
// outcome names the caller's sensible next move.
func formatResolutionText(res *resolve.Resolution) string {
	var b strings.Builder
	switch res.Outcome {
	case resolve.OutcomeMatched, resolve.OutcomeCached:
		m := res.Match
		fmt.Fprintf(&b, "Resolved %q to %s %q (%s/%s), score %.2f.",
			res.Query, m.Kind, m.Name, m.Collection, m.SysID, m.Score)
		if m.Summary != "" {
			fmt.Fprintf(&b, "\nSummary: %s", m.Summary)
		}
		if res.FromCache {
			b.WriteString("\nServed from cache; invalidate_resolution forces a fresh lookup.")
		}
		if res.Ambiguous {
			fmt.Fprintf(&b, "\n%d candidates scored close together and the best was picked; see candidates for the alternatives.",
				len(res.Candidates))
		}
		if res.Attempts > 1 {
			fmt.Fprintf(&b, "\nSurfaced on retry attempt %d; the search index was lagging.", res.Attempts)
		}

	case resolve.OutcomeAmbiguous:
		amb := &resolve.AmbiguousError{Candidates: res.Candidates}
		fmt.Fprintf(&b, "%s.\nPick one by sys_id, or add distinguishing words to the query:", amb.Error())
		writeCandidateLines(&b, res.Candidates, 5)

	case resolve.OutcomeListed:
		fmt.Fprintf(&b, "Found %d %s artifact(s):", len(res.Candidates), kindLabel(res.Intent.Kind))
		writeCandidateLines(&b, res.Candidates, 20)

	case resolve.OutcomeNotFound:
		fmt.Fprintf(&b, "No %s matching %q was found.", kindLabel(res.Intent.Kind), res.Query)
		b.WriteString(" The platform was reachable, so either the artifact does not exist" +
			" or its index entry has not appeared yet; verify_artifact waits longer.")
	}
	return b.String()
}

// writeCandidateLines appends a numbered candidate list, capped at limit.
func writeCandidateLines(b *strings.Builder, cands []resolve.Candidate, limit int) {
	for i, c := range cands {
		if i == limit {
			fmt.Fprintf(b, "\n  ... and %d more", len(cands)-i)
			return
		}
		env := c.Record.Envelope()
		fmt.Fprintf(b, "\n  %d. %q (%s/%s), score %.2f", i+1, env.Name, c.Collection, env.SysID, c.Score)
	}
}
