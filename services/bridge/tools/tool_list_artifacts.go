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
// list_artifacts Tool
// =============================================================================

var listArtifactsTracer = otel.Tracer("tools.list_artifacts")

// ListArtifactsParams contains the validated input parameters.
type ListArtifactsParams struct {
	// Kind is the artifact kind to enumerate.
	Kind string

	// Limit caps results per collection. 0 means the engine default.
	Limit int
}

// ListArtifactsOutput contains the structured result.
type ListArtifactsOutput struct {
	// Kind is the enumerated kind.
	Kind string `json:"kind"`

	// Count is the number of artifacts returned.
	Count int `json:"count"`

	// Artifacts is the enumeration.
	Artifacts []CandidateView `json:"artifacts,omitempty"`
}

// listArtifactsTool enumerates a kind's artifacts.
//
// # Description
//
// The browsing entry point, for when the user does not know what exists:
// "what widgets do we have?". Enumeration bypasses ranking and the cache;
// the result is the platform's current view, truncated by limit.
//
// # Thread Safety
//
// Safe for concurrent use.
type listArtifactsTool struct {
	engine *resolve.Engine
	logger *slog.Logger
}

// NewListArtifactsTool creates the list_artifacts tool.
//
// # Inputs
//
//   - engine: The resolution engine. Must not be nil.
//   - logger: Diagnostics logger. Nil gets slog.Default.
//
// # Outputs
//
//   - Tool: The list_artifacts tool implementation.
func NewListArtifactsTool(engine *resolve.Engine, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &listArtifactsTool{engine: engine, logger: logger}
}

func (t *listArtifactsTool) Name() string {
	return "list_artifacts"
}

func (t *listArtifactsTool) Definition() Definition {
	return defineFunction(
		"list_artifacts",
		"Enumerate the artifacts of one kind. Use when the user wants to browse ('what widgets are there?') "+
			"or when resolve_artifact keeps missing and seeing the actual names would help. "+
			"Results reflect the platform's current search view and are capped by limit.",
		map[string]ParamDef{
			"kind": {
				Type:        "string",
				Description: "Artifact kind to enumerate.",
				Enum:        kindEnum(t.engine.KnownKinds()),
			},
			"limit": {
				Type:        "integer",
				Description: "Maximum results per collection.",
			},
		},
		[]string{"kind"},
	)
}

func (t *listArtifactsTool) parseParams(params map[string]any) (ListArtifactsParams, error) {
	var p ListArtifactsParams
	var err error
	if p.Kind, err = requiredString(params, "kind"); err != nil {
		return p, err
	}
	if kinds := t.engine.KnownKinds(); !slices.Contains(kinds, p.Kind) {
		return p, fmt.Errorf("unknown kind %q; use one of %s", p.Kind, strings.Join(kinds, ", "))
	}
	if p.Limit, err = optionalInt(params, "limit", 0); err != nil {
		return p, err
	}
	p.Limit = clampInt(p.Limit, 0, 100)
	return p, nil
}

// Execute runs the list_artifacts tool.
func (t *listArtifactsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := listArtifactsTracer.Start(ctx, "listArtifactsTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "list_artifacts"),
			attribute.String("kind", p.Kind),
			attribute.Int("limit", p.Limit),
		),
	)
	defer span.End()

	// The classifier reads this phrase as an enumeration request; the hint
	// pins the kind.
	res, err := t.engine.Resolve(ctx, "list all", resolve.Options{
		KindHint: p.Kind,
		Limit:    p.Limit,
	})
	if err != nil {
		return resolveFailure(span, err, start)
	}

	out := ListArtifactsOutput{
		Kind:      p.Kind,
		Count:     len(res.Candidates),
		Artifacts: newCandidateViews(res.Candidates),
	}
	span.SetAttributes(attribute.Int("count", out.Count))

	var text strings.Builder
	if out.Count == 0 {
		fmt.Fprintf(&text, "No %s artifacts found.", p.Kind)
	} else {
		fmt.Fprintf(&text, "Found %d %s artifact(s):", out.Count, p.Kind)
		writeCandidateLines(&text, res.Candidates, 20)
	}

	return &Result{
		Success:    true,
		Output:     out,
		OutputText: text.String(),
		Duration:   time.Since(start),
	}, nil
}
