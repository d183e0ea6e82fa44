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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/bering/services/bridge/resolve"
)

// =============================================================================
// invalidate_resolution Tool
// =============================================================================

var invalidateResolutionTracer = otel.Tracer("tools.invalidate_resolution")

// InvalidateResolutionParams contains the validated input parameters.
type InvalidateResolutionParams struct {
	// Query is the phrasing whose cached resolution should be dropped.
	Query string

	// Kind optionally pins the artifact kind, matching how the original
	// resolve was made.
	Kind string
}

// InvalidateResolutionOutput contains the structured result.
type InvalidateResolutionOutput struct {
	// Key is the cache key that was evicted.
	Key string `json:"key"`

	// Kind and Identifier show how the query classified.
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
}

// invalidateResolutionTool drops a cached query-to-record mapping.
//
// # Description
//
// The cache is advisory, so staleness is usually harmless — until the user
// says "no, not that one". This tool evicts the entry a phrasing maps to so
// the next resolve goes back to the platform. Eviction is keyed the same way
// storage is: pass the kind the original call pinned, if it pinned one.
//
// # Thread Safety
//
// Safe for concurrent use.
type invalidateResolutionTool struct {
	engine *resolve.Engine
	logger *slog.Logger
}

// NewInvalidateResolutionTool creates the invalidate_resolution tool.
//
// # Inputs
//
//   - engine: The resolution engine. Must not be nil.
//   - logger: Diagnostics logger. Nil gets slog.Default.
//
// # Outputs
//
//   - Tool: The invalidate_resolution tool implementation.
func NewInvalidateResolutionTool(engine *resolve.Engine, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &invalidateResolutionTool{engine: engine, logger: logger}
}

func (t *invalidateResolutionTool) Name() string {
	return "invalidate_resolution"
}

func (t *invalidateResolutionTool) Definition() Definition {
	return defineFunction(
		"invalidate_resolution",
		"Drop the cached resolution for a query phrasing, forcing the next resolve_artifact "+
			"call to ask the platform again. Use when a cached answer pointed at the wrong record, "+
			"or after the record it pointed at was renamed or removed outside this session.",
		map[string]ParamDef{
			"query": {
				Type:        "string",
				Description: "The phrasing whose cached resolution should be dropped.",
			},
			"kind": {
				Type:        "string",
				Description: "Kind the original resolve pinned, if any. Keys the eviction the same way the entry was stored.",
				Enum:        kindEnum(t.engine.KnownKinds()),
			},
		},
		[]string{"query"},
	)
}

func (t *invalidateResolutionTool) parseParams(params map[string]any) (InvalidateResolutionParams, error) {
	var p InvalidateResolutionParams
	var err error
	if p.Query, err = requiredString(params, "query"); err != nil {
		return p, err
	}
	if p.Kind, err = optionalString(params, "kind"); err != nil {
		return p, err
	}
	return p, nil
}

// Execute runs the invalidate_resolution tool.
func (t *invalidateResolutionTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := invalidateResolutionTracer.Start(ctx, "invalidateResolutionTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "invalidate_resolution"),
			attribute.String("kind", p.Kind),
		),
	)
	defer span.End()

	intent := t.engine.Classify(p.Query, p.Kind)
	key := resolve.CacheKey(intent.Kind, intent.Identifier)

	if err := t.engine.Invalidate(ctx, p.Query, p.Kind); err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := InvalidateResolutionOutput{
		Key:        key,
		Kind:       intent.Kind,
		Identifier: intent.Identifier,
	}
	return &Result{
		Success: true,
		Output:  out,
		OutputText: fmt.Sprintf("Dropped any cached resolution under key %q. "+
			"The next resolve for this phrasing will ask the platform.", key),
		Duration: time.Since(start),
	}, nil
}
