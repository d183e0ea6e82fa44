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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/bering/services/bridge/resolve"
	"github.com/AleutianAI/bering/services/platform"
)

var registryTracer = otel.Tracer("tools.registry")

// =============================================================================
// Registry
// =============================================================================

// Deps collects the collaborators the tool set is built from. Engine and
// Client are required; the rest have working zero values.
type Deps struct {
	// Engine is the artifact resolution engine. Required.
	Engine *resolve.Engine

	// Client talks to the remote record platform. Required.
	Client platform.Client

	// Archiver snapshots records before destructive writes. Nil disables
	// archiving; mutating tools proceed without it.
	Archiver *Archiver

	// Checker validates scripts before they are written. Nil gets a
	// default checker.
	Checker *ScriptChecker

	// Logger for dispatch diagnostics. Nil gets slog.Default.
	Logger *slog.Logger
}

// Registry holds the tool set and dispatches calls by name.
//
// # Description
//
// Registration order is presentation order: Definitions returns the schema
// list in the order tools were registered, which front-loads the read-only
// resolution tools before the mutating ones when the list is handed to a
// model provider.
//
// # Thread Safety
//
// The tool set is fixed at construction; Dispatch is safe for concurrent use.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry builds the full tool set.
//
// # Inputs
//
//   - deps: Collaborators. Engine and Client must not be nil.
//
// # Outputs
//
//   - *Registry: Ready to dispatch. Never nil on success.
//   - error: Non-nil when a required dependency is missing.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Engine == nil {
		return nil, errors.New("tools: resolve engine is required")
	}
	if deps.Client == nil {
		return nil, errors.New("tools: platform client is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checker := deps.Checker
	if checker == nil {
		checker = NewScriptChecker()
	}

	r := &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With(slog.String("component", "tool_registry")),
	}
	for _, t := range []Tool{
		NewResolveArtifactTool(deps.Engine, logger),
		NewVerifyArtifactTool(deps.Engine, logger),
		NewInvalidateResolutionTool(deps.Engine, logger),
		NewGetRecordTool(deps.Client, logger),
		NewListArtifactsTool(deps.Engine, logger),
		NewCreateRecordTool(deps.Client, checker, logger),
		NewUpdateRecordTool(deps.Client, deps.Archiver, checker, logger),
		NewDeleteRecordTool(deps.Client, deps.Engine, deps.Archiver, logger),
		NewCheckScriptTool(checker, logger),
		NewApplyPatchTool(deps.Client, deps.Archiver, checker, logger),
	} {
		r.register(t)
	}
	return r, nil
}

func (r *Registry) register(t Tool) {
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tools: duplicate registration of %q", name))
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

// Definitions returns every tool's schema, in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Dispatch runs one named tool call.
//
// # Description
//
// An unknown tool name or unparseable arguments produce a failure Result,
// not an error — those are conversation-level mistakes the caller can
// correct on the next turn. A non-nil error means the context ended or the
// tool hit an internal fault.
//
// Every dispatch gets a correlation id, stamped into the Result, the span,
// and the logs.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - name: Wire name of the tool to run.
//   - args: JSON object of arguments. Empty means no arguments.
//
// # Outputs
//
//   - *Result: The tool's result. Never nil when error is nil.
//   - error: Context or internal failure.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	start := time.Now()
	correlationID := uuid.NewString()

	tool, ok := r.tools[name]
	if !ok {
		RecordToolCall(name, "unknown", time.Since(start))
		r.logger.Warn("unknown tool requested",
			slog.String("tool", name),
			slog.String("correlation_id", correlationID),
		)
		return &Result{
			Success:       false,
			Error:         fmt.Sprintf("unknown tool %q; call one of %v", name, r.Names()),
			CorrelationID: correlationID,
			Duration:      time.Since(start),
		}, nil
	}

	params := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			RecordToolCall(name, "bad_args", time.Since(start))
			return &Result{
				Success:       false,
				Error:         "arguments must be a JSON object: " + err.Error(),
				CorrelationID: correlationID,
				Duration:      time.Since(start),
			}, nil
		}
	}

	ctx, span := registryTracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(
			attribute.String("tool", name),
			attribute.String("correlation_id", correlationID),
		),
	)
	defer span.End()

	res, err := tool.Execute(ctx, params)
	if err != nil {
		span.RecordError(err)
		RecordToolCall(name, "error", time.Since(start))
		r.logger.Error("tool call failed",
			slog.String("tool", name),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	res.CorrelationID = correlationID
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	status := "ok"
	if !res.Success {
		status = "rejected"
	}
	RecordToolCall(name, status, time.Since(start))
	r.logger.Info("tool call completed",
		slog.String("tool", name),
		slog.String("correlation_id", correlationID),
		slog.Bool("success", res.Success),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}
