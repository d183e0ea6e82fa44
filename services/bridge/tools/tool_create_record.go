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

	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// create_record Tool
// =============================================================================

var createRecordTracer = otel.Tracer("tools.create_record")

// CreateRecordParams contains the validated input parameters.
type CreateRecordParams struct {
	// Collection is the platform collection (table) name.
	Collection string

	// Fields is the record body.
	Fields map[string]any
}

// createRecordTool inserts a new record.
//
// # Description
//
// Script-bearing fields are syntax-checked before the insert; a broken
// script is rejected here with a line number rather than discovered when
// the platform executes it. The created record is not immediately findable
// by search — the result text says so, because callers reliably forget.
//
// # Thread Safety
//
// Safe for concurrent use.
type createRecordTool struct {
	client  platform.Client
	checker *ScriptChecker
	logger  *slog.Logger
}

// NewCreateRecordTool creates the create_record tool.
//
// # Inputs
//
//   - client: The platform client. Must not be nil.
//   - checker: Script syntax checker. Must not be nil.
//   - logger: Diagnostics logger. Nil gets slog.Default.
//
// # Outputs
//
//   - Tool: The create_record tool implementation.
func NewCreateRecordTool(client platform.Client, checker *ScriptChecker, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &createRecordTool{client: client, checker: checker, logger: logger}
}

func (t *createRecordTool) Name() string {
	return "create_record"
}

func (t *createRecordTool) Definition() Definition {
	return defineFunction(
		"create_record",
		"Insert a new record into a collection. Script fields (script, client_script, server_script) "+
			"are syntax-checked first and the insert is rejected if they do not parse. "+
			"A new record is visible to get_record immediately but to search only after the index "+
			"catches up; use verify_artifact to confirm it is findable.",
		map[string]ParamDef{
			"collection": {
				Type:        "string",
				Description: "Platform collection (table) name, e.g. sp_widget.",
			},
			"fields": {
				Type:        "object",
				Description: "The record body as field name to value. Include a name (or title) field so the record can be resolved later.",
			},
		},
		[]string{"collection", "fields"},
	)
}

func (t *createRecordTool) parseParams(params map[string]any) (CreateRecordParams, error) {
	var p CreateRecordParams
	var err error
	if p.Collection, err = requiredString(params, "collection"); err != nil {
		return p, err
	}
	raw, ok := params["fields"]
	if !ok {
		return p, fmt.Errorf("fields parameter is required")
	}
	if p.Fields, ok = parseObjectParam(raw); !ok {
		return p, fmt.Errorf("fields must be a JSON object")
	}
	if len(p.Fields) == 0 {
		return p, fmt.Errorf("fields must not be empty")
	}
	return p, nil
}

// Execute runs the create_record tool.
func (t *createRecordTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := createRecordTracer.Start(ctx, "createRecordTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "create_record"),
			attribute.String("collection", p.Collection),
			attribute.Int("fields", len(p.Fields)),
		),
	)
	defer span.End()

	field, issues, err := gateScriptFields(ctx, t.checker, p.Fields)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}
	if field != "" {
		span.SetAttributes(attribute.String("rejected_field", field))
		return &Result{
			Success:  false,
			Output:   ScriptGateOutput{Field: field, Issues: issues},
			Error:    formatIssues(field, issues),
			Duration: time.Since(start),
		}, nil
	}

	rec, err := t.client.Create(ctx, p.Collection, p.Fields)
	if err != nil {
		if platform.IsTransport(err) {
			return &Result{
				Success:  false,
				Error:    "the record platform refused or could not be reached; nothing was created: " + err.Error(),
				Duration: time.Since(start),
			}, nil
		}
		span.RecordError(err)
		return nil, err
	}

	env := rec.Envelope()
	span.SetAttributes(attribute.String("sys_id", env.SysID))
	return &Result{
		Success: true,
		Output:  newRecordView(rec, false),
		OutputText: fmt.Sprintf("Created %s record %q (sys_id %s). "+
			"Search will find it once the index catches up; verify_artifact confirms when it is resolvable.",
			p.Collection, env.Name, env.SysID),
		Duration: time.Since(start),
	}, nil
}
