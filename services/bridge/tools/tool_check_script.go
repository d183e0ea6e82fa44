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
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// check_script Tool
// =============================================================================

var checkScriptTracer = otel.Tracer("tools.check_script")

// CheckScriptParams contains the validated input parameters.
type CheckScriptParams struct {
	// Script is the JavaScript source to check.
	Script string
}

// CheckScriptOutput contains the structured result.
type CheckScriptOutput struct {
	// Valid reports whether the script parsed cleanly.
	Valid bool `json:"valid"`

	// Issues are the syntax problems found, positioned by line and column.
	Issues []ScriptIssue `json:"issues,omitempty"`
}

// checkScriptTool syntax-checks JavaScript without touching any record.
//
// # Description
//
// The standalone version of the gate the mutating tools run implicitly.
// A script with problems is still a successful check — Success answers
// "did the check run", Valid answers "did the script parse".
//
// # Thread Safety
//
// Safe for concurrent use.
type checkScriptTool struct {
	checker *ScriptChecker
	logger  *slog.Logger
}

// NewCheckScriptTool creates the check_script tool.
//
// # Inputs
//
//   - checker: Script syntax checker. Must not be nil.
//   - logger: Diagnostics logger. Nil gets slog.Default.
//
// # Outputs
//
//   - Tool: The check_script tool implementation.
func NewCheckScriptTool(checker *ScriptChecker, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &checkScriptTool{checker: checker, logger: logger}
}

func (t *checkScriptTool) Name() string {
	return "check_script"
}

func (t *checkScriptTool) Definition() Definition {
	return defineFunction(
		"check_script",
		"Syntax-check a JavaScript script without writing anything. Use to validate a script "+
			"you are drafting before create_record or update_record, or to locate the error in a "+
			"script the platform is rejecting. Reports each problem with line and column.",
		map[string]ParamDef{
			"script": {
				Type:        "string",
				Description: "The JavaScript source to check.",
			},
		},
		[]string{"script"},
	)
}

func (t *checkScriptTool) parseParams(params map[string]any) (CheckScriptParams, error) {
	var p CheckScriptParams
	raw, ok := params["script"]
	if !ok {
		return p, fmt.Errorf("script parameter is required")
	}
	s, ok := parseStringParam(raw)
	if !ok {
		return p, fmt.Errorf("script must be a string")
	}
	p.Script = s
	return p, nil
}

// Execute runs the check_script tool.
func (t *checkScriptTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := checkScriptTracer.Start(ctx, "checkScriptTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "check_script"),
			attribute.Int("script_bytes", len(p.Script)),
		),
	)
	defer span.End()

	issues, err := t.checker.Check(ctx, p.Script)
	if err != nil {
		if ctx.Err() != nil {
			span.RecordError(err)
			return nil, err
		}
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	out := CheckScriptOutput{Valid: len(issues) == 0, Issues: issues}
	span.SetAttributes(attribute.Bool("valid", out.Valid), attribute.Int("issues", len(issues)))

	var text strings.Builder
	if out.Valid {
		text.WriteString("The script parses cleanly. No syntax errors found.")
	} else {
		text.WriteString(formatIssues("script", issues))
	}
	return &Result{
		Success:    true,
		Output:     out,
		OutputText: text.String(),
		Duration:   time.Since(start),
	}, nil
}
