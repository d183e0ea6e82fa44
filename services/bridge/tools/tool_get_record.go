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
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// get_record Tool
// =============================================================================

var getRecordTracer = otel.Tracer("tools.get_record")

// GetRecordParams contains the validated input parameters.
type GetRecordParams struct {
	// Collection is the platform collection (table) name.
	Collection string

	// SysID is the record id.
	SysID string

	// IncludeFields controls whether the full field map is returned.
	IncludeFields bool
}

// getRecordTool fetches one record by id.
//
// # Description
//
// The follow-up to a resolution: once resolve_artifact has produced a
// collection and sys_id, this tool fetches the record body, scripts
// included. Id lookups are immediately consistent, so no retry schedule
// applies — a not-found here means the record genuinely is not there.
//
// # Thread Safety
//
// Safe for concurrent use.
type getRecordTool struct {
	client platform.Client
	logger *slog.Logger
}

// NewGetRecordTool creates the get_record tool.
//
// # Inputs
//
//   - client: The platform client. Must not be nil.
//   - logger: Diagnostics logger. Nil gets slog.Default.
//
// # Outputs
//
//   - Tool: The get_record tool implementation.
func NewGetRecordTool(client platform.Client, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &getRecordTool{client: client, logger: logger}
}

func (t *getRecordTool) Name() string {
	return "get_record"
}

func (t *getRecordTool) Definition() Definition {
	return defineFunction(
		"get_record",
		"Fetch one record by collection and sys_id, including its full field map and any script bodies. "+
			"Use after resolve_artifact to read an artifact's contents, or to re-read a record before "+
			"patching it. Id lookups see writes immediately; they are not subject to search index lag.",
		map[string]ParamDef{
			"collection": {
				Type:        "string",
				Description: "Platform collection (table) name, e.g. sp_widget.",
			},
			"sys_id": {
				Type:        "string",
				Description: "The record's sys_id.",
			},
			"include_fields": {
				Type:        "boolean",
				Description: "Include the full field map. Disable for a lightweight existence check.",
				Default:     true,
			},
		},
		[]string{"collection", "sys_id"},
	)
}

func (t *getRecordTool) parseParams(params map[string]any) (GetRecordParams, error) {
	var p GetRecordParams
	var err error
	if p.Collection, err = requiredString(params, "collection"); err != nil {
		return p, err
	}
	if p.SysID, err = requiredString(params, "sys_id"); err != nil {
		return p, err
	}
	if p.IncludeFields, err = optionalBool(params, "include_fields", true); err != nil {
		return p, err
	}
	return p, nil
}

// Execute runs the get_record tool.
func (t *getRecordTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := getRecordTracer.Start(ctx, "getRecordTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "get_record"),
			attribute.String("collection", p.Collection),
		),
	)
	defer span.End()

	rec, err := t.client.GetByID(ctx, p.Collection, p.SysID)
	if err != nil {
		return recordFailure(span, err, p.Collection, p.SysID, start)
	}

	return &Result{
		Success:    true,
		Output:     newRecordView(rec, p.IncludeFields),
		OutputText: formatRecordText(rec),
		Duration:   time.Since(start),
	}, nil
}

// =============================================================================
// Shared Record Rendering
// =============================================================================

// recordFailure translates platform errors from an id-addressed call into
// tool results. Not-found and transport problems are stated distinctly so
// the caller never confuses "gone" with "unreachable".
func recordFailure(span trace.Span, err error, collection, sysID string, start time.Time) (*Result, error) {
	switch {
	case platform.IsNotFound(err):
		return &Result{
			Success: false,
			Error: fmt.Sprintf("no record %s in %s; it may have been deleted, or the sys_id belongs to another collection",
				sysID, collection),
			Duration: time.Since(start),
		}, nil
	case platform.IsTransport(err):
		return &Result{
			Success:  false,
			Error:    "the record platform could not be reached: " + err.Error(),
			Duration: time.Since(start),
		}, nil
	default:
		span.RecordError(err)
		return nil, err
	}
}

// formatRecordText renders a record header plus a field inventory. Field
// values stay out of the text — script bodies belong in Output, not prose.
func formatRecordText(rec platform.Record) string {
	env := rec.Envelope()
	fields := rec.FieldMap()

	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s — %q", env.Collection, env.SysID, env.Name)
	fmt.Fprintf(&b, "\nActive: %t", env.Active)
	if !env.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "  Updated: %s", env.UpdatedAt.UTC().Format(time.RFC3339))
	}

	var scripted []string
	for name := range fields {
		if isScriptField(name) && strings.TrimSpace(fields[name]) != "" {
			scripted = append(scripted, name)
		}
	}
	sort.Strings(scripted)

	fmt.Fprintf(&b, "\n%d field(s)", len(fields))
	if len(scripted) > 0 {
		fmt.Fprintf(&b, "; script-bearing: %s", strings.Join(scripted, ", "))
	}
	if desc := strings.TrimSpace(fields["description"]); desc != "" {
		if len(desc) > 200 {
			desc = desc[:200] + "..."
		}
		fmt.Fprintf(&b, "\nDescription: %s", desc)
	}
	return b.String()
}
