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

	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// update_record Tool
// =============================================================================

var updateRecordTracer = otel.Tracer("tools.update_record")

// UpdateRecordParams contains the validated input parameters.
type UpdateRecordParams struct {
	// Collection is the platform collection (table) name.
	Collection string

	// SysID is the record to update.
	SysID string

	// Fields holds the fields to change.
	Fields map[string]any
}

// UpdateRecordOutput contains the structured result.
type UpdateRecordOutput struct {
	// Record is the platform's post-update copy.
	Record RecordView `json:"record"`

	// UpdatedFields lists the field names that were written.
	UpdatedFields []string `json:"updated_fields"`

	// Archived reports whether the previous version was snapshotted.
	Archived bool `json:"archived"`
}

// updateRecordTool patches fields on an existing record.
//
// # Description
//
// Runs the full write discipline: the new scripts must parse, the current
// record is fetched and snapshotted to the archive, and only then is the
// patch applied. The pre-read also turns "update a ghost" into a clean
// not-found before anything is written.
//
// # Thread Safety
//
// Safe for concurrent use.
type updateRecordTool struct {
	client   platform.Client
	archiver *Archiver
	checker  *ScriptChecker
	logger   *slog.Logger
}

// NewUpdateRecordTool creates the update_record tool.
//
// # Inputs
//
//   - client: The platform client. Must not be nil.
//   - archiver: Pre-mutation archiver. Nil disables archiving.
//   - checker: Script syntax checker. Must not be nil.
//   - logger: Diagnostics logger. Nil gets slog.Default.
//
// # Outputs
//
//   - Tool: The update_record tool implementation.
func NewUpdateRecordTool(client platform.Client, archiver *Archiver, checker *ScriptChecker, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &updateRecordTool{client: client, archiver: archiver, checker: checker, logger: logger}
}

func (t *updateRecordTool) Name() string {
	return "update_record"
}

func (t *updateRecordTool) Definition() Definition {
	return defineFunction(
		"update_record",
		"Change fields on an existing record. Script fields are syntax-checked first, and the "+
			"current version is archived before the write so a bad change can be recovered. "+
			"For surgical edits inside a large script, prefer apply_patch over rewriting the whole field.",
		map[string]ParamDef{
			"collection": {
				Type:        "string",
				Description: "Platform collection (table) name.",
			},
			"sys_id": {
				Type:        "string",
				Description: "The record's sys_id, from resolve_artifact or get_record.",
			},
			"fields": {
				Type:        "object",
				Description: "Field name to new value. Only the named fields change.",
			},
		},
		[]string{"collection", "sys_id", "fields"},
	)
}

func (t *updateRecordTool) parseParams(params map[string]any) (UpdateRecordParams, error) {
	var p UpdateRecordParams
	var err error
	if p.Collection, err = requiredString(params, "collection"); err != nil {
		return p, err
	}
	if p.SysID, err = requiredString(params, "sys_id"); err != nil {
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

// Execute runs the update_record tool.
func (t *updateRecordTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := updateRecordTracer.Start(ctx, "updateRecordTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "update_record"),
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

	current, err := t.client.GetByID(ctx, p.Collection, p.SysID)
	if err != nil {
		return recordFailure(span, err, p.Collection, p.SysID, start)
	}
	t.archiver.Archive(ctx, current)

	updated, err := t.client.Update(ctx, p.Collection, p.SysID, p.Fields)
	if err != nil {
		return recordFailure(span, err, p.Collection, p.SysID, start)
	}

	names := fieldNamesOf(p.Fields)
	out := UpdateRecordOutput{
		Record:        newRecordView(updated, false),
		UpdatedFields: names,
		Archived:      t.archiver.Enabled(),
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Updated %s on %s/%s (%q).",
		strings.Join(names, ", "), p.Collection, p.SysID, updated.Envelope().Name)
	if out.Archived {
		text.WriteString(" The previous version was archived first.")
	}
	return &Result{
		Success:    true,
		Output:     out,
		OutputText: text.String(),
		Duration:   time.Since(start),
	}, nil
}
