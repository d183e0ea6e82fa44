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

	"github.com/AleutianAI/bering/services/bridge/resolve"
	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// delete_record Tool
// =============================================================================

var deleteRecordTracer = otel.Tracer("tools.delete_record")

// DeleteRecordParams contains the validated input parameters.
type DeleteRecordParams struct {
	// Collection is the platform collection (table) name.
	Collection string

	// SysID is the record to delete.
	SysID string
}

// DeleteRecordOutput contains the structured result.
type DeleteRecordOutput struct {
	// SysID and Collection identify the deleted record.
	SysID      string `json:"sys_id"`
	Collection string `json:"collection"`

	// Name is the deleted record's display name.
	Name string `json:"name"`

	// Archived reports whether a final snapshot was taken.
	Archived bool `json:"archived"`

	// CacheInvalidated reports whether cached resolutions pointing at this
	// record were evicted.
	CacheInvalidated bool `json:"cache_invalidated"`
}

// deleteRecordTool removes a record.
//
// # Description
//
// The record is read and archived before the delete, since the delete is
// the last chance to capture it. Afterwards every cached resolution that
// pointed at the record is evicted by id — any number of phrasings may map
// to it, and all of them must stop answering from cache.
//
// # Thread Safety
//
// Safe for concurrent use.
type deleteRecordTool struct {
	client   platform.Client
	engine   *resolve.Engine
	archiver *Archiver
	logger   *slog.Logger
}

// NewDeleteRecordTool creates the delete_record tool.
//
// # Inputs
//
//   - client: The platform client. Must not be nil.
//   - engine: The resolution engine, for cache eviction. Must not be nil.
//   - archiver: Pre-mutation archiver. Nil disables archiving.
//   - logger: Diagnostics logger. Nil gets slog.Default.
//
// # Outputs
//
//   - Tool: The delete_record tool implementation.
func NewDeleteRecordTool(client platform.Client, engine *resolve.Engine, archiver *Archiver, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &deleteRecordTool{client: client, engine: engine, archiver: archiver, logger: logger}
}

func (t *deleteRecordTool) Name() string {
	return "delete_record"
}

func (t *deleteRecordTool) Definition() Definition {
	return defineFunction(
		"delete_record",
		"Remove a record permanently. The current version is archived first (when archiving is "+
			"configured) and cached resolutions pointing at the record are evicted. "+
			"Resolve with strict mode before calling this; deletion has no undo on the platform.",
		map[string]ParamDef{
			"collection": {
				Type:        "string",
				Description: "Platform collection (table) name.",
			},
			"sys_id": {
				Type:        "string",
				Description: "The record's sys_id, confirmed via strict resolve or get_record.",
			},
		},
		[]string{"collection", "sys_id"},
	)
}

func (t *deleteRecordTool) parseParams(params map[string]any) (DeleteRecordParams, error) {
	var p DeleteRecordParams
	var err error
	if p.Collection, err = requiredString(params, "collection"); err != nil {
		return p, err
	}
	if p.SysID, err = requiredString(params, "sys_id"); err != nil {
		return p, err
	}
	return p, nil
}

// Execute runs the delete_record tool.
func (t *deleteRecordTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := deleteRecordTracer.Start(ctx, "deleteRecordTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "delete_record"),
			attribute.String("collection", p.Collection),
		),
	)
	defer span.End()

	current, err := t.client.GetByID(ctx, p.Collection, p.SysID)
	if err != nil {
		return recordFailure(span, err, p.Collection, p.SysID, start)
	}
	t.archiver.Archive(ctx, current)

	alreadyGone := false
	if err := t.client.Delete(ctx, p.Collection, p.SysID); err != nil {
		// A not-found after a successful read means someone else deleted it
		// in between; the desired end state holds either way.
		if !platform.IsNotFound(err) {
			return recordFailure(span, err, p.Collection, p.SysID, start)
		}
		alreadyGone = true
	}

	invalidated := true
	if err := t.engine.InvalidateRecord(ctx, p.SysID); err != nil {
		invalidated = false
		t.logger.Warn("cache eviction after delete failed",
			slog.String("sys_id", p.SysID),
			slog.String("error", err.Error()),
		)
	}

	env := current.Envelope()
	out := DeleteRecordOutput{
		SysID:            p.SysID,
		Collection:       p.Collection,
		Name:             env.Name,
		Archived:         t.archiver.Enabled(),
		CacheInvalidated: invalidated,
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Deleted %s/%s (%q).", p.Collection, p.SysID, env.Name)
	if alreadyGone {
		text.WriteString(" It had already been removed by someone else.")
	}
	if out.Archived {
		text.WriteString(" A final snapshot was archived.")
	}
	if !invalidated {
		text.WriteString(" Cache eviction failed; a stale resolution may linger until its entry expires.")
	}
	return &Result{
		Success:    true,
		Output:     out,
		OutputText: text.String(),
		Duration:   time.Since(start),
	}, nil
}
