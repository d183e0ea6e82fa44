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

	"github.com/sourcegraph/go-diff/diff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// apply_patch Tool
// =============================================================================

var applyPatchTracer = otel.Tracer("tools.apply_patch")

// ApplyPatchParams contains the validated input parameters.
type ApplyPatchParams struct {
	// Collection is the platform collection (table) name.
	Collection string

	// SysID is the record to patch.
	SysID string

	// Field is the text field the patch applies to.
	Field string

	// Patch is a unified diff against the field's current value.
	Patch string
}

// ApplyPatchOutput contains the structured result.
type ApplyPatchOutput struct {
	// SysID, Collection, and Field identify what was patched.
	SysID      string `json:"sys_id"`
	Collection string `json:"collection"`
	Field      string `json:"field"`

	// HunksApplied is the number of hunks in the patch.
	HunksApplied int `json:"hunks_applied"`

	// BytesBefore and BytesAfter are the field sizes around the patch.
	BytesBefore int `json:"bytes_before"`
	BytesAfter  int `json:"bytes_after"`

	// ScriptChecked reports whether the patched value was re-run through
	// the script syntax gate.
	ScriptChecked bool `json:"script_checked"`

	// Archived reports whether the previous version was snapshotted.
	Archived bool `json:"archived"`
}

// applyPatchTool applies a unified diff to one field of a record.
//
// # Description
//
// The surgical alternative to update_record for large scripts: instead of
// resending a 30 KB script to change three lines, the caller sends a diff
// against the value get_record returned. Context lines anchor the change,
// so the patch refuses to apply when the field moved underneath — which is
// exactly the protection overwriting lacks. Patched script fields go back
// through the syntax gate before the write.
//
// # Thread Safety
//
// Safe for concurrent use.
type applyPatchTool struct {
	client   platform.Client
	archiver *Archiver
	checker  *ScriptChecker
	logger   *slog.Logger
}

// NewApplyPatchTool creates the apply_patch tool.
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
//   - Tool: The apply_patch tool implementation.
func NewApplyPatchTool(client platform.Client, archiver *Archiver, checker *ScriptChecker, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &applyPatchTool{client: client, archiver: archiver, checker: checker, logger: logger}
}

func (t *applyPatchTool) Name() string {
	return "apply_patch"
}

func (t *applyPatchTool) Definition() Definition {
	return defineFunction(
		"apply_patch",
		"Apply a unified diff to one text field of a record. Use for targeted edits inside large "+
			"scripts: fetch the field with get_record, produce a diff against it, and send the diff "+
			"instead of the whole new value. The patch is rejected if its context no longer matches "+
			"the field, and patched script fields are syntax-checked before the write.",
		map[string]ParamDef{
			"collection": {
				Type:        "string",
				Description: "Platform collection (table) name.",
			},
			"sys_id": {
				Type:        "string",
				Description: "The record's sys_id.",
			},
			"field": {
				Type:        "string",
				Description: "The text field to patch, e.g. script or template.",
			},
			"patch": {
				Type:        "string",
				Description: "Unified diff against the field's current value, including the --- and +++ header lines and @@ hunk headers.",
			},
		},
		[]string{"collection", "sys_id", "field", "patch"},
	)
}

func (t *applyPatchTool) parseParams(params map[string]any) (ApplyPatchParams, error) {
	var p ApplyPatchParams
	var err error
	if p.Collection, err = requiredString(params, "collection"); err != nil {
		return p, err
	}
	if p.SysID, err = requiredString(params, "sys_id"); err != nil {
		return p, err
	}
	if p.Field, err = requiredString(params, "field"); err != nil {
		return p, err
	}
	if p.Patch, err = requiredString(params, "patch"); err != nil {
		return p, err
	}
	return p, nil
}

// Execute runs the apply_patch tool.
func (t *applyPatchTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	p, err := t.parseParams(params)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	ctx, span := applyPatchTracer.Start(ctx, "applyPatchTool.Execute",
		trace.WithAttributes(
			attribute.String("tool", "apply_patch"),
			attribute.String("collection", p.Collection),
			attribute.String("field", p.Field),
		),
	)
	defer span.End()

	fd, err := parsePatch(p.Patch)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	current, err := t.client.GetByID(ctx, p.Collection, p.SysID)
	if err != nil {
		return recordFailure(span, err, p.Collection, p.SysID, start)
	}
	fields := current.FieldMap()
	original, ok := fields[p.Field]
	if !ok {
		return &Result{
			Success: false,
			Error: fmt.Sprintf("record %s/%s has no field %q; its fields are: %s",
				p.Collection, p.SysID, p.Field, strings.Join(fieldNames(fields), ", ")),
			Duration: time.Since(start),
		}, nil
	}

	patched, err := applyHunks(original, fd.Hunks)
	if err != nil {
		return &Result{
			Success: false,
			Error: fmt.Sprintf("patch does not apply cleanly: %v. "+
				"Re-read the field with get_record and regenerate the diff; the value may have changed.", err),
			Duration: time.Since(start),
		}, nil
	}

	scriptChecked := false
	if isScriptField(p.Field) {
		scriptChecked = true
		issues, err := t.checker.Check(ctx, patched)
		if err != nil {
			if ctx.Err() != nil {
				span.RecordError(err)
				return nil, err
			}
			return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
		}
		if len(issues) > 0 {
			span.SetAttributes(attribute.Int("script_issues", len(issues)))
			return &Result{
				Success:  false,
				Output:   ScriptGateOutput{Field: p.Field, Issues: issues},
				Error:    "the patched script does not parse; " + formatIssues(p.Field, issues),
				Duration: time.Since(start),
			}, nil
		}
	}

	t.archiver.Archive(ctx, current)

	if _, err := t.client.Update(ctx, p.Collection, p.SysID, map[string]any{p.Field: patched}); err != nil {
		return recordFailure(span, err, p.Collection, p.SysID, start)
	}

	out := ApplyPatchOutput{
		SysID:         p.SysID,
		Collection:    p.Collection,
		Field:         p.Field,
		HunksApplied:  len(fd.Hunks),
		BytesBefore:   len(original),
		BytesAfter:    len(patched),
		ScriptChecked: scriptChecked,
		Archived:      t.archiver.Enabled(),
	}
	span.SetAttributes(attribute.Int("hunks", out.HunksApplied))

	var text strings.Builder
	fmt.Fprintf(&text, "Applied %d hunk(s) to %s on %s/%s (%d bytes before, %d after).",
		out.HunksApplied, p.Field, p.Collection, p.SysID, out.BytesBefore, out.BytesAfter)
	if scriptChecked {
		text.WriteString(" The patched script parses cleanly.")
	}
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

// =============================================================================
// Hunk Application
// =============================================================================

// parsePatch accepts a unified diff describing exactly one file.
func parsePatch(patch string) (*diff.FileDiff, error) {
	fds, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("not a valid unified diff (include the --- and +++ header lines): %v", err)
	}
	switch {
	case len(fds) == 0:
		return nil, fmt.Errorf("the patch contains no file diff")
	case len(fds) > 1:
		return nil, fmt.Errorf("the patch must describe exactly one file, got %d", len(fds))
	}
	if len(fds[0].Hunks) == 0 {
		return nil, fmt.Errorf("the patch contains no hunks")
	}
	return fds[0], nil
}

// applyHunks applies parsed hunks to original, strictly: every context and
// deletion line must match the original exactly, and hunks must arrive in
// ascending order. Any mismatch aborts with a line-numbered error rather
// than guessing, because the write target is a production record.
func applyHunks(original string, hunks []*diff.Hunk) (string, error) {
	srcLines := strings.Split(original, "\n")
	out := make([]string, 0, len(srcLines))
	cursor := 0

	for i, h := range hunks {
		start := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			// Pure insertion: OrigStartLine names the line the insertion
			// follows, so the hunk begins one line later.
			start = int(h.OrigStartLine)
		}
		if start < cursor {
			return "", fmt.Errorf("hunk %d: overlaps the previous hunk at line %d", i+1, h.OrigStartLine)
		}
		if start > len(srcLines) {
			return "", fmt.Errorf("hunk %d: start line %d is beyond the end of the field (%d lines)",
				i+1, h.OrigStartLine, len(srcLines))
		}
		out = append(out, srcLines[cursor:start]...)
		cursor = start

		bodyLines := strings.Split(string(h.Body), "\n")
		for j, line := range bodyLines {
			if line == "" {
				if j == len(bodyLines)-1 {
					break
				}
				// Some generators emit bare empty lines for empty context.
				line = " "
			}
			op, text := line[0], line[1:]
			switch op {
			case ' ':
				if cursor >= len(srcLines) || srcLines[cursor] != text {
					return "", fmt.Errorf("hunk %d: context mismatch at line %d", i+1, cursor+1)
				}
				out = append(out, text)
				cursor++
			case '-':
				if cursor >= len(srcLines) || srcLines[cursor] != text {
					return "", fmt.Errorf("hunk %d: deletion mismatch at line %d", i+1, cursor+1)
				}
				cursor++
			case '+':
				out = append(out, text)
			case '\\':
				// "\ No newline at end of file" is metadata, not content.
			default:
				return "", fmt.Errorf("hunk %d: malformed line %q", i+1, line)
			}
		}
	}

	out = append(out, srcLines[cursor:]...)
	return strings.Join(out, "\n"), nil
}
