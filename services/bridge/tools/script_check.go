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
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// =============================================================================
// Script Syntax Checking
// =============================================================================
//
// Script-bearing records execute their JavaScript server-side on the
// platform, where a syntax error surfaces as a runtime failure minutes or
// hours after the write that introduced it. The mutating tools run every
// script field through this checker first, so a broken script is rejected at
// the tool boundary with a line number instead of discovered in production.
//
// The check is syntax only. The platform's script engine predates most of
// modern JavaScript but tree-sitter's grammar is a superset of what it
// accepts, so a clean parse here does not guarantee the platform will run
// it — it only guarantees the platform will load it.

// maxScriptBytes bounds the source handed to the parser. Real platform
// scripts top out in the tens of kilobytes; anything near this limit is a
// data blob in the wrong field.
const maxScriptBytes = 1 << 20

// scriptFieldNames are the record fields that hold executable JavaScript.
var scriptFieldNames = map[string]bool{
	"script":        true,
	"client_script": true,
	"server_script": true,
	"script_plain":  true,
}

// isScriptField reports whether a field name carries executable script.
func isScriptField(field string) bool {
	return scriptFieldNames[field]
}

// ScriptIssue is one syntax problem, positioned for an editor.
type ScriptIssue struct {
	// Line is 1-based.
	Line int `json:"line"`

	// Column is 1-based.
	Column int `json:"column"`

	// Message describes the problem.
	Message string `json:"message"`

	// Snippet is the offending source region, truncated.
	Snippet string `json:"snippet,omitempty"`
}

// ScriptChecker parses JavaScript and reports syntax errors.
//
// # Thread Safety
//
// Safe for concurrent use; each Check builds its own parser.
type ScriptChecker struct {
	maxBytes int
}

// NewScriptChecker creates a checker with the default size limit.
func NewScriptChecker() *ScriptChecker {
	return &ScriptChecker{maxBytes: maxScriptBytes}
}

// Check parses source as JavaScript and returns its syntax issues.
//
// # Outputs
//
//   - []ScriptIssue: Nil when the source parses cleanly.
//   - error: Non-nil when the source could not be checked at all (too
//     large, or the parser failed). Never non-nil for mere syntax errors.
func (c *ScriptChecker) Check(ctx context.Context, source string) ([]ScriptIssue, error) {
	if len(source) > c.maxBytes {
		return nil, fmt.Errorf("script is %d bytes; the %d byte limit suggests this is not a script field", len(source), c.maxBytes)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	src := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil, nil
	}
	return collectSyntaxIssues(root, src, nil), nil
}

// collectSyntaxIssues walks the tree, descending only into subtrees that
// still carry an error flag. ERROR nodes and missing nodes terminate their
// branch: their children restate the same problem.
func collectSyntaxIssues(node *sitter.Node, src []byte, issues []ScriptIssue) []ScriptIssue {
	switch {
	case node.Type() == "ERROR":
		return append(issues, issueAt(node, src, "syntax error"))
	case node.IsMissing():
		return append(issues, issueAt(node, src, fmt.Sprintf("missing %s", node.Type())))
	case !node.HasError():
		return issues
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		issues = collectSyntaxIssues(node.Child(i), src, issues)
	}
	return issues
}

func issueAt(node *sitter.Node, src []byte, message string) ScriptIssue {
	point := node.StartPoint()
	return ScriptIssue{
		Line:    int(point.Row) + 1,
		Column:  int(point.Column) + 1,
		Message: message,
		Snippet: snippetFor(node, src),
	}
}

// snippetFor extracts the node's source text, flattened and truncated for a
// one-line message.
func snippetFor(node *sitter.Node, src []byte) string {
	start, end := int(node.StartByte()), int(node.EndByte())
	if start >= len(src) || start >= end {
		return ""
	}
	if end > len(src) {
		end = len(src)
	}
	s := strings.Join(strings.Fields(string(src[start:end])), " ")
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}

// =============================================================================
// Write-Path Script Gate
// =============================================================================

// ScriptGateOutput reports a rejected script field.
type ScriptGateOutput struct {
	// Field is the rejected field name.
	Field string `json:"field"`

	// Issues are the syntax problems found in it.
	Issues []ScriptIssue `json:"issues"`
}

// gateScriptFields syntax-checks every script-bearing field in a write
// payload, in name order. Returns the first field with problems, or ""
// when the payload is clean.
func gateScriptFields(ctx context.Context, checker *ScriptChecker, fields map[string]any) (string, []ScriptIssue, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		if isScriptField(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		src, ok := parseStringParam(fields[name])
		if !ok {
			return name, nil, fmt.Errorf("field %s must be a string", name)
		}
		issues, err := checker.Check(ctx, src)
		if err != nil {
			return name, nil, fmt.Errorf("field %s: %w", name, err)
		}
		if len(issues) > 0 {
			return name, issues, nil
		}
	}
	return "", nil, nil
}
