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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/bering/services/bridge/resolve"
	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// Parameter Parsing
// =============================================================================
//
// Tool parameters arrive as map[string]any decoded from model-produced JSON,
// so every numeric shows up as float64 and nothing can be trusted. These
// helpers normalize the common shapes; each tool's parseParams composes them
// into typed params with actionable error messages.

// parseStringParam extracts a string from a parameter value.
//
// Thread Safety: Safe for concurrent use.
func parseStringParam(value any) (string, bool) {
	if s, ok := value.(string); ok {
		return s, true
	}
	return "", false
}

// parseIntParam extracts an int from a parameter value.
//
// Thread Safety: Safe for concurrent use.
func parseIntParam(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// parseFloatParam extracts a float64 from a parameter value.
//
// Thread Safety: Safe for concurrent use.
func parseFloatParam(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// parseBoolParam extracts a bool from a parameter value.
//
// Thread Safety: Safe for concurrent use.
func parseBoolParam(value any) (bool, bool) {
	if b, ok := value.(bool); ok {
		return b, true
	}
	return false, false
}

// parseObjectParam extracts a JSON object from a parameter value.
//
// Thread Safety: Safe for concurrent use.
func parseObjectParam(value any) (map[string]any, bool) {
	if m, ok := value.(map[string]any); ok {
		return m, true
	}
	return nil, false
}

// requiredString pulls a mandatory non-empty string parameter.
func requiredString(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	s, ok := parseStringParam(raw)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return s, nil
}

// optionalString pulls an optional string parameter, "" when absent.
func optionalString(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", nil
	}
	s, ok := parseStringParam(raw)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// optionalInt pulls an optional integer parameter, def when absent.
func optionalInt(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	n, ok := parseIntParam(raw)
	if !ok {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// optionalBool pulls an optional boolean parameter, def when absent.
func optionalBool(params map[string]any, key string, def bool) (bool, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	b, ok := parseBoolParam(raw)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

// optionalSeconds pulls an optional duration parameter expressed in seconds.
func optionalSeconds(params map[string]any, key string) (time.Duration, error) {
	raw, ok := params[key]
	if !ok {
		return 0, nil
	}
	secs, ok := parseFloatParam(raw)
	if !ok {
		return 0, fmt.Errorf("%s must be a number of seconds", key)
	}
	if secs < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// clampInt bounds v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// kindEnum converts the catalog's kind vocabulary into a JSON Schema enum.
func kindEnum(kinds []string) []any {
	out := make([]any, len(kinds))
	for i, k := range kinds {
		out[i] = k
	}
	return out
}

// kindLabel renders a kind for prose, "artifact" when unconstrained.
func kindLabel(kind string) string {
	if kind == "" || kind == resolve.KindAny {
		return "artifact"
	}
	return kind
}

// =============================================================================
// Shared Output Shapes
// =============================================================================

// RecordView is the tool-facing rendering of one platform record.
type RecordView struct {
	SysID      string            `json:"sys_id"`
	Collection string            `json:"collection"`
	Name       string            `json:"name"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
	Active     bool              `json:"active"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// newRecordView converts a decoded record. Fields are included only when
// includeFields is set; they can carry multi-kilobyte script bodies.
func newRecordView(rec platform.Record, includeFields bool) RecordView {
	env := rec.Envelope()
	v := RecordView{
		SysID:      env.SysID,
		Collection: env.Collection,
		Name:       env.Name,
		Active:     env.Active,
	}
	if !env.UpdatedAt.IsZero() {
		v.UpdatedAt = env.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if includeFields {
		v.Fields = rec.FieldMap()
	}
	return v
}

// ArtifactView is the tool-facing rendering of a resolved artifact.
type ArtifactView struct {
	SysID      string  `json:"sys_id"`
	Collection string  `json:"collection"`
	Kind       string  `json:"kind"`
	Name       string  `json:"name"`
	Summary    string  `json:"summary,omitempty"`
	Score      float64 `json:"score"`
}

func newArtifactView(art resolve.ResolvedArtifact) ArtifactView {
	return ArtifactView{
		SysID:      art.SysID,
		Collection: art.Collection,
		Kind:       art.Kind,
		Name:       art.Name,
		Summary:    art.Summary,
		Score:      art.Score,
	}
}

// CandidateView is the tool-facing rendering of one ranked candidate.
type CandidateView struct {
	SysID      string  `json:"sys_id"`
	Collection string  `json:"collection"`
	Kind       string  `json:"kind"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Strategy   string  `json:"strategy,omitempty"`
}

func newCandidateView(c resolve.Candidate) CandidateView {
	env := c.Record.Envelope()
	return CandidateView{
		SysID:      env.SysID,
		Collection: c.Collection,
		Kind:       c.Kind,
		Name:       env.Name,
		Score:      c.Score,
		Strategy:   c.Strategy,
	}
}

func newCandidateViews(cands []resolve.Candidate) []CandidateView {
	views := make([]CandidateView, 0, len(cands))
	for _, c := range cands {
		views = append(views, newCandidateView(c))
	}
	return views
}

// =============================================================================
// Text Formatting
// =============================================================================

// formatIssues renders script issues for an error message, capped so a
// pathological script cannot flood the conversation.
func formatIssues(field string, issues []ScriptIssue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "field %q has %d syntax problem(s):", field, len(issues))
	shown := issues
	if len(shown) > 5 {
		shown = shown[:5]
	}
	for _, issue := range shown {
		fmt.Fprintf(&b, "\n  line %d, column %d: %s", issue.Line, issue.Column, issue.Message)
		if issue.Snippet != "" {
			fmt.Fprintf(&b, " (near %q)", issue.Snippet)
		}
	}
	if len(issues) > len(shown) {
		fmt.Fprintf(&b, "\n  ... and %d more", len(issues)-len(shown))
	}
	return b.String()
}

// fieldNames returns a record's field names, sorted, for "no such field"
// error messages.
func fieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fieldNamesOf returns a write payload's field names, sorted.
func fieldNamesOf(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
