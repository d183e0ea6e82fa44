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
	"strings"
	"testing"

	"github.com/AleutianAI/bering/services/bridge/resolve"
	"github.com/AleutianAI/bering/services/platform"
)

// tinyWait keeps not-found paths from walking the full retry schedule.
const tinyWait = 1e-9

// =============================================================================
// resolve_artifact Tests
// =============================================================================

func TestResolveArtifactTool_MatchesRecord(t *testing.T) {
	fake := &fakePlatform{
		searchFn: func(_ context.Context, coll, _ string, _ int) ([]platform.Record, error) {
			return []platform.Record{toolRecord(coll, "w1", "Incident Dashboard", nil)}, nil
		},
	}
	eng := newTestEngine(t, fake)
	tool := NewResolveArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"query": "incident dashboard widget",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}

	out, ok := res.Output.(ResolveArtifactOutput)
	if !ok {
		t.Fatalf("unexpected output type %T", res.Output)
	}
	if out.Outcome != string(resolve.OutcomeMatched) {
		t.Errorf("expected matched, got %s", out.Outcome)
	}
	if out.Match == nil || out.Match.SysID != "w1" || out.Match.Collection != "sp_widget" {
		t.Errorf("unexpected match: %+v", out.Match)
	}
	if !strings.Contains(res.OutputText, "Resolved") || !strings.Contains(res.OutputText, "sp_widget/w1") {
		t.Errorf("unexpected text: %q", res.OutputText)
	}
}

func TestResolveArtifactTool_SecondCallServedFromCache(t *testing.T) {
	fake := &fakePlatform{
		searchFn: func(_ context.Context, coll, _ string, _ int) ([]platform.Record, error) {
			return []platform.Record{toolRecord(coll, "w1", "Incident Dashboard", nil)}, nil
		},
	}
	eng := newTestEngine(t, fake)
	tool := NewResolveArtifactTool(eng, discardLogger())
	ctx := context.Background()

	if res, err := tool.Execute(ctx, map[string]any{"query": "incident dashboard widget"}); err != nil || !res.Success {
		t.Fatalf("first resolve: err=%v success=%v", err, res != nil && res.Success)
	}
	res, err := tool.Execute(ctx, map[string]any{"query": "incident dashboard widget"})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	out := res.Output.(ResolveArtifactOutput)
	if !out.FromCache {
		t.Error("expected the second call served from cache")
	}
	if !strings.Contains(res.OutputText, "Served from cache") {
		t.Errorf("unexpected text: %q", res.OutputText)
	}
}

func TestResolveArtifactTool_MissingQuery(t *testing.T) {
	eng := newTestEngine(t, &fakePlatform{})
	tool := NewResolveArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result")
	}
	if !strings.Contains(res.Error, "query parameter is required") {
		t.Errorf("unexpected error: %q", res.Error)
	}
}

func TestResolveArtifactTool_StrictUnknownKind(t *testing.T) {
	eng := newTestEngine(t, &fakePlatform{})
	tool := NewResolveArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"query":  "the payroll gizmo",
		"kind":   "gizmo",
		"strict": true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result for an unknown kind in strict mode")
	}
	if !strings.Contains(res.Error, "drop strict mode") {
		t.Errorf("unexpected error: %q", res.Error)
	}
}

func TestResolveArtifactTool_StrictAmbiguous(t *testing.T) {
	fake := &fakePlatform{
		searchFn: func(_ context.Context, coll, _ string, _ int) ([]platform.Record, error) {
			return []platform.Record{
				toolRecord(coll, "f1", "Approval Flow", nil),
				toolRecord(coll, "f2", "Approval Flow", nil),
			}, nil
		},
	}
	eng := newTestEngine(t, fake)
	tool := NewResolveArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"query":  "approval flow",
		"strict": true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// Ambiguity is an answer, not a tool failure.
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}

	out := res.Output.(ResolveArtifactOutput)
	if out.Outcome != string(resolve.OutcomeAmbiguous) {
		t.Errorf("expected ambiguous, got %s", out.Outcome)
	}
	if out.Match != nil {
		t.Errorf("strict ambiguity must not pick a winner, got %+v", out.Match)
	}
	if len(out.Candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(out.Candidates))
	}
	if !containsAll(res.OutputText, "scored within epsilon", "Pick one") {
		t.Errorf("unexpected text: %q", res.OutputText)
	}
}

func TestResolveArtifactTool_NotFound(t *testing.T) {
	eng := newTestEngine(t, &fakePlatform{})
	tool := NewResolveArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"query":            "nonexistent gadget widget",
		"max_wait_seconds": tinyWait,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	out := res.Output.(ResolveArtifactOutput)
	if out.Outcome != string(resolve.OutcomeNotFound) {
		t.Errorf("expected not_found, got %s", out.Outcome)
	}
	if !containsAll(res.OutputText, "No widget", "verify_artifact") {
		t.Errorf("unexpected text: %q", res.OutputText)
	}
}

func TestResolveArtifactTool_TransportFailure(t *testing.T) {
	fake := &fakePlatform{
		searchFn: func(_ context.Context, coll, _ string, _ int) ([]platform.Record, error) {
			return nil, &platform.TransportError{Op: "search", Collection: coll, StatusCode: 503, Err: fmt.Errorf("service unavailable")}
		},
	}
	eng := newTestEngine(t, fake)
	tool := NewResolveArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"query":            "incident dashboard widget",
		"max_wait_seconds": tinyWait,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result when the platform is unreachable")
	}
	if !strings.Contains(res.Error, "absence was not established") {
		t.Errorf("unexpected error: %q", res.Error)
	}
}

// =============================================================================
// verify_artifact Tests
// =============================================================================

func TestVerifyArtifactTool_ConfirmsByExpectedID(t *testing.T) {
	fake := &fakePlatform{
		getFn: func(_ context.Context, coll, id string) (platform.Record, error) {
			if coll == "sp_widget" && id == "w9" {
				return toolRecord(coll, id, "Holiday Calendar", nil), nil
			}
			return nil, fmt.Errorf("get %s/%s: %w", coll, id, platform.ErrRecordNotFound)
		},
	}
	eng := newTestEngine(t, fake)
	tool := NewVerifyArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"kind":        "widget",
		"name":        "Holiday Calendar",
		"expected_id": "w9",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	out := res.Output.(VerifyArtifactOutput)
	if !out.Verified {
		t.Errorf("expected verified, got %+v", out)
	}
	if out.Match == nil || out.Match.SysID != "w9" {
		t.Errorf("unexpected match: %+v", out.Match)
	}
	if !containsAll(res.OutputText, "Verified:", "sp_widget/w9") {
		t.Errorf("unexpected text: %q", res.OutputText)
	}
}

func TestVerifyArtifactTool_MismatchedID(t *testing.T) {
	fake := &fakePlatform{
		searchFn: func(_ context.Context, coll, _ string, _ int) ([]platform.Record, error) {
			return []platform.Record{toolRecord(coll, "w2", "Holiday Calendar", nil)}, nil
		},
	}
	eng := newTestEngine(t, fake)
	tool := NewVerifyArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"kind":        "widget",
		"name":        "Holiday Calendar",
		"expected_id": "w9",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	out := res.Output.(VerifyArtifactOutput)
	if out.Verified {
		t.Error("a different record answering to the name must not verify")
	}
	if out.Match == nil || out.Match.SysID != "w2" {
		t.Errorf("unexpected match: %+v", out.Match)
	}
	if !containsAll(res.OutputText, "Not verified", "not the expected w9") {
		t.Errorf("unexpected text: %q", res.OutputText)
	}
}

func TestVerifyArtifactTool_UnknownKind(t *testing.T) {
	eng := newTestEngine(t, &fakePlatform{})
	tool := NewVerifyArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"kind": "sandwich",
		"name": "Reuben",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result for an unknown kind")
	}
	if !strings.Contains(res.Error, `unknown kind "sandwich"`) {
		t.Errorf("unexpected error: %q", res.Error)
	}
}

func TestVerifyArtifactTool_NotFound(t *testing.T) {
	eng := newTestEngine(t, &fakePlatform{})
	tool := NewVerifyArtifactTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"kind":             "widget",
		"name":             "Ghost Widget",
		"max_wait_seconds": tinyWait,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	out := res.Output.(VerifyArtifactOutput)
	if out.Verified {
		t.Error("nothing surfaced, so nothing can be verified")
	}
	if !containsAll(res.OutputText, "Not verified", "max_wait_seconds") {
		t.Errorf("unexpected text: %q", res.OutputText)
	}
}

// =============================================================================
// list_artifacts Tests
// =============================================================================

func TestListArtifactsTool_ListsKind(t *testing.T) {
	fake := &fakePlatform{
		searchFn: func(_ context.Context, coll, _ string, _ int) ([]platform.Record, error) {
			return []platform.Record{
				toolRecord(coll, "w1", "Alpha Widget", nil),
				toolRecord(coll, "w2", "Beta Widget", nil),
				toolRecord(coll, "w3", "Gamma Widget", nil),
			}, nil
		},
	}
	eng := newTestEngine(t, fake)
	tool := NewListArtifactsTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{"kind": "widget"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	out := res.Output.(ListArtifactsOutput)
	if out.Kind != "widget" || out.Count != 3 || len(out.Artifacts) != 3 {
		t.Errorf("unexpected output: %+v", out)
	}
	if !containsAll(res.OutputText, "Found 3 widget artifact(s)", "Alpha Widget") {
		t.Errorf("unexpected text: %q", res.OutputText)
	}
}

func TestListArtifactsTool_UnknownKind(t *testing.T) {
	eng := newTestEngine(t, &fakePlatform{})
	tool := NewListArtifactsTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{"kind": "gadget"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result for an unknown kind")
	}
	if !strings.Contains(res.Error, `unknown kind "gadget"`) {
		t.Errorf("unexpected error: %q", res.Error)
	}
}

// =============================================================================
// invalidate_resolution Tests
// =============================================================================

func TestInvalidateResolutionTool_EvictsCachedEntry(t *testing.T) {
	fake := &fakePlatform{
		searchFn: func(_ context.Context, coll, _ string, _ int) ([]platform.Record, error) {
			return []platform.Record{toolRecord(coll, "w1", "Incident Dashboard", nil)}, nil
		},
	}
	eng := newTestEngine(t, fake)
	ctx := context.Background()

	primed, err := eng.Resolve(ctx, "incident dashboard widget", resolve.Options{})
	if err != nil {
		t.Fatalf("prime resolve: %v", err)
	}
	if primed.Outcome != resolve.OutcomeMatched {
		t.Fatalf("expected a match to prime with, got %s", primed.Outcome)
	}
	mem := eng.Cache().(*resolve.MemoryCache)
	if mem.Len() != 1 {
		t.Fatalf("expected 1 cached resolution, got %d", mem.Len())
	}

	tool := NewInvalidateResolutionTool(eng, discardLogger())
	res, err := tool.Execute(ctx, map[string]any{"query": "incident dashboard widget"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}

	out := res.Output.(InvalidateResolutionOutput)
	if out.Kind != "widget" {
		t.Errorf("expected kind widget, got %q", out.Kind)
	}
	if out.Key != resolve.CacheKey(out.Kind, out.Identifier) {
		t.Errorf("key %q does not match kind %q and identifier %q", out.Key, out.Kind, out.Identifier)
	}
	if mem.Len() != 0 {
		t.Errorf("expected the cached entry dropped, %d remain", mem.Len())
	}
	if !strings.Contains(res.OutputText, "Dropped") {
		t.Errorf("unexpected text: %q", res.OutputText)
	}
}

func TestInvalidateResolutionTool_RequiresQuery(t *testing.T) {
	eng := newTestEngine(t, &fakePlatform{})
	tool := NewInvalidateResolutionTool(eng, discardLogger())

	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result")
	}
	if !strings.Contains(res.Error, "query parameter is required") {
		t.Errorf("unexpected error: %q", res.Error)
	}
}
