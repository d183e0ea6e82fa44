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
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, *fakePlatform) {
	t.Helper()
	fake := &fakePlatform{}
	eng := newTestEngine(t, fake)
	reg, err := NewRegistry(Deps{Engine: eng, Client: fake, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, fake
}

func TestNewRegistry_RequiresDeps(t *testing.T) {
	fake := &fakePlatform{}
	eng := newTestEngine(t, fake)

	if _, err := NewRegistry(Deps{Client: fake}); err == nil {
		t.Error("expected an error without an engine")
	}
	if _, err := NewRegistry(Deps{Engine: eng}); err == nil {
		t.Error("expected an error without a client")
	}
}

func TestRegistry_DefinitionsInOrder(t *testing.T) {
	reg, _ := newTestRegistry(t)

	want := []string{
		"resolve_artifact",
		"verify_artifact",
		"invalidate_resolution",
		"get_record",
		"list_artifacts",
		"create_record",
		"update_record",
		"delete_record",
		"check_script",
		"apply_patch",
	}
	defs := reg.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("expected %d definitions, got %d", len(want), len(defs))
	}
	for i, def := range defs {
		if def.Function.Name != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], def.Function.Name)
		}
		if def.Type != "function" {
			t.Errorf("%s: expected type function, got %q", def.Function.Name, def.Type)
		}
		if def.Function.Description == "" {
			t.Errorf("%s: expected a description", def.Function.Name)
		}
		if def.Function.Parameters.Type != "object" {
			t.Errorf("%s: expected object parameters, got %q", def.Function.Name, def.Function.Parameters.Type)
		}
	}

	names := reg.Names()
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names position %d: expected %q, got %q", i, want[i], names[i])
		}
	}
}

func TestRegistry_Get(t *testing.T) {
	reg, _ := newTestRegistry(t)

	tool, ok := reg.Get("get_record")
	if !ok || tool.Name() != "get_record" {
		t.Errorf("expected the get_record tool, got %v ok=%v", tool, ok)
	}
	if _, ok := reg.Get("frobnicate"); ok {
		t.Error("expected a miss for an unregistered name")
	}
}

func TestRegistry_DispatchUnknownTool(t *testing.T) {
	reg, _ := newTestRegistry(t)

	res, err := reg.Dispatch(context.Background(), "frobnicate", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result")
	}
	if !strings.Contains(res.Error, `unknown tool "frobnicate"`) {
		t.Errorf("unexpected error: %q", res.Error)
	}
	if res.CorrelationID == "" {
		t.Error("expected a correlation id even on failures")
	}
}

func TestRegistry_DispatchBadArguments(t *testing.T) {
	reg, _ := newTestRegistry(t)

	res, err := reg.Dispatch(context.Background(), "check_script", json.RawMessage(`[1, 2]`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result")
	}
	if !strings.Contains(res.Error, "JSON object") {
		t.Errorf("unexpected error: %q", res.Error)
	}
}

func TestRegistry_DispatchRunsTool(t *testing.T) {
	reg, _ := newTestRegistry(t)

	res, err := reg.Dispatch(context.Background(), "check_script", json.RawMessage(`{"script": "var x = 1;"}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	out, ok := res.Output.(CheckScriptOutput)
	if !ok {
		t.Fatalf("unexpected output type %T", res.Output)
	}
	if !out.Valid {
		t.Errorf("expected a valid script verdict, got %+v", out)
	}
	if res.CorrelationID == "" {
		t.Error("expected a correlation id")
	}
	if res.Duration <= 0 {
		t.Error("expected a positive duration")
	}
}

func TestRegistry_DispatchEmptyArguments(t *testing.T) {
	reg, _ := newTestRegistry(t)

	// No arguments at all still reaches the tool, which then reports the
	// missing parameter conversationally.
	res, err := reg.Dispatch(context.Background(), "check_script", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Success {
		t.Fatal("expected a failure result")
	}
	if !strings.Contains(res.Error, "script parameter is required") {
		t.Errorf("unexpected error: %q", res.Error)
	}
}
