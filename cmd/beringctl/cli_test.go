// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command-level tests: each drives the real cobra tree against an httptest
// fake. Stdout is a pipe under go test, so every command takes its
// non-interactive path (no spinner, no picker, no confirm prompt).

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

// runCLI executes the root command with the given args and returns the
// combined output.
func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--server", server}, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestCLI_RootHelpListsCommands(t *testing.T) {
	out, err := runCLI(t, "http://localhost:1", "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, want := range []string{"resolve", "verify", "invalidate", "record", "tools", "status"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestCLI_UnknownCommand(t *testing.T) {
	_, err := runCLI(t, "http://localhost:1", "frobnicate")
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func TestCLI_ResolveJSON(t *testing.T) {
	var gotReq resolveRequest
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"POST /v1/resolve": func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
				t.Errorf("decode request: %v", err)
			}
			respondJSON(t, w, http.StatusOK, resolveResponse{
				Query:   gotReq.Query,
				Outcome: outcomeMatched,
				Match:   &artifactView{SysID: "w1", Name: "Payroll Summary"},
			})
		},
	})

	out, err := runCLI(t, srv.URL, "resolve", "--json", "--kind", "widget", "payroll", "widget")
	if err != nil {
		t.Fatalf("resolve: %v\n%s", err, out)
	}
	if gotReq.Query != "payroll widget" || gotReq.Kind != "widget" {
		t.Errorf("request sent = %+v", gotReq)
	}

	var res resolveResponse
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("--json output is not JSON: %v\n%s", err, out)
	}
	if res.Match == nil || res.Match.SysID != "w1" {
		t.Fatalf("decoded = %+v", res)
	}
}

func TestCLI_ResolveMissingQuery(t *testing.T) {
	_, err := runCLI(t, "http://localhost:1", "resolve")
	if err == nil || !strings.Contains(err.Error(), "nothing to resolve") {
		t.Fatalf("err = %v", err)
	}
}

func TestCLI_VerifyUnverifiedExitsNonZero(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"POST /v1/verify": func(w http.ResponseWriter, r *http.Request) {
			respondJSON(t, w, http.StatusOK, verifyResponse{
				Verified: false,
				Outcome:  outcomeNotFound,
				Attempts: 4,
			})
		},
	})

	_, err := runCLI(t, srv.URL, "verify", "--kind", "widget", "--name", "Ghost Widget")
	if err == nil || !strings.Contains(err.Error(), "not verified") {
		t.Fatalf("err = %v, want a not-verified failure", err)
	}
	if !strings.Contains(err.Error(), "--max-wait") {
		t.Errorf("failure should point at --max-wait: %v", err)
	}
}

func TestCLI_VerifyMismatchNamesTheCulprit(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"POST /v1/verify": func(w http.ResponseWriter, r *http.Request) {
			respondJSON(t, w, http.StatusOK, verifyResponse{
				Verified: false,
				Outcome:  outcomeMatched,
				Match:    &artifactView{SysID: "w2", Name: "Payroll Summary"},
			})
		},
	})

	_, err := runCLI(t, srv.URL, "verify", "--kind", "widget", "--name", "Payroll Summary", "--id", "w9")
	if err == nil {
		t.Fatal("expected a mismatch failure")
	}
	if !strings.Contains(err.Error(), "w2") || !strings.Contains(err.Error(), "w9") {
		t.Errorf("mismatch should name both sys_ids: %v", err)
	}
}

func TestCLI_VerifyMissingFlags(t *testing.T) {
	_, err := runCLI(t, "http://localhost:1", "verify", "--name", "Payroll Summary")
	if err == nil || !strings.Contains(err.Error(), "--kind") {
		t.Fatalf("err = %v", err)
	}
}

func TestCLI_InvalidateSkipsPromptOffTTY(t *testing.T) {
	var gotReq invalidateRequest
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"POST /v1/invalidate": func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
				t.Errorf("decode request: %v", err)
			}
			respondJSON(t, w, http.StatusOK, invalidateResponse{
				Key: "resolve/widget/payroll widget", Kind: "widget", Identifier: "payroll widget",
			})
		},
	})

	out, err := runCLI(t, srv.URL, "invalidate", "--kind", "widget", "payroll", "widget")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if gotReq.Query != "payroll widget" || gotReq.Kind != "widget" {
		t.Errorf("request sent = %+v", gotReq)
	}
	if !strings.Contains(out, "EVICTED") || !strings.Contains(out, "resolve/widget/payroll widget") {
		t.Errorf("output = %s", out)
	}
}

func TestCLI_RecordPrintsSortedFields(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"GET /v1/records/sp_widget/w1": func(w http.ResponseWriter, r *http.Request) {
			respondJSON(t, w, http.StatusOK, recordResponse{
				SysID: "w1", Collection: "sp_widget", Name: "Payroll Summary", Active: true,
				Fields: map[string]string{"name": "Payroll Summary", "category": "finance"},
			})
		},
	})

	out, err := runCLI(t, srv.URL, "record", "sp_widget", "w1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	for _, want := range []string{"Payroll Summary", "w1", "active", "category:", "name:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "category:") > strings.Index(out, "name:") {
		t.Error("fields should print in sorted order")
	}
}

func TestCLI_StatusReportsServer(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"GET /healthz": func(w http.ResponseWriter, r *http.Request) {
			respondJSON(t, w, http.StatusOK, healthResponse{
				Status: "ok", Version: "0.9.0", UptimeSeconds: 90, CacheEntries: 3, Kinds: 9,
			})
		},
	})

	out, err := runCLI(t, srv.URL, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"ok", "0.9.0", "1m30s", "3", "9"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_ToolsListsDefinitions(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"GET /v1/tools": func(w http.ResponseWriter, r *http.Request) {
			respondJSON(t, w, http.StatusOK, toolsResponse{
				Count: 2,
				Tools: []toolDefinition{
					{Type: "function", Function: toolFunction{
						Name:        "resolve_artifact",
						Description: "Resolve a loose reference. Call this before anything else.",
						Parameters:  toolParameters{Type: "object", Required: []string{"query"}},
					}},
					{Type: "function", Function: toolFunction{
						Name:        "verify_artifact",
						Description: "Confirm a record is findable.",
					}},
				},
			})
		},
	})

	out, err := runCLI(t, srv.URL, "tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	for _, want := range []string{"2 tools", "resolve_artifact", "verify_artifact", "required: query"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Call this before anything else") {
		t.Error("listing should trim descriptions to the first sentence")
	}
}

func TestCLI_ResolveServerErrorSurfacesExplanation(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"POST /v1/resolve": func(w http.ResponseWriter, r *http.Request) {
			respondJSON(t, w, http.StatusBadRequest, errorResponse{
				Error:       "no usable intent",
				Code:        "INVALID_INTENT",
				Explanation: "Name the artifact more specifically, use a known kind, or drop strict mode.",
			})
		},
	})

	_, err := runCLI(t, srv.URL, "resolve", "--json", "gizmo")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "INVALID_INTENT") || !strings.Contains(err.Error(), "more specifically") {
		t.Errorf("error should carry code and explanation: %v", err)
	}
}
